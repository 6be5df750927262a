package socks5

import (
	"io"
	"time"
)

// Stream is the capability interface a Session is parameterized over, per
// SPEC_FULL.md §3. net.TCPConn, the WebSocket adapter (ws_listener.go), and
// the QUIC stream adapter (quic_listener.go) all satisfy it, so one SessionFsm drives
// every ingress transport. Half-close (CloseWrite/CloseRead) is optional and
// checked via type assertion in relay.go, not part of this interface,
// because not every transport can express it (a WebSocket message stream
// has no true half-close).
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
	SetDeadline(t time.Time) error
}
