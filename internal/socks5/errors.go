package socks5

import (
	"errors"
	"net"
	"syscall"
)

// Protocol-level error kinds. These are the vocabulary the session state
// machine reasons about; they are never presented to the wire directly
// except through the reply-code mappings in reply.go.
var (
	// ErrTruncated is returned by the in-memory cursor when a buffer ends
	// before all bytes of a field are present. A peer closing mid-message
	// surfaces instead as an *IOError from readExact.
	ErrTruncated = errors.New("socks: truncated read")

	// ErrBufferFull is returned by WireCodec writers when the destination
	// buffer cannot hold the requested field.
	ErrBufferFull = errors.New("socks: buffer full")

	// ErrTooLong is returned by readUntilNUL when no NUL byte appears
	// within the scan limit.
	ErrTooLong = errors.New("socks: field exceeds maximum length")

	// ErrProtocol marks a required constant byte that was wrong (bad
	// version, nonzero reserved byte, bad atyp, bad nmethods, bad
	// ulen/plen).
	ErrProtocol = errors.New("socks: protocol violation")

	// ErrUnsupported marks a structurally valid request the server
	// deliberately refuses (BIND, UDP ASSOCIATE, unknown auth methods).
	ErrUnsupported = errors.New("socks: unsupported request")

	// ErrAuthFailed marks rejected credentials.
	ErrAuthFailed = errors.New("socks: authentication failed")

	// ErrResolve marks DNS failure resolving a domain target.
	ErrResolve = errors.New("socks: resolution failed")
)

// IOKind classifies the underlying transport failure behind an Io error,
// per spec §7.
type IOKind int

const (
	IOOther IOKind = iota
	IORefused
	IOReset
	IOTimeout
	IONetworkUnreachable
	IOHostUnreachable
	IOClosed
)

// IOError wraps a transport failure with its classified kind.
type IOError struct {
	Kind IOKind
	Err  error
}

func (e *IOError) Error() string { return "socks: io: " + e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }

// classifyIO maps a raw net/syscall error into an IOError. Any read or
// write against the client connection that fails is wrapped this way so
// callers can tell a clean EOF from a reset without inspecting os-specific
// error values themselves.
func classifyIO(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &IOError{Kind: IOTimeout, Err: err}
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED:
			return &IOError{Kind: IORefused, Err: err}
		case syscall.ECONNRESET, syscall.EPIPE:
			return &IOError{Kind: IOReset, Err: err}
		case syscall.ENETUNREACH:
			return &IOError{Kind: IONetworkUnreachable, Err: err}
		case syscall.EHOSTUNREACH:
			return &IOError{Kind: IOHostUnreachable, Err: err}
		}
	}
	if errors.Is(err, net.ErrClosed) {
		return &IOError{Kind: IOClosed, Err: err}
	}
	return &IOError{Kind: IOOther, Err: err}
}

// ConnectErrorKind enumerates the taxonomy spec §4.3/§7 require for outbound
// connect failures.
type ConnectErrorKind int

const (
	ConnectGeneral ConnectErrorKind = iota
	ConnectResolve
	ConnectRefused
	ConnectNetworkUnreachable
	ConnectHostUnreachable
	ConnectTimedOut
)

// ConnectError is returned by Connector.Connect.
type ConnectError struct {
	Kind ConnectErrorKind
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return "socks: connect: " + e.Err.Error()
	}
	return "socks: connect failed"
}
func (e *ConnectError) Unwrap() error { return e.Err }

// classifyConnect maps the last dial error observed across all candidate
// endpoints into a ConnectError. DNS failures are handled separately by the
// caller (they never reach this function — resolution happens before any
// dial is attempted).
func classifyConnect(err error) *ConnectError {
	if err == nil {
		return &ConnectError{Kind: ConnectGeneral, Err: errors.New("no candidates")}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &ConnectError{Kind: ConnectTimedOut, Err: err}
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED:
			return &ConnectError{Kind: ConnectRefused, Err: err}
		case syscall.ENETUNREACH:
			return &ConnectError{Kind: ConnectNetworkUnreachable, Err: err}
		case syscall.EHOSTUNREACH:
			return &ConnectError{Kind: ConnectHostUnreachable, Err: err}
		}
	}
	return &ConnectError{Kind: ConnectGeneral, Err: err}
}
