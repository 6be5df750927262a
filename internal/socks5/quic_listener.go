package socks5

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/coriolisnet/socksd/internal/logging"
)

// QUICConfig configures the QUIC ingress transport (SPEC_FULL.md §4.12).
// TLS is mandatory, as it is for quic.Transport itself.
type QUICConfig struct {
	Address   string
	TLSConfig *tls.Config
}

// QUICListener accepts QUIC connections and, for each bidirectional stream
// the peer opens, hands a Stream adapter to the same Session state machine
// the TCP Acceptor uses. Grounded on the teacher's go.mod carrying quic-go
// as an unused dependency (SPEC_FULL.md §2): this wires it to the one place
// in the domain that plausibly wants a second low-latency transport, in the
// same shape as the WebSocket ingress it sits beside.
type QUICListener struct {
	cfg       QUICConfig
	opts      ServerOptions
	auth      *Authenticator
	connector *Connector
	logger    *slog.Logger
	metrics   *Metrics
	reg       *registry

	listener *quic.Listener
	running  atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewQUICListener builds a QUIC listener sharing reg/metrics with the other
// ingress transports.
func NewQUICListener(cfg QUICConfig, opts ServerOptions, auth *Authenticator, connector *Connector, logger *slog.Logger, metrics *Metrics, reg *registry) (*QUICListener, error) {
	if cfg.TLSConfig == nil {
		return nil, fmt.Errorf("socks5: TLS config required for QUIC ingress")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &QUICListener{
		cfg:       cfg,
		opts:      opts,
		auth:      auth,
		connector: connector,
		logger:    logger,
		metrics:   metrics,
		reg:       reg,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start binds the UDP socket and begins accepting QUIC connections.
func (l *QUICListener) Start() error {
	if l.running.Load() {
		return fmt.Errorf("socks5: QUIC listener already running")
	}
	ln, err := quic.ListenAddr(l.cfg.Address, l.cfg.TLSConfig, &quic.Config{
		MaxIdleTimeout: 5 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("socks5: quic listen: %w", err)
	}
	l.listener = ln
	l.running.Store(true)

	l.wg.Add(1)
	go l.acceptLoop()
	return nil
}

// Stop closes the QUIC listener and waits for the accept loop to exit.
func (l *QUICListener) Stop() error {
	if !l.running.Swap(false) {
		return nil
	}
	close(l.stopCh)
	err := l.listener.Close()
	l.wg.Wait()
	return err
}

func (l *QUICListener) Address() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

func (l *QUICListener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.listener.Accept(context.Background())
		if err != nil {
			select {
			case <-l.stopCh:
				return
			default:
				l.logger.Warn("quic accept failed", logging.KeyError, err)
				continue
			}
		}
		l.wg.Add(1)
		go l.handleConn(conn)
	}
}

// handleConn accepts every bidirectional stream the peer opens on this QUIC
// connection and runs an independent Session over each — a QUIC connection
// is a transport-level session multiplexing many logical SOCKS sessions,
// unlike the 1:1 mapping TCP and WebSocket use.
func (l *QUICListener) handleConn(conn *quic.Conn) {
	defer l.wg.Done()
	for {
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			return
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			qs := &quicStream{Stream: stream}
			id := nextConnID.Add(1) - 1
			sess := newSession(id, "quic", qs, l.opts, l.auth, l.connector, l.logger, l.metrics, l.reg)
			sess.Run(context.Background())
		}()
	}
}

// quicStream adapts quic.Stream to Stream: quic.Stream already has
// Read/Write/Close/SetDeadline, but Close half-closes only the write side
// per the QUIC spec, so CloseWrite is exposed explicitly for relay.go's
// half-close handling.
type quicStream struct {
	*quic.Stream
}

func (s *quicStream) CloseWrite() error {
	return s.Stream.Close()
}
