package socks5

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/coriolisnet/socksd/internal/logging"
)

// nextConnID is the process-wide monotonic connection-id counter, starting
// at 1, matching the reference implementation's static atomic counter
// (socks_server.cpp's `static std::atomic_size_t id{1}`).
var nextConnID atomic.Uint64

func init() {
	nextConnID.Store(1)
}

// Acceptor listens for inbound connections on one ingress transport (TCP
// here; ws_listener.go and a QUIC equivalent drive the same Session type
// over different transports) and spawns a Session per connection, per
// spec.md §4.6.
type Acceptor struct {
	opts      ServerOptions
	auth      *Authenticator
	connector *Connector
	logger    *slog.Logger
	metrics   *Metrics
	reg       *registry
	limiter   *rate.Limiter

	maxConnections int

	listener net.Listener
	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// AcceptorOption configures optional Acceptor behavior.
type AcceptorOption func(*Acceptor)

// WithMaxConnections caps concurrent accepted connections (0 = unlimited),
// enforced with golang.org/x/net/netutil.LimitListener.
func WithMaxConnections(n int) AcceptorOption {
	return func(a *Acceptor) { a.maxConnections = n }
}

// WithRateLimit caps the rate of newly accepted connections (rps<=0 disables
// limiting entirely).
func WithRateLimit(rps float64, burst int) AcceptorOption {
	return func(a *Acceptor) {
		if rps <= 0 {
			a.limiter = nil
			return
		}
		a.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the structured logger used for connection lifecycle
// events.
func WithLogger(l *slog.Logger) AcceptorOption {
	return func(a *Acceptor) { a.logger = l }
}

// WithMetrics sets the Metrics instance the acceptor and its sessions
// report to.
func WithMetrics(m *Metrics) AcceptorOption {
	return func(a *Acceptor) { a.metrics = m }
}

// NewAcceptor builds an Acceptor ready to Start. A nil dialer uses the real
// network.
func NewAcceptor(opts ServerOptions, dialer Dialer, optFns ...AcceptorOption) *Acceptor {
	a := &Acceptor{
		opts:      opts,
		auth:      NewAuthenticator(opts.Auth),
		connector: NewConnector(dialer),
		logger:    logging.NopLogger(),
		reg:       newRegistry(),
		stopCh:    make(chan struct{}),
	}
	for _, fn := range optFns {
		fn(a)
	}
	return a
}

// Start begins listening on address and accepting connections.
func (a *Acceptor) Start(address string) error {
	if a.running.Load() {
		return fmt.Errorf("socks5: acceptor already running")
	}
	lc := net.ListenConfig{Control: controlListener}
	ln, err := lc.Listen(context.Background(), "tcp", address)
	if err != nil {
		return fmt.Errorf("socks5: listen: %w", err)
	}
	if a.maxConnections > 0 {
		ln = netutil.LimitListener(ln, a.maxConnections)
	}
	a.listener = ln
	a.running.Store(true)

	a.wg.Add(1)
	go a.acceptLoop()
	return nil
}

// Stop closes the listener, aborts every tracked session, and waits for the
// accept loop and all in-flight sessions to exit.
func (a *Acceptor) Stop() error {
	var err error
	a.stopOnce.Do(func() {
		a.running.Store(false)
		close(a.stopCh)
		if a.listener != nil {
			err = a.listener.Close()
		}
		a.reg.closeAll()
	})
	a.wg.Wait()
	return err
}

// StopWithContext stops the acceptor, returning ctx.Err() if it does not
// finish before ctx is done.
func (a *Acceptor) StopWithContext(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- a.Stop() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Address returns the listener's bound address, or nil if not started.
func (a *Acceptor) Address() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// ConnectionCount returns the number of sessions currently tracked.
func (a *Acceptor) ConnectionCount() int {
	return a.reg.count()
}

// Shared returns the pieces the WebSocket and QUIC ingress listeners need in
// order to feed the same Session state machine and registry/metrics as this
// Acceptor, rather than constructing their own independent copies.
func (a *Acceptor) Shared() (*Authenticator, *Connector, *slog.Logger, *Metrics, *registry) {
	return a.auth, a.connector, a.logger, a.metrics, a.reg
}

func (a *Acceptor) acceptLoop() {
	defer a.wg.Done()
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.stopCh:
				return
			default:
				a.logger.Warn("accept failed", logging.KeyError, err)
				continue
			}
		}
		if a.limiter != nil && !a.limiter.Allow() {
			// Rejected purely by rate, before any byte is read — distinct
			// from a protocol-error close.
			_ = conn.Close()
			if a.metrics != nil {
				a.metrics.HandshakeRejected.WithLabelValues("rate_limited").Inc()
			}
			continue
		}

		// Applied per accepted conn; controlListener only tunes the
		// listening socket. When WithMaxConnections is set,
		// netutil.LimitListener returns its own wrapper type rather than
		// *net.TCPConn, so this block is skipped for those conns.
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(30 * time.Second)
		}

		id := nextConnID.Add(1) - 1
		a.logger.Info("accepted", logging.KeyConnID, id, logging.KeyRemoteAddr, conn.RemoteAddr().String())
		sess := newSession(id, "tcp", conn, a.opts, a.auth, a.connector, a.logger, a.metrics, a.reg)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			sess.Run(context.Background())
		}()
	}
}
