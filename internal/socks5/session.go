package socks5

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/coriolisnet/socksd/internal/logging"
)

// Session drives one accepted connection through the SOCKS4/SOCKS5 state
// machine described in spec.md §4.5. It is parameterized over Stream so the
// identical logic serves TCP, WebSocket, and QUIC ingress (SPEC_FULL.md §3).
type Session struct {
	id        uint64
	transport string // "tcp", "ws", "quic" — for logging/metrics labels only
	local     Stream
	remote    Stream

	auth      *Authenticator
	connector *Connector
	opts      ServerOptions
	logger    *slog.Logger
	metrics   *Metrics
	reg       *registry

	abort   atomic.Bool
	done    chan struct{}
	version string // "4" or "5", set once the handshake byte is read
}

// ServerOptions carries the core's wire-relevant configuration, per
// spec.md §3. Config-file fields live in internal/config.Config, whose
// ServerOptions method copies the wire-relevant ones into this struct before
// a Session is constructed.
type ServerOptions struct {
	BindAddr         string
	Auth             AuthConfig
	HandshakeTimeout time.Duration
	ConnectTimeout   time.Duration
	IdleTimeout      time.Duration
}

// DefaultServerOptions returns the core's defaults, used both directly and
// as the baseline Config.ServerOptions fills in from a loaded file.
func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		HandshakeTimeout: 10 * time.Second,
		ConnectTimeout:   10 * time.Second,
		IdleTimeout:      5 * time.Minute,
	}
}

func newSession(id uint64, transport string, local Stream, opts ServerOptions, auth *Authenticator, connector *Connector, logger *slog.Logger, metrics *Metrics, reg *registry) *Session {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Session{
		id:        id,
		transport: transport,
		local:     local,
		auth:      auth,
		connector: connector,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
		reg:       reg,
		done:      make(chan struct{}),
	}
}

// Abort marks the session for shutdown; the relay loop (if running) winds
// down at its next iteration and both streams are closed.
func (s *Session) Abort() {
	s.abort.Store(true)
	_ = s.local.Close()
	if s.remote != nil {
		_ = s.remote.Close()
	}
}

// Run executes the full handshake-then-relay lifecycle for one connection.
// It never returns an error: every failure path ends in finish, which closes
// both streams, per spec.md's invariant that the session always terminates
// the connection cleanly regardless of which branch failed. Only some
// failures are logged; a malformed handshake mostly closes silently.
func (s *Session) Run(ctx context.Context) {
	defer s.finish()
	if s.reg != nil {
		s.reg.add(s)
	}

	if s.opts.HandshakeTimeout > 0 {
		_ = s.local.SetDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	}

	hdr, err := s.readN(2)
	if err != nil {
		s.logger.Debug("handshake read failed", logging.KeyConnID, s.id, logging.KeyError, err)
		return
	}
	version := hdr[0]
	switch version {
	case 5:
		s.version = "5"
		s.recordConnect()
		s.runV5(ctx, hdr[1])
	case 4:
		s.version = "4"
		s.recordConnect()
		s.runV4(ctx, hdr[1])
	default:
		s.logger.Debug("unsupported protocol version", logging.KeyConnID, s.id, logging.KeyVersion, version)
		return
	}
}

func (s *Session) recordConnect() {
	if s.metrics == nil {
		return
	}
	s.metrics.ConnectionsActive.WithLabelValues(s.version, s.transport).Inc()
	s.metrics.ConnectionsTotal.WithLabelValues(s.version, s.transport).Inc()
}

func (s *Session) finish() {
	if s.reg != nil {
		s.reg.remove(s.id)
	}
	if s.metrics != nil && s.version != "" {
		s.metrics.ConnectionsActive.WithLabelValues(s.version, s.transport).Dec()
	}
	_ = s.local.Close()
	if s.remote != nil {
		_ = s.remote.Close()
	}
	close(s.done)
}

func (s *Session) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := readExact(s.local, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Session) write(buf []byte) error {
	_, err := s.local.Write(buf)
	return classifyIO(err)
}

// --- SOCKS5 -----------------------------------------------------------

func (s *Session) runV5(ctx context.Context, nmethods byte) {
	if nmethods == 0 {
		// Matches the reference implementation: an empty method list closes
		// without writing any reply, rather than synthesizing 0xFF.
		return
	}
	methods, err := s.readN(int(nmethods))
	if err != nil {
		return
	}

	authRequired := s.auth.Required()
	chosen := byte(0xFF)
	for _, m := range methods {
		if authRequired {
			if m == 0x02 {
				chosen = m
				break
			}
		} else if m == 0x00 || m == 0x02 {
			chosen = m
			break
		}
	}

	if err := s.write([]byte{0x05, chosen}); err != nil {
		return
	}
	if chosen == 0xFF {
		s.logAuth(5, false)
		return
	}
	if chosen == 0x02 {
		if !s.runV5Auth() {
			return
		}
	}
	s.runV5Request(ctx)
}

func (s *Session) runV5Auth() bool {
	hdr, err := s.readN(2) // sub-negotiation version, ulen
	if err != nil {
		return false
	}
	if hdr[0] != 0x01 {
		return false
	}
	ulen := int(hdr[1])
	if ulen == 0 {
		return false
	}
	uname, err := s.readN(ulen)
	if err != nil {
		return false
	}
	plenB, err := s.readN(1)
	if err != nil {
		return false
	}
	plen := int(plenB[0])
	if plen == 0 {
		return false
	}
	passwd, err := s.readN(plen)
	if err != nil {
		return false
	}

	ok := s.auth.Authenticate(string(uname), string(passwd), 5)
	status := byte(0x01)
	if ok {
		status = 0x00
	}
	if err := s.write([]byte{0x01, status}); err != nil {
		return false
	}
	s.logAuth(5, ok)
	return ok
}

func (s *Session) logAuth(version int, ok bool) {
	if ok {
		return
	}
	if s.metrics != nil {
		s.metrics.AuthFailures.Inc()
	}
	s.logger.Info("authentication failed", logging.KeyConnID, s.id, logging.KeyVersion, version)
}

func (s *Session) runV5Request(ctx context.Context) {
	hdr, err := s.readN(4)
	if err != nil {
		return
	}
	if hdr[0] != 0x05 {
		return
	}
	if hdr[2] != 0x00 { // RSV must be 0x00 per spec §7
		return
	}
	cmd, atyp := hdr[1], AddressType(hdr[3])

	target, err := s.readV5Target(atyp)
	if err != nil {
		return
	}

	switch cmd {
	case 0x01: // CONNECT
		s.runConnect(ctx, 5, target)
	case 0x02, 0x03: // BIND, UDP ASSOCIATE — explicit non-goals
		_ = s.write(buildReply5(Rep5CommandNotSupported, target))
		s.recordHandshakeRejected("command_not_supported")
	default:
		_ = s.write(buildReply5(Rep5CommandNotSupported, target))
		s.recordHandshakeRejected("command_not_supported")
	}
}

// readV5Target decodes the address+port portion of a SOCKS5 request. atyp
// has already been consumed by the caller as part of the 4-byte request
// header. The fixed-size IPv4/IPv6 forms are read whole and decoded through
// a cursor; the domain form is read in two steps straight off the wire,
// since its length isn't known until the domain-length byte is itself read.
func (s *Session) readV5Target(atyp AddressType) (TargetAddress, error) {
	switch atyp {
	case ATYPIPv4:
		b, err := s.readN(6)
		if err != nil {
			return TargetAddress{}, err
		}
		c := newCursor(b)
		return readTargetAddress(c, ATYPIPv4)
	case ATYPIPv6:
		b, err := s.readN(18)
		if err != nil {
			return TargetAddress{}, err
		}
		c := newCursor(b)
		return readTargetAddress(c, ATYPIPv6)
	case ATYPDomain:
		lb, err := s.readN(1)
		if err != nil {
			return TargetAddress{}, err
		}
		l := int(lb[0])
		if l == 0 {
			return TargetAddress{}, ErrProtocol
		}
		rest, err := s.readN(l + 2)
		if err != nil {
			return TargetAddress{}, err
		}
		return TargetAddress{Type: ATYPDomain, Domain: string(rest[:l]), Port: uint16(rest[l])<<8 | uint16(rest[l+1])}, nil
	default:
		_ = s.write(buildReply5(Rep5AddrTypeNotSupport, TargetAddress{}))
		s.recordHandshakeRejected("addr_type_not_supported")
		return TargetAddress{}, ErrProtocol
	}
}

// --- SOCKS4 -------------------------------------------------------------

func (s *Session) runV4(ctx context.Context, cmd byte) {
	// SOCKS4's request tail is DSTPORT(2) then DSTIP(4), the reverse of
	// SOCKS5's ATYPIPv4 ordering, so it cannot reuse readTargetAddress here.
	rest, err := s.readN(6)
	if err != nil {
		return
	}
	port := uint16(rest[0])<<8 | uint16(rest[1])
	ip := net.IPv4(rest[2], rest[3], rest[4], rest[5])
	target := TargetAddress{Type: ATYPIPv4, IP: ip, Port: port}

	userid, err := readUntilNUL(s.local, 256)
	if err != nil {
		return
	}

	ok := s.auth.Authenticate(string(userid), "", 4)
	s.logAuth(4, ok)
	if !ok {
		_ = s.write(buildReply4(Rep4IdentMismatch, target))
		s.recordHandshakeRejected("ident_mismatch")
		return
	}
	if cmd != 0x01 {
		_ = s.write(buildReply4(Rep4Rejected, target))
		s.recordHandshakeRejected("command_not_supported")
		return
	}
	s.runConnect(ctx, 4, target)
}

// --- Shared CONNECT path --------------------------------------------------

func (s *Session) runConnect(ctx context.Context, version int, target TargetAddress) {
	connCtx := ctx
	var cancel context.CancelFunc
	if s.opts.ConnectTimeout > 0 {
		connCtx, cancel = context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
	}

	start := time.Now()
	conn, resolved, err := s.connector.Connect(connCtx, target, s.opts.BindAddr)
	if s.metrics != nil {
		s.metrics.ConnectLatency.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		s.logger.Info("connect failed", logging.KeyConnID, s.id, logging.KeyTarget, target.String(), logging.KeyError, err)
		if s.metrics != nil {
			s.metrics.ConnectFailures.WithLabelValues(connectErrClass(err)).Inc()
		}
		replyTarget := target
		if version == 5 {
			_ = s.write(buildReply5(mapConnectErrToRep5(err), replyTarget))
		} else {
			_ = s.write(buildReply4(Rep4CannotConnect, replyTarget))
		}
		return
	}

	s.remote = conn
	if version == 5 {
		if err := s.write(buildReply5(Rep5Succeeded, resolved)); err != nil {
			return
		}
	} else {
		if err := s.write(buildReply4(Rep4Granted, resolved)); err != nil {
			return
		}
	}

	s.logger.Info("relaying", logging.KeyConnID, s.id, logging.KeyTarget, resolved.String())
	res := Relay(s.local, s.remote, &s.abort, s.opts.IdleTimeout)
	if s.metrics != nil {
		s.metrics.BytesTransferred.WithLabelValues("up").Add(float64(res.BytesUp))
		s.metrics.BytesTransferred.WithLabelValues("down").Add(float64(res.BytesDown))
	}
	s.logger.Info("closed",
		logging.KeyConnID, s.id,
		logging.KeyBytesIn, humanize.Bytes(uint64(res.BytesDown)),
		logging.KeyBytesOut, humanize.Bytes(uint64(res.BytesUp)),
	)
}

func (s *Session) recordHandshakeRejected(reason string) {
	if s.metrics != nil {
		s.metrics.HandshakeRejected.WithLabelValues(reason).Inc()
	}
}

func connectErrClass(err error) string {
	ce, ok := err.(*ConnectError)
	if !ok {
		return "general"
	}
	switch ce.Kind {
	case ConnectResolve:
		return "resolve"
	case ConnectRefused:
		return "refused"
	case ConnectNetworkUnreachable:
		return "network_unreachable"
	case ConnectHostUnreachable:
		return "host_unreachable"
	case ConnectTimedOut:
		return "timed_out"
	default:
		return "general"
	}
}
