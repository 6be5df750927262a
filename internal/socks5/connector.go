package socks5

import (
	"context"
	"net"
)

// Dialer is the seam Connector dials through. Production code uses
// net.Dialer; tests substitute fakeDialer (see connector_test.go) without
// opening real sockets, grounded on the teacher's own Dialer/DirectDialer
// split in handler.go.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// netDialer adapts *net.Dialer, applying controlConnect to every outbound
// socket before connect(2).
type netDialer struct{}

func (netDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d := &net.Dialer{Control: controlConnect}
	return d.DialContext(ctx, network, address)
}

// Connector resolves a TargetAddress to one or more concrete endpoints and
// attempts to connect to each in turn, per spec.md §4.3.
type Connector struct {
	dialer   Dialer
	resolver *net.Resolver
}

// NewConnector builds a Connector using the real network. A nil dialer
// defaults to a net.Dialer tuned via controlConnect.
func NewConnector(dialer Dialer) *Connector {
	if dialer == nil {
		dialer = netDialer{}
	}
	return &Connector{dialer: dialer, resolver: net.DefaultResolver}
}

// Connect resolves target (a no-op if it is already a concrete IPv4/IPv6
// address), then dials each candidate endpoint in resolver order. When
// bindAddr is a valid IP, the local address is bound to it and candidates of
// the other address family are skipped. It returns the established connection and the endpoint that
// was actually connected to (used to build the CONNECT reply's BND fields).
func (c *Connector) Connect(ctx context.Context, target TargetAddress, bindAddr string) (net.Conn, TargetAddress, error) {
	candidates, err := c.resolve(ctx, target)
	if err != nil {
		return nil, TargetAddress{}, &ConnectError{Kind: ConnectResolve, Err: err}
	}

	var bindIP net.IP
	if bindAddr != "" {
		bindIP = net.ParseIP(bindAddr)
	}

	var lastErr error
	for _, ep := range candidates {
		var laddr *net.TCPAddr
		if bindIP != nil {
			if sameFamily(bindIP, ep.IP) {
				laddr = &net.TCPAddr{IP: bindIP}
			} else {
				lastErr = &net.AddrError{Err: "bind address family mismatch", Addr: bindAddr}
				continue
			}
		}
		conn, err := c.dialOne(ctx, ep, laddr)
		if err != nil {
			lastErr = err
			continue
		}
		return conn, ep, nil
	}
	return nil, TargetAddress{}, classifyConnect(lastErr)
}

func (c *Connector) dialOne(ctx context.Context, ep TargetAddress, laddr *net.TCPAddr) (net.Conn, error) {
	if laddr == nil {
		return c.dialer.DialContext(ctx, "tcp", ep.String())
	}
	// bind_addr only applies to the real network dialer; a substituted test
	// Dialer has no socket to bind.
	if _, ok := c.dialer.(netDialer); ok {
		d := &net.Dialer{Control: controlConnect, LocalAddr: laddr}
		return d.DialContext(ctx, "tcp", ep.String())
	}
	return c.dialer.DialContext(ctx, "tcp", ep.String())
}

// resolve expands target into an ordered list of concrete IPv4/IPv6
// endpoints, preserving the resolver's ordering. A target that is already a
// concrete address resolves to itself.
func (c *Connector) resolve(ctx context.Context, target TargetAddress) ([]TargetAddress, error) {
	if target.Type != ATYPDomain {
		return []TargetAddress{target}, nil
	}
	addrs, err := c.resolver.LookupIPAddr(ctx, target.Domain)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no addresses found", Name: target.Domain}
	}
	out := make([]TargetAddress, 0, len(addrs))
	for _, a := range addrs {
		if ip4 := a.IP.To4(); ip4 != nil {
			out = append(out, TargetAddress{Type: ATYPIPv4, IP: ip4, Port: target.Port})
		} else {
			out = append(out, TargetAddress{Type: ATYPIPv6, IP: a.IP, Port: target.Port})
		}
	}
	return out, nil
}

func sameFamily(a, b net.IP) bool {
	return (a.To4() != nil) == (b.To4() != nil)
}
