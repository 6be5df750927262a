package socks5

import (
	"context"
	"net"
	"testing"
)

// fakeDialer is a hand-written stand-in for Dialer; Connect's contract (one
// DialContext call per candidate) is simple enough not to need a generated
// mock.
type fakeDialer struct {
	dial func(ctx context.Context, network, address string) (net.Conn, error)
}

func (f fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f.dial(ctx, network, address)
}

func TestConnectorConnectsToConcreteAddress(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	var gotAddr string
	d := fakeDialer{dial: func(ctx context.Context, network, address string) (net.Conn, error) {
		gotAddr = address
		return client, nil
	}}
	c := NewConnector(d)

	target := TargetAddress{Type: ATYPIPv4, IP: net.IPv4(203, 0, 113, 5), Port: 443}
	conn, resolved, err := c.Connect(context.Background(), target, "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if gotAddr != "203.0.113.5:443" {
		t.Fatalf("dialed %q, want 203.0.113.5:443", gotAddr)
	}
	if resolved.Type != ATYPIPv4 || !resolved.IP.Equal(target.IP) {
		t.Fatalf("resolved = %+v, want %+v", resolved, target)
	}
}

func TestConnectorClassifiesFailure(t *testing.T) {
	d := fakeDialer{dial: func(ctx context.Context, network, address string) (net.Conn, error) {
		return nil, &net.OpError{Op: "dial", Err: errConnRefusedStub{}}
	}}
	c := NewConnector(d)

	target := TargetAddress{Type: ATYPIPv4, IP: net.IPv4(203, 0, 113, 5), Port: 443}
	_, _, err := c.Connect(context.Background(), target, "")
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, ok := err.(*ConnectError); !ok {
		t.Fatalf("expected *ConnectError, got %T", err)
	}
}

type errConnRefusedStub struct{}

func (errConnRefusedStub) Error() string   { return "connection refused" }
func (errConnRefusedStub) Timeout() bool   { return false }
func (errConnRefusedStub) Temporary() bool { return false }
