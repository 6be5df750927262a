package socks5

import (
	"net"
	"testing"
)

func TestBuildReply5Sizes(t *testing.T) {
	cases := []struct {
		name string
		addr TargetAddress
		want int
	}{
		{"zero-value uses IPv4", TargetAddress{}, 10},
		{"ipv4", TargetAddress{Type: ATYPIPv4, IP: net.IPv4(1, 2, 3, 4)}, 10},
		{"ipv6", TargetAddress{Type: ATYPIPv6, IP: net.ParseIP("::1")}, 22},
		{"domain", TargetAddress{Type: ATYPDomain, Domain: "example.com"}, 7 + len("example.com")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := buildReply5(Rep5Succeeded, tc.addr)
			if len(got) != tc.want {
				t.Fatalf("len = %d, want %d", len(got), tc.want)
			}
			if got[0] != 0x05 || got[1] != Rep5Succeeded {
				t.Fatalf("unexpected header: % x", got[:3])
			}
		})
	}
}

func TestBuildReply4FixedSize(t *testing.T) {
	got := buildReply4(Rep4Granted, TargetAddress{IP: net.IPv4(10, 0, 0, 1), Port: 1080})
	if len(got) != 8 {
		t.Fatalf("len = %d, want 8", len(got))
	}
	if got[0] != 0x00 || got[1] != Rep4Granted {
		t.Fatalf("unexpected header: % x", got[:2])
	}
}

func TestMapConnectErrToRep5(t *testing.T) {
	cases := []struct {
		kind ConnectErrorKind
		want byte
	}{
		{ConnectRefused, Rep5ConnectionRefused},
		{ConnectNetworkUnreachable, Rep5NetworkUnreachable},
		{ConnectHostUnreachable, Rep5HostUnreachable},
		{ConnectTimedOut, Rep5TTLExpired},
		{ConnectGeneral, Rep5GeneralFailure},
	}
	for _, tc := range cases {
		err := &ConnectError{Kind: tc.kind}
		if got := mapConnectErrToRep5(err); got != tc.want {
			t.Errorf("kind %v: got 0x%02x, want 0x%02x", tc.kind, got, tc.want)
		}
	}
	if got := mapConnectErrToRep5(nil); got != Rep5GeneralFailure {
		t.Errorf("nil-typed error: got 0x%02x, want Rep5GeneralFailure", got)
	}
}
