package socks5

import (
	"bytes"
	"net"
	"strings"
	"testing"
)

func TestTargetAddressRoundTripIPv4(t *testing.T) {
	addr := TargetAddress{Type: ATYPIPv4, IP: net.IPv4(192, 0, 2, 1), Port: 8080}
	buf := make([]byte, addr.encodedLen())
	if err := addr.writeTo(newWriter(buf)); err != nil {
		t.Fatalf("writeTo: %v", err)
	}
	c := newCursor(buf[1:])
	got, err := readTargetAddress(c, AddressType(buf[0]))
	if err != nil {
		t.Fatalf("readTargetAddress: %v", err)
	}
	if !got.IP.Equal(addr.IP) || got.Port != addr.Port {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, addr)
	}
}

func TestTargetAddressRoundTripDomain(t *testing.T) {
	addr := TargetAddress{Type: ATYPDomain, Domain: "example.com", Port: 443}
	buf := make([]byte, addr.encodedLen())
	if err := addr.writeTo(newWriter(buf)); err != nil {
		t.Fatalf("writeTo: %v", err)
	}
	c := newCursor(buf[1:])
	got, err := readTargetAddress(c, AddressType(buf[0]))
	if err != nil {
		t.Fatalf("readTargetAddress: %v", err)
	}
	if got.Domain != addr.Domain || got.Port != addr.Port {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, addr)
	}
}

func TestTargetAddressRoundTripIPv6(t *testing.T) {
	ip := net.ParseIP("2001:db8::1")
	addr := TargetAddress{Type: ATYPIPv6, IP: ip, Port: 53}
	buf := make([]byte, addr.encodedLen())
	if err := addr.writeTo(newWriter(buf)); err != nil {
		t.Fatalf("writeTo: %v", err)
	}
	c := newCursor(buf[1:])
	got, err := readTargetAddress(c, AddressType(buf[0]))
	if err != nil {
		t.Fatalf("readTargetAddress: %v", err)
	}
	if !got.IP.Equal(ip) || got.Port != addr.Port {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, addr)
	}
}

func TestReadTargetAddressDomainZeroLength(t *testing.T) {
	c := newCursor([]byte{0x00})
	if _, err := readTargetAddress(c, ATYPDomain); err != ErrProtocol {
		t.Fatalf("expected ErrProtocol for zero-length domain, got %v", err)
	}
}

func TestReadTargetAddressTruncated(t *testing.T) {
	c := newCursor([]byte{1, 2, 3})
	if _, err := readTargetAddress(c, ATYPIPv4); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestReadUntilNUL(t *testing.T) {
	r := bytes.NewReader([]byte("anonymous\x00trailing"))
	got, err := readUntilNUL(r, 256)
	if err != nil {
		t.Fatalf("readUntilNUL: %v", err)
	}
	if string(got) != "anonymous" {
		t.Fatalf("got %q, want %q", got, "anonymous")
	}
}

func TestReadUntilNULTooLong(t *testing.T) {
	r := strings.NewReader(strings.Repeat("a", 10))
	if _, err := readUntilNUL(r, 5); err != ErrTooLong {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
}

func TestTargetAddressString(t *testing.T) {
	addr := TargetAddress{Type: ATYPDomain, Domain: "example.com", Port: 80}
	if got, want := addr.String(), "example.com:80"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
