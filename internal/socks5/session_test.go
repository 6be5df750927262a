package socks5

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"
)

// echoListener starts a TCP listener that echoes every connection byte for
// byte, used as the CONNECT target in session tests.
func echoListener(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func newTestSession(local Stream, opts ServerOptions, auth AuthConfig) *Session {
	return newSession(1, "tcp", local, opts, NewAuthenticator(auth), NewConnector(nil), nil, nil, newRegistry())
}

func TestSessionSOCKS5NoAuthConnect(t *testing.T) {
	targetAddr, stop := echoListener(t)
	defer stop()
	host, portStr, _ := net.SplitHostPort(targetAddr)
	port, _ := strconv.Atoi(portStr)

	client, local := net.Pipe()
	defer client.Close()

	sess := newTestSession(local, DefaultServerOptions(), AuthConfig{})
	go sess.Run(context.Background())

	// method-select: version 5, 1 method, no-auth
	if _, err := client.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatalf("write method-select: %v", err)
	}
	methodReply := make([]byte, 2)
	if _, err := io.ReadFull(client, methodReply); err != nil {
		t.Fatalf("read method-select reply: %v", err)
	}
	if methodReply[0] != 0x05 || methodReply[1] != 0x00 {
		t.Fatalf("unexpected method-select reply: % x", methodReply)
	}

	// CONNECT request to the echo listener's concrete IPv4 address.
	ip4 := net.ParseIP(host).To4()
	req := []byte{0x05, 0x01, 0x00, 0x01, ip4[0], ip4[1], ip4[2], ip4[3], byte(port >> 8), byte(port)}
	if _, err := client.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	connectReply := make([]byte, 10)
	if _, err := io.ReadFull(client, connectReply); err != nil {
		t.Fatalf("read connect reply: %v", err)
	}
	if connectReply[0] != 0x05 || connectReply[1] != Rep5Succeeded {
		t.Fatalf("unexpected connect reply: % x", connectReply)
	}

	payload := []byte("ping")
	if _, err := client.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	echoed := make([]byte, len(payload))
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(client, echoed); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(echoed) != "ping" {
		t.Fatalf("got %q, want %q", echoed, "ping")
	}
}

func TestSessionSOCKS5AuthRequiredRejectsBadCredentials(t *testing.T) {
	client, local := net.Pipe()
	defer client.Close()

	sess := newTestSession(local, DefaultServerOptions(), AuthConfig{Username: "alice", Password: "hunter2"})
	go sess.Run(context.Background())

	if _, err := client.Write([]byte{0x05, 0x02, 0x00, 0x02}); err != nil {
		t.Fatalf("write method-select: %v", err)
	}
	methodReply := make([]byte, 2)
	if _, err := io.ReadFull(client, methodReply); err != nil {
		t.Fatalf("read method-select reply: %v", err)
	}
	if methodReply[1] != 0x02 {
		t.Fatalf("expected server to request username/password auth, got method 0x%02x", methodReply[1])
	}

	// wrong password
	authMsg := []byte{0x01, 5, 'a', 'l', 'i', 'c', 'e', 5, 'w', 'r', 'o', 'n', 'g'}
	if _, err := client.Write(authMsg); err != nil {
		t.Fatalf("write auth: %v", err)
	}
	authReply := make([]byte, 2)
	if _, err := io.ReadFull(client, authReply); err != nil {
		t.Fatalf("read auth reply: %v", err)
	}
	if authReply[1] != 0x01 {
		t.Fatalf("expected auth failure status, got % x", authReply)
	}
}

func TestSessionSOCKS5EmptyMethodListClosesWithoutReply(t *testing.T) {
	client, local := net.Pipe()
	defer client.Close()

	sess := newTestSession(local, DefaultServerOptions(), AuthConfig{})
	go sess.Run(context.Background())

	if _, err := client.Write([]byte{0x05, 0x00}); err != nil {
		t.Fatalf("write: %v", err)
	}
	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := client.Read(buf); err == nil {
		t.Fatal("expected session to close the connection without writing a reply")
	}
}

func TestSessionSOCKS4Connect(t *testing.T) {
	targetAddr, stop := echoListener(t)
	defer stop()
	host, portStr, _ := net.SplitHostPort(targetAddr)
	port, _ := strconv.Atoi(portStr)
	ip4 := net.ParseIP(host).To4()

	client, local := net.Pipe()
	defer client.Close()

	sess := newTestSession(local, DefaultServerOptions(), AuthConfig{})
	go sess.Run(context.Background())

	req := []byte{0x04, 0x01, byte(port >> 8), byte(port), ip4[0], ip4[1], ip4[2], ip4[3]}
	req = append(req, []byte("testuser\x00")...)
	if _, err := client.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	reply := make([]byte, 8)
	if _, err := io.ReadFull(client, reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply[0] != 0x00 || reply[1] != Rep4Granted {
		t.Fatalf("unexpected SOCKS4 reply: % x", reply)
	}

	// Confirm the CONNECT actually reached the echo listener (and not some
	// transposed address), not just that the reply code looked right.
	payload := []byte("socks4-ping")
	if _, err := client.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	echoed := make([]byte, len(payload))
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(client, echoed); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(echoed) != string(payload) {
		t.Fatalf("got %q, want %q", echoed, payload)
	}
}

func TestSessionSOCKS5BindNotSupportedEchoesTarget(t *testing.T) {
	client, local := net.Pipe()
	defer client.Close()

	sess := newTestSession(local, DefaultServerOptions(), AuthConfig{})
	go sess.Run(context.Background())

	if _, err := client.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatalf("write method-select: %v", err)
	}
	methodReply := make([]byte, 2)
	if _, err := io.ReadFull(client, methodReply); err != nil {
		t.Fatalf("read method-select reply: %v", err)
	}

	// BIND request (cmd 0x02) targeting 127.0.0.1:80.
	req := []byte{0x05, 0x02, 0x00, 0x01, 127, 0, 0, 1, 0x00, 0x50}
	if _, err := client.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	want := []byte{0x05, Rep5CommandNotSupported, 0x00, 0x01, 127, 0, 0, 1, 0x00, 0x50}
	got := make([]byte, len(want))
	if _, err := io.ReadFull(client, got); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("reply = % x, want % x", got, want)
		}
	}
}

func TestSessionSOCKS5RejectsNonZeroReserved(t *testing.T) {
	client, local := net.Pipe()
	defer client.Close()

	sess := newTestSession(local, DefaultServerOptions(), AuthConfig{})
	go sess.Run(context.Background())

	if _, err := client.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatalf("write method-select: %v", err)
	}
	methodReply := make([]byte, 2)
	if _, err := io.ReadFull(client, methodReply); err != nil {
		t.Fatalf("read method-select reply: %v", err)
	}

	req := []byte{0x05, 0x01, 0xFF, 0x01, 127, 0, 0, 1, 0x00, 0x50}
	if _, err := client.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := client.Read(buf); err == nil {
		t.Fatal("expected session to close the connection for a nonzero RSV byte")
	}
}
