//go:build !linux

package socks5

import "syscall"

// controlListener and controlConnect are no-ops off Linux; the fine-grained
// tuning in sockopt_linux.go has no portable equivalent. Accepted
// connections still get net.TCPConn's coarser SetKeepAlive/SetNoDelay from
// the acceptor; dialed connections keep net.Dialer's defaults.
func controlListener(network, address string, c syscall.RawConn) error { return nil }
func controlConnect(network, address string, c syscall.RawConn) error  { return nil }
