//go:build linux

package socks5

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlListener sets SO_REUSEADDR on the passive listening socket so the
// acceptor can rebind immediately after a restart. Used as the Control
// callback on net.ListenConfig.
func controlListener(network, address string, c syscall.RawConn) error {
	var sysErr error
	err := c.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			sysErr = e
		}
	})
	if err != nil {
		return err
	}
	return sysErr
}

// controlConnect tunes TCP keepalive probing finer than net.TCPConn's
// SetKeepAlivePeriod allows (TCP_KEEPIDLE/INTVL/CNT have no stdlib
// equivalent) and disables Nagle. Used as the Control callback on the
// Connector's outbound net.Dialer, which hands us the raw fd before it is
// wrapped in a *net.TCPConn.
func controlConnect(network, address string, c syscall.RawConn) error {
	var sysErr error
	err := c.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 30); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3); e != nil {
			sysErr = e
			return
		}
	})
	if err != nil {
		return err
	}
	return sysErr
}
