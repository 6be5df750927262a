package socksclient

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Error kinds produced by ClientHandshake, mirroring the reference
// implementation's mapping of SOCKS5 reply codes onto distinct error
// values (spec.md §4.7 step 4) rather than one opaque failure.
var (
	ErrGeneralFailure       = errors.New("socksclient: general SOCKS server failure")
	ErrNotAllowed           = errors.New("socksclient: connection not allowed by ruleset")
	ErrNetworkUnreachable   = errors.New("socksclient: network unreachable")
	ErrHostUnreachable      = errors.New("socksclient: host unreachable")
	ErrConnectionRefused    = errors.New("socksclient: connection refused")
	ErrTTLExpired           = errors.New("socksclient: TTL expired")
	ErrCommandNotSupported  = errors.New("socksclient: command not supported")
	ErrAddressNotSupported  = errors.New("socksclient: address type not supported")
	ErrAuthRejected         = errors.New("socksclient: username/password rejected")
	ErrNoAcceptableMethod   = errors.New("socksclient: server accepted no offered auth method")
	ErrUnexpectedAuthMethod = errors.New("socksclient: server selected an unrequested auth method")
)

func mapReplyErr(rep byte) error {
	switch rep {
	case 0x00:
		return nil
	case 0x01:
		return ErrGeneralFailure
	case 0x02:
		return ErrNotAllowed
	case 0x03:
		return ErrNetworkUnreachable
	case 0x04:
		return ErrHostUnreachable
	case 0x05:
		return ErrConnectionRefused
	case 0x06:
		return ErrTTLExpired
	case 0x07:
		return ErrCommandNotSupported
	case 0x08:
		return ErrAddressNotSupported
	default:
		return fmt.Errorf("socksclient: unknown reply code 0x%02x", rep)
	}
}

// BoundAddress is the BND.ADDR/BND.PORT a server returned in its CONNECT
// reply.
type BoundAddress struct {
	AddrType byte
	Addr     []byte
	Port     uint16
}

// Handshake performs the client side of a SOCKS5 CONNECT negotiation over
// an already-connected stream, per spec.md §4.7. It always encodes the
// target using the domain address type (atyp 0x03), matching the reference
// client (socks_client.hpp's do_socks5), which defers resolution to the
// proxy rather than resolving locally.
func Handshake(rw io.ReadWriter, host string, port uint16, username, password string) (BoundAddress, error) {
	if err := writeMethodSelect(rw, username); err != nil {
		return BoundAddress{}, err
	}

	hdr := make([]byte, 2)
	if _, err := io.ReadFull(rw, hdr); err != nil {
		return BoundAddress{}, fmt.Errorf("socksclient: read method-select reply: %w", err)
	}
	if hdr[0] != 0x05 {
		return BoundAddress{}, fmt.Errorf("socksclient: unexpected SOCKS version 0x%02x in reply", hdr[0])
	}
	method := hdr[1]
	if method == 0xFF {
		return BoundAddress{}, ErrNoAcceptableMethod
	}

	switch method {
	case 0x00:
		// no auth required; proceed directly to the request.
	case 0x02:
		if err := authenticate(rw, username, password); err != nil {
			return BoundAddress{}, err
		}
	default:
		return BoundAddress{}, ErrUnexpectedAuthMethod
	}

	if err := writeConnectRequest(rw, host, port); err != nil {
		return BoundAddress{}, err
	}
	return readConnectReply(rw)
}

func writeMethodSelect(w io.Writer, username string) error {
	var methods []byte
	if username != "" {
		methods = []byte{0x00, 0x02}
	} else {
		methods = []byte{0x00}
	}
	buf := make([]byte, 2+len(methods))
	buf[0] = 0x05
	buf[1] = byte(len(methods))
	copy(buf[2:], methods)
	_, err := w.Write(buf)
	return err
}

func authenticate(rw io.ReadWriter, username, password string) error {
	if len(username) == 0 || len(username) > 255 || len(password) > 255 {
		return fmt.Errorf("socksclient: username/password length out of range")
	}
	buf := make([]byte, 0, 3+len(username)+len(password))
	buf = append(buf, 0x01, byte(len(username)))
	buf = append(buf, username...)
	buf = append(buf, byte(len(password)))
	buf = append(buf, password...)
	if _, err := rw.Write(buf); err != nil {
		return err
	}

	reply := make([]byte, 2)
	if _, err := io.ReadFull(rw, reply); err != nil {
		return fmt.Errorf("socksclient: read auth reply: %w", err)
	}
	if reply[1] != 0x00 {
		return ErrAuthRejected
	}
	return nil
}

func writeConnectRequest(w io.Writer, host string, port uint16) error {
	if len(host) == 0 || len(host) > 255 {
		return fmt.Errorf("socksclient: host length out of range")
	}
	buf := make([]byte, 0, 7+len(host))
	buf = append(buf, 0x05, 0x01, 0x00, 0x03, byte(len(host)))
	buf = append(buf, host...)
	buf = append(buf, byte(port>>8), byte(port))
	_, err := w.Write(buf)
	return err
}

// readConnectReply reads a correctly-sized SOCKS5 reply (10/22/7+L bytes
// depending on atyp) rather than assuming the reference server's fixed
// 10-byte reply, so this client interoperates with any conforming server.
func readConnectReply(r io.Reader) (BoundAddress, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return BoundAddress{}, fmt.Errorf("socksclient: read reply header: %w", err)
	}
	if hdr[0] != 0x05 {
		return BoundAddress{}, fmt.Errorf("socksclient: unexpected SOCKS version 0x%02x in reply", hdr[0])
	}
	rep := hdr[1]
	atyp := hdr[3]

	var addr []byte
	var port uint16
	switch atyp {
	case 0x01:
		b := make([]byte, 6)
		if _, err := io.ReadFull(r, b); err != nil {
			return BoundAddress{}, fmt.Errorf("socksclient: read ipv4 bound address: %w", err)
		}
		addr = b[:4]
		port = binary.BigEndian.Uint16(b[4:])
	case 0x04:
		b := make([]byte, 18)
		if _, err := io.ReadFull(r, b); err != nil {
			return BoundAddress{}, fmt.Errorf("socksclient: read ipv6 bound address: %w", err)
		}
		addr = b[:16]
		port = binary.BigEndian.Uint16(b[16:])
	case 0x03:
		lb := make([]byte, 1)
		if _, err := io.ReadFull(r, lb); err != nil {
			return BoundAddress{}, fmt.Errorf("socksclient: read domain length: %w", err)
		}
		b := make([]byte, int(lb[0])+2)
		if _, err := io.ReadFull(r, b); err != nil {
			return BoundAddress{}, fmt.Errorf("socksclient: read domain bound address: %w", err)
		}
		addr = b[:lb[0]]
		port = binary.BigEndian.Uint16(b[lb[0]:])
	default:
		return BoundAddress{}, fmt.Errorf("socksclient: unknown bound address type 0x%02x", atyp)
	}

	if err := mapReplyErr(rep); err != nil {
		return BoundAddress{}, err
	}
	return BoundAddress{AddrType: atyp, Addr: addr, Port: port}, nil
}
