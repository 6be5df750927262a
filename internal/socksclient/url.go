// Package socksclient implements the SOCKS5 client-side handshake (spec.md
// §4.7), grounded on original_source/src/socks_client.hpp, since the Go
// teacher repository has no client-side code at all.
package socksclient

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// ProxyURL is a parsed socks5://[user[:pass]@]host:port address, the client
// analogue of original_source's hand-rolled socks_address/parse_url.
type ProxyURL struct {
	Host     string
	Port     uint16
	Username string
	Password string
}

// ParseProxyURL parses a socks5:// URL using net/url (the reference
// implementation hand-rolls its own parser because it predates a usable C++
// URL library; Go's net/url already does the scheme/userinfo/host/port
// split correctly, including bracketed IPv6 literals, so there is no
// occasion to reimplement it by hand here).
func ParseProxyURL(raw string) (ProxyURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ProxyURL{}, fmt.Errorf("socksclient: parse proxy url: %w", err)
	}
	if u.Scheme != "socks5" {
		return ProxyURL{}, fmt.Errorf("socksclient: unsupported proxy scheme %q", u.Scheme)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return ProxyURL{}, fmt.Errorf("socksclient: proxy url missing port: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return ProxyURL{}, fmt.Errorf("socksclient: invalid proxy port %q", portStr)
	}

	out := ProxyURL{Host: host, Port: uint16(port)}
	if u.User != nil {
		out.Username = u.User.Username()
		out.Password, _ = u.User.Password()
	}
	return out, nil
}

func (p ProxyURL) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port)))
}
