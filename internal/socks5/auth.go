package socks5

import "crypto/subtle"

// AuthConfig holds the single configured credential pair. An empty Username
// disables authentication entirely: method-select does not require 0x02,
// any username/password a client sends passes, and every V4 userid is
// accepted unchecked.
type AuthConfig struct {
	Username string
	Password string
}

// Authenticator validates credentials presented during SOCKS5's
// username/password sub-negotiation (RFC 1929) or a SOCKS4 userid field.
// Grounded on the teacher's auth.go Authenticator interface, simplified to
// the single static credential pair spec.md §4.2 describes rather than the
// teacher's multi-user CredentialStore.
type Authenticator struct {
	cfg AuthConfig
}

// NewAuthenticator builds an Authenticator from a fixed credential pair.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	return &Authenticator{cfg: cfg}
}

// Required reports whether the configured credentials force SOCKS5 clients
// to use the username/password method (0x02) rather than no-auth (0x00).
func (a *Authenticator) Required() bool {
	return a.cfg.Username != ""
}

// Authenticate checks username/password against the configured pair. version
// is 4 or 5: SOCKS4's userid carries no password, so password is ignored for
// version 4 once the username matches (or unconditionally, when no
// credentials are configured at all).
func (a *Authenticator) Authenticate(username, password string, version int) bool {
	if a.cfg.Username == "" {
		return true
	}
	if !constEqual(username, a.cfg.Username) {
		return false
	}
	if version == 4 {
		return true
	}
	return constEqual(password, a.cfg.Password)
}

// constEqual compares two strings in constant time with respect to their
// contents; subtle.ConstantTimeCompare already returns false immediately
// (but still safely) when lengths differ.
func constEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
