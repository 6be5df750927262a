package socks5

import "testing"

func TestAuthenticatorNoCredentialsConfigured(t *testing.T) {
	a := NewAuthenticator(AuthConfig{})
	if a.Required() {
		t.Fatal("expected Required() false with no configured username")
	}
	if !a.Authenticate("anyone", "anything", 5) {
		t.Fatal("expected any credentials to pass when none are configured")
	}
	if !a.Authenticate("", "", 4) {
		t.Fatal("expected empty SOCKS4 userid to pass when none are configured")
	}
}

func TestAuthenticatorV5RequiresBoth(t *testing.T) {
	a := NewAuthenticator(AuthConfig{Username: "alice", Password: "hunter2"})
	if !a.Required() {
		t.Fatal("expected Required() true once a username is configured")
	}
	if !a.Authenticate("alice", "hunter2", 5) {
		t.Fatal("expected matching username/password to pass")
	}
	if a.Authenticate("alice", "wrong", 5) {
		t.Fatal("expected wrong password to fail")
	}
	if a.Authenticate("bob", "hunter2", 5) {
		t.Fatal("expected wrong username to fail")
	}
}

func TestAuthenticatorV4IgnoresPassword(t *testing.T) {
	a := NewAuthenticator(AuthConfig{Username: "alice", Password: "hunter2"})
	if !a.Authenticate("alice", "", 4) {
		t.Fatal("expected SOCKS4 userid match to pass regardless of password")
	}
	if a.Authenticate("mallory", "", 4) {
		t.Fatal("expected wrong SOCKS4 userid to fail")
	}
}
