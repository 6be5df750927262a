// Package config loads and validates the YAML configuration file for socksd,
// scoped to SPEC_FULL.md §4.8. Grounded on the teacher's internal/config
// (gopkg.in/yaml.v3, a root Config struct with nested sub-configs) but
// trimmed to only the fields the SOCKS core and its ingress transports need
// — the teacher's Config additionally covers mesh peering, routing, and
// tunnel transport settings entirely outside this spec's scope.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coriolisnet/socksd/internal/socks5"
)

// RateLimitConfig caps the rate of newly accepted connections.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// MetricsConfig controls the Prometheus /metrics HTTP surface.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// WebSocketIngressConfig controls the WebSocket ingress transport.
type WebSocketIngressConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

// QUICIngressConfig controls the QUIC ingress transport.
type QUICIngressConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

// Config is the root of the YAML configuration file.
type Config struct {
	Listen         string                 `yaml:"listen"`
	BindAddr       string                 `yaml:"bind_addr"`
	User           string                 `yaml:"user"`
	Pass           string                 `yaml:"pass"`
	MaxConnections int                    `yaml:"max_connections"`
	ConnectTimeout time.Duration          `yaml:"connect_timeout"`
	IdleTimeout    time.Duration          `yaml:"idle_timeout"`
	RateLimit      RateLimitConfig        `yaml:"rate_limit"`
	LogLevel       string                 `yaml:"log_level"`
	LogFormat      string                 `yaml:"log_format"`
	Metrics        MetricsConfig          `yaml:"metrics"`
	WebSocket      WebSocketIngressConfig `yaml:"websocket"`
	QUIC           QUICIngressConfig      `yaml:"quic"`
}

// Default returns the built-in defaults, applied before a YAML file is
// merged on top and consulted whenever the file omits a field.
func Default() Config {
	return Config{
		Listen:         "127.0.0.1:1080",
		ConnectTimeout: 10 * time.Second,
		IdleTimeout:    5 * time.Minute,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load reads and parses a YAML file from path, merging it over Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the cross-field invariants SPEC_FULL.md §4.8 requires:
// listen must parse as host:port, bind_addr (if set) must be an IP literal,
// and user/pass must both be empty or both be set.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("config: listen %q must be host:port: %w", c.Listen, err)
	}
	if c.BindAddr != "" && net.ParseIP(c.BindAddr) == nil {
		return fmt.Errorf("config: bind_addr %q is not a valid IP literal", c.BindAddr)
	}
	if (c.User == "") != (c.Pass == "") {
		return fmt.Errorf("config: user and pass must both be set or both be empty")
	}
	return nil
}

// ServerOptions projects the config-file fields relevant to the wire
// protocol core into a socks5.ServerOptions, leaving ambient fields (log
// level/format, metrics, ingress transport toggles) for the caller to wire
// up separately.
func (c Config) ServerOptions() socks5.ServerOptions {
	opts := socks5.DefaultServerOptions()
	opts.BindAddr = c.BindAddr
	opts.Auth = socks5.AuthConfig{Username: c.User, Password: c.Pass}
	if c.ConnectTimeout > 0 {
		opts.ConnectTimeout = c.ConnectTimeout
	}
	if c.IdleTimeout > 0 {
		opts.IdleTimeout = c.IdleTimeout
	}
	return opts
}
