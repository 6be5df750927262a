// Package main provides the CLI entry point for socksd.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/coriolisnet/socksd/internal/config"
	"github.com/coriolisnet/socksd/internal/logging"
	"github.com/coriolisnet/socksd/internal/socks5"
	"github.com/coriolisnet/socksd/internal/wizard"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "socksd",
		Short:   "socksd - a SOCKS4/SOCKS5 proxy server",
		Version: Version,
	}

	serve := serveCmd()
	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(wizardCmd())
	rootCmd.AddCommand(hashPasswordCmd())

	// Default to "serve" when invoked with no subcommand, so both a bare
	// `socksd` and `socksd -c config.yaml` work without naming the verb.
	if len(os.Args) == 1 {
		rootCmd.SetArgs([]string{"serve"})
	} else if first := os.Args[1]; len(first) == 0 || first[0] == '-' {
		rootCmd.SetArgs(append([]string{"serve"}, os.Args[1:]...))
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the SOCKS proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.Config
			var err error
			if configPath != "" {
				cfg, err = config.Load(configPath)
			} else {
				cfg = config.Default()
				err = cfg.Validate()
			}
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			for name, dst := range map[string]*string{"listen": &cfg.Listen, "bind-addr": &cfg.BindAddr, "user": &cfg.User, "pass": &cfg.Pass} {
				if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
					*dst = f.Value.String()
				}
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
			opts := cfg.ServerOptions()

			var acceptorOpts []socks5.AcceptorOption
			acceptorOpts = append(acceptorOpts, socks5.WithLogger(logger))
			if cfg.MaxConnections > 0 {
				acceptorOpts = append(acceptorOpts, socks5.WithMaxConnections(cfg.MaxConnections))
			}
			if cfg.RateLimit.RPS > 0 {
				acceptorOpts = append(acceptorOpts, socks5.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
			}
			if cfg.Metrics.Enabled {
				acceptorOpts = append(acceptorOpts, socks5.WithMetrics(socks5.NewMetrics()))
			}

			acceptor := socks5.NewAcceptor(opts, nil, acceptorOpts...)
			if err := acceptor.Start(cfg.Listen); err != nil {
				return fmt.Errorf("failed to start proxy: %w", err)
			}
			logger.Info("socks proxy listening", logging.KeyComponent, "tcp", logging.KeyLocalAddr, acceptor.Address().String())

			var stoppers []func() error
			stoppers = append(stoppers, acceptor.Stop)

			auth, connector, _, metrics, reg := acceptor.Shared()

			if cfg.WebSocket.Enabled {
				wsCfg := socks5.WebSocketConfig{
					Address: cfg.WebSocket.Address,
					Path:    cfg.WebSocket.Path,
				}
				if cfg.WebSocket.Cert != "" && cfg.WebSocket.Key != "" {
					cert, err := tls.LoadX509KeyPair(cfg.WebSocket.Cert, cfg.WebSocket.Key)
					if err != nil {
						return fmt.Errorf("failed to load websocket TLS cert: %w", err)
					}
					wsCfg.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
				} else {
					wsCfg.PlainText = true
				}
				wsListener, err := socks5.NewWebSocketListener(wsCfg, opts, auth, connector, logger, metrics, reg)
				if err != nil {
					return fmt.Errorf("failed to build websocket listener: %w", err)
				}
				if err := wsListener.Start(); err != nil {
					return fmt.Errorf("failed to start websocket listener: %w", err)
				}
				logger.Info("socks proxy listening", logging.KeyComponent, "websocket", logging.KeyLocalAddr, cfg.WebSocket.Address)
				stoppers = append(stoppers, wsListener.Stop)
			}

			if cfg.QUIC.Enabled {
				cert, err := tls.LoadX509KeyPair(cfg.QUIC.Cert, cfg.QUIC.Key)
				if err != nil {
					return fmt.Errorf("failed to load QUIC TLS cert: %w", err)
				}
				quicCfg := socks5.QUICConfig{
					Address:   cfg.QUIC.Address,
					TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"socks5"}},
				}
				quicListener, err := socks5.NewQUICListener(quicCfg, opts, auth, connector, logger, metrics, reg)
				if err != nil {
					return fmt.Errorf("failed to build QUIC listener: %w", err)
				}
				if err := quicListener.Start(); err != nil {
					return fmt.Errorf("failed to start QUIC listener: %w", err)
				}
				logger.Info("socks proxy listening", logging.KeyComponent, "quic", logging.KeyLocalAddr, cfg.QUIC.Address)
				stoppers = append(stoppers, quicListener.Stop)
			}

			var metricsSrv *http.Server
			if cfg.Metrics.Enabled {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				metricsSrv = &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("metrics server failed", logging.KeyError, err)
					}
				}()
				logger.Info("metrics listening", logging.KeyLocalAddr, cfg.Metrics.Address)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logger.Info("shutting down")

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if metricsSrv != nil {
				_ = metricsSrv.Shutdown(ctx)
			}
			for _, stop := range stoppers {
				if err := stop(); err != nil {
					logger.Error("shutdown error", logging.KeyError, err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (defaults built in if omitted)")
	cmd.Flags().String("listen", "", "Local listening endpoint HOST:PORT (overrides the config file)")
	cmd.Flags().String("bind-addr", "", "Local IP for outbound connections (overrides the config file)")
	cmd.Flags().String("user", "", "Username clients must present (overrides the config file)")
	cmd.Flags().String("pass", "", "Password clients must present (overrides the config file)")
	return cmd
}

func wizardCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "wizard",
		Short: "Interactively build a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return wizard.Run(outPath)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "config.yaml", "Path to write the generated configuration")
	return cmd
}

func hashPasswordCmd() *cobra.Command {
	var password string
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash of a password for reference",
		Long: `Print a bcrypt hash of a password.

socksd's own Authenticator compares the configured password directly
(spec.md requires matching a plaintext SOCKS4 userid or SOCKS5
username/password), so this hash is not consumed by socksd itself — it
is offered for operators who want to record a verifiable password hash
outside the config file, e.g. in a secrets manager or audit log.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				password = args[0]
			} else {
				fmt.Fprint(os.Stderr, "Password: ")
				b, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = string(b)
			}
			if password == "" {
				return fmt.Errorf("password must not be empty")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			fmt.Println(string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost factor (4-31)")
	return cmd
}
