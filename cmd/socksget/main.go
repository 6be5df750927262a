// Package main provides socksget, a minimal HTTP GET client demo that
// tunnels through a SOCKS5 proxy, exercising internal/socksclient's
// handshake end to end (spec.md §6).
package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/coriolisnet/socksd/internal/socksclient"
)

func main() {
	var (
		proxyURL string
		target   string
		path     string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "socksget",
		Short: "Fetch an HTTP URL through a SOCKS5 proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			proxy, err := socksclient.ParseProxyURL(proxyURL)
			if err != nil {
				return fmt.Errorf("socksget: %w", err)
			}

			host, portStr, err := net.SplitHostPort(target)
			if err != nil {
				return fmt.Errorf("socksget: --target must be host:port: %w", err)
			}
			port, err := strconv.ParseUint(portStr, 10, 16)
			if err != nil {
				return fmt.Errorf("socksget: invalid target port %q: %w", portStr, err)
			}

			conn, err := net.DialTimeout("tcp", proxy.Address(), timeout)
			if err != nil {
				return fmt.Errorf("socksget: dial proxy %s: %w", proxy.Address(), err)
			}
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(timeout))

			bound, err := socksclient.Handshake(conn, host, uint16(port), proxy.Username, proxy.Password)
			if err != nil {
				return fmt.Errorf("socksget: socks handshake: %w", err)
			}
			fmt.Fprintf(os.Stderr, "connected via proxy, bound address type 0x%02x port %d\n", bound.AddrType, bound.Port)
			_ = conn.SetDeadline(time.Time{})

			req, err := http.NewRequest(http.MethodGet, (&url.URL{Scheme: "http", Host: target, Path: path}).String(), nil)
			if err != nil {
				return fmt.Errorf("socksget: build request: %w", err)
			}
			req.Host = host
			if err := req.Write(conn); err != nil {
				return fmt.Errorf("socksget: write request: %w", err)
			}

			resp, err := http.ReadResponse(bufio.NewReader(conn), req)
			if err != nil {
				return fmt.Errorf("socksget: read response: %w", err)
			}
			defer resp.Body.Close()

			fmt.Fprintf(os.Stderr, "HTTP %s\n", resp.Status)
			_, err = io.Copy(os.Stdout, resp.Body)
			return err
		},
	}

	cmd.Flags().StringVar(&proxyURL, "socks", "", "Proxy address: socks5://[user[:pass]@]host:port (required)")
	cmd.Flags().StringVar(&target, "target", "", "Target host:port to connect to through the proxy (required)")
	cmd.Flags().StringVar(&path, "path", "/", "HTTP path to GET from the target")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Connect/handshake timeout")
	_ = cmd.MarkFlagRequired("socks")
	_ = cmd.MarkFlagRequired("target")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
