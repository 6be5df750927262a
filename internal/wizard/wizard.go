// Package wizard implements the interactive `socksd wizard` config builder
// (SPEC_FULL.md §4.13). The teacher repository carries charmbracelet/huh
// and charmbracelet/lipgloss as direct go.mod dependencies but its own
// internal/wizard never actually imports them (it grew a hand-rolled
// terminal prompt package instead); this wires huh/lipgloss for real,
// following their documented form/group/field API.
package wizard

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/coriolisnet/socksd/internal/config"
)

var titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))

// Run walks the operator through the fields config.Config needs and writes
// the result as YAML to outPath.
func Run(outPath string) error {
	fmt.Println(titleStyle.Render("socksd setup"))

	cfg := config.Default()
	var enableAuth bool
	var enableWS bool
	var enableQUIC bool
	var enableMetrics bool
	maxConnStr := "0"
	rpsStr := "0"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Placeholder("127.0.0.1:1080").
				Value(&cfg.Listen),
			huh.NewInput().
				Title("Bind address (outbound, optional)").
				Value(&cfg.BindAddr),
			huh.NewInput().
				Title("Max connections (0 = unlimited)").
				Value(&maxConnStr),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Require username/password authentication?").
				Value(&enableAuth),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Value(&cfg.User).
				WithHideFunc(func() bool { return !enableAuth }),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.Pass).
				WithHideFunc(func() bool { return !enableAuth }),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Connections/sec rate limit (0 = unlimited)").
				Value(&rpsStr),
			huh.NewConfirm().
				Title("Enable WebSocket ingress transport?").
				Value(&enableWS),
			huh.NewConfirm().
				Title("Enable QUIC ingress transport?").
				Value(&enableQUIC),
			huh.NewConfirm().
				Title("Enable Prometheus metrics endpoint?").
				Value(&enableMetrics),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("wizard: %w", err)
	}

	if n, err := strconv.Atoi(maxConnStr); err == nil {
		cfg.MaxConnections = n
	}
	if f, err := strconv.ParseFloat(rpsStr, 64); err == nil {
		cfg.RateLimit.RPS = f
		if f > 0 && cfg.RateLimit.Burst == 0 {
			cfg.RateLimit.Burst = int(f)
			if cfg.RateLimit.Burst < 1 {
				cfg.RateLimit.Burst = 1
			}
		}
	}

	cfg.WebSocket.Enabled = enableWS
	cfg.QUIC.Enabled = enableQUIC
	cfg.Metrics.Enabled = enableMetrics
	if enableMetrics && cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9090"
	}
	if !enableAuth {
		cfg.User, cfg.Pass = "", ""
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("wizard: invalid configuration: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("wizard: marshal config: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o600); err != nil {
		return fmt.Errorf("wizard: write %s: %w", outPath, err)
	}

	fmt.Printf("Wrote configuration to %s\n", outPath)
	return nil
}
