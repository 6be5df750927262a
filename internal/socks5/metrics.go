package socks5

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "socksd"

// Metrics is the Prometheus surface for the SOCKS core, grounded on the
// teacher's internal/metrics singleton/promauto pattern but scoped to only
// the SOCKS-relevant fields (connections by version/transport, auth
// failures, connect failures by reply class, byte counters, connect
// latency) per SPEC_FULL.md §4.10.
type Metrics struct {
	ConnectionsActive  *prometheus.GaugeVec
	ConnectionsTotal   *prometheus.CounterVec
	AuthFailures       prometheus.Counter
	ConnectFailures    *prometheus.CounterVec
	BytesTransferred   *prometheus.CounterVec
	ConnectLatency     prometheus.Histogram
	HandshakeRejected  *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide default Metrics instance, registered
// against prometheus.DefaultRegisterer the first time it is requested.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics registers a fresh Metrics instance against the default
// registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers a fresh Metrics instance against reg,
// allowing tests to use a private registry instead of the global default.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Number of sessions currently in progress, by protocol version and ingress transport",
		}, []string{"version", "transport"}),
		ConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_total",
			Help:      "Total sessions accepted, by protocol version and ingress transport",
		}, []string{"version", "transport"}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_failures_total",
			Help:      "Total rejected username/password or userid credentials",
		}),
		ConnectFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connect_failures_total",
			Help:      "Total CONNECT attempts that failed, by reply-code class",
		}, []string{"reply_class"}),
		BytesTransferred: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_transferred_total",
			Help:      "Total bytes relayed, by direction",
		}, []string{"direction"}),
		ConnectLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "connect_latency_seconds",
			Help:      "Latency of outbound CONNECT attempts",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		HandshakeRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handshake_rejected_total",
			Help:      "Total handshakes closed before a CONNECT attempt, by reason",
		}, []string{"reason"}),
	}
}
