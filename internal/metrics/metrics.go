// Package metrics exposes Prometheus counters and gauges for bedweb. Not
// part of the original spec.md (the original C++ server has no metrics
// endpoint at all), but added per SPEC_FULL.md's "Metrics & health" section
// to give github.com/prometheus/client_golang — present throughout
// tomponline-lxd — a concrete home.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles the gauges and counters the server wiring updates as it
// runs. A single instance is created at startup and threaded through the
// components that report into it.
type Registry struct {
	ClientsConnected  prometheus.Gauge
	TerminalsActive   prometheus.Gauge
	TerminalsOrphaned prometheus.Gauge
	CachedBlobBytes   prometheus.Gauge
	RPCRequestsTotal  *prometheus.CounterVec
	RPCErrorsTotal    *prometheus.CounterVec
	TelemetryTicks    prometheus.Counter
}

// NewRegistry creates and registers every metric onto reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		ClientsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bedweb",
			Name:      "clients_connected",
			Help:      "Number of websocket clients currently connected.",
		}),
		TerminalsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bedweb",
			Name:      "terminals_active",
			Help:      "Number of live PTY-backed terminals.",
		}),
		TerminalsOrphaned: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bedweb",
			Name:      "terminals_orphaned",
			Help:      "Number of live terminals whose owning client has disconnected.",
		}),
		CachedBlobBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bedweb",
			Name:      "cached_blob_bytes",
			Help:      "Total bytes currently held in per-client blob caches.",
		}),
		RPCRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bedweb",
			Name:      "rpc_requests_total",
			Help:      "RPC requests handled, by method.",
		}, []string{"method"}),
		RPCErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bedweb",
			Name:      "rpc_errors_total",
			Help:      "RPC requests that returned an error, by method and error kind.",
		}, []string{"method", "kind"}),
		TelemetryTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bedweb",
			Name:      "telemetry_ticks_total",
			Help:      "Telemetry sampling ticks completed.",
		}),
	}
}
