// Package metrics exposes the gateway's Prometheus collectors. Collectors
// register against the default registry at init, so recording is a plain
// function call from any layer and the admin API serves them all through
// one handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpmux/mcpmux/internal/domain"
)

// Invocation outcome label values.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeTimeout     = "timeout"
	OutcomeUnavailable = "unavailable"
	OutcomeNotFound    = "not_found"
	OutcomeInvalidArgs = "invalid_arguments"
)

var (
	// serverTransitions tracks lifecycle transitions per server and target state.
	serverTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpmux_server_transitions_total",
			Help: "Total lifecycle state transitions by server and target state",
		},
		[]string{"server", "state"},
	)

	// serverRestarts tracks start attempts from the crashed state per server.
	serverRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpmux_server_restarts_total",
			Help: "Total restart attempts from the crashed state by server",
		},
		[]string{"server"},
	)

	// serversRunning tracks how many servers are currently Running.
	serversRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcpmux_servers_running",
			Help: "Number of servers currently in the running state",
		},
	)

	// invocations tracks capability invocations by owning server, kind and outcome.
	invocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpmux_invocations_total",
			Help: "Total capability invocations by server, kind and outcome",
		},
		[]string{"server", "kind", "outcome"},
	)

	// invocationDuration tracks invocation latency by owning server and kind.
	invocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpmux_invocation_duration_seconds",
			Help:    "Capability invocation latency by server and kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server", "kind"},
	)

	// capabilities tracks the size of the merged namespace per kind.
	capabilities = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mcpmux_capabilities",
			Help: "Registered capabilities in the merged namespace by kind",
		},
		[]string{"kind"},
	)
)

// RecordTransition increments the transition counter and keeps the running
// gauge in step.
func RecordTransition(server string, from, to domain.ServerState) {
	serverTransitions.WithLabelValues(server, string(to)).Inc()

	if to == domain.ServerStateRunning {
		serversRunning.Inc()
	}
	if from == domain.ServerStateRunning {
		serversRunning.Dec()
	}
}

// RecordRestart increments the automatic restart counter.
func RecordRestart(server string) {
	serverRestarts.WithLabelValues(server).Inc()
}

// RecordInvocation records one invocation outcome with its latency.
func RecordInvocation(server string, kind domain.CapabilityKind, outcome string, duration time.Duration) {
	invocations.WithLabelValues(server, string(kind), outcome).Inc()
	invocationDuration.WithLabelValues(server, string(kind)).Observe(duration.Seconds())
}

// SetCapabilityCount records the current size of one kind's namespace.
func SetCapabilityCount(kind domain.CapabilityKind, count int) {
	capabilities.WithLabelValues(string(kind)).Set(float64(count))
}

// Handler serves the default registry, which all collectors register with.
func Handler() http.Handler {
	return promhttp.Handler()
}
