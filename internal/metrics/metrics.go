// Package metrics exposes Prometheus metrics for the debate engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus metrics.
type Metrics struct {
	TurnsTotal         *prometheus.CounterVec   // Executed turns by agent and phase
	DegradedTurnsTotal *prometheus.CounterVec   // Turns produced by the failure path
	DecisionsTotal     *prometheus.CounterVec   // Routing decisions by mode
	RoutingFallbacks   prometheus.Counter       // Dynamic routing calls degraded to the fallback
	SessionsTotal      *prometheus.CounterVec   // Finished sessions by terminal status
	SessionDuration    prometheus.Histogram     // Wall-clock session duration
	TokensTotal        *prometheus.CounterVec   // Token usage by direction
}

// NewMetrics creates and registers the engine metrics. The registerer
// parameter allows a test registry instead of the global one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inquest_turns_total",
			Help: "Total number of executed agent turns",
		}, []string{"agent", "phase"}),
		DegradedTurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inquest_degraded_turns_total",
			Help: "Total number of turns produced by the failure path",
		}, []string{"agent"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inquest_decisions_total",
			Help: "Total number of supervisor routing decisions by mode",
		}, []string{"mode"}),
		RoutingFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inquest_routing_fallbacks_total",
			Help: "Total number of dynamic routing calls degraded to the deterministic fallback",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inquest_sessions_total",
			Help: "Total number of finished sessions by terminal status",
		}, []string{"status"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "inquest_session_duration_seconds",
			Help:    "Wall-clock duration of debate sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inquest_tokens_total",
			Help: "Total token usage reported by the model backend",
		}, []string{"direction"}),
	}

	reg.MustRegister(
		m.TurnsTotal,
		m.DegradedTurnsTotal,
		m.DecisionsTotal,
		m.RoutingFallbacks,
		m.SessionsTotal,
		m.SessionDuration,
		m.TokensTotal,
	)
	return m
}

// NewNopMetrics creates metrics bound to a private registry. Used by tests
// and callers that do not scrape.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
