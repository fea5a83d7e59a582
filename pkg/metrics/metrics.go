package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginAttempts records browser login submissions by result (success|failure).
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskbridge_login_attempts_total",
			Help: "Total number of browser login attempts",
		},
		[]string{"result"},
	)

	// CodeExchanges counts desktop code exchanges and their outcome
	// (success|invalid_code|pkce_failed|unknown_user).
	CodeExchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskbridge_code_exchanges_total",
			Help: "Total number of one-time code exchange attempts",
		},
		[]string{"result"},
	)

	// Registrations tracks registration workflow outcomes (completed|canceled).
	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskbridge_registrations_total",
			Help: "Total number of registration workflows reaching a terminal state",
		},
		[]string{"outcome"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deskbridge_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
