package glpi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpdeskpulse",
			Subsystem: "glpi",
			Name:      "requests_total",
			Help:      "Logical GLPI requests by method and result (success, failure, rejected)",
		},
		[]string{"client", "method", "result"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "helpdeskpulse",
			Subsystem: "glpi",
			Name:      "request_duration_seconds",
			Help:      "Duration of logical GLPI requests including retries",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"client", "method"},
	)

	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpdeskpulse",
			Subsystem: "glpi",
			Name:      "attempts_total",
			Help:      "Individual GLPI attempts by outcome class",
		},
		[]string{"client", "class"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "helpdeskpulse",
			Subsystem: "glpi",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"client"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpdeskpulse",
			Subsystem: "glpi",
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"client", "from", "to"},
	)

	sessionRenewals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpdeskpulse",
			Subsystem: "glpi",
			Name:      "session_renewals_total",
			Help:      "initSession calls by result",
		},
		[]string{"client", "result"},
	)
)

func stateToFloat(s State) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}
