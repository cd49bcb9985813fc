package diag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// No session_id label anywhere: per-session labels would explode cardinality.
var (
	// ActiveSessions tracks currently open relay sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxrelay_active_sessions",
		Help: "Current number of active relay sessions.",
	})

	relayErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxrelay_errors_total",
		Help: "Total diagnostic events recorded, by category.",
	}, []string{"category"})

	phaseSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voxrelay_phase_seconds",
		Help:    "Elapsed time from connection start to a named phase.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"phase"})
)
