package watchtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchtime_ticks_total",
		Help: "Watch ticks by outcome (ok, failed, unauthenticated)",
	}, []string{"outcome"})

	viewLogFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watchtime_view_log_failures_total",
		Help: "View log appends that failed after the counter was incremented",
	})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "watchtime_tick_duration_seconds",
		Help:    "Duration of a watch tick including the view log append",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "watchtime_active_sessions",
		Help: "Watch sessions currently ticking on this instance",
	})
)
