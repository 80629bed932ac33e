package engagement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scanFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_scan_failures_total",
		Help: "Users skipped during an aggregation scan because their sessions could not be read",
	})

	aggregateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engagement_aggregate_duration_seconds",
		Help:    "Duration of engagement aggregations",
		Buckets: prometheus.DefBuckets,
	}, []string{"aggregator", "op"})
)
