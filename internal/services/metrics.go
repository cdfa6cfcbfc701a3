package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// identifiersFetched counts identifiers newly recorded as pending.
	identifiersFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_identifiers_fetched_total",
			Help: "Identifiers newly recorded as pending.",
		},
		[]string{"endpoint"},
	)

	// identifiersProcessed counts terminal status transitions.
	identifiersProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_identifiers_processed_total",
			Help: "Identifiers processed, by resulting status.",
		},
		[]string{"endpoint", "status"},
	)

	filesUpserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_files_upserted_total",
			Help: "File records inserted or updated.",
		},
		[]string{"endpoint"},
	)

	// stepDuration times the harvest steps (check, fetch, process, run).
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_step_duration_seconds",
			Help:    "Duration of harvest steps in seconds.",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"endpoint", "step"},
	)
)

func init() {
	prometheus.MustRegister(identifiersFetched, identifiersProcessed, filesUpserted, stepDuration)
}

func observeStep(endpointID, step string, start time.Time) {
	stepDuration.WithLabelValues(endpointID, step).Observe(time.Since(start).Seconds())
}
