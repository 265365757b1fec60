package repository

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	allocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "counter_allocations_total",
			Help: "Total number of counter values allocated",
		},
		[]string{"collection", "scope"},
	)

	allocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "counter_allocation_duration_seconds",
			Help:    "Latency of counter allocations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Creation races that were retried inside Allocate
	allocationRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "counter_allocation_retries_total",
			Help: "Total number of counter allocations retried after a duplicate key conflict",
		},
		[]string{"collection"},
	)

	resetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "counter_resets_total",
			Help: "Total number of counter reset operations",
		},
		[]string{"collection"},
	)
)

func observeAllocation(collection, scope string, start time.Time) {
	allocationsTotal.WithLabelValues(collection, scope).Inc()
	allocationDuration.WithLabelValues(collection).Observe(time.Since(start).Seconds())
}
