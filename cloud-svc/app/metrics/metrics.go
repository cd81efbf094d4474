// Package metrics provides Prometheus metrics for the sync API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesTotal tracks processed sync batches by type and final status
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tis_sync",
			Subsystem: "ingestion",
			Name:      "batches_total",
			Help:      "Total number of sync batches by type and status",
		},
		[]string{"sync_type", "status"},
	)

	// RecordsTotal tracks individual records by outcome
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tis_sync",
			Subsystem: "ingestion",
			Name:      "records_total",
			Help:      "Total number of records by type and outcome",
		},
		[]string{"sync_type", "outcome"},
	)

	// BatchDuration tracks how long a batch takes to apply
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tis_sync",
			Subsystem: "ingestion",
			Name:      "batch_duration_seconds",
			Help:      "Duration of sync batch processing in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"sync_type"},
	)

	// AuthFailuresTotal tracks rejected agent credentials
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tis_sync",
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Total number of rejected agent credentials by reason",
		},
		[]string{"reason"},
	)

	// HeartbeatsTotal tracks heartbeats by reported status
	HeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tis_sync",
			Subsystem: "agent",
			Name:      "heartbeats_total",
			Help:      "Total number of agent heartbeats by status",
		},
		[]string{"status"},
	)

	// AgentsMarkedOffline tracks instances moved to offline by the sweep
	AgentsMarkedOffline = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tis_sync",
			Subsystem: "agent",
			Name:      "marked_offline_total",
			Help:      "Total number of agent instances marked offline by the sweeper",
		},
	)

	// RateLimitedTotal tracks /sync requests rejected by the rate limiter
	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tis_sync",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
	)
)
