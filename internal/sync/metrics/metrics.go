package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsProcessed tracks per-record outcomes per sync type
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_records_processed_total",
			Help: "Total number of records processed",
		},
		[]string{"sync_type", "outcome"},
	)

	// BatchesTotal tracks finished batches per sync type and status
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_batches_total",
			Help: "Total number of batches finished",
		},
		[]string{"sync_type", "status"},
	)

	// BatchDuration tracks batch processing latency
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncd_batch_duration_seconds",
			Help:    "Batch processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sync_type"},
	)

	// RetryAttempts tracks retry attempts per operation and error category
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_retry_attempts_total",
			Help: "Total number of retry attempts",
		},
		[]string{"operation", "category"},
	)

	// RetryExhausted tracks units of work that ran out of attempts
	RetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_retry_exhausted_total",
			Help: "Total number of retry-exhausted failures",
		},
		[]string{"operation"},
	)

	// BreakerState exposes circuit breaker state per operation
	// (0 = closed, 1 = open, 2 = half-open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncd_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"operation"},
	)

	// SessionsActive tracks sessions currently in a non-terminal state
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncd_sessions_active",
			Help: "Number of sessions currently pending or running",
		},
	)

	// SessionsTotal tracks finished sessions by terminal status
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_sessions_total",
			Help: "Total number of sessions by terminal status",
		},
		[]string{"sync_type", "status"},
	)
)
