package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesProcessed tracks classification batches per stage and outcome.
	BatchesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_batches_processed_total",
			Help: "Total number of classification batches processed",
		},
		[]string{"stage", "outcome"},
	)

	// RecordsProcessed tracks classified records per stage and status.
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_records_processed_total",
			Help: "Total number of records classified",
		},
		[]string{"stage", "status"},
	)

	// ServiceCalls tracks external classification service calls.
	ServiceCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_service_calls_total",
			Help: "Total number of classification service calls",
		},
		[]string{"stage", "result"},
	)

	// ServiceLatency tracks classification service call latency.
	ServiceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classifier_service_latency_seconds",
			Help:    "Classification service call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// RetriesTotal tracks service retries per error class.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_retries_total",
			Help: "Total number of service call retries",
		},
		[]string{"class"},
	)

	// BackoffSeconds tracks time spent backing off per error class.
	BackoffSeconds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_backoff_seconds_total",
			Help: "Total seconds spent in retry backoff",
		},
		[]string{"class"},
	)

	// BatchBisections counts timeout-driven batch splits.
	BatchBisections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classifier_batch_bisections_total",
			Help: "Total number of batches bisected after timeouts",
		},
	)

	// BatchSize tracks the adaptive batch size per stage.
	BatchSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "classifier_batch_size",
			Help: "Current adaptive batch size",
		},
		[]string{"stage"},
	)

	// MigratedRecords counts records inserted by migration.
	MigratedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classifier_migrated_records_total",
			Help: "Total number of records inserted by migration",
		},
	)

	// DuplicateRecords counts duplicate rows skipped by migration.
	DuplicateRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classifier_duplicate_records_total",
			Help: "Total number of duplicate rows skipped by migration",
		},
	)

	// SweptRecords counts stuck claims reset by the sweeper.
	SweptRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_swept_records_total",
			Help: "Total number of stuck records swept back to pending",
		},
		[]string{"stage"},
	)
)
