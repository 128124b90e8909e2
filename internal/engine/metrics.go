package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_mutations_total",
			Help: "Total number of single-task mutations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	versionConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_version_conflicts_total",
			Help: "Total number of optimistic-lock conflicts by operation",
		},
		[]string{"operation"},
	)

	auditWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "task_audit_write_failures_total",
			Help: "Audit log writes that failed after a committed mutation",
		},
	)

	bulkOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_operations_total",
			Help: "Total number of bulk operations by action",
		},
		[]string{"action"},
	)

	bulkTasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_tasks_processed_total",
			Help: "Tasks successfully processed by bulk operations",
		},
		[]string{"action"},
	)

	bulkChunkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bulk_chunk_duration_seconds",
			Help:    "Histogram of per-chunk transaction durations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	bulkOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bulk_operation_duration_seconds",
			Help:    "Histogram of whole bulk operation durations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)
)

const (
	outcomeSuccess  = "success"
	outcomeConflict = "conflict"
	outcomeError    = "error"
)
