package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagoblin_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"job_type"},
	)

	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagoblin_jobs_processed_total",
			Help: "Total number of jobs processed",
		},
		[]string{"job_type", "status"},
	)

	JobsProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediagoblin_job_processing_duration_seconds",
			Help:    "Job processing duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"job_type", "stage"},
	)

	WorkerPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediagoblin_worker_pool_size",
			Help: "Configured number of workers",
		},
	)

	WorkerPoolActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediagoblin_worker_active_jobs",
			Help: "Number of jobs currently being processed",
		},
	)

	EntryTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagoblin_entry_transitions_total",
			Help: "Media entry state transitions",
		},
		[]string{"media_type", "to"},
	)

	ProcessingOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagoblin_processing_outcomes_total",
			Help: "Processing job outcomes by media type",
		},
		[]string{"media_type", "action", "outcome"},
	)

	ProcessingFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagoblin_processing_failures_total",
			Help: "Processing failures by classifier",
		},
		[]string{"media_type", "classifier"},
	)

	FanoutTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagoblin_fanout_tasks_total",
			Help: "Fan-out group member tasks by result",
		},
		[]string{"task", "status"},
	)

	FanoutGroupsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagoblin_fanout_groups_completed_total",
			Help: "Fan-out groups whose continuation ran",
		},
		[]string{"status"},
	)

	PushDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagoblin_push_deliveries_total",
			Help: "PuSH hub notifications by status",
		},
		[]string{"status"},
	)

	PushDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediagoblin_push_delivery_duration_seconds",
			Help:    "PuSH hub notification duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	CallbackDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagoblin_callback_deliveries_total",
			Help: "Status callback deliveries by observer and status",
		},
		[]string{"observer", "status"},
	)

	GCDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagoblin_gc_deleted_total",
			Help: "Entries and files removed by garbage collection",
		},
		[]string{"kind"},
	)

	ReconciledEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagoblin_reconciled_entries_total",
			Help: "Stale processing entries recovered by reconciliation",
		},
		[]string{"to"},
	)

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagoblin_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediagoblin_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	StorageBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagoblin_storage_bytes_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediagoblin_app_info",
			Help: "Application information",
		},
		[]string{"version", "environment", "service"},
	)

	AppUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediagoblin_up",
			Help: "Whether the service is up",
		},
	)
)

func RecordJobEnqueued(jobType string) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

func RecordJobProcessed(jobType, status string, durationSeconds float64) {
	JobsProcessedTotal.WithLabelValues(jobType, status).Inc()
	JobsProcessingDuration.WithLabelValues(jobType, "total").Observe(durationSeconds)
}

func RecordJobStage(jobType, stage string, durationSeconds float64) {
	JobsProcessingDuration.WithLabelValues(jobType, stage).Observe(durationSeconds)
}

func RecordTransition(mediaType, to string) {
	EntryTransitionsTotal.WithLabelValues(mediaType, to).Inc()
}

// RecordOutcome counts a finished processing job. classifier is only
// recorded for failures.
func RecordOutcome(mediaType, action, outcome, classifier string) {
	ProcessingOutcomesTotal.WithLabelValues(mediaType, action, outcome).Inc()
	if classifier != "" {
		ProcessingFailuresTotal.WithLabelValues(mediaType, classifier).Inc()
	}
}

func RecordFanoutTask(task string, ok bool) {
	FanoutTasksTotal.WithLabelValues(task, statusLabel(ok)).Inc()
}

func RecordFanoutGroup(ok bool) {
	FanoutGroupsCompletedTotal.WithLabelValues(statusLabel(ok)).Inc()
}

func RecordPushDelivery(status string, durationSeconds float64) {
	PushDeliveriesTotal.WithLabelValues(status).Inc()
	PushDeliveryDuration.Observe(durationSeconds)
}

func RecordCallbackDelivery(observer, status string) {
	CallbackDeliveriesTotal.WithLabelValues(observer, status).Inc()
}

func RecordGCDeleted(kind string, n int) {
	GCDeletedTotal.WithLabelValues(kind).Add(float64(n))
}

func RecordReconciled(to string) {
	ReconciledEntriesTotal.WithLabelValues(to).Inc()
}

func SetAppInfo(version, environment, service string) {
	AppInfo.WithLabelValues(version, environment, service).Set(1)
	AppUp.Set(1)
}

func SetWorkerPoolSize(size int) {
	WorkerPoolSize.Set(float64(size))
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
