// Package metrics provides Prometheus metrics for the workspace controller.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Mirror loads
	loadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fruitsalade_workspace_loads_total",
			Help: "Total number of file list loads by result (applied, stale, failed)",
		},
		[]string{"result"},
	)

	loadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fruitsalade_workspace_load_duration_seconds",
			Help:    "Time from issuing a file list request to its response",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Mutations
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fruitsalade_workspace_mutations_total",
			Help: "Total number of workspace operations by kind and final status",
		},
		[]string{"kind", "status"},
	)

	duplicateUploadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fruitsalade_workspace_duplicate_uploads_total",
			Help: "Uploads accepted remotely but rejected locally as duplicates",
		},
	)

	bulkDeleteTargetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fruitsalade_workspace_bulk_delete_targets_total",
			Help: "Bulk delete targets by outcome (successful, failed, not_owned)",
		},
		[]string{"outcome"},
	)

	transferBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fruitsalade_workspace_transfer_bytes_total",
			Help: "Bytes moved to or from the remote store",
		},
		[]string{"direction"},
	)

	// State
	filesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fruitsalade_workspace_files",
			Help: "Number of records in the canonical list",
		},
	)

	selectedGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fruitsalade_workspace_selected",
			Help: "Number of selected records",
		},
	)

	// S3 backend
	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fruitsalade_workspace_s3_operations_total",
			Help: "Total number of S3 operations by type and status",
		},
		[]string{"operation", "status"},
	)

	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fruitsalade_workspace_s3_operation_duration_seconds",
			Help:    "S3 operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	contextSwitchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fruitsalade_workspace_context_switches_total",
			Help: "Number of times the active context changed",
		},
	)

	eventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fruitsalade_workspace_events_dropped_total",
			Help: "Notifications dropped because a subscriber was not keeping up",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordLoad records the outcome of a file list load.
func RecordLoad(result string, duration time.Duration) {
	loadsTotal.WithLabelValues(result).Inc()
	loadDuration.Observe(duration.Seconds())
}

// RecordMutation records a finished operation.
func RecordMutation(kind string, success bool) {
	status := "succeeded"
	if !success {
		status = "failed"
	}
	mutationsTotal.WithLabelValues(kind, status).Inc()
}

// RecordDuplicateUpload records a locally rejected duplicate upload.
func RecordDuplicateUpload() {
	duplicateUploadsTotal.Inc()
}

// RecordBulkDelete records the outcome buckets of one bulk delete.
func RecordBulkDelete(successful, failed, notOwned int) {
	bulkDeleteTargetsTotal.WithLabelValues("successful").Add(float64(successful))
	bulkDeleteTargetsTotal.WithLabelValues("failed").Add(float64(failed))
	bulkDeleteTargetsTotal.WithLabelValues("not_owned").Add(float64(notOwned))
}

// RecordUpload records uploaded bytes.
func RecordUpload(bytes int64) {
	if bytes > 0 {
		transferBytesTotal.WithLabelValues("up").Add(float64(bytes))
	}
}

// RecordDownload records downloaded bytes.
func RecordDownload(bytes int64) {
	if bytes > 0 {
		transferBytesTotal.WithLabelValues("down").Add(float64(bytes))
	}
}

// SetState updates the list and selection gauges.
func SetState(files, selected int) {
	filesGauge.Set(float64(files))
	selectedGauge.Set(float64(selected))
}

// RecordContextSwitch records a change of active context.
func RecordContextSwitch() {
	contextSwitchesTotal.Inc()
}

// RecordDroppedEvent records a notification a slow subscriber missed.
func RecordDroppedEvent(eventType string) {
	eventsDroppedTotal.WithLabelValues(eventType).Inc()
}

// RecordS3Operation records one call to the S3 API.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	s3OperationsTotal.WithLabelValues(operation, status).Inc()
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
