// Package metrics provides performance tracking and observability for
// rolloutdb using Prometheus metrics.
//
// # Overview
//
// The metrics package provides:
//   - Prometheus-compatible metrics collection
//   - Pre-defined metrics for store, synchronizer and export operations
//   - Thread-safe metric recording
//   - Automatic metric registration
//
// # Basic Usage
//
//	// Record written records
//	metrics.RecordsWritten.WithLabelValues("insert_many", "success").Add(42)
//
//	// Track operation latency
//	timer := metrics.NewTimer("find_by_dataset")
//	defer timer.ObserveLatency()
//
// # Metric Types
//
// Counter: Monotonically increasing values (e.g., records written)
// Histogram: Distribution of values (e.g., operation latency)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsWritten tracks the total number of rollout records written.
	// Labels: operation (insert_one/insert_many), status (success/failure)
	//
	// Example:
	//	metrics.RecordsWritten.WithLabelValues("insert_many", "success").Add(1000)
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolloutdb_records_written_total",
			Help: "Total number of rollout records written",
		},
		[]string{"operation", "status"},
	)

	// RecordsRead tracks the total number of rollout records reconstructed
	// from storage rows.
	// Labels: operation (find_by_dataset/find_all/find_by_ids/find_by_natural_key)
	RecordsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolloutdb_records_read_total",
			Help: "Total number of rollout records read",
		},
		[]string{"operation"},
	)

	// RowsSkipped tracks rows dropped during tolerant reads because
	// reconstruction failed.
	RowsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rolloutdb_rows_skipped_total",
			Help: "Total number of rows skipped due to reconstruction failures",
		},
	)

	// RowsDeleted tracks rows removed by confirmed dataset deletions.
	RowsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rolloutdb_rows_deleted_total",
			Help: "Total number of rows deleted",
		},
	)

	// ColumnsAdded tracks columns added by the schema synchronizer and by
	// administrative column patches.
	// Labels: origin (sync/patch)
	ColumnsAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolloutdb_columns_added_total",
			Help: "Total number of columns added to the rollout table",
		},
		[]string{"origin"},
	)

	// OperationLatency tracks the distribution of store operation latencies
	// in seconds.
	// Labels: operation
	//
	// Example:
	//	start := time.Now()
	//	store.InsertMany(ctx, batch)
	//	metrics.OperationLatency.WithLabelValues("insert_many").
	//	    Observe(time.Since(start).Seconds())
	OperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "rolloutdb_operation_latency_seconds",
			Help: "Store operation latency in seconds",
			Buckets: []float64{
				0.0001, // 100μs - Index-only lookups
				0.001,  // 1ms - Single-row operations
				0.01,   // 10ms - Small batch writes
				0.1,    // 100ms - Large batch writes
				1,      // 1s - Full-table scans
				10,     // 10s - Bulk exports
			},
		},
		[]string{"operation"},
	)

	// ExportDuration tracks end-to-end columnar export durations in seconds.
	ExportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "rolloutdb_export_duration_seconds",
			Help: "Columnar export duration in seconds",
			Buckets: []float64{
				0.01, // 10ms
				0.1,  // 100ms
				1,    // 1s
				10,   // 10s
				60,   // 1m
			},
		},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or metrics.
//
// Example:
//
//	timer := metrics.NewTimer("snapshot")
//	tbl, err := store.Snapshot(ctx)
//	duration := timer.Stop()
//	logger.Info("snapshot built", zap.Duration("duration", duration))
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop stops the timer and returns the elapsed duration since creation.
// The timer can be stopped multiple times, each returning the total
// elapsed time since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ObserveLatency records the elapsed time in the OperationLatency histogram
// under the timer's name. Meant to be deferred at the top of an operation:
//
//	timer := metrics.NewTimer("insert_many")
//	defer timer.ObserveLatency()
func (t *Timer) ObserveLatency() {
	OperationLatency.WithLabelValues(t.name).Observe(t.Stop().Seconds())
}
