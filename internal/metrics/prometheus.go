package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "analysisdb"

// Metrics holds all Prometheus metrics for the analysis database. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Change application metrics
	ChangesAppliedTotal  prometheus.Counter
	ChangesRejectedTotal *prometheus.CounterVec
	ChangeApplyDuration  prometheus.Histogram
	ChangeFilesChanged   prometheus.Histogram
	RootsReplacedTotal   prometheus.Counter
	CrateGraphsInstalled prometheus.Counter
	CancellationsTotal   prometheus.Counter
	CurrentRevision      prometheus.Gauge

	// Garbage collection metrics
	GCChecksTotal        *prometheus.CounterVec
	GCRunsTotal          prometheus.Counter
	GCRunDuration        prometheus.Histogram
	GCReclaimedBytes     *prometheus.CounterVec
	GCLastRunTimestamp   prometheus.Gauge
	GCQueueRejectedTotal prometheus.Counter

	// Memory metrics
	EngineAllocatedBytes prometheus.Gauge
	ProfileRunsTotal     prometheus.Counter
	QueryMemoryBytes     *prometheus.GaugeVec

	// System metrics
	MemoryUsageBytes prometheus.Gauge
	GoroutinesTotal  prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// registers with the default registry.
func NewMetrics(nodeID string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		ChangesAppliedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "change",
			Name:        "applied_total",
			Help:        "Total number of change batches applied",
			ConstLabels: labels,
		}),
		ChangesRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "change",
			Name:        "rejected_total",
			Help:        "Total number of change batches rejected, by error code",
			ConstLabels: labels,
		}, []string{"code"}),
		ChangeApplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "change",
			Name:        "apply_duration_seconds",
			Help:        "Histogram of change application durations, including waiting for readers",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		ChangeFilesChanged: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "change",
			Name:        "files_changed",
			Help:        "Histogram of files changed per batch",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 4, 8), // 1 to 16K files
		}),
		RootsReplacedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "change",
			Name:        "roots_replaced_total",
			Help:        "Total number of source root set replacements",
			ConstLabels: labels,
		}),
		CrateGraphsInstalled: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "change",
			Name:        "crate_graphs_installed_total",
			Help:        "Total number of crate graph replacements",
			ConstLabels: labels,
		}),
		CancellationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "change",
			Name:        "cancellations_total",
			Help:        "Total number of cancellation requests",
			ConstLabels: labels,
		}),
		CurrentRevision: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "change",
			Name:        "revision",
			Help:        "Current revision of the input store",
			ConstLabels: labels,
		}),

		GCChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "gc",
			Name:        "checks_total",
			Help:        "Total number of garbage collection checks, by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		GCRunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "gc",
			Name:        "runs_total",
			Help:        "Total number of garbage collection sweeps",
			ConstLabels: labels,
		}),
		GCRunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "gc",
			Name:        "run_duration_seconds",
			Help:        "Histogram of garbage collection sweep durations",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10), // 100us to 26s
		}),
		GCReclaimedBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "gc",
			Name:        "reclaimed_bytes_total",
			Help:        "Total bytes reclaimed by garbage collection, by memo table",
			ConstLabels: labels,
		}, []string{"table"}),
		GCLastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "gc",
			Name:        "last_run_timestamp_seconds",
			Help:        "Unix time of the last garbage collection sweep",
			ConstLabels: labels,
		}),
		GCQueueRejectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "gc",
			Name:        "queue_rejected_total",
			Help:        "Total number of asynchronous sweeps dropped because the queue was full",
			ConstLabels: labels,
		}),

		EngineAllocatedBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "memory",
			Name:        "engine_allocated_bytes",
			Help:        "Bytes held by the query engine",
			ConstLabels: labels,
		}),
		ProfileRunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "memory",
			Name:        "profile_runs_total",
			Help:        "Total number of per-query memory profiles taken",
			ConstLabels: labels,
		}),
		QueryMemoryBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "memory",
			Name:        "query_bytes",
			Help:        "Bytes attributed to a memo table by the last memory profile",
			ConstLabels: labels,
		}, []string{"query"}),

		MemoryUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "memory_usage_bytes",
			Help:        "Current heap usage in bytes",
			ConstLabels: labels,
		}),
		GoroutinesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "goroutines_total",
			Help:        "Current number of goroutines",
			ConstLabels: labels,
		}),
	}
}

// RecordChangeApplied records a successfully applied change batch
func (m *Metrics) RecordChangeApplied(duration float64, filesChanged int, rootsReplaced, crateGraph bool) {
	if m == nil {
		return
	}
	m.ChangesAppliedTotal.Inc()
	m.ChangeApplyDuration.Observe(duration)
	m.ChangeFilesChanged.Observe(float64(filesChanged))
	if rootsReplaced {
		m.RootsReplacedTotal.Inc()
	}
	if crateGraph {
		m.CrateGraphsInstalled.Inc()
	}
}

// RecordChangeRejected records a change batch that failed validation
func (m *Metrics) RecordChangeRejected(code string) {
	if m == nil {
		return
	}
	m.ChangesRejectedTotal.WithLabelValues(code).Inc()
}

// RecordCancellation records a cancellation request
func (m *Metrics) RecordCancellation() {
	if m == nil {
		return
	}
	m.CancellationsTotal.Inc()
}

// UpdateRevision records the current revision
func (m *Metrics) UpdateRevision(rev uint64) {
	if m == nil {
		return
	}
	m.CurrentRevision.Set(float64(rev))
}

// RecordGCCheck records the outcome of a garbage collection check:
// "swept", "queued", "cooldown" or "disabled"
func (m *Metrics) RecordGCCheck(outcome string) {
	if m == nil {
		return
	}
	m.GCChecksTotal.WithLabelValues(outcome).Inc()
}

// RecordGCRun records a finished garbage collection sweep
func (m *Metrics) RecordGCRun(duration float64, finishedAt float64) {
	if m == nil {
		return
	}
	m.GCRunsTotal.Inc()
	m.GCRunDuration.Observe(duration)
	m.GCLastRunTimestamp.Set(finishedAt)
}

// RecordGCReclaimed records bytes reclaimed from one memo table
func (m *Metrics) RecordGCReclaimed(table string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.GCReclaimedBytes.WithLabelValues(table).Add(float64(bytes))
}

// RecordGCQueueRejected records an asynchronous sweep dropped on a full queue
func (m *Metrics) RecordGCQueueRejected() {
	if m == nil {
		return
	}
	m.GCQueueRejectedTotal.Inc()
}

// UpdateEngineAllocated records the bytes held by the query engine
func (m *Metrics) UpdateEngineAllocated(bytes int64) {
	if m == nil {
		return
	}
	m.EngineAllocatedBytes.Set(float64(bytes))
}

// RecordProfile records a memory profile and its rows
func (m *Metrics) RecordProfile(rows map[string]int64) {
	if m == nil {
		return
	}
	m.ProfileRunsTotal.Inc()
	for label, bytes := range rows {
		m.QueryMemoryBytes.WithLabelValues(label).Set(float64(bytes))
	}
}

// UpdateSystemStats updates process-level statistics
func (m *Metrics) UpdateSystemStats(memoryUsage int64, goroutines int) {
	if m == nil {
		return
	}
	m.MemoryUsageBytes.Set(float64(memoryUsage))
	m.GoroutinesTotal.Set(float64(goroutines))
}
