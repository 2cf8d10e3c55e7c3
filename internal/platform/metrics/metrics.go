// Package metrics exposes Prometheus instruments for the processing pipeline.
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "orthoflow"

// Metrics holds the pipeline instruments.
type Metrics struct {
	tasksTotal       *prometheus.CounterVec
	taskErrorsTotal  *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	tasksInProgress  *prometheus.GaugeVec
	transferBytes    *prometheus.CounterVec
	chunksTotal      *prometheus.CounterVec
	uploadSizeBytes  prometheus.Histogram
	queueLength      prometheus.Gauge
	schedulerSkipped *prometheus.CounterVec
}

// New creates the instruments and registers them with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tasks_total",
			Help:      "Processed tasks by task type and outcome.",
		}, []string{"task_type", "status"}),
		taskErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "task_errors_total",
			Help:      "Failed tasks by task type and error kind.",
		}, []string{"task_type", "kind"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time spent processing a task.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"task_type"}),
		tasksInProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "tasks_in_progress",
			Help:      "Tasks currently being processed by this process.",
		}, []string{"task_type"}),
		transferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "transfer_bytes_total",
			Help:      "Bytes moved to or from the remote store.",
		}, []string{"direction"}),
		chunksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "upload_chunks_total",
			Help:      "Upload chunks accepted, by whether they completed the upload.",
		}, []string{"final"}),
		uploadSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "upload_size_bytes",
			Help:      "Size of completed uploads.",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 4, 8),
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "queue_length",
			Help:      "Tasks waiting in the queue at the last poll.",
		}),
		schedulerSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "scheduler_skipped_polls_total",
			Help:      "Polls that did not dispatch a task, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.tasksTotal,
		m.taskErrorsTotal,
		m.taskDuration,
		m.tasksInProgress,
		m.transferBytes,
		m.chunksTotal,
		m.uploadSizeBytes,
		m.queueLength,
		m.schedulerSkipped,
	)
	return m
}

// TaskStarted marks a task of the given type as running.
func (m *Metrics) TaskStarted(taskType string) {
	if m == nil {
		return
	}
	m.tasksInProgress.WithLabelValues(taskType).Inc()
}

// TaskSucceeded records a completed task.
func (m *Metrics) TaskSucceeded(taskType string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasksInProgress.WithLabelValues(taskType).Dec()
	m.tasksTotal.WithLabelValues(taskType, "success").Inc()
	m.taskDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
}

// TaskFailed records a failed task and the kind of its error.
func (m *Metrics) TaskFailed(taskType, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasksInProgress.WithLabelValues(taskType).Dec()
	m.tasksTotal.WithLabelValues(taskType, "error").Inc()
	m.taskErrorsTotal.WithLabelValues(taskType, kind).Inc()
	m.taskDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
}

// Transferred adds n bytes to the pull or push counter.
func (m *Metrics) Transferred(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.transferBytes.WithLabelValues(direction).Add(float64(n))
}

// ChunkAccepted counts an upload chunk.
func (m *Metrics) ChunkAccepted(final bool) {
	if m == nil {
		return
	}
	label := "false"
	if final {
		label = "true"
	}
	m.chunksTotal.WithLabelValues(label).Inc()
}

// UploadCompleted observes the size of a finalized upload.
func (m *Metrics) UploadCompleted(size int64) {
	if m == nil {
		return
	}
	m.uploadSizeBytes.Observe(float64(size))
}

// QueueLength sets the queue length gauge.
func (m *Metrics) QueueLength(n int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(n))
}

// PollSkipped counts a poll that ended without dispatching.
func (m *Metrics) PollSkipped(reason string) {
	if m == nil {
		return
	}
	m.schedulerSkipped.WithLabelValues(reason).Inc()
}
