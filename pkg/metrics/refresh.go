package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RefreshMetrics records refresh-worker run and queue observability data.
type RefreshMetrics struct {
	runDuration *prometheus.HistogramVec
	jobs        *prometheus.CounterVec
	queueDepth  *prometheus.GaugeVec
}

// NewRefreshMetrics registers the refresh metrics on the provided registerer.
func NewRefreshMetrics(reg prometheus.Registerer) *RefreshMetrics {
	if reg == nil {
		return &RefreshMetrics{}
	}
	runDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "refresh_run_duration_seconds",
		Help:    "Duration of refresh worker runs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"worker"})
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refresh_jobs_total",
		Help: "Processed refresh jobs by outcome.",
	}, []string{"outcome"})
	queueDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "refresh_queue_depth",
		Help: "Refresh queue depth by state.",
	}, []string{"state"})
	reg.MustRegister(runDuration, jobs, queueDepth)
	return &RefreshMetrics{
		runDuration: runDuration,
		jobs:        jobs,
		queueDepth:  queueDepth,
	}
}

// ObserveRunDuration records how long a worker run took.
func (m *RefreshMetrics) ObserveRunDuration(worker string, duration time.Duration) {
	if m == nil || m.runDuration == nil {
		return
	}
	m.runDuration.WithLabelValues(normalizeLabel(worker)).Observe(duration.Seconds())
}

// IncJob increments the processed counter for an outcome
// (succeeded, skipped or failed).
func (m *RefreshMetrics) IncJob(outcome string) {
	if m == nil || m.jobs == nil {
		return
	}
	m.jobs.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// SetQueueDepth publishes the current depth for a queue state.
func (m *RefreshMetrics) SetQueueDepth(state string, depth int64) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(state)).Set(float64(depth))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
