// Package jobs runs the server's periodic background jobs and records
// their executions as Prometheus metrics.
package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricBackgroundJobsTotal      = "background_jobs_total"
	MetricBackgroundJobsDuration   = "background_jobs_duration_seconds"
	MetricBackgroundJobErrorsTotal = "background_job_errors_total"
	MetricBackgroundJobLastSuccess = "background_job_last_success_timestamp_seconds"
)

// Job types.
const (
	JobTypeIdempotencyCleanup = "idempotency_cleanup"
	JobTypeGraphAudit         = "graph_audit"
)

// Execution outcomes, the status label of MetricBackgroundJobsTotal.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics counts and times job executions. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	failures    *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
}

// NewMetrics creates unregistered job metrics; call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBackgroundJobsTotal,
			Help: "Background job executions by job type and status",
		}, []string{"job_type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricBackgroundJobsDuration,
			Help:    "Background job execution time in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"job_type"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBackgroundJobErrorsTotal,
			Help: "Failed background job executions by job type and error class",
		}, []string{"job_type", "error_type"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricBackgroundJobLastSuccess,
			Help: "Unix time of the last successful execution by job type",
		}, []string{"job_type"}),
	}
}

// Register registers all metrics with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.runs, m.duration, m.failures, m.lastSuccess}
}

// Observe records one execution of jobType that finished at end after
// running for took. A non-nil err counts as a failure classified by
// ErrorType.
func (m *Metrics) Observe(jobType string, took time.Duration, end time.Time, err error) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(jobType).Observe(took.Seconds())
	if err != nil {
		m.runs.WithLabelValues(jobType, StatusFailure).Inc()
		m.failures.WithLabelValues(jobType, ErrorType(err)).Inc()
		return
	}
	m.runs.WithLabelValues(jobType, StatusSuccess).Inc()
	m.lastSuccess.WithLabelValues(jobType).Set(float64(end.Unix()))
}
