package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	feeOutcomes *prometheus.CounterVec
	feesCreated prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// RecordFinderFeeOutcome counts one finder fee calculation. An empty skip
// reason means fees were created.
func (m *Metrics) RecordFinderFeeOutcome(skipReason string, created int) {
	if m == nil {
		return
	}
	outcome := skipReason
	if outcome == "" {
		outcome = "created"
	}
	m.feeOutcomes.WithLabelValues(outcome).Inc()
	if created > 0 {
		m.feesCreated.Add(float64(created))
	}
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	feeOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_finder_fee_calculations_total",
		Help: "Finder fee calculations grouped by outcome (created or skip reason).",
	}, []string{"outcome"})
	feesCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_finder_fees_created_total",
		Help: "Finder fee records created.",
	})
	registerer.MustRegister(runs, failures, duration, feeOutcomes, feesCreated)
	return &Metrics{runs: runs, failures: failures, duration: duration, feeOutcomes: feeOutcomes, feesCreated: feesCreated}
}
