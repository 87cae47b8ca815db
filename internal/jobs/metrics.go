package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for pipeline runs and background jobs.
type Metrics struct {
	runs         *prometheus.CounterVec
	failures     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	rows         *prometheus.CounterVec
	qualityScore *prometheus.GaugeVec
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

// AddRows counts ingested rows for an entity kind by outcome
// (inserted, corrected, unchanged, rejected).
func (m *Metrics) AddRows(kind, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.rows.WithLabelValues(kind, outcome).Add(float64(count))
}

// SetQualityScore publishes the latest quality score of a table.
func (m *Metrics) SetQualityScore(table string, score float64) {
	if m == nil {
		return
	}
	m.qualityScore.WithLabelValues(table).Set(score)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medtrack_jobs_total",
		Help: "Total job and pipeline executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medtrack_jobs_failures_total",
		Help: "Total failures observed for jobs and pipeline runs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medtrack_job_duration_seconds",
		Help:    "Duration in seconds of job and pipeline executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medtrack_ingest_rows_total",
		Help: "Ingested rows grouped by entity kind and outcome.",
	}, []string{"kind", "outcome"})
	qualityScore := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "medtrack_quality_score",
		Help: "Latest data quality score per table, between 0 and 1.",
	}, []string{"table"})
	registerer.MustRegister(runs, failures, duration, rows, qualityScore)
	return &Metrics{runs: runs, failures: failures, duration: duration, rows: rows, qualityScore: qualityScore}
}
