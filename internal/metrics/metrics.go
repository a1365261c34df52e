// Package metrics exposes Prometheus counters for the query cache, aggregations,
// report ingestion and scheduled jobs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lmstats"

// Metric label values for outcomes.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Metrics holds all application collectors.
type Metrics struct {
	cacheLookups *prometheus.CounterVec
	computations *prometheus.HistogramVec
	reports      *prometheus.CounterVec
	jobRuns      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Query cache lookups by operation and result (hit, miss, corrupt).",
		}, []string{"op", "result"}),
		computations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "computation_duration_seconds",
			Help:      "Duration of live aggregations against the store.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"op", "status"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Instance reports by outcome.",
		}, []string{"result"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and status.",
		}, []string{"job", "status"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.cacheLookups, m.computations, m.reports, m.jobRuns} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

// CacheLookup counts one query cache lookup.
func (m *Metrics) CacheLookup(op, result string) {
	m.cacheLookups.WithLabelValues(op, result).Inc()
}

// Computation observes one live aggregation.
func (m *Metrics) Computation(op string, took time.Duration, err error) {
	m.computations.WithLabelValues(op, status(err)).Observe(took.Seconds())
}

// Report counts one instance report outcome, e.g. "accepted" or "invalid".
func (m *Metrics) Report(result string) {
	m.reports.WithLabelValues(result).Inc()
}

// JobRun counts one run of a scheduled job.
func (m *Metrics) JobRun(job string, err error) {
	m.jobRuns.WithLabelValues(job, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return StatusFailed
	}
	return StatusSuccess
}
