// Package jobmetrics holds the Prometheus collectors shared by the worker jobs.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes collectors for background job runs and reconcile findings.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	breaches    *prometheus.GaugeVec
	now         func() time.Time
}

var (
	fallbackOnce sync.Once
	fallback     *Metrics
)

// NewMetrics registers the job collectors on reg. A nil reg shares one
// instance on the process-wide default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg != nil {
		return register(reg)
	}
	fallbackOnce.Do(func() { fallback = register(prometheus.DefaultRegisterer) })
	return fallback
}

func register(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "budgetguard_jobs_total",
			Help: "Job runs by task type and outcome.",
		}, []string{"job", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "budgetguard_job_duration_seconds",
			Help:    "Wall time of a job run.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "budgetguard_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per task type.",
		}, []string{"job"}),
		breaches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "budgetguard_reconcile_open_breaches",
			Help: "Ceilings exceeded at the last reconcile scan, by kind.",
		}, []string{"kind"}),
		now: time.Now,
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess, m.breaches)
	return m
}

// Run times a single job execution.
type Run struct {
	m     *Metrics
	job   string
	start time.Time
}

// Track starts timing a run of job. Safe on a nil receiver.
func (m *Metrics) Track(job string) *Run {
	if m == nil {
		return &Run{job: job}
	}
	return &Run{m: m, job: job, start: m.now()}
}

// End records the outcome and passes err through.
func (r *Run) End(err error) error {
	if r == nil || r.m == nil {
		return err
	}
	end := r.m.now()
	r.m.duration.WithLabelValues(r.job).Observe(end.Sub(r.start).Seconds())
	if err != nil {
		r.m.runs.WithLabelValues(r.job, "failure").Inc()
		return err
	}
	r.m.runs.WithLabelValues(r.job, "success").Inc()
	r.m.lastSuccess.WithLabelValues(r.job).Set(float64(end.Unix()))
	return nil
}

// SetBreaches publishes how many ceilings of kind the latest scan found exceeded.
// Zero clears a previous alert.
func (m *Metrics) SetBreaches(kind string, count int) {
	if m == nil {
		return
	}
	m.breaches.WithLabelValues(kind).Set(float64(count))
}
