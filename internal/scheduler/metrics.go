package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gosuda/cadence/internal/recurrence"
)

// Metrics holds the recurrence generation metrics.
type Metrics struct {
	runs             *prometheus.CounterVec
	templates        *prometheus.CounterVec
	instancesCreated prometheus.Counter
	runDuration      prometheus.Histogram
	lastRun          prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg, or with the
// default registry when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadence_generation_runs_total",
				Help: "Total number of recurrence generation runs",
			},
			[]string{"trigger", "result"},
		),
		templates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadence_generation_templates_total",
				Help: "Templates processed by generation runs",
			},
			[]string{"outcome"},
		),
		instancesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cadence_instances_created_total",
				Help: "Total number of recurrence instances materialized",
			},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cadence_generation_run_duration_seconds",
				Help:    "Duration of recurrence generation runs",
				Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cadence_generation_last_run_timestamp_seconds",
				Help: "Unix time of the last completed generation run",
			},
		),
	}

	reg.MustRegister(
		m.runs,
		m.templates,
		m.instancesCreated,
		m.runDuration,
		m.lastRun,
	)

	return m
}

// Observe records one generation run. report may be nil when the run failed
// before any template was processed.
func (m *Metrics) Observe(trigger string, report *recurrence.BatchReport, took time.Duration, err error) {
	if m == nil {
		return
	}

	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case report != nil && report.Failed > 0:
		result = "partial"
	}
	m.runs.WithLabelValues(trigger, result).Inc()
	m.runDuration.Observe(took.Seconds())
	m.lastRun.SetToCurrentTime()

	if report == nil {
		return
	}
	m.templates.WithLabelValues("failed").Add(float64(report.Failed))
	m.templates.WithLabelValues("skipped").Add(float64(report.Skipped))
	m.templates.WithLabelValues("generated").Add(float64(len(report.Outcomes) - report.Failed - report.Skipped))
	m.instancesCreated.Add(float64(report.Created))
}
