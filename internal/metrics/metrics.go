// Package metrics exposes run progress as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"statecraft.ai/internal/sim/audit"
)

// Registry holds the run metrics on a private prometheus registry so several
// runners can coexist in one process.
type Registry struct {
	reg *prometheus.Registry

	Turns          *prometheus.CounterVec
	StepDuration   prometheus.Histogram
	FieldChanges   *prometheus.CounterVec
	TriggersFired  *prometheus.CounterVec
	Errors         *prometheus.CounterVec
	ActiveRuns     prometheus.Gauge
	SnapshotsTotal prometheus.Counter
	IndexDropped   prometheus.Gauge
	ObserverDrops  prometheus.Gauge
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statecraft_turns_total",
				Help: "Turns stepped, by scenario",
			},
			[]string{"scenario"},
		),

		StepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "statecraft_step_duration_seconds",
				Help:    "Wall time of one kernel Step",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),

		FieldChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statecraft_field_changes_total",
				Help: "Audited field changes, by reducer",
			},
			[]string{"reducer"},
		),

		TriggersFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statecraft_triggers_fired_total",
				Help: "Triggers fired, by trigger name",
			},
			[]string{"trigger"},
		),

		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statecraft_errors_total",
				Help: "Audit errors, by kind and source",
			},
			[]string{"kind", "source"},
		),

		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "statecraft_active_runs",
				Help: "Runs currently stepping",
			},
		),

		SnapshotsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "statecraft_snapshots_total",
				Help: "Snapshots written",
			},
		),

		IndexDropped: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "statecraft_index_dropped_rows",
				Help: "Index requests dropped because the writer fell behind",
			},
		),

		ObserverDrops: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "statecraft_observer_dropped_messages",
				Help: "Observer messages dropped for slow clients",
			},
		),
	}
	r.reg.MustRegister(
		r.Turns,
		r.StepDuration,
		r.FieldChanges,
		r.TriggersFired,
		r.Errors,
		r.ActiveRuns,
		r.SnapshotsTotal,
		r.IndexDropped,
		r.ObserverDrops,
		collectors.NewGoCollector(),
	)
	return r
}

// ObserveTurn records one completed Step. A nil registry is a no-op.
func (r *Registry) ObserveTurn(scenario string, took time.Duration, a audit.StepAudit) {
	if r == nil {
		return
	}
	r.Turns.WithLabelValues(scenario).Inc()
	r.StepDuration.Observe(took.Seconds())
	for _, fc := range a.FieldChanges {
		r.FieldChanges.WithLabelValues(fc.ReducerName).Inc()
	}
	for _, name := range a.TriggersFired {
		r.TriggersFired.WithLabelValues(name).Inc()
	}
	for _, e := range a.Errors {
		r.Errors.WithLabelValues(string(e.Kind), e.Source).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
