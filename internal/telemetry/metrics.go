package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/contentpipe/internal/executor"
	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
	"github.com/mohammad-safakhou/contentpipe/internal/review"
	"github.com/mohammad-safakhou/contentpipe/internal/workflow"
)

// Metrics holds the pipeline collectors and the registry they live on.
type Metrics struct {
	Registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	repairs       *prometheus.CounterVec
	corrections   *prometheus.CounterVec
	reviews       *prometheus.CounterVec
	runs          *prometheus.CounterVec
	retries       *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry together with the
// Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contentpipe_stage_duration_seconds",
			Help:    "Duration of stage invocations.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage", "outcome"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentpipe_repairs_total",
			Help: "Repair invocations by stage and heuristic.",
		}, []string{"stage", "heuristic"}),
		corrections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentpipe_validation_corrections_total",
			Help: "Fields replaced by their empty default.",
		}, []string{"key"}),
		reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentpipe_reviews_total",
			Help: "Review gate transitions by stage and status.",
		}, []string{"stage", "status"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentpipe_runs_total",
			Help: "Run passes by graph and resulting status.",
		}, []string{"graph", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentpipe_task_retries_total",
			Help: "Executor task retries by stage.",
		}, []string{"stage"}),
	}
	reg.MustRegister(
		m.stageDuration, m.repairs, m.corrections, m.reviews, m.runs, m.retries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Pipeline adapts the collectors to the orchestrator callbacks.
func (m *Metrics) Pipeline() pipeline.Metrics {
	return pipeline.Metrics{
		StageDuration: func(stage string, d time.Duration, err error) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			m.stageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
		},
		Repair: func(stage, heuristic string) {
			m.repairs.WithLabelValues(stage, heuristic).Inc()
		},
		Correction: func(key string) {
			m.corrections.WithLabelValues(key).Inc()
		},
		Review: func(stage, status string) {
			m.reviews.WithLabelValues(stage, status).Inc()
		},
	}
}

// Workflow adapts the collectors to the runner callbacks.
func (m *Metrics) Workflow() workflow.Metrics {
	return workflow.Metrics{
		Run: func(graph, status string) {
			m.runs.WithLabelValues(graph, status).Inc()
		},
		Executor: executor.Metrics{
			RetryCounter: func(_ context.Context, t executor.Task, _ int) {
				m.retries.WithLabelValues(t.Stage).Inc()
			},
		},
	}
}

// ReviewObserver counts gate transitions.
func (m *Metrics) ReviewObserver(stage string, status review.Status) {
	m.reviews.WithLabelValues(stage, string(status)).Inc()
}
