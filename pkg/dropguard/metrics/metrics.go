// Package metrics exposes pipeline counters for Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dropguard"

// Metrics holds the collectors for one pipeline.
type Metrics struct {
	registry *prometheus.Registry

	events     *prometheus.CounterVec
	outcomes   *prometheus.CounterVec
	detections *prometheus.CounterVec
	failures   *prometheus.CounterVec
	stability  *prometheus.HistogramVec
	inflight   prometheus.Gauge
	alerts     prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "File events received, by kind.",
		}, []string{"kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_outcomes_total",
			Help:      "Completed pipelines, by terminal result.",
		}, []string{"result"}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Sensitive files detected, by rule and policy mode.",
		}, []string{"rule", "mode"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Operational failures, by stage.",
		}, []string{"stage"}),
		stability: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stability_wait_seconds",
			Help:      "Time spent waiting for files to stop changing.",
			Buckets:   []float64{0.5, 1, 1.5, 2, 4, 8, 16},
		}, []string{"result"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipelines_in_flight",
			Help:      "Pipelines currently running.",
		}),
		alerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alerts_stored",
			Help:      "Alerts currently held in the alert store.",
		}),
	}

	m.registry.MustRegister(
		m.events, m.outcomes, m.detections, m.failures,
		m.stability, m.inflight, m.alerts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Event counts a raw event of the given kind.
func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// Outcome counts a finished pipeline.
func (m *Metrics) Outcome(result string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(result).Inc()
}

// Detection counts a rule match.
func (m *Metrics) Detection(rule, mode string) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(rule, mode).Inc()
}

// Failure counts an operational failure at stage.
func (m *Metrics) Failure(stage string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage).Inc()
}

// StabilityWait observes how long a stability wait took.
func (m *Metrics) StabilityWait(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.stability.WithLabelValues(result).Observe(d.Seconds())
}

// PipelineStarted and PipelineDone track in-flight pipelines.
func (m *Metrics) PipelineStarted() {
	if m != nil {
		m.inflight.Inc()
	}
}

func (m *Metrics) PipelineDone() {
	if m != nil {
		m.inflight.Dec()
	}
}

// AlertsStored sets the alert store size.
func (m *Metrics) AlertsStored(n int) {
	if m != nil {
		m.alerts.Set(float64(n))
	}
}
