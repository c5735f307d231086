// Package metrics exposes Prometheus counters for the conversion lifecycle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aliskhannn/toolbox/internal/model"
)

const namespace = "toolbox"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	pending  *prometheus.GaugeVec
}

// New registers the collectors. withRuntime adds the Go and process collectors.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_events_total",
			Help:      "Lifecycle events of staged conversions.",
		}, []string{"kind", "type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Time spent producing artifacts, failed attempts included.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_conversions",
			Help:      "Records currently held by the per-kind store.",
		}, []string{"kind"}),
	}

	reg.MustRegister(m.events, m.duration, m.pending)
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return m
}

// Event counts a lifecycle event.
func (m *Metrics) Event(ev model.Event) {
	m.events.WithLabelValues(string(ev.Kind), string(ev.Type)).Inc()
}

// Conversion records how long producing an artifact took.
func (m *Metrics) Conversion(kind model.Kind, took time.Duration) {
	m.duration.WithLabelValues(string(kind)).Observe(took.Seconds())
}

// Pending sets the number of records held for kind.
func (m *Metrics) Pending(kind model.Kind, n int) {
	m.pending.WithLabelValues(string(kind)).Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
