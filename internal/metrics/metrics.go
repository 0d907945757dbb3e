// Package metrics exposes relay counters for operators. Nothing recorded here
// carries session ids or message text.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Metrics holds the relay collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive      prometheus.Gauge
	sessionsTotal       prometheus.Counter
	sendFailures        prometheus.Counter
	routingDropped      *prometheus.CounterVec
	erasures            *prometheus.CounterVec
	erasureStepFailures *prometheus.CounterVec
}

// New registers the relay collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Anonymous sessions currently open.",
		}),
		sessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_total",
			Help: "Anonymous sessions opened since start.",
		}),
		sendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "send_failures_total",
			Help: "Client messages that could not be relayed.",
		}),
		routingDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "routing_dropped_total",
			Help: "Operator messages dropped because they could not be attributed to one session.",
		}, []string{"reason"}),
		erasures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "erasures_total",
			Help: "Session erasures by trigger.",
		}, []string{"trigger"}),
		erasureStepFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "erasure_step_failures_total",
			Help: "Erasure steps that failed and were skipped.",
		}, []string{"step"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

func (m *Metrics) RoutingDropped(reason string) {
	if m == nil {
		return
	}
	m.routingDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Erased(trigger string) {
	if m == nil {
		return
	}
	m.erasures.WithLabelValues(trigger).Inc()
}

func (m *Metrics) ErasureStepFailed(step string) {
	if m == nil {
		return
	}
	m.erasureStepFailures.WithLabelValues(step).Inc()
}
