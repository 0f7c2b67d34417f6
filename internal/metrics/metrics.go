// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "npcrelay"

// Metrics holds the relay's collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	turns       *prometheus.CounterVec
	summaries   prometheus.Counter
	clears      *prometheus.CounterVec
	completions *prometheus.HistogramVec
	requests    *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by starting state and outcome.",
		}, []string{"state", "outcome"}),
		summaries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Responses condensed because they exceeded the summary threshold.",
		}),
		clears: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clears_total",
			Help:      "Conversation memory clear requests by status.",
		}, []string{"status"}),
		completions: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Latency of completion backend calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation", "outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}

	m.registry.MustRegister(
		m.turns,
		m.summaries,
		m.clears,
		m.completions,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTurn counts a finished turn.
func (m *Metrics) ObserveTurn(state, outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(state, outcome).Inc()
}

// ObserveSummary counts a condensed response.
func (m *Metrics) ObserveSummary() {
	if m == nil {
		return
	}
	m.summaries.Inc()
}

// ObserveClear counts a clear request.
func (m *Metrics) ObserveClear(status string) {
	if m == nil {
		return
	}
	m.clears.WithLabelValues(status).Inc()
}

// ObserveCompletion records the latency of a backend call.
func (m *Metrics) ObserveCompletion(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

// ObserveRequest counts an HTTP response.
func (m *Metrics) ObserveRequest(route string, code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
