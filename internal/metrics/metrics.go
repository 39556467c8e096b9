// Package metrics exposes Prometheus instrumentation for the authorization
// core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors the engine and service report into
type Metrics struct {
	decisionsTotal   *prometheus.CounterVec
	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter
	errorsTotal      *prometheus.CounterVec
	evalDuration     prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a Metrics instance on a private registry
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total number of authorization decisions by outcome",
			},
			[]string{"decision"},
		),
		cacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of evaluation cache hits",
			},
		),
		cacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of evaluation cache misses",
			},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by type",
			},
			[]string{"type"},
		),
		evalDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Latency of permission evaluations",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
		),
		registry: registry,
	}

	registry.MustRegister(m.decisionsTotal, m.cacheHitsTotal, m.cacheMissesTotal,
		m.errorsTotal, m.evalDuration)
	return m
}

// RecordDecision counts one decision by outcome
func (m *Metrics) RecordDecision(decision string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(decision).Inc()
}

// RecordCacheHit counts one evaluation cache hit
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHitsTotal.Inc()
}

// RecordCacheMiss counts one evaluation cache miss
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMissesTotal.Inc()
}

// RecordError counts one error by type
func (m *Metrics) RecordError(errType string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(errType).Inc()
}

// ObserveEvaluation records one evaluation latency in seconds
func (m *Metrics) ObserveEvaluation(seconds float64) {
	if m == nil {
		return
	}
	m.evalDuration.Observe(seconds)
}

// Handler returns the HTTP handler serving the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
