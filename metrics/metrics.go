// Package metrics exposes Prometheus instrumentation for the decision
// path and the HTTP surface. A nil *Collector is valid and records
// nothing, so callers never branch on whether metrics are enabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Collector.
type Option func(*config)

type config struct {
	namespace string
	registry  prometheus.Registerer
}

// WithNamespace sets the metric namespace. Default: "limitforge".
func WithNamespace(ns string) Option {
	return func(c *config) { c.namespace = ns }
}

// WithRegistry registers the collectors on a custom registry instead
// of prometheus.DefaultRegisterer. Tests use this to stay isolated.
func WithRegistry(r prometheus.Registerer) Option {
	return func(c *config) { c.registry = r }
}

// Collector holds the service's metric families.
type Collector struct {
	requests    *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	storeErrors *prometheus.CounterVec
}

// NewCollector builds and registers the metric families.
func NewCollector(opts ...Option) *Collector {
	cfg := config{
		namespace: "limitforge",
		registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "requests_total",
			Help:      "HTTP requests by route and outcome.",
		}, []string{"route", "outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "decisions_total",
			Help:      "Rate limit decisions by algorithm and verdict.",
		}, []string{"algorithm", "decision"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.namespace,
			Name:      "decision_latency_seconds",
			Help:      "Time spent evaluating one decision against the counter store.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"algorithm"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "store_errors_total",
			Help:      "Counter store failures by algorithm.",
		}, []string{"algorithm"}),
	}

	cfg.registry.MustRegister(c.requests, c.decisions, c.latency, c.storeErrors)
	return c
}

// IncRequest counts one HTTP request.
func (c *Collector) IncRequest(route, outcome string) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(route, outcome).Inc()
}

// ObserveDecision records one completed evaluation.
func (c *Collector) ObserveDecision(algorithm string, allowed bool, elapsed time.Duration) {
	if c == nil {
		return
	}
	decision := "blocked"
	if allowed {
		decision = "allowed"
	}
	c.decisions.WithLabelValues(algorithm, decision).Inc()
	c.latency.WithLabelValues(algorithm).Observe(elapsed.Seconds())
}

// IncStoreError counts one counter-store failure.
func (c *Collector) IncStoreError(algorithm string) {
	if c == nil {
		return
	}
	c.storeErrors.WithLabelValues(algorithm).Inc()
}
