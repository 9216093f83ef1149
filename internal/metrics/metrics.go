// Package metrics exposes gateway metrics in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector tracks request and cold-start metrics. It owns its registry so
// tests can create collectors without fighting over global state.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	coldStartsTotal    *prometheus.CounterVec
	coldStartDuration  *prometheus.HistogramVec
}

// NewCollector creates a collector with all metrics registered.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fngate_requests_total",
			Help: "Function requests by route, method and status code.",
		}, []string{"route", "method", "status"}),
		invocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fngate_invocation_duration_seconds",
			Help:    "Wall time of backend invocations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "runtime"}),
		coldStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fngate_cold_starts_total",
			Help: "Backend initializations by runtime and outcome.",
		}, []string{"runtime", "outcome"}),
		coldStartDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fngate_cold_start_duration_seconds",
			Help:    "Time spent initializing backend instances.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"runtime"}),
	}
	c.registry.MustRegister(
		c.requestsTotal,
		c.invocationDuration,
		c.coldStartsTotal,
		c.coldStartDuration,
	)
	return c
}

// RecordRequest records a completed HTTP request.
func (c *Collector) RecordRequest(route, method string, status int) {
	c.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// RecordInvocation records the duration of one backend invocation.
func (c *Collector) RecordInvocation(route, runtime string, d time.Duration) {
	c.invocationDuration.WithLabelValues(route, runtime).Observe(d.Seconds())
}

// RecordColdStart records one backend initialization attempt.
func (c *Collector) RecordColdStart(runtime string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.coldStartsTotal.WithLabelValues(runtime, outcome).Inc()
	if err == nil {
		c.coldStartDuration.WithLabelValues(runtime).Observe(d.Seconds())
	}
}

// Handler returns the /metrics HTTP handler for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
