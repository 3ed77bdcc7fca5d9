// Package metrics exposes controller observability data to Prometheus.
//
// A single Collector wraps a private prometheus.Registry (not the global
// default registry) so that multiple controller instances in the same
// test binary never collide on collector registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector wraps the prometheus collectors for a controller process.
type Collector struct {
	registry *prometheus.Registry

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec

	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec

	retriesTotal *prometheus.CounterVec

	circuitBreakerState      *prometheus.GaugeVec
	circuitBreakerTripsTotal *prometheus.CounterVec

	activeRequests prometheus.Gauge
	uptime         prometheus.GaugeFunc
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// New builds and registers a Collector under namespace. startedAt is used
// for the uptime gauge since the package may not own process start time.
func New(namespace string, startedAt time.Time) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	c := &Collector{
		registry: registry,

		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Total dispatch attempts by language_title and outcome",
			},
			[]string{"language_title", "status"},
		),

		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_milliseconds",
				Help:      "End-to-end dispatch duration in milliseconds",
				Buckets:   defaultBuckets,
			},
			[]string{"language_title", "from_cache"},
		),

		cacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_cache_hits_total",
				Help:      "Total artifact cache hits by tier",
			},
			[]string{"tier"},
		),

		cacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_cache_misses_total",
				Help:      "Total artifact cache misses that triggered a build",
			},
			[]string{"language_title"},
		),

		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runtime_client_retries_total",
				Help:      "Total retry attempts issued by the runtime client",
			},
			[]string{"language_title"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"endpoint"},
		),

		circuitBreakerTripsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total circuit breaker state transitions",
			},
			[]string{"endpoint", "to_state"},
		),

		activeRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_requests",
				Help:      "Number of dispatch requests currently in flight",
			},
		),
	}

	c.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the controller process started",
		},
		func() float64 {
			return time.Since(startedAt).Seconds()
		},
	)

	registry.MustRegister(
		c.dispatchTotal,
		c.dispatchDuration,
		c.cacheHitsTotal,
		c.cacheMissesTotal,
		c.retriesTotal,
		c.circuitBreakerState,
		c.circuitBreakerTripsTotal,
		c.activeRequests,
		c.uptime,
	)

	return c
}

// RecordDispatch records a completed dispatch attempt.
func (c *Collector) RecordDispatch(languageTitle, status string, durationMs int64, fromCache bool) {
	c.dispatchTotal.WithLabelValues(languageTitle, status).Inc()
	cacheLabel := "false"
	if fromCache {
		cacheLabel = "true"
	}
	c.dispatchDuration.WithLabelValues(languageTitle, cacheLabel).Observe(float64(durationMs))
}

// RecordCacheHit records an artifact cache hit at the given tier
// ("coordinator", "l1", "l2").
func (c *Collector) RecordCacheHit(tier string) {
	c.cacheHitsTotal.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records an artifact cache miss that required a build.
func (c *Collector) RecordCacheMiss(languageTitle string) {
	c.cacheMissesTotal.WithLabelValues(languageTitle).Inc()
}

// RecordRetry records a single retry attempt by the runtime client.
func (c *Collector) RecordRetry(languageTitle string) {
	c.retriesTotal.WithLabelValues(languageTitle).Inc()
}

// SetCircuitBreakerState sets the breaker state gauge: 0=closed, 1=open, 2=half_open.
func (c *Collector) SetCircuitBreakerState(endpoint string, state int) {
	c.circuitBreakerState.WithLabelValues(endpoint).Set(float64(state))
}

// RecordCircuitBreakerTrip records a breaker state transition.
func (c *Collector) RecordCircuitBreakerTrip(endpoint, toState string) {
	c.circuitBreakerTripsTotal.WithLabelValues(endpoint, toState).Inc()
}

// IncActiveRequests increments the in-flight request gauge.
func (c *Collector) IncActiveRequests() {
	c.activeRequests.Inc()
}

// DecActiveRequests decrements the in-flight request gauge.
func (c *Collector) DecActiveRequests() {
	c.activeRequests.Dec()
}

// Handler returns an http.Handler for Prometheus scraping.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, for registering additional
// custom collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
