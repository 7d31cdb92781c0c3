// Package metrics exposes Prometheus counters and histograms for the
// conversion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeBadRequest  = "bad_request"
	OutcomeFetchFailed = "fetch_failed"
	OutcomeFailed      = "conversion_failed"
)

// Cache lookup results.
const (
	CacheMirror = "mirror_hit"
	CacheDisk   = "disk_hit"
	CacheMiss   = "miss"
	CacheShared = "shared"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests   *prometheus.CounterVec
	cache      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	fetchBytes prometheus.Histogram
	inProgress prometheus.Gauge
}

// New creates and registers all collectors under namespace.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Conversion requests by outcome.",
		}, []string{"outcome"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_total",
			Help:      "Cache lookups by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Fetch plus convert time for cache misses.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"backend", "status"}),
		fetchBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_bytes",
			Help:      "Size of fetched source documents.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversions_in_progress",
			Help:      "Conversion pipelines currently running.",
		}),
	}

	m.registry.MustRegister(
		m.requests, m.cache, m.duration, m.fetchBytes, m.inProgress,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Request counts one finished request.
func (m *Metrics) Request(outcome string) {
	m.requests.WithLabelValues(outcome).Inc()
}

// Cache counts one cache lookup result.
func (m *Metrics) Cache(result string) {
	m.cache.WithLabelValues(result).Inc()
}

// FetchedBytes records the size of a downloaded document.
func (m *Metrics) FetchedBytes(n int64) {
	m.fetchBytes.Observe(float64(n))
}

// StartConversion marks a pipeline as running and returns a func that
// records its duration and status when called.
func (m *Metrics) StartConversion(backend string) func(err error) {
	start := time.Now()
	m.inProgress.Inc()
	return func(err error) {
		m.inProgress.Dec()
		status := "success"
		if err != nil {
			status = "error"
		}
		m.duration.WithLabelValues(backend, status).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
