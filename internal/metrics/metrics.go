// Package metrics exposes Prometheus collectors for weather fetches and for
// the HTTP server. Each Metrics owns a private registry so independent
// instances (tests, multiple servers) never collide.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cityweather"

// Fetch outcome labels.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics groups all collectors.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	fetches        *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	fetchesActive  prometheus.Gauge
	batches        prometheus.Counter
	batchDuration  prometheus.Histogram
	requests       *prometheus.CounterVec
	activeRequests prometheus.Gauge
}

// New registers every collector, plus the Go runtime and process collectors,
// on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Weather fetches by outcome and failure kind.",
		}, []string{"status", "kind"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Per-city fetch latency, including rate-limit wait.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"status"}),
		fetchesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetches_in_flight",
			Help:      "Fetches currently holding a rate-limit permit.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Completed fetch batches.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock duration of whole batches.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP requests served, by path and status code.",
		}, []string{"path", "code"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "HTTP requests currently being served.",
		}),
	}
	reg.MustRegister(
		m.fetches, m.fetchDuration, m.fetchesActive,
		m.batches, m.batchDuration,
		m.requests, m.activeRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// FetchStarted marks a fetch as holding a permit.
func (m *Metrics) FetchStarted() { m.fetchesActive.Inc() }

// FetchFinished records the outcome of one fetch. kind is empty on success.
func (m *Metrics) FetchFinished(status, kind string, d time.Duration) {
	m.fetchesActive.Dec()
	m.fetches.WithLabelValues(status, kind).Inc()
	m.fetchDuration.WithLabelValues(status).Observe(d.Seconds())
}

// BatchFinished records a completed batch.
func (m *Metrics) BatchFinished(d time.Duration) {
	m.batches.Inc()
	m.batchDuration.Observe(d.Seconds())
}

// IncrementActiveRequests increments the in-flight HTTP request gauge.
func (m *Metrics) IncrementActiveRequests() { m.activeRequests.Inc() }

// DecrementActiveRequests decrements the in-flight HTTP request gauge.
func (m *Metrics) DecrementActiveRequests() { m.activeRequests.Dec() }

// ObserveRequest counts a served HTTP request.
func (m *Metrics) ObserveRequest(path string, code int) {
	m.requests.WithLabelValues(path, strconv.Itoa(code)).Inc()
}

// WritePrometheus serves the metrics in the Prometheus text format.
func (m *Metrics) WritePrometheus(w http.ResponseWriter, r *http.Request) {
	m.handler.ServeHTTP(w, r)
}
