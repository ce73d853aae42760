package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "country_stats"

var (
	once          sync.Once
	globalMetrics *Metrics
)

// Metrics holds all application collectors and the registry they live in
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	searches         *prometheus.CounterVec
	upstreamFetches  *prometheus.CounterVec
	upstreamDuration prometheus.Histogram
	liveSessions     prometheus.Gauge
	rateLimited      prometheus.Counter
}

// Search outcomes
const (
	OutcomeMatch = "match"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	once.Do(func() {
		globalMetrics = New()
	})
	return globalMetrics
}

// New builds a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Searches run, by outcome.",
		}, []string{"outcome"}),
		upstreamFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_fetches_total",
			Help:      "Dataset fetch attempts against the countries API, by outcome.",
		}, []string{"outcome"}),
		upstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_fetch_duration_seconds",
			Help:      "Time spent fetching and decoding the dataset.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Open live search websocket sessions.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the per-client limiter.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.searches,
		m.upstreamFetches,
		m.upstreamDuration,
		m.liveSessions,
		m.rateLimited,
	)

	return m
}

// Register adds an external collector, such as the dataset cache. Registering
// the same collector twice is not an error.
func (m *Metrics) Register(c prometheus.Collector) error {
	if err := m.registry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return err
	}
	return nil
}

func (m *Metrics) Unregister(c prometheus.Collector) bool {
	return m.registry.Unregister(c)
}

// RecordRequest records a served request
func (m *Metrics) RecordRequest(route string, code int, duration time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *Metrics) RecordSearch(outcome string) {
	m.searches.WithLabelValues(outcome).Inc()
}

// RecordFetch records one attempt against the upstream API
func (m *Metrics) RecordFetch(err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.upstreamFetches.WithLabelValues(outcome).Inc()
	m.upstreamDuration.Observe(duration.Seconds())
}

func (m *Metrics) LiveSessionOpened() { m.liveSessions.Inc() }
func (m *Metrics) LiveSessionClosed() { m.liveSessions.Dec() }
func (m *Metrics) RecordRateLimited() { m.rateLimited.Inc() }

// Handler provides an HTTP endpoint for metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
