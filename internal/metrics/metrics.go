// Package metrics exposes Prometheus instrumentation for the API and the
// indexing pipeline, plus a /metrics handler for scraping.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// MetricsNamespace is the namespace for all catalog API metrics.
	MetricsNamespace = "catalog"

	// MetricsSubsystem is the subsystem for API-facing metrics.
	MetricsSubsystem = "api"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Search metrics
	SearchesTotal  *prometheus.CounterVec
	SearchDuration *prometheus.HistogramVec

	// Task metrics
	TasksStarted *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all service metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}
	if reg == nil {
		registry := prometheus.NewRegistry()
		m.registry = registry
		reg = registry
	}

	factory := promauto.With(reg)

	m.initHTTPMetrics(factory)
	m.initSearchMetrics(factory)
	m.initTaskMetrics(factory)

	return m
}

// initHTTPMetrics initializes request-level metrics.
func (m *Metrics) initHTTPMetrics(factory promauto.Factory) {
	m.RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~41s
		},
		[]string{"method", "path"},
	)

	m.RequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being served",
		},
	)
}

// initSearchMetrics initializes search pipeline metrics.
func (m *Metrics) initSearchMetrics(factory promauto.Factory) {
	m.SearchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "searches_total",
			Help:      "Total number of search queries executed",
		},
		[]string{"media_type", "filtered"},
	)

	m.SearchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "search_duration_seconds",
			Help:      "Duration of search queries in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
		[]string{"media_type"},
	)
}

// initTaskMetrics initializes indexing task metrics.
func (m *Metrics) initTaskMetrics(factory promauto.Factory) {
	m.TasksStarted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "indexer",
			Name:      "tasks_started_total",
			Help:      "Total number of indexing tasks started",
		},
		[]string{"action", "model"},
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry != nil {
		return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// Middleware records request counts, durations, and in-flight gauge for
// every route. Unmatched routes are bucketed under their raw method to
// keep label cardinality bounded.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.RequestsInFlight.Inc()

		c.Next()

		m.RequestsInFlight.Dec()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		m.RequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
