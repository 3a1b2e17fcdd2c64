package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/badge-platform-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the
// progression engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	awardsTotal     *prometheus.CounterVec
	decisionsTotal  *prometheus.CounterVec
	cascadeFailures prometheus.Counter
	pendingRequests prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	awardsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "badge_awards_total",
		Help: "Total awards granted, by tier and grant source",
	}, []string{"kind", "source"})

	decisionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "badge_request_decisions_total",
		Help: "Total request decisions, by outcome",
	}, []string{"status"})

	cascadeFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "badge_cascade_failures_total",
		Help: "Total progression cascades that failed after a committed award",
	})

	pendingRequests := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "badge_requests_pending",
		Help: "Current size of the review queue",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, awardsTotal, decisionsTotal, cascadeFailures, pendingRequests, cacheHits, cacheMisses, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		awardsTotal:     awardsTotal,
		decisionsTotal:  decisionsTotal,
		cascadeFailures: cascadeFailures,
		pendingRequests: pendingRequests,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveAward counts a granted award by tier and grant source.
func (m *MetricsService) ObserveAward(kind models.AwardKind, automatic bool) {
	if m == nil {
		return
	}
	source := "manual"
	if automatic {
		source = "automatic"
	}
	m.awardsTotal.WithLabelValues(string(kind), source).Inc()
}

// ObserveRequestDecision counts a request decision by outcome.
func (m *MetricsService) ObserveRequestDecision(status models.RequestStatus) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(string(status)).Inc()
}

// ObserveCascadeFailure counts a failed progression cascade.
func (m *MetricsService) ObserveCascadeFailure() {
	if m == nil {
		return
	}
	m.cascadeFailures.Inc()
}

// SetPendingRequests updates the review queue gauge.
func (m *MetricsService) SetPendingRequests(count int) {
	if m == nil {
		return
	}
	m.pendingRequests.Set(float64(count))
}

// RecordCacheOperation counts cache hit and miss lookups.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}
