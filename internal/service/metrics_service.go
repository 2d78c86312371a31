package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for both the gateway
// and the notifier processes.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	proxyForward    *prometheus.CounterVec
	proxyRetry      *prometheus.CounterVec
	rateLimit       *prometheus.CounterVec
	eventsTotal     *prometheus.CounterVec
	tasksTotal      *prometheus.CounterVec
	sweepsTotal     *prometheus.CounterVec
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

	proxyForward := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_proxy_forward_total",
		Help: "Forwarded requests by backend service and outcome",
	}, []string{"service", "outcome"})

	proxyRetry := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_proxy_retry_total",
		Help: "Retry attempts against unreachable backends",
	}, []string{"service"})

	rateLimit := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_ratelimit_decisions_total",
		Help: "Rate limiter decisions (allowed, blocked, failopen)",
	}, []string{"result"})

	eventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_events_total",
		Help: "Ingested events by type and result",
	}, []string{"type", "result"})

	tasksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_tasks_total",
		Help: "Notification task executions by channel and resulting status",
	}, []string{"channel", "status"})

	sweepsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_sweeps_total",
		Help: "Periodic sweep runs by job and result",
	}, []string{"job", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, proxyForward, proxyRetry, rateLimit, eventsTotal, tasksTotal, sweepsTotal, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		proxyForward:    proxyForward,
		proxyRetry:      proxyRetry,
		rateLimit:       rateLimit,
		eventsTotal:     eventsTotal,
		tasksTotal:      tasksTotal,
		sweepsTotal:     sweepsTotal,
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

// ObserveHTTPRequest records request timing and counts.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordProxyForward counts a completed forward by backend and outcome.
func (m *MetricsService) RecordProxyForward(service, outcome string) {
	if m == nil {
		return
	}
	m.proxyForward.WithLabelValues(service, outcome).Inc()
}

// RecordProxyRetry counts a retry attempt against a backend.
func (m *MetricsService) RecordProxyRetry(service string) {
	if m == nil {
		return
	}
	m.proxyRetry.WithLabelValues(service).Inc()
}

// RecordRateLimit counts a limiter decision. Fail-open passes get their own
// label so operators can alert when throttling is silently disabled.
func (m *MetricsService) RecordRateLimit(result string) {
	if m == nil {
		return
	}
	m.rateLimit.WithLabelValues(result).Inc()
}

// RecordEvent counts an ingested event by type and dispatch result.
func (m *MetricsService) RecordEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(eventType, result).Inc()
}

// RecordTask counts a task execution by channel and resulting status.
func (m *MetricsService) RecordTask(channel, status string) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(channel, status).Inc()
}

// RecordSweep counts a periodic sweep run.
func (m *MetricsService) RecordSweep(job, result string) {
	if m == nil {
		return
	}
	m.sweepsTotal.WithLabelValues(job, result).Inc()
}
