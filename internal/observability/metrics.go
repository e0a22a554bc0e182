package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/odyssey-erp/budgetguard/internal/jobs"
)

// Metrics collects Prometheus metrics for the service.
type Metrics struct {
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	overspend       *prometheus.CounterVec
	rateFailures    *prometheus.CounterVec
	consumption     *prometheus.CounterVec
	jobs            *jobmetrics.Metrics
}

// NewMetrics builds a private registry carrying runtime, HTTP, domain and job collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(registry)
	m := &Metrics{
		handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "budgetguard_http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "budgetguard_http_request_duration_seconds",
			Help:    "HTTP latency by route pattern.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route"}),
		overspend: f.NewCounterVec(prometheus.CounterOpts{
			Name: "budgetguard_overspend_rejections_total",
			Help: "Ledger writes refused because execution would exceed the allocation.",
		}, []string{"operation"}),
		rateFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "budgetguard_rate_resolution_failures_total",
			Help: "Foreign amounts refused for want of an exchange rate.",
		}, []string{"currency"}),
		consumption: f.NewCounterVec(prometheus.CounterOpts{
			Name: "budgetguard_order_ceiling_rejections_total",
			Help: "Documents refused because they would breach the purchase order ceiling.",
		}, []string{"doc_type"}),
	}
	m.jobs = jobmetrics.NewMetrics(registry)
	return m
}

// Handler returns the http.Handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Jobs returns the background job metrics registered on the same registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// OverspendRejected counts a ledger write refused by the overspend guard.
func (m *Metrics) OverspendRejected(operation string) {
	if m == nil {
		return
	}
	m.overspend.WithLabelValues(operation).Inc()
}

// RateResolutionFailed counts a foreign amount that could not be converted.
func (m *Metrics) RateResolutionFailed(currency string) {
	if m == nil {
		return
	}
	m.rateFailures.WithLabelValues(currency).Inc()
}

// OrderCeilingRejected counts a document refused by the purchase order ceiling check.
func (m *Metrics) OrderCeilingRejected(docType string) {
	if m == nil {
		return
	}
	m.consumption.WithLabelValues(docType).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
