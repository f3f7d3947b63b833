// Package metrics exposes Prometheus metrics for the HTTP layer and the
// transfer engine on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinoosan/transfer/internal/ledger"
)

const namespace = "transfer"

// Collector implements transfer.Recorder and serves its own registry.
type Collector struct {
	registry            *prometheus.Registry
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	outcomes            *prometheus.CounterVec
	attempts            *prometheus.HistogramVec
	duration            *prometheus.HistogramVec
	conflicts           *prometheus.CounterVec
}

func New() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(registry)
	return &Collector{
		registry: registry,
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Engine results by operation kind and outcome",
		}, []string{"kind", "outcome"}),
		attempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempts",
			Help:      "Storage transactions needed per request",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}, []string{"kind"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "duration_seconds",
			Help:      "Engine processing time per request",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflicts_total",
			Help:      "Compare-and-swap conflicts that triggered a retry",
		}, []string{"kind"}),
	}
}

// ObserveOutcome records one finished Execute or Deposit call. Replays and
// static rejections report zero attempts and are not added to the histogram.
func (c *Collector) ObserveOutcome(kind ledger.EntryKind, outcome string, attempts int, seconds float64) {
	c.outcomes.WithLabelValues(string(kind), outcome).Inc()
	c.duration.WithLabelValues(string(kind)).Observe(seconds)
	if attempts > 0 {
		c.attempts.WithLabelValues(string(kind)).Observe(float64(attempts))
	}
}

func (c *Collector) ObserveConflict(kind ledger.EntryKind) {
	c.conflicts.WithLabelValues(string(kind)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Middleware counts requests and their latency by method and status.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)
		c.httpRequestsTotal.WithLabelValues(r.Method, code).Inc()
		c.httpRequestDuration.WithLabelValues(r.Method, code).Observe(time.Since(start).Seconds())
	})
}
