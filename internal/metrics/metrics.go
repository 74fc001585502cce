// Package metrics exposes Prometheus metrics for the coaching flow.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the application collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	turns            *prometheus.CounterVec
	planGenerations  *prometheus.CounterVec
	delegateFailures *prometheus.CounterVec
	rateLimited      prometheus.Counter
	httpDuration     *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goalcoach",
			Name:      "conversation_turns_total",
			Help:      "User turns processed, by persona and resulting stage.",
		}, []string{"persona", "stage"}),
		planGenerations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goalcoach",
			Name:      "plan_generations_total",
			Help:      "Plans produced, by normalizer source.",
		}, []string{"source"}),
		delegateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goalcoach",
			Name:      "delegate_failures_total",
			Help:      "Delegate calls that failed and were absorbed, by operation.",
		}, []string{"op"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "goalcoach",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-user rate limiter.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "goalcoach",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern, method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.turns,
		m.planGenerations,
		m.delegateFailures,
		m.rateLimited,
		m.httpDuration,
	)
	return m
}

// Turn records a processed user turn.
func (m *Metrics) Turn(persona, stage string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(persona, stage).Inc()
}

// PlanGenerated records a plan produced through the given normalizer source.
func (m *Metrics) PlanGenerated(source string) {
	if m == nil {
		return
	}
	m.planGenerations.WithLabelValues(source).Inc()
}

// DelegateFailure records an absorbed delegate failure.
func (m *Metrics) DelegateFailure(op string) {
	if m == nil {
		return
	}
	m.delegateFailures.WithLabelValues(op).Inc()
}

// RateLimited records a rejected request.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware observes request latency labelled with the chi route pattern,
// so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpDuration.WithLabelValues(route, r.Method, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
