// Package metrics exposes Prometheus collectors for the HTTP layer, the
// generation provider and the session store.
package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poco",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "poco",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route"},
	)

	providerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poco",
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Generation provider calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	providerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "poco",
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Duration of generation provider calls.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
		[]string{"operation"},
	)

	sessionSource atomic.Value // func() int
)

func init() {
	liveSessions := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "poco",
			Subsystem: "sessions",
			Name:      "live",
			Help:      "Sessions currently held in memory.",
		},
		func() float64 {
			if fn, ok := sessionSource.Load().(func() int); ok {
				return float64(fn())
			}
			return 0
		},
	)
	Registry.MustRegister(httpRequests, httpDuration, providerCalls, providerDuration, liveSessions)
}

// SetSessionSource sets the function the live-session gauge reads.
func SetSessionSource(fn func() int) { sessionSource.Store(fn) }

// ObserveProviderCall records one provider request.
func ObserveProviderCall(operation string, ok bool, d time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	providerCalls.WithLabelValues(operation, outcome).Inc()
	providerDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware counts requests by chi route pattern so ids do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
