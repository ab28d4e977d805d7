// Package metrics exposes Prometheus instrumentation for the identity
// service: HTTP request metrics plus counters for the security-relevant
// events the operations team alerts on.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "identity",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "identity",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "identity",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

var (
	// LoginAttemptsTotal counts login attempts by outcome
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "identity",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts by outcome",
		},
		[]string{"outcome"},
	)

	// LockoutsAppliedTotal counts lockouts by type and reason
	LockoutsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "identity",
			Subsystem: "auth",
			Name:      "lockouts_applied_total",
			Help:      "Total number of account lockouts applied by type and reason",
		},
		[]string{"type", "reason"},
	)

	// MfaVerificationsTotal counts MFA verifications by method and result
	MfaVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "identity",
			Subsystem: "mfa",
			Name:      "verifications_total",
			Help:      "Total number of MFA verifications by method and result",
		},
		[]string{"method", "result"},
	)

	// SessionEvictionsTotal counts sessions evicted by the concurrency cap
	SessionEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "identity",
			Subsystem: "sessions",
			Name:      "evictions_total",
			Help:      "Total number of sessions evicted to enforce the concurrent session cap",
		},
	)

	// RiskScores observes the risk score distribution of recorded attempts
	RiskScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "identity",
			Subsystem: "auth",
			Name:      "risk_score",
			Help:      "Risk score distribution of recorded login attempts",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
)

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware instruments HTTP requests. Paths are recorded by chi route
// pattern, not raw URL, to keep label cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Handler returns the /metrics endpoint handler
func Handler() http.Handler {
	return promhttp.Handler()
}
