package http

import (
	"net/http"
	"strconv"
	"time"
)

// MetricsMiddleware wraps an HTTP handler to record firewall_requests_total,
// firewall_requests_by_status_total, and firewall_latency_seconds for every
// request except /metrics and /health.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			statusLabel := strconv.Itoa(wrapped.status)

			metrics.LatencySeconds.WithLabelValues(r.URL.Path, r.Method).Observe(duration)
			metrics.RequestsTotal.WithLabelValues(r.URL.Path, r.Method, statusLabel).Inc()
			metrics.RequestsByStatusTotal.WithLabelValues(statusLabel, r.URL.Path).Inc()
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code
// written, since metrics need it after the handler has already run.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
