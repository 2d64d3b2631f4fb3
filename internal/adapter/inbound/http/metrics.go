// Package http provides the HTTP transport adapter for the admission
// gateway: request routing, middleware, and the standard observability
// endpoints.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the gateway exposes on
// /metrics.
type Metrics struct {
	RequestsTotal         *prometheus.CounterVec
	RequestsByStatusTotal *prometheus.CounterVec
	BlockedTotal          *prometheus.CounterVec
	PIIDetectionsTotal    *prometheus.CounterVec
	PromptInjectionsTotal *prometheus.CounterVec
	RateLimitViolations   *prometheus.CounterVec
	LatencySeconds        *prometheus.HistogramVec
	AuditQueueSize        prometheus.GaugeFunc
}

// NewMetrics creates and registers every collector with reg.
// auditQueueSize is called lazily each time /metrics is scraped.
func NewMetrics(reg prometheus.Registerer, auditQueueSize func() float64) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "firewall_requests_total",
				Help: "Total number of inbound requests processed",
			},
			[]string{"path", "method", "status"},
		),
		RequestsByStatusTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "firewall_requests_by_status_total",
				Help: "Total requests grouped by HTTP status and path",
			},
			[]string{"status", "path"},
		),
		BlockedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "firewall_blocked_total",
				Help: "Total requests blocked, by reason",
			},
			[]string{"reason", "path"},
		),
		PIIDetectionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "firewall_pii_detections_total",
				Help: "Total PII findings returned by the analyzer, by type",
			},
			[]string{"type"},
		),
		PromptInjectionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "firewall_prompt_injections_total",
				Help: "Total prompt-injection findings returned by the analyzer, by category",
			},
			[]string{"category"},
		),
		RateLimitViolations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "firewall_rate_limit_violations_total",
				Help: "Total rate-limit denials, by tier",
			},
			[]string{"type"},
		),
		LatencySeconds: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "firewall_latency_seconds",
				Help:    "Admission pipeline latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
		AuditQueueSize: promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "firewall_audit_queue_size",
				Help: "Current depth of the async audit queue",
			},
			auditQueueSize,
		),
	}
}

// RecordIssues increments PIIDetectionsTotal / PromptInjectionsTotal for
// each analyzer issue kind found, splitting prompt-injection-family kinds
// into the injection counter and everything else into the PII counter.
func (m *Metrics) RecordIssues(kinds []string) {
	for _, kind := range kinds {
		switch kind {
		case "PROMPT_INJECTION", "JAILBREAK":
			m.PromptInjectionsTotal.WithLabelValues(kind).Inc()
		default:
			m.PIIDetectionsTotal.WithLabelValues(kind).Inc()
		}
	}
}
