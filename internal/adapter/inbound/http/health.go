package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sentinelgate/gateway/internal/domain/analyzer"
	"github.com/sentinelgate/gateway/internal/domain/audit"
	"github.com/sentinelgate/gateway/internal/domain/ratelimit"
)

// healthProbeTimeout bounds each /ready dependency probe so a single
// stalled dependency cannot hang the readiness check indefinitely.
const healthProbeTimeout = 2 * time.Second

// readyHealthCheckKey is the rate-limit counter key used purely to probe
// store reachability; its TTL is always the probe window, so it never
// competes with real traffic counters.
const readyHealthCheckKey = "__ready_probe__"

// HealthChecker serves /health (liveness) and /ready (readiness).
type HealthChecker struct {
	service      string
	version      string
	startedAt    time.Time
	analyzer     analyzer.Client
	auditStore   audit.Store
	limiterStore ratelimit.Store
}

// NewHealthChecker builds a HealthChecker. Any dependency may be nil in a
// degraded-mode deployment, in which case /ready reports it unhealthy
// rather than panicking.
func NewHealthChecker(service, version string, analyzerClient analyzer.Client, auditStore audit.Store, limiterStore ratelimit.Store) *HealthChecker {
	return &HealthChecker{
		service:      service,
		version:      version,
		startedAt:    time.Now(),
		analyzer:     analyzerClient,
		auditStore:   auditStore,
		limiterStore: limiterStore,
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	UptimeMs  int64  `json:"uptime_ms"`
}

// ServeHealth handles GET /health: a liveness check that never touches a
// dependency and is never audited or rate-limited, so it always returns
// 200 as long as the process is running.
func (h *HealthChecker) ServeHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:    "ok",
		Service:   h.service,
		Version:   h.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		UptimeMs:  time.Since(h.startedAt).Milliseconds(),
	})
}

type readyResponse struct {
	Status       string          `json:"status"`
	Dependencies map[string]bool `json:"dependencies"`
}

// ServeReady handles GET /ready: a readiness check that probes the
// analyzer, the audit store, and the rate-limit store, returning 200
// only if every dependency is reachable and 503 otherwise.
func (h *HealthChecker) ServeReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	deps := map[string]bool{
		"analyzer":  h.probeAnalyzer(ctx),
		"audit":     h.probeAuditStore(ctx),
		"ratelimit": h.probeLimiterStore(ctx),
	}

	allHealthy := true
	for _, ok := range deps {
		if !ok {
			allHealthy = false
			break
		}
	}

	status := http.StatusOK
	statusText := "ready"
	if !allHealthy {
		status = http.StatusServiceUnavailable
		statusText = "not_ready"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResponse{
		Status:       statusText,
		Dependencies: deps,
	})
}

func (h *HealthChecker) probeAnalyzer(ctx context.Context) bool {
	if h.analyzer == nil {
		return false
	}
	health, err := h.analyzer.HealthCheck(ctx)
	return err == nil && health.Serving
}

func (h *HealthChecker) probeAuditStore(ctx context.Context) bool {
	if h.auditStore == nil {
		return false
	}
	now := time.Now()
	_, err := h.auditStore.Stats(ctx, now.Add(-time.Minute), now)
	return err == nil
}

func (h *HealthChecker) probeLimiterStore(ctx context.Context) bool {
	if h.limiterStore == nil {
		return false
	}
	_, _, err := h.limiterStore.Incr(ctx, readyHealthCheckKey, healthProbeTimeout)
	return err == nil
}
