// Package admin exposes the gateway's operator-only query, erasure, and
// retention surface over the audit trail, mounted under /admin/.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/sentinelgate/gateway/internal/domain/audit"
)

// AdminAPIHandler serves the four operator operations over auditStore:
// query, stats, erase-by-caller, and sweep.
type AdminAPIHandler struct {
	auditStore audit.Store
	logger     *slog.Logger
}

// AdminAPIOption configures an AdminAPIHandler.
type AdminAPIOption func(*AdminAPIHandler)

// WithAPILogger sets the handler's logger.
func WithAPILogger(l *slog.Logger) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.logger = l }
}

// NewAdminAPIHandler builds an AdminAPIHandler backed by auditStore.
func NewAdminAPIHandler(auditStore audit.Store, opts ...AdminAPIOption) *AdminAPIHandler {
	h := &AdminAPIHandler{
		auditStore: auditStore,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with every admin route registered, wrapped
// in AdminAuthMiddleware. tokenHash is the Argon2id (or legacy SHA-256) hash
// the bearer token is checked against.
func (h *AdminAPIHandler) Routes(tokenHash string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/audit-logs", h.handleQueryAudit)
	mux.HandleFunc("GET /admin/audit-stats", h.handleAuditStats)
	mux.HandleFunc("DELETE /admin/audit-logs/client/{fingerprint}", h.handleEraseCaller)
	mux.HandleFunc("POST /admin/audit-logs/cleanup", h.handleSweepExpired)

	return AdminAuthMiddleware(tokenHash, h.logger)(mux)
}

// respondJSON writes a JSON response with the given status code and data.
func (h *AdminAPIHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *AdminAPIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// pathParam extracts a named path parameter from the request URL.
func (h *AdminAPIHandler) pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

type auditStatsResponse struct {
	TotalRequests  int64                       `json:"total_requests"`
	Allowed        int64                       `json:"allowed"`
	Blocked        int64                       `json:"blocked"`
	ByBlockReason  map[audit.BlockReason]int64 `json:"by_block_reason"`
	CountsByStatus map[int]int64               `json:"counts_by_status"`
	UniqueCallers  int64                       `json:"unique_callers"`
	P50LatencyMs   int64                       `json:"p50_latency_ms"`
	P99LatencyMs   int64                       `json:"p99_latency_ms"`
}

func toStatsResponse(s audit.Stats) auditStatsResponse {
	return auditStatsResponse{
		TotalRequests:  s.TotalRequests,
		Allowed:        s.Allowed,
		Blocked:        s.Blocked,
		ByBlockReason:  s.ByBlockReason,
		CountsByStatus: s.CountsByStatus,
		UniqueCallers:  s.UniqueCallers,
		P50LatencyMs:   s.P50LatencyMs,
		P99LatencyMs:   s.P99LatencyMs,
	}
}

func (h *AdminAPIHandler) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseTimeRange(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.auditStore.Stats(r.Context(), start, end)
	if err != nil {
		h.logger.Error("audit stats failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "audit stats failed")
		return
	}

	h.respondJSON(w, http.StatusOK, toStatsResponse(stats))
}

func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)

	if s := q.Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = t
	}
	if e := q.Get("end"); e != "" {
		t, err := time.Parse(time.RFC3339, e)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = t
	}
	return start, end, nil
}
