package admin

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sentinelgate/gateway/internal/domain/audit"
)

// auditQueryResponse is the JSON response for GET /admin/audit-logs.
type auditQueryResponse struct {
	Entries []audit.Entry `json:"entries"`
	Count   int           `json:"count"`
}

func (h *AdminAPIHandler) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.auditStore.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("audit query failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "audit query failed")
		return
	}

	h.respondJSON(w, http.StatusOK, auditQueryResponse{Entries: entries, Count: len(entries)})
}

// eraseCallerResponse is the JSON response for DELETE /admin/audit-logs/client/:fingerprint.
type eraseCallerResponse struct {
	DeletedCount int64  `json:"deleted_count"`
	ClientIPHash string `json:"client_ip_hash"`
}

func (h *AdminAPIHandler) handleEraseCaller(w http.ResponseWriter, r *http.Request) {
	fingerprint := h.pathParam(r, "fingerprint")
	if fingerprint == "" {
		h.respondError(w, http.StatusBadRequest, "missing caller fingerprint")
		return
	}

	deleted, err := h.auditStore.EraseCaller(r.Context(), fingerprint)
	if err != nil {
		h.logger.Error("audit erasure failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "audit erasure failed")
		return
	}

	h.respondJSON(w, http.StatusOK, eraseCallerResponse{DeletedCount: deleted, ClientIPHash: fingerprint})
}

// sweepResponse is the JSON response for POST /admin/audit-logs/cleanup.
type sweepResponse struct {
	DeletedCount int64 `json:"deleted_count"`
}

func (h *AdminAPIHandler) handleSweepExpired(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.auditStore.SweepExpired(r.Context(), time.Now().UTC())
	if err != nil {
		h.logger.Error("audit sweep failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "audit sweep failed")
		return
	}

	h.respondJSON(w, http.StatusOK, sweepResponse{DeletedCount: deleted})
}

func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{}

	start, end, err := parseTimeRange(r)
	if err != nil {
		return filter, fmt.Errorf("invalid time range: %w", err)
	}
	filter.StartTime = start
	filter.EndTime = end

	if end.Sub(start) > audit.MaxQueryRange {
		return filter, fmt.Errorf("time range exceeds maximum of %s", audit.MaxQueryRange)
	}

	filter.CallerDigest = q.Get("caller_digest")

	if decision := q.Get("decision"); decision != "" {
		switch audit.Decision(decision) {
		case audit.DecisionAllow, audit.DecisionBlock:
			filter.Decision = audit.Decision(decision)
		default:
			return filter, fmt.Errorf("invalid decision filter: must be 'allow' or 'block'")
		}
	}

	if statusStr := q.Get("response_status"); statusStr != "" {
		status, err := strconv.Atoi(statusStr)
		if err != nil || !audit.IsValidStatus(status) {
			return filter, fmt.Errorf("invalid response_status: must be a valid HTTP status code")
		}
		filter.ResponseStatus = status
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("invalid limit: must be a positive integer")
		}
		if limit > audit.MaxQueryLimit {
			limit = audit.MaxQueryLimit
		}
		filter.Limit = limit
	}

	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("invalid offset: must be a non-negative integer")
		}
		filter.Offset = offset
	}

	return filter, nil
}
