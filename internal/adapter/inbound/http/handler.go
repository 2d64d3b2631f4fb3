package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sentinelgate/gateway/internal/domain/admission"
	"github.com/sentinelgate/gateway/internal/domain/audit"
	"github.com/sentinelgate/gateway/internal/domain/digest"
	"github.com/sentinelgate/gateway/internal/service/auditqueue"
)

// bodyReadSlack is added to the configured max content length when
// bounding the inbound body reader, per the concurrency model's "bounded
// by maxContentLength + 1024 bytes" rule.
const bodyReadSlack = 1024

// ErrorResponse is the uniform error body shape used for every non-2xx
// admission outcome, including unknown routes.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the classification, a human-readable message, and
// optional structured details (e.g. the analyzer's issue list).
type ErrorDetail struct {
	Type      string      `json:"type"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
	Details   interface{} `json:"details,omitempty"`
}

// Handler serves the gateway's admission-controlled HTTP surface.
type Handler struct {
	pipeline      *admission.Pipeline
	auditQueue    *auditqueue.Queue
	callerDigest  *digest.Digester
	keyDigest     *digest.Digester
	models        []string
	retentionDays int
	metrics       *Metrics
	maxBodyBytes  int64
}

// HandlerConfig bundles Handler's dependencies.
type HandlerConfig struct {
	Pipeline         *admission.Pipeline
	AuditQueue       *auditqueue.Queue
	CallerDigest     *digest.Digester
	KeyDigest        *digest.Digester
	Models           []string
	RetentionDays    int
	Metrics          *Metrics
	MaxContentLength int
}

// NewHandler builds a Handler from cfg.
func NewHandler(cfg HandlerConfig) *Handler {
	maxContent := cfg.MaxContentLength
	if maxContent <= 0 {
		maxContent = 10240
	}
	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Handler{
		pipeline:      cfg.Pipeline,
		auditQueue:    cfg.AuditQueue,
		callerDigest:  cfg.CallerDigest,
		keyDigest:     cfg.KeyDigest,
		models:        cfg.Models,
		retentionDays: retentionDays,
		metrics:       cfg.Metrics,
		maxBodyBytes:  int64(maxContent) + bodyReadSlack,
	}
}

// Mux builds the ServeMux for every route this Handler owns, excluding
// /health, /ready, and /metrics which the transport wires separately.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", h.handleModels)
	mux.HandleFunc("/", h.handleNotFound)
	return mux
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := RequestIDFromContext(r.Context())
	logger := LoggerFromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes+1))
	if err != nil {
		meta := h.buildRequestMeta(r, requestID, start)
		n := h.writeError(w, r, requestID, start, admission.ErrorKindInternal, "failed to read request body", nil)
		h.enqueueAudit(r.Context(), meta, admission.Result{Kind: admission.ErrorKindInternal}, n)
		return
	}
	if int64(len(body)) > h.maxBodyBytes {
		meta := h.buildRequestMeta(r, requestID, start)
		meta.RawBodyLen = len(body)
		n := h.writeError(w, r, requestID, start, admission.ErrorKindInvalidInput, "request body exceeds maximum content length", nil)
		h.enqueueAudit(r.Context(), meta, admission.Result{Kind: admission.ErrorKindInvalidInput, Patch: admission.Patch{Blocked: true}}, n)
		return
	}

	meta := h.buildRequestMeta(r, requestID, start)
	meta.RawBodyLen = len(body)

	res, err := h.pipeline.Handle(r.Context(), body, meta)
	if err != nil {
		logger.Error("admission pipeline error", "error", err)
		n := h.writeError(w, r, requestID, start, admission.ErrorKindInternal, "internal error", nil)
		h.enqueueAudit(r.Context(), meta, admission.Result{Kind: admission.ErrorKindInternal}, n)
		return
	}

	for k, v := range res.RateLimitHeaders {
		w.Header().Set(k, v)
	}

	var written int
	switch res.Kind {
	case admission.ErrorKindUpstreamUnimplemented:
		written = h.writeError(w, r, requestID, start, res.Kind, "upstream forwarding is not implemented", nil)
	case admission.ErrorKindContentBlocked:
		written = h.writeError(w, r, requestID, start, res.Kind, "content blocked by security policy", map[string]interface{}{
			"detected_issues":  res.Issues,
			"redacted_preview": res.RedactedPreview,
		})
	case admission.ErrorKindRateLimited:
		written = h.writeError(w, r, requestID, start, res.Kind, "rate limit exceeded", nil)
	case admission.ErrorKindInvalidInput:
		written = h.writeError(w, r, requestID, start, res.Kind, "invalid request", nil)
	case admission.ErrorKindAnalyzerUnreachable:
		written = h.writeError(w, r, requestID, start, res.Kind, "content analyzer unavailable", nil)
	default:
		written = h.writeError(w, r, requestID, start, admission.ErrorKindInternal, "unexpected admission outcome", nil)
	}

	if h.metrics != nil && res.Patch.Blocked {
		h.metrics.BlockedTotal.WithLabelValues(string(res.Patch.BlockReason), r.URL.Path).Inc()
	}
	if h.metrics != nil && res.Kind == admission.ErrorKindRateLimited {
		h.metrics.RateLimitViolations.WithLabelValues("caller").Inc()
	}

	h.enqueueAudit(r.Context(), meta, res, written)
}

func (h *Handler) buildRequestMeta(r *http.Request, requestID string, start time.Time) admission.RequestMeta {
	ip := ClientIPFromContext(r.Context())
	token, hasKey := APIKeyFromContext(r.Context())

	meta := admission.RequestMeta{
		RequestID:  requestID,
		StartedAt:  start,
		ClientIP:   ip,
		UserAgent:  r.UserAgent(),
		HasKey:     hasKey,
		RawBodyLen: int(r.ContentLength),
		Method:     r.Method,
		Path:       r.URL.Path,
	}
	meta.CallerDigest = h.callerDigest.Digest(ip)
	if hasKey {
		meta.KeyDigest = h.keyDigest.Digest(token)
	} else {
		meta.KeyDigest = digest.Absent
	}
	return meta
}

func (h *Handler) enqueueAudit(ctx context.Context, meta admission.RequestMeta, res admission.Result, responseBytes int) {
	if h.auditQueue == nil {
		return
	}

	decision := audit.DecisionAllow
	if res.Patch.Blocked {
		decision = audit.DecisionBlock
	}

	status := res.Status()

	uaFingerprint := digest.Absent
	if meta.UserAgent != "" {
		uaFingerprint = h.callerDigest.Digest(meta.UserAgent)
	}

	entry := audit.Entry{
		RequestID:            meta.RequestID,
		ReceivedAt:           meta.StartedAt,
		CallerDigest:         meta.CallerDigest,
		KeyDigest:            meta.KeyDigest,
		Model:                res.Patch.Model,
		Decision:             decision,
		BlockReason:          res.Patch.BlockReason,
		DetectedIssuesCount:  res.Patch.DetectedIssuesCount,
		ResponseStatus:       status,
		Method:               meta.Method,
		Path:                 meta.Path,
		UserAgentFingerprint: uaFingerprint,
		RequestBytes:         meta.RawBodyLen,
		ResponseBytes:        responseBytes,
		SecurityConfidence:   res.Patch.SecurityConfidence,
		Provider:             res.Patch.Provider,
		LatencyMillis:        time.Since(meta.StartedAt).Milliseconds(),
		RetentionUntil:       meta.StartedAt.AddDate(0, 0, h.retentionDays),
	}

	h.auditQueue.Enqueue(ctx, entry)
}

func (h *Handler) handleModels(w http.ResponseWriter, r *http.Request) {
	type model struct {
		ID string `json:"id"`
	}
	type response struct {
		Object string  `json:"object"`
		Data   []model `json:"data"`
	}

	resp := response{Object: "list"}
	for _, m := range h.models {
		resp.Data = append(resp.Data, model{ID: m})
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Response-Time", fmt.Sprintf("%dms", 0))
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	requestID := RequestIDFromContext(r.Context())
	h.writeError(w, r, requestID, time.Now(), admission.ErrorKind("not-found"), "route not found", nil)
}

// writeError writes the uniform error body and returns the number of bytes
// written, so callers can record ResponseBytes on the audit entry.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, requestID string, start time.Time, kind admission.ErrorKind, message string, details interface{}) int {
	status := kind.Status()
	if kind == "not-found" {
		status = http.StatusNotFound
	}

	body, err := json.Marshal(ErrorResponse{
		Error: ErrorDetail{
			Type:      string(kind),
			Message:   message,
			RequestID: requestID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Details:   details,
		},
	})
	if err != nil {
		body = []byte(`{"error":{"type":"internal","message":"failed to encode error response"}}`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Response-Time", fmt.Sprintf("%dms", time.Since(start).Milliseconds()))
	w.WriteHeader(status)
	n, _ := w.Write(body)
	return n
}
