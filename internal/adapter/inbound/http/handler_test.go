package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sentinelgate/gateway/internal/domain/admission"
	"github.com/sentinelgate/gateway/internal/domain/analyzer"
	"github.com/sentinelgate/gateway/internal/domain/audit"
	"github.com/sentinelgate/gateway/internal/domain/digest"
	"github.com/sentinelgate/gateway/internal/domain/ratelimit"
	"github.com/sentinelgate/gateway/internal/service/auditqueue"
)

func newTestHandler(t *testing.T, analyzerClient analyzer.Client) (*Handler, *recordingAuditStore) {
	t.Helper()
	store := &recordingAuditStore{}
	queue := auditqueue.NewAuditQueue(context.Background(), store, slog.New(slog.NewTextHandler(new(bytes.Buffer), nil)), auditqueue.WithSynchronous())

	limiter := ratelimit.New(&allowAllStore{}, ratelimit.Config{}, ratelimit.Config{}, ratelimit.Config{})
	pipeline := admission.New(limiter, analyzerClient, nil, admission.ContentBounds{}, slog.New(slog.NewTextHandler(new(bytes.Buffer), nil)))

	h := NewHandler(HandlerConfig{
		Pipeline:      pipeline,
		AuditQueue:    queue,
		CallerDigest:  digest.New("test-caller-salt"),
		KeyDigest:     digest.New("test-key-salt"),
		Models:        []string{"gpt-4", "claude-3"},
		RetentionDays: 30,
		Metrics:       NewMetrics(newTestRegistry(), func() float64 { return 0 }),
	})
	return h, store
}

type allowAllStore struct{}

func (a *allowAllStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	return 1, window, nil
}
func (a *allowAllStore) SetExpire(ctx context.Context, key string, window time.Duration) error {
	return nil
}
func (a *allowAllStore) Peek(ctx context.Context, key string) (int64, time.Duration, error) {
	return 0, 0, nil
}
func (a *allowAllStore) Reset(ctx context.Context, key string) error {
	return nil
}

type recordingAuditStore struct {
	entries []audit.Entry
}

func (r *recordingAuditStore) InsertBatch(ctx context.Context, entries []audit.Entry) error {
	r.entries = append(r.entries, entries...)
	return nil
}
func (r *recordingAuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	return nil, nil
}
func (r *recordingAuditStore) Stats(ctx context.Context, start, end time.Time) (audit.Stats, error) {
	return audit.Stats{}, nil
}
func (r *recordingAuditStore) EraseCaller(ctx context.Context, callerDigest string) (int64, error) {
	return 0, nil
}
func (r *recordingAuditStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
func (r *recordingAuditStore) Close() error { return nil }

func TestHandleChatCompletionsReturnsUpstreamUnimplementedOnSafeContent(t *testing.T) {
	h, store := newTestHandler(t, &stubAnalyzerClient{health: analyzer.Health{Serving: true}})

	reqBody := admission.ChatCompletionRequest{
		Model:    "gpt-4",
		Messages: []admission.Message{{Role: "user", Content: "hello there"}},
	}
	raw, _ := json.Marshal(reqBody)

	req := httptest.NewRequest("POST", "/v1/chat/completions", bytes.NewReader(raw))
	w := httptest.NewRecorder()

	h.Mux().ServeHTTP(w, req)

	if w.Code != 501 {
		t.Fatalf("status = %d, want 501", w.Code)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(store.entries))
	}
}

func TestHandleChatCompletionsRejectsMalformedBody(t *testing.T) {
	h, _ := newTestHandler(t, &stubAnalyzerClient{health: analyzer.Health{Serving: true}})

	req := httptest.NewRequest("POST", "/v1/chat/completions", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()

	h.Mux().ServeHTTP(w, req)

	if w.Code != 400 {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleModelsListsConfiguredModels(t *testing.T) {
	h, _ := newTestHandler(t, &stubAnalyzerClient{})

	req := httptest.NewRequest("GET", "/v1/models", nil)
	w := httptest.NewRecorder()

	h.Mux().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 2 {
		t.Fatalf("expected 2 models, got %d", len(body.Data))
	}
}

func TestHandleUnknownRouteReturns404(t *testing.T) {
	h, _ := newTestHandler(t, &stubAnalyzerClient{})

	req := httptest.NewRequest("GET", "/unknown", nil)
	w := httptest.NewRecorder()

	h.Mux().ServeHTTP(w, req)

	if w.Code != 404 {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
