package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sentinelgate/gateway/internal/domain/audit"
	"github.com/sentinelgate/gateway/internal/domain/auth"
)

type fakeAuditStore struct {
	entries      []audit.Entry
	stats        audit.Stats
	erasedCount  int64
	sweptCount   int64
	queryErr     error
}

func (f *fakeAuditStore) InsertBatch(ctx context.Context, entries []audit.Entry) error {
	f.entries = append(f.entries, entries...)
	return nil
}

func (f *fakeAuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []audit.Entry
	for _, e := range f.entries {
		if filter.CallerDigest != "" && e.CallerDigest != filter.CallerDigest {
			continue
		}
		if filter.Decision != "" && e.Decision != filter.Decision {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeAuditStore) Stats(ctx context.Context, start, end time.Time) (audit.Stats, error) {
	return f.stats, nil
}

func (f *fakeAuditStore) EraseCaller(ctx context.Context, digest string) (int64, error) {
	return f.erasedCount, nil
}

func (f *fakeAuditStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return f.sweptCount, nil
}

func (f *fakeAuditStore) Close() error { return nil }

func testToken(t *testing.T) (raw, hash string) {
	t.Helper()
	raw = "operator-secret-token"
	hash, err := auth.HashTokenArgon2id(raw)
	if err != nil {
		t.Fatalf("HashTokenArgon2id: %v", err)
	}
	return raw, hash
}

func newTestAdminHandler(store *fakeAuditStore) *AdminAPIHandler {
	return NewAdminAPIHandler(store, WithAPILogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestQueryAuditRequiresBearerToken(t *testing.T) {
	_, hash := testToken(t)
	h := newTestAdminHandler(&fakeAuditStore{})
	routes := h.Routes(hash)

	req := httptest.NewRequest("GET", "/admin/audit-logs", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestQueryAuditWithValidTokenReturnsEntries(t *testing.T) {
	raw, hash := testToken(t)
	store := &fakeAuditStore{entries: []audit.Entry{
		{RequestID: "r1", CallerDigest: "abc", Decision: audit.DecisionAllow, ReceivedAt: time.Now()},
	}}
	h := newTestAdminHandler(store)
	routes := h.Routes(hash)

	req := httptest.NewRequest("GET", "/admin/audit-logs", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body auditQueryResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 {
		t.Fatalf("count = %d, want 1", body.Count)
	}
}

func TestQueryAuditRejectsWrongToken(t *testing.T) {
	_, hash := testToken(t)
	h := newTestAdminHandler(&fakeAuditStore{})
	routes := h.Routes(hash)

	req := httptest.NewRequest("GET", "/admin/audit-logs", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestEraseCallerReturnsDeletedCount(t *testing.T) {
	raw, hash := testToken(t)
	store := &fakeAuditStore{erasedCount: 3}
	h := newTestAdminHandler(store)
	routes := h.Routes(hash)

	req := httptest.NewRequest("DELETE", "/admin/audit-logs/client/abc123", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body eraseCallerResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.DeletedCount != 3 || body.ClientIPHash != "abc123" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestSweepExpiredReturnsDeletedCount(t *testing.T) {
	raw, hash := testToken(t)
	store := &fakeAuditStore{sweptCount: 7}
	h := newTestAdminHandler(store)
	routes := h.Routes(hash)

	req := httptest.NewRequest("POST", "/admin/audit-logs/cleanup", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body sweepResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.DeletedCount != 7 {
		t.Fatalf("deleted_count = %d, want 7", body.DeletedCount)
	}
}

func TestAuditStatsReturnsAggregates(t *testing.T) {
	raw, hash := testToken(t)
	store := &fakeAuditStore{stats: audit.Stats{TotalRequests: 10, Allowed: 8, Blocked: 2}}
	h := newTestAdminHandler(store)
	routes := h.Routes(hash)

	req := httptest.NewRequest("GET", "/admin/audit-stats", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body auditStatsResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TotalRequests != 10 {
		t.Fatalf("total_requests = %d, want 10", body.TotalRequests)
	}
}

func TestQueryAuditRejectsInvalidDecisionFilter(t *testing.T) {
	raw, hash := testToken(t)
	h := newTestAdminHandler(&fakeAuditStore{})
	routes := h.Routes(hash)

	req := httptest.NewRequest("GET", "/admin/audit-logs?decision=bogus", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != 400 {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestQueryAuditRejectsInvalidResponseStatusFilter(t *testing.T) {
	raw, hash := testToken(t)
	h := newTestAdminHandler(&fakeAuditStore{})
	routes := h.Routes(hash)

	req := httptest.NewRequest("GET", "/admin/audit-logs?response_status=999", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != 400 {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestAuditStatsIncludesCountsByStatus(t *testing.T) {
	raw, hash := testToken(t)
	store := &fakeAuditStore{stats: audit.Stats{
		TotalRequests:  10,
		Allowed:        8,
		Blocked:        2,
		CountsByStatus: map[int]int64{501: 8, 429: 2},
	}}
	h := newTestAdminHandler(store)
	routes := h.Routes(hash)

	req := httptest.NewRequest("GET", "/admin/audit-stats", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body auditStatsResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.CountsByStatus[501] != 8 || body.CountsByStatus[429] != 2 {
		t.Fatalf("counts_by_status = %+v, want {501:8, 429:2}", body.CountsByStatus)
	}
}
