package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sentinelgate/gateway/internal/domain/analyzer"
	"github.com/sentinelgate/gateway/internal/domain/audit"
)

type stubAnalyzerClient struct {
	health        analyzer.Health
	err           error
	useVerdict    bool
	verdict       analyzer.Verdict
	verdictErr    error
}

func (s *stubAnalyzerClient) CheckContent(ctx context.Context, text, requestID string, metadata map[string]string) (analyzer.Verdict, error) {
	if s.verdictErr != nil {
		return analyzer.Verdict{}, s.verdictErr
	}
	if s.useVerdict {
		return s.verdict, nil
	}
	return analyzer.Verdict{IsSafe: true}, nil
}

func (s *stubAnalyzerClient) HealthCheck(ctx context.Context) (analyzer.Health, error) {
	return s.health, s.err
}

func (s *stubAnalyzerClient) Close() error { return nil }

type stubAuditStore struct {
	statsErr error
}

func (s *stubAuditStore) InsertBatch(ctx context.Context, entries []audit.Entry) error { return nil }
func (s *stubAuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	return nil, nil
}
func (s *stubAuditStore) Stats(ctx context.Context, start, end time.Time) (audit.Stats, error) {
	return audit.Stats{}, s.statsErr
}
func (s *stubAuditStore) EraseCaller(ctx context.Context, callerDigest string) (int64, error) {
	return 0, nil
}
func (s *stubAuditStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
func (s *stubAuditStore) Close() error { return nil }

type stubLimiterStore struct {
	incrErr error
}

func (s *stubLimiterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	return 1, window, s.incrErr
}
func (s *stubLimiterStore) SetExpire(ctx context.Context, key string, window time.Duration) error {
	return nil
}
func (s *stubLimiterStore) Peek(ctx context.Context, key string) (int64, time.Duration, error) {
	return 0, 0, nil
}
func (s *stubLimiterStore) Reset(ctx context.Context, key string) error {
	return nil
}

func TestServeHealthAlwaysReturns200(t *testing.T) {
	hc := NewHealthChecker("sentinelgate", "test", nil, nil, nil)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	hc.ServeHealth(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body healthResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Service != "sentinelgate" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestServeReadyHealthyWhenAllDepsReachable(t *testing.T) {
	hc := NewHealthChecker("sentinelgate", "test",
		&stubAnalyzerClient{health: analyzer.Health{Serving: true}},
		&stubAuditStore{},
		&stubLimiterStore{},
	)
	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	hc.ServeReady(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestServeReadyUnhealthyWhenAnalyzerNotServing(t *testing.T) {
	hc := NewHealthChecker("sentinelgate", "test",
		&stubAnalyzerClient{health: analyzer.Health{Serving: false}},
		&stubAuditStore{},
		&stubLimiterStore{},
	)
	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	hc.ServeReady(w, req)

	if w.Code != 503 {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var body readyResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Dependencies["analyzer"] {
		t.Fatalf("expected analyzer dependency to be unhealthy")
	}
}

func TestServeReadyUnhealthyWhenDependencyNil(t *testing.T) {
	hc := NewHealthChecker("sentinelgate", "test", nil, nil, nil)
	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	hc.ServeReady(w, req)

	if w.Code != 503 {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestServeReadyUnhealthyWhenAuditStoreErrors(t *testing.T) {
	hc := NewHealthChecker("sentinelgate", "test",
		&stubAnalyzerClient{health: analyzer.Health{Serving: true}},
		&stubAuditStore{statsErr: errFake},
		&stubLimiterStore{},
	)
	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	hc.ServeReady(w, req)

	if w.Code != 503 {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

var errFake = fakeErr("fake failure")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
