package admission

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sentinelgate/gateway/internal/domain/analyzer"
	"github.com/sentinelgate/gateway/internal/domain/audit"
	"github.com/sentinelgate/gateway/internal/domain/blockrule"
	"github.com/sentinelgate/gateway/internal/domain/ratelimit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is a trivial in-memory ratelimit.Store for pipeline tests.
type fakeStore struct {
	counts map[string]int64
	denyAt int64
}

func (s *fakeStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s.counts == nil {
		s.counts = map[string]int64{}
	}
	s.counts[key]++
	return s.counts[key], window, nil
}

func (s *fakeStore) SetExpire(context.Context, string, time.Duration) error { return nil }

func (s *fakeStore) Peek(_ context.Context, key string) (int64, time.Duration, error) {
	if s.counts == nil {
		return 0, 0, nil
	}
	return s.counts[key], 0, nil
}

func (s *fakeStore) Reset(_ context.Context, key string) error {
	if s.counts != nil {
		delete(s.counts, key)
	}
	return nil
}

func allowAllLimiter() *ratelimit.Limiter {
	return ratelimit.New(&fakeStore{}, ratelimit.Config{}, ratelimit.Config{Limit: 1000, Window: time.Hour}, ratelimit.Config{})
}

func denyingLimiter() *ratelimit.Limiter {
	// Caller "c1" has already used the one request its tier admits per
	// window, so the next Check denies it.
	store := &fakeStore{counts: map[string]int64{ratelimit.FormatKey(ratelimit.TierCaller, "c1"): 1}}
	return ratelimit.New(store, ratelimit.Config{}, ratelimit.Config{Limit: 1, Window: time.Hour}, ratelimit.Config{})
}

type fakeAnalyzer struct {
	verdict analyzer.Verdict
	err     error
}

func (f *fakeAnalyzer) CheckContent(context.Context, string, string, map[string]string) (analyzer.Verdict, error) {
	return f.verdict, f.err
}
func (f *fakeAnalyzer) HealthCheck(context.Context) (analyzer.Health, error) { return analyzer.Health{Serving: true}, nil }
func (f *fakeAnalyzer) Close() error                                        { return nil }

var _ analyzer.Client = (*fakeAnalyzer)(nil)

func safeBody(t *testing.T) []byte {
	t.Helper()
	b, err := json.Marshal(ChatCompletionRequest{Model: "gpt-x", Messages: []Message{{Role: "user", Content: "hello"}}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestHandleSafeRequestReachesUpstreamUnimplemented(t *testing.T) {
	p := New(allowAllLimiter(), &fakeAnalyzer{verdict: analyzer.Verdict{IsSafe: true, Confidence: 0.99}}, nil, ContentBounds{}, testLogger())

	res, err := p.Handle(context.Background(), safeBody(t), RequestMeta{RequestID: "r1", CallerDigest: "c1"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Kind != ErrorKindUpstreamUnimplemented {
		t.Fatalf("Kind = %q, want %q", res.Kind, ErrorKindUpstreamUnimplemented)
	}
	if res.Status() != 501 {
		t.Fatalf("Status() = %d, want 501", res.Status())
	}
}

func TestHandleDeniesOnRateLimit(t *testing.T) {
	p := New(denyingLimiter(), &fakeAnalyzer{}, nil, ContentBounds{}, testLogger())

	res, err := p.Handle(context.Background(), safeBody(t), RequestMeta{RequestID: "r1", CallerDigest: "c1"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Kind != ErrorKindRateLimited {
		t.Fatalf("Kind = %q, want %q", res.Kind, ErrorKindRateLimited)
	}
	if res.Status() != 429 {
		t.Fatalf("Status() = %d, want 429", res.Status())
	}
	if !res.Patch.Blocked || res.Patch.BlockReason != audit.BlockReasonRateLimited {
		t.Fatalf("Patch = %+v, want blocked with rate_limited reason", res.Patch)
	}
}

func TestHandleRejectsEmptyMessages(t *testing.T) {
	p := New(allowAllLimiter(), &fakeAnalyzer{}, nil, ContentBounds{}, testLogger())

	body, _ := json.Marshal(ChatCompletionRequest{Model: "gpt-x"})
	res, err := p.Handle(context.Background(), body, RequestMeta{RequestID: "r1", CallerDigest: "c1"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Kind != ErrorKindInvalidInput {
		t.Fatalf("Kind = %q, want %q", res.Kind, ErrorKindInvalidInput)
	}
}

func TestHandleRejectsMalformedJSON(t *testing.T) {
	p := New(allowAllLimiter(), &fakeAnalyzer{}, nil, ContentBounds{}, testLogger())

	res, err := p.Handle(context.Background(), []byte("{not json"), RequestMeta{RequestID: "r1", CallerDigest: "c1"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Kind != ErrorKindInvalidInput {
		t.Fatalf("Kind = %q, want %q", res.Kind, ErrorKindInvalidInput)
	}
}

func TestHandleRejectsContentOutOfBounds(t *testing.T) {
	p := New(allowAllLimiter(), &fakeAnalyzer{}, nil, ContentBounds{MinContentLength: 1, MaxContentLength: 3}, testLogger())

	res, err := p.Handle(context.Background(), safeBody(t), RequestMeta{RequestID: "r1", CallerDigest: "c1"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Kind != ErrorKindInvalidInput {
		t.Fatalf("Kind = %q, want %q", res.Kind, ErrorKindInvalidInput)
	}
}

func TestHandleBlocksOnUnsafeVerdict(t *testing.T) {
	p := New(allowAllLimiter(), &fakeAnalyzer{verdict: analyzer.Verdict{
		IsSafe:       false,
		RedactedText: "My SSN is [REDACTED]",
		Confidence:   0.97,
		Issues:       []analyzer.Issue{{Kind: analyzer.IssueKindSSN, Confidence: 0.99}},
	}}, nil, ContentBounds{}, testLogger())

	res, err := p.Handle(context.Background(), safeBody(t), RequestMeta{RequestID: "r1", CallerDigest: "c1"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Kind != ErrorKindContentBlocked {
		t.Fatalf("Kind = %q, want %q", res.Kind, ErrorKindContentBlocked)
	}
	if res.Status() != 403 {
		t.Fatalf("Status() = %d, want 403", res.Status())
	}
	if len(res.Issues) != 1 {
		t.Fatalf("len(Issues) = %d, want 1", len(res.Issues))
	}
	if res.Patch.DetectedIssuesCount != 1 || res.Patch.BlockReason != audit.BlockReasonContentPolicy {
		t.Fatalf("Patch = %+v, unexpected", res.Patch)
	}
}

func TestHandleReturns503OnAnalyzerFailure(t *testing.T) {
	p := New(allowAllLimiter(), &fakeAnalyzer{err: errors.New("unavailable")}, nil, ContentBounds{}, testLogger())

	res, err := p.Handle(context.Background(), safeBody(t), RequestMeta{RequestID: "r1", CallerDigest: "c1"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Kind != ErrorKindAnalyzerUnreachable {
		t.Fatalf("Kind = %q, want %q", res.Kind, ErrorKindAnalyzerUnreachable)
	}
	if res.Status() != 503 {
		t.Fatalf("Status() = %d, want 503", res.Status())
	}
	if res.Patch.Blocked {
		t.Fatal("Patch.Blocked = true, want false (neither allow nor block was reached)")
	}
}

type stubProgram struct {
	matches bool
	err     error
}

func (s stubProgram) Evaluate(blockrule.Context) (bool, error) { return s.matches, s.err }

func TestHandleBlocksOnCustomRuleMatch(t *testing.T) {
	rules := []BlockRule{{Name: "deny-all", Program: stubProgram{matches: true}}}
	p := New(allowAllLimiter(), &fakeAnalyzer{verdict: analyzer.Verdict{IsSafe: true}}, rules, ContentBounds{}, testLogger())

	res, err := p.Handle(context.Background(), safeBody(t), RequestMeta{RequestID: "r1", CallerDigest: "c1"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Kind != ErrorKindContentBlocked {
		t.Fatalf("Kind = %q, want %q", res.Kind, ErrorKindContentBlocked)
	}
	if res.Patch.Metadata["matched_rule"] != "deny-all" {
		t.Fatalf("Patch.Metadata = %+v, want matched_rule=deny-all", res.Patch.Metadata)
	}
}

func TestHandleSkipsRuleOnEvaluationError(t *testing.T) {
	rules := []BlockRule{{Name: "broken", Program: stubProgram{err: errors.New("boom")}}}
	p := New(allowAllLimiter(), &fakeAnalyzer{verdict: analyzer.Verdict{IsSafe: true}}, rules, ContentBounds{}, testLogger())

	res, err := p.Handle(context.Background(), safeBody(t), RequestMeta{RequestID: "r1", CallerDigest: "c1"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Kind != ErrorKindUpstreamUnimplemented {
		t.Fatalf("Kind = %q, want %q (rule errors must not block traffic)", res.Kind, ErrorKindUpstreamUnimplemented)
	}
}
