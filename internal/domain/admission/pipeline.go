package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-playground/validator/v10"

	"github.com/sentinelgate/gateway/internal/domain/analyzer"
	"github.com/sentinelgate/gateway/internal/domain/audit"
	"github.com/sentinelgate/gateway/internal/domain/blockrule"
	"github.com/sentinelgate/gateway/internal/domain/ratelimit"
)

const (
	redactedPreviewLength = 100
	verdictCacheTTL       = 30 * time.Second
	verdictCacheMaxSize   = 4096
)

// ContentBounds configures the body-validation content-length check.
type ContentBounds struct {
	MinContentLength int
	MaxContentLength int
}

// BlockRule pairs a compiled custom block-rule program with the name used
// when logging which rule fired.
type BlockRule struct {
	Name    string
	Program blockrule.Program
}

// Pipeline sequences a single request through rate-limiting, body
// validation, the analyzer call, and any custom block rules. It never
// forwards to an upstream LLM — that integration is out of scope here —
// so a request that clears every check still ends in
// ErrorKindUpstreamUnimplemented.
type Pipeline struct {
	limiter    *ratelimit.Limiter
	client     analyzer.Client
	blockRules []BlockRule
	bounds     ContentBounds
	validate   *validator.Validate
	logger     *slog.Logger

	cacheMu sync.Mutex
	cache   map[uint64]cachedVerdict
}

type cachedVerdict struct {
	verdict   analyzer.Verdict
	expiresAt time.Time
}

// New builds a Pipeline. blockRules may be nil or empty — the custom
// block-rule hook is optional.
func New(limiter *ratelimit.Limiter, client analyzer.Client, blockRules []BlockRule, bounds ContentBounds, logger *slog.Logger) *Pipeline {
	if bounds.MinContentLength <= 0 {
		bounds.MinContentLength = 1
	}
	if bounds.MaxContentLength <= 0 {
		bounds.MaxContentLength = 10240
	}
	return &Pipeline{
		limiter:    limiter,
		client:     client,
		blockRules: blockRules,
		bounds:     bounds,
		validate:   validator.New(),
		logger:     logger,
		cache:      make(map[uint64]cachedVerdict),
	}
}

// Handle runs meta/body through the full sequence and returns the
// decision. It never panics on bad input; malformed bodies are reported
// through Result.Kind, not as a Go error. A non-nil error return means an
// unexpected internal failure (ErrorKindInternal).
func (p *Pipeline) Handle(ctx context.Context, rawBody []byte, meta RequestMeta) (Result, error) {
	rl, blocked := p.checkRateLimit(ctx, meta)
	if blocked {
		return rl, nil
	}
	withHeaders := func(res Result) (Result, error) {
		res.RateLimitHeaders = rl.RateLimitHeaders
		return res, nil
	}

	req, res, invalid := p.validateBody(rawBody)
	if invalid {
		return withHeaders(res)
	}

	verdict, res, unreachable := p.checkContent(ctx, req, meta)
	if unreachable {
		return withHeaders(res)
	}
	if !verdict.IsSafe {
		return withHeaders(p.blockedResult(verdict))
	}

	if res, blocked := p.checkCustomRules(req, meta, verdict); blocked {
		return withHeaders(res)
	}

	return withHeaders(Result{
		Kind: ErrorKindUpstreamUnimplemented,
		Patch: Patch{
			Blocked:            false,
			DetectedIssuesCount: 0,
			SecurityConfidence:  verdict.Confidence,
			Model:               req.Model,
		},
	})
}

func (p *Pipeline) checkRateLimit(ctx context.Context, meta RequestMeta) (Result, bool) {
	keyID := ""
	if meta.HasKey {
		keyID = meta.KeyDigest
	}

	decision, err := p.limiter.Check(ctx, meta.CallerDigest, keyID)
	if err != nil {
		p.logger.Warn("admission: rate limit store error, failing open", "request_id", meta.RequestID, "error", err)
	}

	headers := map[string]string{}
	if decision.Limit > 0 {
		headers["X-RateLimit-Limit"] = fmt.Sprintf("%d", decision.Limit)
		headers["X-RateLimit-Remaining"] = fmt.Sprintf("%d", decision.Remaining)
		headers["X-RateLimit-Reset"] = fmt.Sprintf("%d", decision.Reset.Unix())
	}

	if !decision.Allowed {
		headers["Retry-After"] = fmt.Sprintf("%d", int(decision.RetryAfter.Seconds()))
		return Result{
			Kind:             ErrorKindRateLimited,
			RetryAfter:       decision.RetryAfter,
			RateLimitHeaders: headers,
			Patch:            Patch{Blocked: true, BlockReason: audit.BlockReasonRateLimited},
		}, true
	}

	return Result{RateLimitHeaders: headers}, false
}

func (p *Pipeline) validateBody(rawBody []byte) (ChatCompletionRequest, Result, bool) {
	var req ChatCompletionRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		return req, invalidInputResult(), true
	}
	if err := p.validate.Struct(req); err != nil {
		return req, invalidInputResult(), true
	}

	total := 0
	for _, m := range req.Messages {
		total += len(m.Content)
	}
	if total < p.bounds.MinContentLength || total > p.bounds.MaxContentLength {
		return req, invalidInputResult(), true
	}

	return req, Result{}, false
}

func invalidInputResult() Result {
	return Result{
		Kind:  ErrorKindInvalidInput,
		Patch: Patch{Blocked: true, BlockReason: audit.BlockReasonInvalidRequest},
	}
}

func (p *Pipeline) checkContent(ctx context.Context, req ChatCompletionRequest, meta RequestMeta) (analyzer.Verdict, Result, bool) {
	text := concatUserMessages(req.Messages)
	cacheKey := xxhash.Sum64String(text)

	if v, ok := p.lookupCache(cacheKey); ok {
		return v, Result{}, false
	}

	metadata := map[string]string{
		"client_ip":  meta.ClientIP,
		"user_agent": meta.UserAgent,
		"model":      req.Model,
	}

	verdict, err := p.client.CheckContent(ctx, text, meta.RequestID, metadata)
	if err != nil {
		p.logger.Error("admission: analyzer unreachable", "request_id", meta.RequestID, "error", err)
		return analyzer.Verdict{}, Result{
			Kind: ErrorKindAnalyzerUnreachable,
			Patch: Patch{
				Blocked: false,
			},
		}, true
	}

	p.storeCache(cacheKey, verdict)
	return verdict, Result{}, false
}

func (p *Pipeline) lookupCache(key uint64) (analyzer.Verdict, bool) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	entry, ok := p.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return analyzer.Verdict{}, false
	}
	return entry.verdict, true
}

func (p *Pipeline) storeCache(key uint64, v analyzer.Verdict) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	if len(p.cache) >= verdictCacheMaxSize {
		// Cheap bound: drop the whole cache rather than track LRU order —
		// the cache exists to absorb bursts of identical retries, not to
		// be a long-lived store.
		p.cache = make(map[uint64]cachedVerdict)
	}
	p.cache[key] = cachedVerdict{verdict: v, expiresAt: time.Now().Add(verdictCacheTTL)}
}

func concatUserMessages(messages []Message) string {
	var lines []string
	for _, m := range messages {
		if m.Role == "user" {
			lines = append(lines, m.Content)
		}
	}
	return strings.Join(lines, "\n")
}

func (p *Pipeline) blockedResult(verdict analyzer.Verdict) Result {
	issues := make([]Issue, len(verdict.Issues))
	for i, iss := range verdict.Issues {
		issues[i] = Issue{Type: string(iss.Kind), Confidence: iss.Confidence}
	}

	preview := verdict.RedactedText
	if len(preview) > redactedPreviewLength {
		preview = preview[:redactedPreviewLength]
	}

	return Result{
		Kind:            ErrorKindContentBlocked,
		Issues:          issues,
		RedactedPreview: preview,
		Patch: Patch{
			Blocked:             true,
			BlockReason:         audit.BlockReasonContentPolicy,
			DetectedIssuesCount: len(verdict.Issues),
			SecurityConfidence:  verdict.Confidence,
		},
	}
}

func (p *Pipeline) checkCustomRules(req ChatCompletionRequest, meta RequestMeta, verdict analyzer.Verdict) (Result, bool) {
	if len(p.blockRules) == 0 {
		return Result{}, false
	}

	kinds := make([]string, len(verdict.Issues))
	for i, iss := range verdict.Issues {
		kinds[i] = string(iss.Kind)
	}

	ruleCtx := blockrule.Context{
		CallerDigest: meta.CallerDigest,
		Model:        req.Model,
		IssueKinds:   kinds,
		Confidence:   verdict.Confidence,
	}

	for _, rule := range p.blockRules {
		matched, err := rule.Program.Evaluate(ruleCtx)
		if err != nil {
			p.logger.Warn("admission: custom block rule evaluation failed", "rule", rule.Name, "error", err)
			continue
		}
		if matched {
			p.logger.Info("admission: custom block rule matched", "rule", rule.Name, "request_id", meta.RequestID)
			return Result{
				Kind: ErrorKindContentBlocked,
				Patch: Patch{
					Blocked:             true,
					BlockReason:         audit.BlockReasonContentPolicy,
					DetectedIssuesCount: len(verdict.Issues),
					SecurityConfidence:  verdict.Confidence,
					Metadata:            map[string]string{"matched_rule": rule.Name},
				},
			}, true
		}
	}

	return Result{}, false
}
