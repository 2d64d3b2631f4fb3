// Package analyzerrpc implements the analyzer.Client port over a real gRPC
// channel to the content analyzer service, using the hand-written wire
// structs and JSON codec in pkg/analyzerpb rather than protoc-generated
// stubs. Retry/reconnect follows the teacher's lifecycle-state, mutex-
// guarded reconnect style: a channel-down error tears down the connection
// and redials before the next retry, and only one reconnect may be
// in-flight at a time.
package analyzerrpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/sentinelgate/gateway/internal/domain/analyzer"
	"github.com/sentinelgate/gateway/pkg/analyzerpb"
)

const (
	defaultMaxRetries     = 3
	defaultCallTimeout    = 5 * time.Second
	maxMessageSize        = 4 << 20
	keepaliveTime         = 10 * time.Second
	keepaliveTimeout      = 5 * time.Second
	backoffBase           = time.Second
)

// Config controls dial target and reliability knobs.
type Config struct {
	Addr        string
	MaxRetries  int
	CallTimeout time.Duration
}

// Client implements analyzer.Client over gRPC.
type Client struct {
	addr        string
	maxRetries  int
	callTimeout time.Duration
	logger      *slog.Logger

	mu         sync.Mutex
	conn       *grpc.ClientConn
	reconnecting bool
}

var _ analyzer.Client = (*Client)(nil)

// Dial establishes the initial channel and returns a ready Client.
func Dial(cfg Config, logger *slog.Logger) (*Client, error) {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	c := &Client{
		addr:        cfg.Addr,
		maxRetries:  maxRetries,
		callTimeout: callTimeout,
		logger:      logger,
	}

	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (c *Client) dial() (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(c.addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    keepaliveTime,
			Timeout: keepaliveTimeout,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
			grpc.ForceCodec(analyzerpb.Codec()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("analyzerrpc: dial %s: %w", c.addr, err)
	}
	return conn, nil
}

func (c *Client) currentConn() *grpc.ClientConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// reconnect tears down the current channel and redials, ensuring only one
// reconnect attempt is ever in flight.
func (c *Client) reconnect() error {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return nil
	}
	c.reconnecting = true
	old := c.conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	if old != nil {
		old.Close()
	}

	conn, err := c.dial()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// CheckContent invokes the analyzer's CheckContent RPC with retry and
// backoff, tearing down and redialing the channel on Unavailable or
// DeadlineExceeded before each retry.
func (c *Client) CheckContent(ctx context.Context, text, requestID string, metadata map[string]string) (analyzer.Verdict, error) {
	req := &analyzerpb.CheckContentRequest{Content: text, RequestID: requestID, Metadata: metadata}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := backoffBase * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return analyzer.Verdict{}, ctx.Err()
			}
		}

		resp := &analyzerpb.CheckContentResponse{}
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		err := c.currentConn().Invoke(callCtx, analyzerpb.MethodCheckContent, req, resp)
		cancel()

		if err == nil {
			return toVerdict(resp), nil
		}

		lastErr = err
		code := status.Code(err)
		if code == codes.InvalidArgument {
			return analyzer.Verdict{}, fmt.Errorf("analyzerrpc: invalid request: %w", err)
		}
		if code == codes.Unavailable || code == codes.DeadlineExceeded {
			c.logger.Warn("analyzerrpc: channel unavailable, reconnecting", "attempt", attempt, "error", err)
			if rerr := c.reconnect(); rerr != nil {
				lastErr = rerr
			}
			continue
		}
		// Any other error code: retry without tearing down the channel.
	}

	return analyzer.Verdict{}, fmt.Errorf("analyzerrpc: check content failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// HealthCheck invokes the analyzer's HealthCheck RPC once, with no retry —
// callers (the /ready handler) decide how to treat a failure.
func (c *Client) HealthCheck(ctx context.Context) (analyzer.Health, error) {
	req := &analyzerpb.HealthCheckRequest{}
	resp := &analyzerpb.HealthCheckResponse{}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	if err := c.currentConn().Invoke(callCtx, analyzerpb.MethodHealthCheck, req, resp); err != nil {
		return analyzer.Health{}, fmt.Errorf("analyzerrpc: health check: %w", err)
	}
	return analyzer.Health{
		Serving: resp.ServingStatus == analyzerpb.ServingStatusServing,
		Version: resp.Version,
		Uptime:  resp.UptimeMs,
	}, nil
}

// Close releases the underlying channel.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func toVerdict(resp *analyzerpb.CheckContentResponse) analyzer.Verdict {
	issues := make([]analyzer.Issue, len(resp.DetectedIssues))
	for i, iss := range resp.DetectedIssues {
		issues[i] = analyzer.Issue{
			Kind:        analyzer.IssueKind(iss.Type),
			Text:        iss.Text,
			Start:       iss.Start,
			End:         iss.End,
			Confidence:  iss.Confidence,
			Replacement: iss.Replacement,
		}
	}
	return analyzer.Verdict{
		IsSafe:       resp.IsSafe,
		RedactedText: resp.RedactedText,
		Issues:       issues,
		Confidence:   resp.ConfidenceScore,
	}
}
