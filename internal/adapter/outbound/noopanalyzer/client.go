// Package noopanalyzer provides a stand-in analyzer.Client that always
// reports content as safe, for running the gateway with
// features.content_analysis disabled (no analyzer deployment required).
package noopanalyzer

import (
	"context"

	"github.com/sentinelgate/gateway/internal/domain/analyzer"
)

// Client implements analyzer.Client without contacting any remote
// service. CheckContent always returns a safe verdict.
type Client struct{}

// New returns a Client.
func New() *Client {
	return &Client{}
}

// CheckContent always reports the content as safe.
func (c *Client) CheckContent(_ context.Context, _, _ string, _ map[string]string) (analyzer.Verdict, error) {
	return analyzer.Verdict{IsSafe: true, Confidence: 1}, nil
}

// HealthCheck always reports serving, since there is nothing to reach.
func (c *Client) HealthCheck(_ context.Context) (analyzer.Health, error) {
	return analyzer.Health{Serving: true, Version: "noop"}, nil
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}
