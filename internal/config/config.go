// Package config provides configuration types for the gateway.
//
// The schema mirrors the enumerated configuration surface: listener
// binding, analyzer RPC target and reliability knobs, three-tier
// rate-limit thresholds, audit mode and retention, content-length
// security bounds, and feature toggles that can disable whole
// components without touching code.
package config

import (
	"github.com/spf13/viper"
)

// Config is the top-level configuration for the gateway.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Analyzer configures the gRPC connection to the content analyzer.
	Analyzer AnalyzerConfig `yaml:"analyzer" mapstructure:"analyzer"`

	// RateLimit configures the three-tier fixed-window rate limiter.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Audit configures the audit trail store and the async queue in
	// front of it.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Security configures request-body validation bounds.
	Security SecurityConfig `yaml:"security" mapstructure:"security"`

	// Features toggles whole components on or off.
	Features FeatureConfig `yaml:"features" mapstructure:"features"`

	// Admin configures the operator-only admin surface.
	Admin AdminConfig `yaml:"admin" mapstructure:"admin"`

	// Models is the static list of model identifiers returned by
	// GET /v1/models.
	Models []string `yaml:"models" mapstructure:"models" validate:"omitempty,dive,required"`

	// DevMode enables development features (verbose logging, permissive
	// defaults) so the gateway can run with a minimal configuration.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ShutdownTimeout bounds the ordered drain-and-exit sequence (e.g., "10s").
	// Defaults to "10s" if not specified.
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty"`
}

// AnalyzerConfig configures the gRPC connection to the content analyzer.
type AnalyzerConfig struct {
	// Addr is the analyzer's gRPC target (e.g., "127.0.0.1:9090").
	Addr string `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port"`

	// Timeout is the per-attempt deadline for a CheckContent call (e.g., "5s").
	// Defaults to "5s" if not specified.
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`

	// MaxRetries is the number of retries after the first attempt fails with
	// Unavailable or DeadlineExceeded. Defaults to 3 if not specified.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries" validate:"omitempty,min=0"`
}

// RateLimitTierConfig is the fixed-window configuration for one tier.
// Max<=0 disables the tier (it always admits).
type RateLimitTierConfig struct {
	Max           int `yaml:"max" mapstructure:"max" validate:"omitempty,min=0"`
	WindowSeconds int `yaml:"window_seconds" mapstructure:"window_seconds" validate:"omitempty,min=1"`
}

// RateLimitConfig configures the three-tier cascade: global, per-caller,
// and per-key (the key tier only applies when a request carries an API key).
type RateLimitConfig struct {
	Global RateLimitTierConfig `yaml:"global" mapstructure:"global"`
	Caller RateLimitTierConfig `yaml:"caller" mapstructure:"caller"`
	Key    RateLimitTierConfig `yaml:"key" mapstructure:"key"`

	// StoreAddr is the Redis address backing the counters (e.g., "127.0.0.1:6379").
	// Empty means the in-memory store is used instead (single-instance only).
	StoreAddr string `yaml:"store_addr" mapstructure:"store_addr"`
}

// AuditConfig configures the audit trail store and the queue in front of it.
type AuditConfig struct {
	// Async selects asynchronous (batched, best-effort) enqueueing when true,
	// or direct synchronous inserts when false.
	Async bool `yaml:"async" mapstructure:"async"`

	// RetentionDays is the default number of days an audit entry remains
	// eligible for retrieval before a sweep may remove it.
	// Defaults to 90 if not specified.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`

	// StorePath is the SQLite database file path.
	// Defaults to "sentinelgate-audit.db" if not specified.
	StorePath string `yaml:"store_path" mapstructure:"store_path"`

	// QueueCapacity is validated and defaults to 4096 if not specified or 0.
	// It is not passed to the audit queue, whose channel holds a fixed
	// 1000 entries.
	QueueCapacity int `yaml:"queue_capacity" mapstructure:"queue_capacity" validate:"omitempty,min=1"`

	// BatchSize is the number of entries the drainer inserts per flush.
	// Defaults to 100 if not specified or 0. Only applies when Async=true.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often the drainer flushes pending entries
	// (e.g., "1s"). Defaults to "1s" if not specified. Only applies when
	// Async=true.
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty"`
}

// SecurityConfig configures chat-completion request-body validation bounds.
type SecurityConfig struct {
	// MinContentLength is the minimum combined message content length
	// admitted. Defaults to 1 if not specified.
	MinContentLength int `yaml:"min_content_length" mapstructure:"min_content_length" validate:"omitempty,min=0"`

	// MaxContentLength is the maximum combined message content length
	// admitted. Defaults to 10240 if not specified.
	MaxContentLength int `yaml:"max_content_length" mapstructure:"max_content_length" validate:"omitempty,min=1"`

	// DigestSalt seeds the HMAC used to digest caller IPs and API keys
	// before they reach the audit store. Operators should set this to a
	// random, stable value in production; leaving it empty still produces
	// consistent digests but with a well-known key.
	DigestSalt string `yaml:"digest_salt" mapstructure:"digest_salt"`
}

// FeatureConfig toggles whole components on or off without touching code.
type FeatureConfig struct {
	// AuditLogging enables the audit queue and store. Defaults to true.
	AuditLogging bool `yaml:"audit_logging" mapstructure:"audit_logging"`

	// RateLimiting enables the three-tier limiter. Defaults to true.
	RateLimiting bool `yaml:"rate_limiting" mapstructure:"rate_limiting"`

	// ContentAnalysis enables the analyzer call. Defaults to true; disabling
	// it skips straight from body validation to custom block rules, useful
	// for running the gateway without a deployed analyzer in development.
	ContentAnalysis bool `yaml:"content_analysis" mapstructure:"content_analysis"`
}

// AdminConfig configures the operator-only admin surface.
type AdminConfig struct {
	// Enabled controls whether the /admin/ routes are mounted at all.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// TokenHash is the Argon2id (or legacy SHA-256) hash of the operator
	// bearer token, generated with the gateway's hash-token CLI command.
	// Required when Enabled=true.
	TokenHash string `yaml:"token_hash" mapstructure:"token_hash" validate:"required_if=Enabled true"`
}

// SetDevDefaults applies permissive defaults for development mode so the
// gateway can run with a minimal configuration. Applied before validation
// so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Analyzer.Addr == "" {
		c.Analyzer.Addr = "127.0.0.1:9090"
	}
	if len(c.Models) == 0 {
		c.Models = []string{"gpt-4", "gpt-3.5-turbo"}
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults — bind to localhost only for security. Users who
	// need network access must explicitly set http_addr.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	// Analyzer defaults.
	if c.Analyzer.Timeout == "" {
		c.Analyzer.Timeout = "5s"
	}
	if c.Analyzer.MaxRetries == 0 {
		c.Analyzer.MaxRetries = 3
	}

	// Rate-limit defaults — global 10000/h, caller 100/h, key 1000/h.
	if c.RateLimit.Global.Max == 0 && c.RateLimit.Global.WindowSeconds == 0 {
		c.RateLimit.Global = RateLimitTierConfig{Max: 10000, WindowSeconds: 3600}
	}
	if c.RateLimit.Caller.Max == 0 && c.RateLimit.Caller.WindowSeconds == 0 {
		c.RateLimit.Caller = RateLimitTierConfig{Max: 100, WindowSeconds: 3600}
	}
	if c.RateLimit.Key.Max == 0 && c.RateLimit.Key.WindowSeconds == 0 {
		c.RateLimit.Key = RateLimitTierConfig{Max: 1000, WindowSeconds: 3600}
	}

	// Audit defaults.
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 90
	}
	if c.Audit.StorePath == "" {
		c.Audit.StorePath = "sentinelgate-audit.db"
	}
	if c.Audit.QueueCapacity == 0 {
		c.Audit.QueueCapacity = 4096
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}

	// Security defaults.
	if c.Security.MinContentLength == 0 {
		c.Security.MinContentLength = 1
	}
	if c.Security.MaxContentLength == 0 {
		c.Security.MaxContentLength = 10240
	}

	// Feature toggles default to enabled. Only apply the default when the
	// user hasn't explicitly set the key in YAML/env; viper.IsSet
	// distinguishes "not set" (zero value) from "explicitly false".
	if !viper.IsSet("features.audit_logging") {
		c.Features.AuditLogging = true
	}
	if !viper.IsSet("features.rate_limiting") {
		c.Features.RateLimiting = true
	}
	if !viper.IsSet("features.content_analysis") {
		c.Features.ContentAnalysis = true
	}
}
