package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	adminhttp "github.com/sentinelgate/gateway/internal/adapter/inbound/admin"
	gwhttp "github.com/sentinelgate/gateway/internal/adapter/inbound/http"
	"github.com/sentinelgate/gateway/internal/adapter/outbound/analyzerrpc"
	"github.com/sentinelgate/gateway/internal/adapter/outbound/auditstore"
	"github.com/sentinelgate/gateway/internal/adapter/outbound/memory"
	"github.com/sentinelgate/gateway/internal/adapter/outbound/noopanalyzer"
	"github.com/sentinelgate/gateway/internal/adapter/outbound/ratelimitstore"
	"github.com/sentinelgate/gateway/internal/config"
	"github.com/sentinelgate/gateway/internal/domain/admission"
	"github.com/sentinelgate/gateway/internal/domain/analyzer"
	"github.com/sentinelgate/gateway/internal/domain/audit"
	"github.com/sentinelgate/gateway/internal/domain/digest"
	"github.com/sentinelgate/gateway/internal/domain/ratelimit"
	"github.com/sentinelgate/gateway/internal/service/auditqueue"
	"github.com/sentinelgate/gateway/internal/service/shutdown"
)

var devMode bool

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, permissive defaults)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long:  `Start the admission gateway: HTTP listener, rate limiter, content analyzer client, and audit trail.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	ctx, stop := signalContext()
	defer stop()

	analyzerClient, err := newAnalyzerClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create analyzer client: %w", err)
	}

	limiterStore, closeLimiterStore := newRateLimitStore(cfg, logger)
	limiter := newLimiter(cfg, limiterStore)

	auditStore := newAuditStore(cfg, logger)

	var auditQueue *auditqueue.Queue
	if cfg.Features.AuditLogging {
		queueOpts := []auditqueue.Option{
			auditqueue.WithBatchSize(cfg.Audit.BatchSize),
		}
		if flushInterval, parseErr := time.ParseDuration(cfg.Audit.FlushInterval); parseErr == nil {
			queueOpts = append(queueOpts, auditqueue.WithFlushInterval(flushInterval))
		}
		if !cfg.Audit.Async {
			queueOpts = append(queueOpts, auditqueue.WithSynchronous())
		}
		auditQueue = auditqueue.NewAuditQueue(ctx, auditStore, logger, queueOpts...)
	}

	salt := cfg.Security.DigestSalt
	if salt == "" {
		logger.Warn("security.digest_salt not set; caller/key digests use a well-known default key")
	}
	callerDigest := digest.New(salt)
	keyDigest := digest.New(salt)

	pipeline := admission.New(limiter, analyzerClient, nil, admission.ContentBounds{
		MinContentLength: cfg.Security.MinContentLength,
		MaxContentLength: cfg.Security.MaxContentLength,
	}, logger)

	registry := prometheus.NewRegistry()
	metrics := gwhttp.NewMetrics(registry, func() float64 {
		if auditQueue == nil {
			return 0
		}
		return float64(auditQueue.Size())
	})

	handler := gwhttp.NewHandler(gwhttp.HandlerConfig{
		Pipeline:         pipeline,
		AuditQueue:       auditQueue,
		CallerDigest:     callerDigest,
		KeyDigest:        keyDigest,
		Models:           cfg.Models,
		RetentionDays:    cfg.Audit.RetentionDays,
		Metrics:          metrics,
		MaxContentLength: cfg.Security.MaxContentLength,
	})

	healthChecker := gwhttp.NewHealthChecker("gateway", Version, analyzerClient, auditStore, limiterStore)

	opts := []gwhttp.Option{
		gwhttp.WithAddr(cfg.Server.HTTPAddr),
		gwhttp.WithLogger(logger),
		gwhttp.WithRegistry(registry),
	}
	if cfg.Admin.Enabled {
		adminHandler := adminhttp.NewAdminAPIHandler(auditStore, adminhttp.WithAPILogger(logger))
		opts = append(opts, gwhttp.WithAdminHandler(adminHandler.Routes(cfg.Admin.TokenHash)))
	}

	transport := gwhttp.NewTransport(handler, healthChecker, opts...)
	transport.SetMetrics(metrics)

	logger.Info("gateway starting", "addr", cfg.Server.HTTPAddr, "dev_mode", cfg.DevMode,
		"rate_limiting", cfg.Features.RateLimiting, "content_analysis", cfg.Features.ContentAnalysis,
		"audit_logging", cfg.Features.AuditLogging, "admin_enabled", cfg.Admin.Enabled)

	startErr := transport.Start(ctx)

	shutdownTimeout, parseErr := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if parseErr != nil {
		shutdownTimeout = 10 * time.Second
	}
	coordinator := shutdown.New(shutdownTimeout, logger)
	coordinator.Add("analyzer client", func(context.Context) error { return analyzerClient.Close() })
	if auditQueue != nil {
		coordinator.Add("audit queue drain", func(context.Context) error { auditQueue.Stop(); return nil })
	}
	coordinator.Add("audit store", func(context.Context) error { return auditStore.Close() })
	if closeLimiterStore != nil {
		coordinator.Add("rate limit store", func(context.Context) error { return closeLimiterStore() })
	}
	_ = coordinator.Run(context.Background())

	if startErr != nil {
		return fmt.Errorf("transport stopped: %w", startErr)
	}
	return nil
}

// newAnalyzerClient dials the configured analyzer, unless content
// analysis is disabled, in which case a no-op client is used so the
// gateway can run without a deployed analyzer.
func newAnalyzerClient(cfg *config.Config, logger *slog.Logger) (analyzer.Client, error) {
	if !cfg.Features.ContentAnalysis {
		logger.Info("content analysis disabled, using no-op analyzer client")
		return noopanalyzer.New(), nil
	}
	timeout, err := time.ParseDuration(cfg.Analyzer.Timeout)
	if err != nil {
		timeout = 5 * time.Second
	}
	return analyzerrpc.Dial(analyzerrpc.Config{
		Addr:        cfg.Analyzer.Addr,
		MaxRetries:  cfg.Analyzer.MaxRetries,
		CallTimeout: timeout,
	}, logger)
}

// newAuditStore opens the SQLite-backed store and falls back to the
// in-memory store (no persistence across restarts, but still a fully
// functional audit.Store) if the database file can't be opened, so a
// filesystem permission problem doesn't prevent the gateway from
// starting at all.
func newAuditStore(cfg *config.Config, logger *slog.Logger) audit.Store {
	store, err := auditstore.Open(auditstore.Config{
		Path:         cfg.Audit.StorePath,
		MaxOpenConns: 1,
		MaxIdleConns: 4,
	}, logger)
	if err != nil {
		logger.Error("failed to open sqlite audit store, falling back to in-memory store (not persisted)", "error", err)
		return memory.NewAuditStore()
	}
	return store
}

// newRateLimitStore builds the Redis-backed store when rate_limit.store_addr
// is set, otherwise an in-process memory store. Returns a close function
// for the shutdown coordinator (for the memory store it only stops the
// cleanup goroutine, since there is nothing to flush).
func newRateLimitStore(cfg *config.Config, logger *slog.Logger) (ratelimit.Store, func() error) {
	if cfg.RateLimit.StoreAddr != "" {
		store, err := ratelimitstore.New(ratelimitstore.Config{Addr: cfg.RateLimit.StoreAddr}, logger)
		if err != nil {
			logger.Error("failed to connect to rate-limit redis store, falling back to memory store", "error", err)
		} else {
			return store, store.Close
		}
	}
	store := ratelimitstore.NewMemoryStore(time.Minute)
	store.StartCleanup(context.Background())
	return store, func() error { store.Stop(); return nil }
}

// newLimiter converts the tier configs into a ratelimit.Limiter. When
// features.rate_limiting is disabled, every tier's limit is zeroed so the
// limiter always admits (ratelimit.Config with Limit<=0 disables a tier).
func newLimiter(cfg *config.Config, store ratelimit.Store) *ratelimit.Limiter {
	global := toTierConfig(cfg.RateLimit.Global)
	caller := toTierConfig(cfg.RateLimit.Caller)
	key := toTierConfig(cfg.RateLimit.Key)
	if !cfg.Features.RateLimiting {
		global, caller, key = ratelimit.Config{}, ratelimit.Config{}, ratelimit.Config{}
	}
	return ratelimit.New(store, global, caller, key)
}

func toTierConfig(t config.RateLimitTierConfig) ratelimit.Config {
	return ratelimit.Config{
		Limit:  t.Max,
		Window: time.Duration(t.WindowSeconds) * time.Second,
	}
}

// signalContext returns a context cancelled on the platform's graceful
// shutdown signals. A second signal after cancellation falls through to
// the default handler (immediate exit).
func signalContext() (context.Context, func()) {
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	return ctx, stop
}

// parseLogLevel converts a string log level to slog.Level. Returns
// slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
