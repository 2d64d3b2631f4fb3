// Package http provides the HTTP transport adapter for the admission
// gateway: request routing, middleware, and the standard observability
// endpoints.
package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds how long Close waits for in-flight requests to
// drain before forcing the listener closed.
const shutdownTimeout = 10 * time.Second

// Transport is the inbound HTTP adapter: it owns the listener, the
// middleware chain, and the route table, and delegates admission
// decisions to Handler.
type Transport struct {
	handler       *Handler
	healthChecker *HealthChecker
	metrics       *Metrics
	registry      *prometheus.Registry
	adminHandler  http.Handler
	server        *http.Server
	addr          string
	certFile      string
	keyFile       string
	logger        *slog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(t *Transport) { t.addr = addr }
}

// WithTLS enables TLS using the given certificate and key files. If
// unset, the server runs in plain HTTP.
func WithTLS(certFile, keyFile string) Option {
	return func(t *Transport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithLogger sets the transport's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// WithAdminHandler mounts h under /admin/.
func WithAdminHandler(h http.Handler) Option {
	return func(t *Transport) { t.adminHandler = h }
}

// WithRegistry supplies the Prometheus registry the /metrics route and
// NewMetrics should share. Without it, Start creates its own registry,
// which only carries the Go/process collectors — callers that build
// Metrics ahead of the Transport (so Handler can be constructed with
// them) must call this so the business collectors are actually exposed.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(t *Transport) { t.registry = reg }
}

// NewTransport builds a Transport wrapping handler and healthChecker.
func NewTransport(handler *Handler, healthChecker *HealthChecker, opts ...Option) *Transport {
	t := &Transport{
		handler:       handler,
		healthChecker: healthChecker,
		addr:          "127.0.0.1:8080",
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start builds the route table, begins accepting connections, and blocks
// until ctx is cancelled or the server fails.
func (t *Transport) Start(ctx context.Context) error {
	if t.registry == nil {
		t.registry = prometheus.NewRegistry()
		t.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", t.healthChecker.ServeHealth)
	mux.HandleFunc("GET /ready", t.healthChecker.ServeReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry}))

	if t.adminHandler != nil {
		mux.Handle("/admin/", t.adminHandler)
	}

	// Middleware chain, outermost first: Metrics (captures full request
	// duration) -> RequestID -> RealIP -> APIKey -> admission routes.
	var admitted http.Handler = t.handler.Mux()
	admitted = APIKeyMiddleware(admitted)
	admitted = RealIPMiddleware(admitted)
	admitted = RequestIDMiddleware(t.logger)(admitted)
	admitted = MetricsMiddleware(t.metrics)(admitted)
	mux.Handle("/", admitted)

	t.server = &http.Server{
		Addr:    t.addr,
		Handler: mux,
	}
	if t.certFile != "" && t.keyFile != "" {
		t.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", t.addr)
			err = t.server.ListenAndServeTLS(t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", t.addr)
			err = t.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// Registerer exposes the Prometheus registry so the caller can wire
// NewMetrics before Start builds the route table.
func (t *Transport) Registerer() prometheus.Registerer {
	if t.registry == nil {
		t.registry = prometheus.NewRegistry()
	}
	return t.registry
}

// SetMetrics installs the Metrics instance used by the middleware chain.
// Must be called before Start.
func (t *Transport) SetMetrics(m *Metrics) {
	t.metrics = m
}

func (t *Transport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}
	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *Transport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
