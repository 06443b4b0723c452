// Package server assembles the authgate process: logger, directory backend,
// engine, HTTP routes and the listener lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/directory"
	"github.com/MrEthical07/authgate/directory/redisdir"
	"github.com/MrEthical07/authgate/directory/sqldir"
	"github.com/MrEthical07/authgate/httpapi"
	"github.com/MrEthical07/authgate/internal/config"
	otelexport "github.com/MrEthical07/authgate/metrics/export/otel"
	promexport "github.com/MrEthical07/authgate/metrics/export/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
)

const (
	redisKeyPrefix = "authgate"
	meterName      = "github.com/MrEthical07/authgate"
)

type options struct {
	meterProvider metric.MeterProvider
}

// Option customizes New.
type Option func(*options)

// WithMeterProvider also publishes engine metrics as OpenTelemetry
// instruments on mp. It has no effect when METRICS_ENABLED is false.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(cfg config.Config, w io.Writer) *slog.Logger {
	level, err := cfg.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// OpenDirectory connects the backend named by the DSN scheme.
func OpenDirectory(ctx context.Context, cfg config.Config, logger *slog.Logger) (directory.Directory, error) {
	backend, err := cfg.Backend()
	if err != nil {
		return nil, err
	}

	switch backend {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.DirectoryDSN)
		if err != nil {
			return nil, fmt.Errorf("%w: DIRECTORY_DSN: %w", config.ErrConfig, err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
		}
		return redisdir.New(client, redisKeyPrefix), nil
	case config.BackendPostgres:
		return sqldir.OpenPostgres(ctx, cfg.DirectoryDSN, logger)
	default:
		return sqldir.OpenSQLite(ctx, cfg.SQLitePath(), logger)
	}
}

// Server owns every long-lived resource of the process.
type Server struct {
	cfg    config.Config
	logger *slog.Logger
	dir    directory.Directory
	engine *authgate.Engine
	otel   *otelexport.OTelExporter
	http   *http.Server
}

// New opens the directory and builds the engine and routes. Close releases
// what New acquired.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	dir, err := OpenDirectory(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}

	builder := authgate.New().
		WithConfig(cfg.Engine()).
		WithDirectory(dir).
		WithLogger(logger)
	if cfg.AuditEnabled {
		builder = builder.WithAuditSink(authgate.NewSlogSink(logger))
	}
	engine, err := builder.Build()
	if err != nil {
		_ = dir.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}

	var otelExporter *otelexport.OTelExporter
	apiOpts := []httpapi.Option{httpapi.WithLogger(logger)}
	if cfg.MetricsEnabled {
		exporter := promexport.NewPrometheusExporter(engine, promexport.WithRuntimeMetrics())
		apiOpts = append(apiOpts, httpapi.WithMetricsHandler(exporter.Handler()))

		if o.meterProvider != nil {
			otelExporter, err = otelexport.NewOTelExporter(o.meterProvider.Meter(meterName), engine)
			if err != nil {
				engine.Close()
				_ = dir.Close()
				return nil, fmt.Errorf("register otel metrics: %w", err)
			}
		}
	}
	api, err := httpapi.New(engine, apiOpts...)
	if err != nil {
		if otelExporter != nil {
			_ = otelExporter.Close()
		}
		engine.Close()
		_ = dir.Close()
		return nil, fmt.Errorf("build routes: %w", err)
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		dir:    dir,
		engine: engine,
		otel:   otelExporter,
		http: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           api.Routes(),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
	}, nil
}

func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Engine() *authgate.Engine {
	return s.engine
}

// Run listens on the configured port until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln. When ctx is cancelled it stops accepting
// and waits up to SHUTDOWN_TIMEOUT for in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()
	s.logger.Info("authgate listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("authgate shutting down", "timeout", s.cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Close unregisters OpenTelemetry instruments, flushes audit events and
// closes the directory.
func (s *Server) Close() error {
	var otelErr error
	if s.otel != nil {
		otelErr = s.otel.Close()
	}
	s.engine.Close()
	return errors.Join(otelErr, s.dir.Close())
}
