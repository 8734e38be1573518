package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	backend "github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/rendis/actionkit/internal/actions"
	"github.com/rendis/actionkit/internal/expressions"
	"github.com/rendis/actionkit/internal/logging"
	"github.com/rendis/actionkit/internal/store"
	"github.com/rendis/actionkit/internal/streaming"
	"github.com/rendis/actionkit/internal/telemetry"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/procedures"
	"github.com/rendis/actionkit/pkg/ratelimit"
)

// app is the wired dependency graph shared by the commands.
type app struct {
	cfg      Config
	logger   *slog.Logger
	registry *actions.Registry
	runtime  *action.Runtime
	events   *streaming.Hub

	// Optional parts; nil when disabled.
	store    store.Store
	recorder *store.Recorder
	metrics  *prometheus.Registry
	tracing  *telemetry.Tracing
	redis    *backend.Client
	limiter  ratelimit.Limiter
}

type appOptions struct {
	// withStore opens the database and records invocations.
	withStore bool
	logOutput io.Writer
}

func newLogger(cfg Config, w io.Writer) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(w, level, cfg.LogFormat), nil
}

func newApp(ctx context.Context, cfg Config, opts appOptions) (a *app, err error) {
	logger, err := newLogger(cfg, opts.logOutput)
	if err != nil {
		return nil, err
	}
	a = &app{cfg: cfg, logger: logger, registry: actions.NewRegistry(), events: streaming.NewHub()}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	rtOpts := []action.RuntimeOption{action.WithLogger(logger), action.WithObserver(a.events)}

	if cfg.Metrics.Enabled {
		a.metrics = prometheus.NewRegistry()
		a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rtOpts = append(rtOpts, action.WithObserver(telemetry.NewCollector(a.metrics)))
	}

	if opts.withStore {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
		if err != nil {
			return nil, err
		}
		a.store = st
		if err := st.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.recorder = store.NewRecorder(st, logger, 0)
		rtOpts = append(rtOpts, action.WithObserver(a.recorder))
	}

	if a.tracing, err = newTracing(ctx, cfg.Tracing); err != nil {
		return nil, err
	}
	if a.tracing != nil {
		rtOpts = append(rtOpts, action.WithTracer(a.tracing.Tracer()))
	}

	if a.limiter, err = a.newLimiter(ctx); err != nil {
		return nil, err
	}

	a.runtime = action.NewRuntime(rtOpts...)
	builtins := actions.Config{
		Runtime: a.runtime,
		HTTP: actions.HTTPConfig{
			DefaultTimeout:  cfg.HTTP.Timeout,
			MaxResponseBody: cfg.HTTP.MaxResponseBody,
			MaxAttempts:     cfg.HTTP.MaxAttempts,
		},
		Limiter: a.limiter,
	}
	if cfg.HTTP.RetryDelay != "" {
		if builtins.HTTP.RetryDelay, err = expressions.DelayExpr(cfg.HTTP.RetryDelay); err != nil {
			return nil, err
		}
	}
	if cfg.Auth.JWTSecret != "" {
		builtins.Auth = &procedures.JWTConfig{
			Secret:    []byte(cfg.Auth.JWTSecret),
			Issuer:    cfg.Auth.Issuer,
			Audience:  cfg.Auth.Audience,
			ClockSkew: 30 * time.Second,
		}
	}
	if err := actions.RegisterBuiltins(a.registry, builtins); err != nil {
		return nil, err
	}
	logger.Debug("actions registered", slog.Int("count", a.registry.Count()))
	return a, nil
}

func newTracing(ctx context.Context, cfg TracingConfig) (*telemetry.Tracing, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch strings.ToLower(cfg.Exporter) {
	case "", "none":
		return nil, nil
	case "stdout":
		exp, err = telemetry.NewConsoleExporter(os.Stderr)
	case "otlp":
		exp, err = telemetry.NewOTLPExporter(ctx, cfg.Endpoint, cfg.Insecure)
	default:
		return nil, fmt.Errorf("unknown tracing exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}
	return telemetry.NewTracing(telemetry.TracingConfig{
		ServiceName:    "actionkit",
		ServiceVersion: version,
		SampleRatio:    cfg.SampleRatio,
	}, sdktrace.WithBatcher(exp))
}

func (a *app) newLimiter(ctx context.Context) (ratelimit.Limiter, error) {
	rl := a.cfg.RateLimit
	if rl.Requests <= 0 {
		return nil, nil
	}
	if a.cfg.RedisAddr == "" {
		burst := rl.Burst
		if burst <= 0 {
			burst = rl.Requests
		}
		return ratelimit.NewMemory(rate.Limit(float64(rl.Requests)/rl.Window.Seconds()), burst), nil
	}

	a.redis = backend.NewClient(&backend.Options{Addr: a.cfg.RedisAddr})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", a.cfg.RedisAddr, err)
	}
	return ratelimit.NewRedis(a.redis, int64(rl.Requests), rl.Window), nil
}

// close releases everything newApp opened, in reverse order.
func (a *app) close(ctx context.Context) {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", slog.Any("error", err))
		}
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown tracing", slog.Any("error", err))
		}
	}
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", slog.Any("error", err))
		}
	}
}

// pruneHistory deletes invocations older than retention every interval
// until ctx is done.
func (a *app) pruneHistory(ctx context.Context, retention, interval time.Duration) {
	if a.store == nil || retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := a.store.PruneInvocations(ctx, time.Now().Add(-retention))
		if err != nil {
			a.logger.Warn("prune invocation history", slog.Any("error", err))
		} else if n > 0 {
			a.logger.Info("pruned invocation history", slog.Int64("deleted", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
