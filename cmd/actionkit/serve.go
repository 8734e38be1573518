package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rendis/actionkit/internal/scheduler"
	"github.com/rendis/actionkit/internal/streaming"
	"github.com/rendis/actionkit/pkg/mcp"
	"github.com/rendis/actionkit/pkg/ratelimit"
	"github.com/rendis/actionkit/pkg/router"
	"github.com/rendis/actionkit/pkg/schema"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve actions over HTTP and MCP, and run scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
				cfg.ListenAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringP("listen", "l", "", "listen address, overrides listen_addr")
	return cmd
}

func serve(ctx context.Context, cfg Config) error {
	a, err := newApp(ctx, cfg, appOptions{withStore: true})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.close(closeCtx)
	}()

	sched, err := scheduler.New(a.registry, cfg.Scheduler.Jobs,
		scheduler.WithLogger(a.logger),
		scheduler.WithConcurrency(cfg.Scheduler.Concurrency),
		scheduler.WithRunRecorder(a.store),
	)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	go a.pruneHistory(ctx, cfg.HistoryRetention, time.Hour)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.httpRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrors := make(chan error, 1)
	go func() {
		a.logger.Info("listening", slog.String("addr", cfg.ListenAddr), slog.Int("actions", a.registry.Count()))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("graceful shutdown incomplete", slog.Any("error", err))
		return srv.Close()
	}
	return nil
}

// httpRouter routes every registered action at POST /actions/{name} next to
// the catalog, health, event stream, metrics and MCP endpoints.
func (a *app) httpRouter() *router.Router {
	mw := []func(http.Handler) http.Handler{middleware.RequestID, middleware.RealIP, middleware.Recoverer}
	if a.limiter != nil {
		mw = append(mw, rateLimitMiddleware(a.limiter, a.logger))
	}
	r := router.New(
		router.WithLogger(a.logger),
		router.WithInfo("actionkit", version),
		router.WithMiddleware(mw...),
	)

	for _, inv := range a.registry.Invokers() {
		r.Handle(http.MethodPost, "/actions/"+inv.Name(), inv, router.WithTags(actionGroup(inv.Name())))
	}
	r.Mount("/actions", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(a.registry.List())
	}))
	r.Mount("/events", streaming.Handler(a.events, a.logger))
	r.Mount("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	if a.metrics != nil {
		r.Mount(a.cfg.Metrics.Path, promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
	}

	srv := mcp.NewServer(mcp.ServerDeps{
		Actions: a.registry,
		Store:   a.store,
		Logger:  a.logger,
		Version: version,
	})
	r.Mount("/mcp", srv.HTTPHandler())
	return r
}

// actionGroup is the name segment before the first dot, e.g. "crypto".
func actionGroup(name string) string {
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return "core"
}

// rateLimitMiddleware spends one hit per request from the client IP bucket.
// Limiter failures let the request through.
func rateLimitMiddleware(limiter ratelimit.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ok, err := limiter.Allow(req.Context(), "ip:"+clientIP(req))
			if err != nil {
				logger.Warn("rate limiter unavailable", slog.Any("error", err))
			} else if !ok {
				aErr := schema.NewError(schema.ErrCodeTooManyRequests, "Too many requests")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(aErr.Status())
				json.NewEncoder(w).Encode(aErr)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
