// Package main is the entrypoint for the NileTrace watch agent.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/niletrace/internal/api"
	"github.com/kiranshivaraju/niletrace/internal/api/handler"
	mw "github.com/kiranshivaraju/niletrace/internal/api/middleware"
	"github.com/kiranshivaraju/niletrace/internal/cache"
	"github.com/kiranshivaraju/niletrace/internal/config"
	"github.com/kiranshivaraju/niletrace/internal/niletrace"
	"github.com/kiranshivaraju/niletrace/internal/store"
	"github.com/kiranshivaraju/niletrace/internal/watch"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("agent failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "api_url", cfg.API.BaseURL, "env", cfg.Server.Env,
		"poll_interval", cfg.Poll.Interval, "poll_max_attempts", cfg.Poll.MaxAttempts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	pgStore := store.NewPostgresStore(pool)

	// 4. Watches left polling by a previous process have no poller any more
	n, err := pgStore.CancelActiveWatches(ctx, "agent restarted")
	if err != nil {
		return fmt.Errorf("cancel orphaned watches: %w", err)
	}
	if n > 0 {
		slog.Warn("cancelled orphaned watches", "count", n)
	}

	// 5. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 6. NileTrace API client and watch service. The client is shared by
	// every watch, so a 401 leaves its token in place.
	client := niletrace.NewClient(cfg.API, niletrace.WithLogger(slog.Default()))
	if !client.IsAuthenticated() {
		slog.Warn("NILETRACE_TOKEN is not set, status requests will be unauthenticated")
	} else if exp, ok, err := client.TokenExpiry(); err == nil && ok && time.Until(exp) < 24*time.Hour {
		slog.Warn("NileTrace token expires soon", "expires_at", exp)
	}

	watches := watch.NewService(pgStore, redisCache, client, cfg.Poll, watch.WithLogger(slog.Default()))

	// 7. Build router with dependencies
	router := api.NewRouter(newDependencies(pgStore, redisCache, client, watches, cfg.Server.RequestsPerMinute))

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("agent listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := watches.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("watch shutdown: %w", err)
	}

	slog.Info("agent stopped gracefully")
	return nil
}

// agentStore is everything the HTTP layer needs from persistence.
type agentStore interface {
	handler.Pinger
	handler.KeyManager
	mw.KeyStore
}

// agentCache is everything the HTTP layer needs from the cache.
type agentCache interface {
	handler.Pinger
	mw.Counter
}

func newDependencies(s agentStore, c agentCache, incidents handler.IncidentLister, watches handler.WatchService, requestsPerMin int) api.Dependencies {
	return api.Dependencies{
		Auth:      mw.NewAuth(s),
		RateLimit: mw.NewRateLimit(c, requestsPerMin),

		HealthHandler:    handler.NewHealthHandler(s, c),
		CreateWatch:      handler.NewCreateWatchHandler(watches),
		ListWatches:      handler.NewListWatchesHandler(watches),
		GetWatch:         handler.NewGetWatchHandler(watches),
		StopWatch:        handler.NewStopWatchHandler(watches),
		DashboardHandler: handler.NewDashboardHandler(incidents),
		CreateKeyHandler: handler.NewCreateKeyHandler(s),
		ListKeysHandler:  handler.NewListKeysHandler(s),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(s),
	}
}

