// Package main initializes and runs the KeyBox unlock plane service.
//
// It is the composition root for the public unlock API: the Postgres-backed
// unlock orchestrator, the two-level snapshot cache (otter L1, Redis L2),
// and the Pub/Sub invalidation subscriber that keeps the L1 honest.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/keyboxhq/keybox/internal/cache"
	"github.com/keyboxhq/keybox/internal/config"
	"github.com/keyboxhq/keybox/internal/database"
	"github.com/keyboxhq/keybox/internal/logger"
	"github.com/keyboxhq/keybox/internal/observability"
	"github.com/keyboxhq/keybox/internal/store"
	"github.com/keyboxhq/keybox/internal/unlock"
	"github.com/keyboxhq/keybox/internal/unlockapi"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logg := logger.New(&cfg.App).With(slog.String("plane", "unlock"))
	slog.SetDefault(logg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	redisCache := cache.NewRedisCache(redisClient)
	defer redisCache.Close()

	l1, err := cache.NewMemoryCache(cfg.Unlock.CacheCapacity, cfg.Unlock.CacheTTL)
	if err != nil {
		return fmt.Errorf("failed to build in-memory cache: %w", err)
	}
	defer l1.Close()

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------
	st := store.NewPostgresStore(pool)

	unlocker := unlock.New(logg, unlock.Config{
		RateLimitWindow: cfg.Unlock.RateLimitWindow,
		RateLimitMax:    cfg.Unlock.RateLimitMax,
	}, st, st, st)

	api := unlockapi.NewAPI(unlocker, st, st, unlockapi.Options{
		L1:    l1,
		L2:    redisCache,
		L2TTL: cfg.Unlock.CacheTTL,
	})

	// Invalidation subscriber: drop L1 entries when the admin plane mutates
	// a package. L2 keys are refreshed on the next read-through or warm.
	go func() {
		err := redisCache.SubscribeInvalidations(ctx, func(shortCode string) {
			l1.Del(shortCode)
			observability.UnlockInvalidations.Inc()
			logg.Debug("snapshot invalidated", slog.String("code", shortCode))
		})
		if err != nil {
			logg.Error("invalidation subscriber stopped", slog.String("error", err.Error()))
		}
	}()

	// -------------------------------------------------------------------------
	// 4. Observability Server
	// -------------------------------------------------------------------------
	var obs *observability.Server
	if cfg.Health.Enabled {
		obs = observability.NewServer(logg, &cfg.Health,
			observability.NewPostgresChecker(pool),
			observability.NewRedisChecker(redisClient),
		)
		obs.Start()
	}

	// -------------------------------------------------------------------------
	// 5. HTTP Server & Graceful Shutdown
	// -------------------------------------------------------------------------
	unlockCfg := cfg.Server.Unlock
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", unlockCfg.Host, unlockCfg.Port),
		Handler:           api.Router,
		ReadTimeout:       unlockCfg.ReadTimeout,
		WriteTimeout:      unlockCfg.WriteTimeout,
		ReadHeaderTimeout: unlockCfg.ReadHeaderTimeout,
		IdleTimeout:       unlockCfg.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		logg.Info("starting unlock plane server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("unlock plane server failed: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logg.Info("shutdown signal received, stopping unlock plane...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down unlock plane server: %w", err)
	}
	if obs != nil {
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logg.Warn("failed to shut down observability server", slog.String("error", err.Error()))
		}
	}

	logg.Info("service exited successfully")
	return nil
}
