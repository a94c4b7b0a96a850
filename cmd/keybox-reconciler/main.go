// Package main initializes and runs the KeyBox reconciler worker.
//
// The reconciler periodically recomputes unlock counters from the event log
// and, optionally, warms the unlock plane's Redis snapshot cache.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/keyboxhq/keybox/internal/cache"
	"github.com/keyboxhq/keybox/internal/config"
	"github.com/keyboxhq/keybox/internal/database"
	"github.com/keyboxhq/keybox/internal/logger"
	"github.com/keyboxhq/keybox/internal/observability"
	"github.com/keyboxhq/keybox/internal/reconciler"
	"github.com/keyboxhq/keybox/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the worker lifecycle.
func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logg := logger.New(&cfg.App).With(slog.String("plane", "reconciler"))
	slog.SetDefault(logg)

	if !cfg.Reconciler.Enabled {
		logg.Info("reconciler is disabled, exiting")
		return nil
	}

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

	checkers := []observability.Checker{observability.NewPostgresChecker(pool)}

	var cacheSvc cache.Service
	if cfg.Reconciler.WarmCache {
		redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		redisCache := cache.NewRedisCache(redisClient)
		defer redisCache.Close()

		cacheSvc = redisCache
		checkers = append(checkers, observability.NewRedisChecker(redisClient))
	}

	// -------------------------------------------------------------------------
	// 3. Observability Server
	// -------------------------------------------------------------------------
	var obs *observability.Server
	if cfg.Health.Enabled {
		obs = observability.NewServer(logg, &cfg.Health, checkers...)
		obs.Start()
	}

	// -------------------------------------------------------------------------
	// 4. Worker Loop
	// -------------------------------------------------------------------------
	st := store.NewPostgresStore(pool)

	svc := reconciler.New(logg, reconciler.Config{
		Interval:  cfg.Reconciler.Interval,
		WarmCache: cfg.Reconciler.WarmCache,
	}, st, cacheSvc)

	// Run blocks until the context is cancelled by a signal.
	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("reconciler stopped with error: %w", err)
	}

	if obs != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logg.Warn("failed to shut down observability server", slog.String("error", err.Error()))
		}
	}

	logg.Info("service exited successfully")
	return nil
}
