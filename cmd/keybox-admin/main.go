// Package main initializes and runs the KeyBox admin plane service.
//
// It acts as the composition root for the creator-facing REST API, wiring
// the Postgres store, the Redis invalidation publisher, and the
// observability server, and handling the server lifecycle.
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

	"github.com/keyboxhq/keybox/internal/adminapi"
	"github.com/keyboxhq/keybox/internal/cache"
	"github.com/keyboxhq/keybox/internal/config"
	"github.com/keyboxhq/keybox/internal/database"
	"github.com/keyboxhq/keybox/internal/logger"
	"github.com/keyboxhq/keybox/internal/observability"
	"github.com/keyboxhq/keybox/internal/store"
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

	logg := logger.New(&cfg.App).With(slog.String("plane", "admin"))
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

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------
	st := store.NewPostgresStore(pool)

	// Config validation already enforces a hash in production; an empty hash
	// outside production runs the API open for local development.
	skipAuth := cfg.Server.Admin.APIKeyHash == ""
	if skipAuth {
		logg.Warn("admin API authentication is DISABLED (no API key hash configured)")
	}

	api := adminapi.NewAPIWithConfig(st, st, st, redisCache, cfg.Server.Admin.APIKeyHash, skipAuth)

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
	adminCfg := cfg.Server.Admin
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", adminCfg.Host, adminCfg.Port),
		Handler:           api.Router,
		ReadTimeout:       adminCfg.ReadTimeout,
		WriteTimeout:      adminCfg.WriteTimeout,
		ReadHeaderTimeout: adminCfg.ReadHeaderTimeout,
		IdleTimeout:       adminCfg.IdleTimeout,
		MaxHeaderBytes:    adminCfg.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		logg.Info("starting admin plane server", slog.String("addr", server.Addr), slog.Bool("tls", adminCfg.TLSEnabled))

		var err error
		if adminCfg.TLSEnabled {
			err = server.ListenAndServeTLS(adminCfg.TLSCert, adminCfg.TLSKey)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("admin plane server failed: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logg.Info("shutdown signal received, stopping admin plane...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down admin plane server: %w", err)
	}
	if obs != nil {
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logg.Warn("failed to shut down observability server", slog.String("error", err.Error()))
		}
	}

	logg.Info("service exited successfully")
	return nil
}
