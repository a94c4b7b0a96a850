// Package reconciler implements the background worker that repairs unlock
// counters against the event log and warms the unlock plane's snapshot cache.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/keyboxhq/keybox/internal/cache"
	"github.com/keyboxhq/keybox/internal/observability"
	"github.com/keyboxhq/keybox/internal/store"
)

// Repository is the slice of the store the reconciler depends on.
// Satisfied by *store.PostgresStore.
type Repository interface {
	// ReconcileUnlockCounts recomputes unlock_count from the event log and
	// returns the number of rows corrected.
	ReconcileUnlockCounts(ctx context.Context) (int64, error)

	// BuildAllSnapshots assembles a snapshot for every package.
	BuildAllSnapshots(ctx context.Context) ([]*store.PackageSnapshot, error)
}

// Config holds the configuration for the reconciler service.
type Config struct {
	// Interval is the duration between reconciliation cycles.
	Interval time.Duration

	// WarmCache pushes fresh snapshots to the L2 cache each cycle.
	WarmCache bool
}

// Service orchestrates the reconciliation loop.
type Service struct {
	logger *slog.Logger
	config Config
	repo   Repository
	cache  cache.Service
}

// New creates a new reconciler service. The cache may be nil when WarmCache
// is disabled.
func New(logger *slog.Logger, cfg Config, repo Repository, cacheSvc cache.Service) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	if repo == nil {
		panic("reconciler: repository cannot be nil")
	}
	if cfg.WarmCache && cacheSvc == nil {
		panic("reconciler: cache service cannot be nil when warming is enabled")
	}

	if cfg.Interval < time.Second {
		cfg.Interval = 60 * time.Second // Safe default
	}

	return &Service{
		logger: logger,
		config: cfg,
		repo:   repo,
		cache:  cacheSvc,
	}
}

// Run starts the reconciler loop. It blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting reconciler service",
		slog.String("interval", s.config.Interval.String()),
		slog.Bool("warm_cache", s.config.WarmCache),
	)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run once immediately on startup.
	if err := s.reconcile(ctx); err != nil {
		s.logger.Error("initial reconciliation failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciler service stopping...")
			return nil
		case <-ticker.C:
			if err := s.reconcile(ctx); err != nil {
				// Log and retry on the next tick; the worker never stops itself.
				s.logger.Error("reconciliation cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// reconcile performs a single cycle: counter repair, then cache warm.
func (s *Service) reconcile(ctx context.Context) error {
	start := time.Now()

	corrected, err := s.repo.ReconcileUnlockCounts(ctx)
	if err != nil {
		observability.ReconcilerCyclesTotal.WithLabelValues("fail").Inc()
		return err
	}
	observability.ReconcilerCountersCorrected.Add(float64(corrected))

	if corrected > 0 {
		// Drift is expected under concurrency but worth watching: a steadily
		// climbing correction count means the transactional increment path
		// is being bypassed somewhere.
		s.logger.Warn("unlock counters corrected", slog.Int64("count", corrected))
	}

	warmed := 0
	errorCount := 0

	if s.config.WarmCache {
		snaps, err := s.repo.BuildAllSnapshots(ctx)
		if err != nil {
			observability.ReconcilerCyclesTotal.WithLabelValues("fail").Inc()
			return err
		}

		for _, snap := range snaps {
			// Zero TTL: the key lives until the next warm or an invalidation.
			if err := s.cache.SetSnapshot(ctx, snap, 0); err != nil {
				s.logger.Warn("failed to warm snapshot",
					slog.String("code", snap.Package.ShortCode),
					slog.String("error", err.Error()),
				)
				errorCount++
				continue // Try the next package, don't abort the batch
			}
			warmed++
		}
		observability.ReconcilerSnapshotsWarmed.Add(float64(warmed))
	}

	observability.ReconcilerCyclesTotal.WithLabelValues("success").Inc()
	observability.ReconcilerCycleDuration.Observe(time.Since(start).Seconds())

	if corrected > 0 || warmed > 0 || errorCount > 0 {
		s.logger.Info("reconciliation cycle completed",
			slog.Int64("counters_corrected", corrected),
			slog.Int("snapshots_warmed", warmed),
			slog.Int("errors", errorCount),
			slog.String("duration", time.Since(start).String()),
		)
	}
	return nil
}
