package observability

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// --- Postgres Probe ---

type postgresChecker struct {
	pool *pgxpool.Pool
}

// NewPostgresChecker creates a health checker for a pgx connection pool.
func NewPostgresChecker(pool *pgxpool.Pool) Checker {
	return &postgresChecker{pool: pool}
}

func (p *postgresChecker) Name() string {
	return "database"
}

func (p *postgresChecker) Check(ctx context.Context) error {
	// Strict timeout so a slow pool cannot stall the whole readiness check.
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.pool.Ping(ctx)
}

// --- Redis Probe ---

type redisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a health checker for a go-redis client.
func NewRedisChecker(client *redis.Client) Checker {
	return &redisChecker{client: client}
}

func (r *redisChecker) Name() string {
	return "redis"
}

func (r *redisChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}
