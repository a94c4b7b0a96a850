package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keyboxhq/keybox/internal/store"
	"github.com/keyboxhq/keybox/internal/validation"
)

// KeyPrefix is the namespace used for all package snapshot keys in Redis.
// Example: "pkg:summer-launch"
const KeyPrefix = "pkg"

// InvalidationChannel carries short codes of packages mutated by the admin
// plane so unlock instances can drop their L1 entries.
const InvalidationChannel = "keybox:pkg:invalidate"

// ErrMiss is returned by GetSnapshot when the key is absent.
var ErrMiss = errors.New("cache: miss")

// Service defines the L2 cache operations used by the unlock plane, the
// admin plane (invalidation publish), and the reconciler (warm).
type Service interface {
	// GetSnapshot fetches a package snapshot by short code.
	// Returns ErrMiss when the key is not cached.
	GetSnapshot(ctx context.Context, shortCode string) (*store.PackageSnapshot, error)

	// SetSnapshot stores a package snapshot under its short code.
	SetSnapshot(ctx context.Context, snap *store.PackageSnapshot, ttl time.Duration) error

	// DeleteSnapshot drops a cached snapshot.
	DeleteSnapshot(ctx context.Context, shortCode string) error

	// PublishInvalidation notifies subscribed unlock instances that a
	// package changed.
	PublishInvalidation(ctx context.Context, shortCode string) error

	// SubscribeInvalidations invokes fn for every invalidated short code
	// until the context is cancelled. Blocking; run in a goroutine.
	SubscribeInvalidations(ctx context.Context, fn func(shortCode string)) error

	// HealthCheck pings the redis server to ensure connectivity.
	HealthCheck(ctx context.Context) error

	// Close terminates the connection.
	Close() error
}

// Compile-time check.
var _ Service = (*RedisCache)(nil)

// RedisCache implements Service using the go-redis library.
// Snapshots are stored as JSON strings with a TTL.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an initialized Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	validation.AssertNotNil(client, "redis client")
	return &RedisCache{client: client}
}

func snapshotKey(shortCode string) string {
	return fmt.Sprintf("%s:%s", KeyPrefix, shortCode)
}

// GetSnapshot fetches and deserializes a snapshot.
func (c *RedisCache) GetSnapshot(ctx context.Context, shortCode string) (*store.PackageSnapshot, error) {
	raw, err := c.client.Get(ctx, snapshotKey(shortCode)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to get snapshot %q: %w", shortCode, err)
	}

	var snap store.PackageSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %q: %w", shortCode, err)
	}
	return &snap, nil
}

// SetSnapshot serializes and stores a snapshot with the given TTL.
// A zero TTL persists the key until the next warm or invalidation.
func (c *RedisCache) SetSnapshot(ctx context.Context, snap *store.PackageSnapshot, ttl time.Duration) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %q: %w", snap.Package.ShortCode, err)
	}

	if err := c.client.Set(ctx, snapshotKey(snap.Package.ShortCode), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot %q: %w", snap.Package.ShortCode, err)
	}
	return nil
}

// DeleteSnapshot removes the cached snapshot.
func (c *RedisCache) DeleteSnapshot(ctx context.Context, shortCode string) error {
	if err := c.client.Del(ctx, snapshotKey(shortCode)).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot %q: %w", shortCode, err)
	}
	return nil
}

// PublishInvalidation announces a package mutation on the invalidation channel.
func (c *RedisCache) PublishInvalidation(ctx context.Context, shortCode string) error {
	if err := c.client.Publish(ctx, InvalidationChannel, shortCode).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation for %q: %w", shortCode, err)
	}
	return nil
}

// SubscribeInvalidations consumes the invalidation channel until ctx ends.
func (c *RedisCache) SubscribeInvalidations(ctx context.Context, fn func(shortCode string)) error {
	sub := c.client.Subscribe(ctx, InvalidationChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("invalidation channel closed")
			}
			fn(msg.Payload)
		}
	}
}

// HealthCheck verifies the connection to the Redis server.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
