//go:build integration

package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyboxhq/keybox/internal/cache"
	"github.com/keyboxhq/keybox/internal/rules"
	"github.com/keyboxhq/keybox/internal/store"
	"github.com/keyboxhq/keybox/internal/testsupport"
)

// TestRedisCache_Integration verifies the L2 snapshot cache against a real
// Redis instance: storage format, TTL behavior, and the pubsub invalidation
// channel the unlock plane subscribes to.
func TestRedisCache_Integration(t *testing.T) {
	ctx := context.Background()

	redisCtr, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisCtr.Terminate(ctx)

	appCache := redisCtr.Cache

	// Spy client for side-channel verification of raw keys.
	endpoint, err := redisCtr.Container.PortEndpoint(ctx, "6379/tcp", "")
	require.NoError(t, err)

	spyClient := redis.NewClient(&redis.Options{Addr: endpoint})
	defer spyClient.Close()

	t.Run("Should round-trip a snapshot with its rules", func(t *testing.T) {
		quota := 7
		snap := &store.PackageSnapshot{
			Package: store.Package{
				ID:        42,
				ShortCode: "roundtrip",
				Name:      "Round Trip",
				Content:   "https://example.com/asset.zip",
				Quota:     &quota,
			},
			Rules: []rules.Rule{
				{ID: 1, Keywords: []string{"alpha", "beta"}, MatchMode: rules.MatchModeAnd},
			},
			RuleSource: store.RuleSourceStructured,
		}

		require.NoError(t, appCache.SetSnapshot(ctx, snap, time.Minute))

		got, err := appCache.GetSnapshot(ctx, "roundtrip")
		require.NoError(t, err)
		assert.Equal(t, int64(42), got.Package.ID)
		assert.Equal(t, "Round Trip", got.Package.Name)
		require.NotNil(t, got.Package.Quota)
		assert.Equal(t, 7, *got.Package.Quota)
		require.Len(t, got.Rules, 1)
		assert.Equal(t, []string{"alpha", "beta"}, got.Rules[0].Keywords)
		assert.Equal(t, store.RuleSourceStructured, got.RuleSource)

		// Side-channel: the key lives under the pkg: namespace as JSON.
		raw, err := spyClient.Get(ctx, "pkg:roundtrip").Result()
		require.NoError(t, err)
		assert.Contains(t, raw, `"short_code":"roundtrip"`)
	})

	t.Run("Should return ErrMiss for absent keys", func(t *testing.T) {
		_, err := appCache.GetSnapshot(ctx, "never-cached")
		assert.ErrorIs(t, err, cache.ErrMiss)
	})

	t.Run("Should miss after DeleteSnapshot", func(t *testing.T) {
		snap := &store.PackageSnapshot{
			Package:    store.Package{ShortCode: "deleted"},
			RuleSource: store.RuleSourceNone,
		}
		require.NoError(t, appCache.SetSnapshot(ctx, snap, time.Minute))
		require.NoError(t, appCache.DeleteSnapshot(ctx, "deleted"))

		_, err := appCache.GetSnapshot(ctx, "deleted")
		assert.ErrorIs(t, err, cache.ErrMiss)
	})

	t.Run("Should expire keys with a TTL and persist warm writes", func(t *testing.T) {
		ephemeral := &store.PackageSnapshot{
			Package:    store.Package{ShortCode: "ephemeral"},
			RuleSource: store.RuleSourceNone,
		}
		require.NoError(t, appCache.SetSnapshot(ctx, ephemeral, time.Second))

		require.Eventually(t, func() bool {
			_, err := appCache.GetSnapshot(ctx, "ephemeral")
			return err != nil
		}, 5*time.Second, 100*time.Millisecond, "TTL'd key must expire")

		// Zero TTL is the reconciler's warm write: no expiry.
		warm := &store.PackageSnapshot{
			Package:    store.Package{ShortCode: "warm"},
			RuleSource: store.RuleSourceNone,
		}
		require.NoError(t, appCache.SetSnapshot(ctx, warm, 0))

		ttl, err := spyClient.TTL(ctx, "pkg:warm").Result()
		require.NoError(t, err)
		assert.Equal(t, time.Duration(-1), ttl, "warm writes must not carry a TTL")
	})

	t.Run("Should deliver invalidations to subscribers", func(t *testing.T) {
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		var mu sync.Mutex
		var received []string

		go func() {
			_ = appCache.SubscribeInvalidations(subCtx, func(shortCode string) {
				mu.Lock()
				received = append(received, shortCode)
				mu.Unlock()
			})
		}()

		// Publish until the subscriber observes it; the subscription itself
		// needs a moment to establish, so a single publish can be lost.
		require.Eventually(t, func() bool {
			require.NoError(t, appCache.PublishInvalidation(ctx, "changed-pkg"))
			mu.Lock()
			defer mu.Unlock()
			return len(received) > 0
		}, 5*time.Second, 100*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Contains(t, received, "changed-pkg")
	})
}
