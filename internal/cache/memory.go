package cache

import (
	"time"

	"github.com/maypok86/otter"

	"github.com/keyboxhq/keybox/internal/store"
)

// MemoryCache is the L1 caching layer for package snapshots, backed by the
// contention-free S3-FIFO implementation in the 'otter' library.
type MemoryCache struct {
	store otter.Cache[string, *store.PackageSnapshot]
}

// NewMemoryCache initializes the in-memory cache with strict limits.
// capacity: max number of snapshots (hard cap to prevent OOM).
// ttl: time-to-live, the staleness bound for eventual consistency.
func NewMemoryCache(capacity int, ttl time.Duration) (*MemoryCache, error) {
	cache, err := otter.MustBuilder[string, *store.PackageSnapshot](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}

	return &MemoryCache{store: cache}, nil
}

// Get retrieves a snapshot from memory.
func (c *MemoryCache) Get(shortCode string) (*store.PackageSnapshot, bool) {
	return c.store.Get(shortCode)
}

// Set adds or updates a snapshot. The configured TTL applies automatically.
func (c *MemoryCache) Set(shortCode string, snap *store.PackageSnapshot) {
	c.store.Set(shortCode, snap)
}

// Del removes a snapshot. Called by the invalidation subscriber when the
// admin plane mutates a package.
func (c *MemoryCache) Del(shortCode string) {
	c.store.Delete(shortCode)
}

// Close shuts down the cache and its background cleanup goroutines.
func (c *MemoryCache) Close() {
	c.store.Close()
}
