// internal/feed/cache.go
package feed

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultCacheSize    = 1024
	DefaultRetentionTTL = 30 * time.Second
)

type cacheEntry struct {
	point    PricePoint
	storedAt time.Time
}

// PriceCache holds the latest PricePoint per token with a bounded size and
// a retention window. The feed is the only writer; readers always get
// copies. A point older than the retention TTL is treated as absent and
// evicted on read.
type PriceCache struct {
	ttl   time.Duration
	mu    sync.RWMutex
	store *lru.Cache[string, cacheEntry]
	now   func() time.Time
}

// NewPriceCache builds a cache with the given capacity and retention TTL;
// zero values fall back to defaults.
func NewPriceCache(size int, ttl time.Duration) *PriceCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultRetentionTTL
	}
	store, _ := lru.New[string, cacheEntry](size)
	return &PriceCache{
		ttl:   ttl,
		store: store,
		now:   time.Now,
	}
}

// Put stores a new point, superseding any previous one for the token.
func (c *PriceCache) Put(point PricePoint) {
	if point.TokenID == "" {
		return
	}
	c.mu.Lock()
	c.store.Add(point.TokenID, cacheEntry{point: point, storedAt: c.now()})
	c.mu.Unlock()
}

// Latest returns the current point for a token, or false if none exists
// or the retention window has passed. Two calls without an intervening
// update return the identical point.
func (c *PriceCache) Latest(tokenID string) (PricePoint, bool) {
	c.mu.RLock()
	entry, ok := c.store.Get(tokenID)
	c.mu.RUnlock()
	if !ok {
		return PricePoint{}, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		c.mu.Lock()
		c.store.Remove(tokenID)
		c.mu.Unlock()
		return PricePoint{}, false
	}
	return entry.point, true
}

// Len reports how many tokens currently have a cached point, including
// not-yet-evicted expired ones.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Len()
}
