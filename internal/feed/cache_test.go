// internal/feed/cache_test.go
package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheLatestIsIdempotent(t *testing.T) {
	cache := NewPriceCache(16, time.Minute)
	point := PricePoint{
		TokenID:    "So11111111111111111111111111111111111111112",
		Value:      0.025,
		Source:     SourceWebSocketDerived,
		ObservedAt: time.Now(),
		Confidence: ConfidenceHigh,
	}
	cache.Put(point)

	first, ok := cache.Latest(point.TokenID)
	require.True(t, ok)
	second, ok := cache.Latest(point.TokenID)
	require.True(t, ok)
	assert.Equal(t, first, second)
	assert.Equal(t, point, first)
}

func TestCacheNewerPointSupersedes(t *testing.T) {
	cache := NewPriceCache(16, time.Minute)
	cache.Put(PricePoint{TokenID: "tok", Value: 1.0})
	cache.Put(PricePoint{TokenID: "tok", Value: 2.0})

	got, ok := cache.Latest("tok")
	require.True(t, ok)
	assert.Equal(t, 2.0, got.Value)
	assert.Equal(t, 1, cache.Len())
}

func TestCacheExpiresAfterRetention(t *testing.T) {
	cache := NewPriceCache(16, 30*time.Second)
	base := time.Now()
	current := base
	cache.now = func() time.Time { return current }

	cache.Put(PricePoint{TokenID: "tok", Value: 1.0})

	current = base.Add(29 * time.Second)
	_, ok := cache.Latest("tok")
	assert.True(t, ok)

	current = base.Add(31 * time.Second)
	_, ok = cache.Latest("tok")
	assert.False(t, ok)

	// Expired entry is evicted, not just hidden.
	assert.Equal(t, 0, cache.Len())
}

func TestCacheMissForUnknownToken(t *testing.T) {
	cache := NewPriceCache(16, time.Minute)
	_, ok := cache.Latest("never-seen")
	assert.False(t, ok)
}

func TestCacheIgnoresEmptyTokenID(t *testing.T) {
	cache := NewPriceCache(16, time.Minute)
	cache.Put(PricePoint{TokenID: "", Value: 1.0})
	assert.Equal(t, 0, cache.Len())
}

func TestCacheBoundedSize(t *testing.T) {
	cache := NewPriceCache(4, time.Minute)
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		cache.Put(PricePoint{TokenID: id, Value: 1.0})
	}
	assert.Equal(t, 4, cache.Len())

	// The oldest entries were evicted.
	_, ok := cache.Latest("a")
	assert.False(t, ok)
	_, ok = cache.Latest("f")
	assert.True(t, ok)
}
