package generators

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"

	"github.com/choco2105/magic-reading/internal/interfaces"
)

// CacheEntry is one memoized provider result
type CacheEntry struct {
	Key          string
	Image        interfaces.ProviderImage
	CreatedAt    time.Time
	LastAccessed time.Time
	Hits         int
}

// CacheStats holds statistics about cache performance
type CacheStats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
	TotalEntries int     `json:"total_entries"`
}

// MaxImageCacheTTL bounds how long a provider URL is reused. Paid image URLs
// are signed and expire after about an hour.
const MaxImageCacheTTL = 50 * time.Minute

// ImageCache memoizes a provider's successful images by prompt.
// A cached hit is reported at zero cost since nothing was paid for it.
type ImageCache struct {
	provider   interfaces.ImageProvider
	entries    map[string]*CacheEntry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	mu         sync.RWMutex
	stats      CacheStats
}

// NewImageCache wraps provider with a bounded in-memory cache. ttl is clamped
// to (0, MaxImageCacheTTL].
func NewImageCache(provider interfaces.ImageProvider, maxEntries int, ttl time.Duration) *ImageCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if ttl <= 0 || ttl > MaxImageCacheTTL {
		ttl = MaxImageCacheTTL
	}
	return &ImageCache{
		provider:   provider,
		entries:    make(map[string]*CacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (c *ImageCache) Name() string { return c.provider.Name() }

func (c *ImageCache) RequestImage(ctx context.Context, prompt string) (*interfaces.ProviderImage, error) {
	key := GenerateCacheKey(c.provider.Name(), prompt)
	if img, ok := c.get(key); ok {
		return img, nil
	}

	img, err := c.provider.RequestImage(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if img != nil && img.URL != "" {
		c.put(key, *img)
	}
	return img, nil
}

func (c *ImageCache) get(key string) (*interfaces.ProviderImage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if ok && c.now().Sub(entry.CreatedAt) >= c.ttl {
		delete(c.entries, key)
		ok = false
	}
	if !ok {
		c.stats.Misses++
		c.updateHitRate()
		return nil, false
	}

	entry.LastAccessed = c.now()
	entry.Hits++
	c.stats.Hits++
	c.updateHitRate()

	img := entry.Image
	img.Cost = 0
	return &img, true
}

func (c *ImageCache) put(key string, img interfaces.ProviderImage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	now := c.now()
	c.entries[key] = &CacheEntry{Key: key, Image: img, CreatedAt: now, LastAccessed: now}
}

// GetStats returns a copy of the cache statistics
func (c *ImageCache) GetStats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.TotalEntries = len(c.entries)
	return s
}

// evictOldest drops the least recently accessed entry; callers hold mu
func (c *ImageCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.LastAccessed.Before(oldest) {
			oldestKey = key
			oldest = entry.LastAccessed
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *ImageCache) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}

// GenerateCacheKey derives a stable key from provider and prompt
func GenerateCacheKey(provider, prompt string) string {
	sum := md5.Sum([]byte(provider + "\x00" + prompt))
	return hex.EncodeToString(sum[:])
}
