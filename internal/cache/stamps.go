// Package cache provides small in-memory caches keyed by string.
package cache

import (
	"sync"
	"time"
)

// StampCache remembers the last time each key was seen and forgets keys whose
// stamp is older than the TTL. Expiry only happens on Prune.
type StampCache struct {
	mu      sync.Mutex
	stamps  map[string]time.Time
	ttl     time.Duration
	maxSize int
}

// StampCacheOptions configures the cache.
type StampCacheOptions struct {
	// TTL is how long a stamp survives a Prune. Zero keeps stamps until removed.
	TTL time.Duration
	// MaxSize caps the number of keys; the oldest stamps are dropped first.
	// Zero means unbounded.
	MaxSize int
}

// NewStampCache creates a new stamp cache.
func NewStampCache(opts StampCacheOptions) *StampCache {
	ttl := opts.TTL
	if ttl < 0 {
		ttl = 0
	}
	maxSize := opts.MaxSize
	if maxSize < 0 {
		maxSize = 0
	}
	return &StampCache{
		stamps:  make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Touch records key as seen at the given time.
func (c *StampCache) Touch(key string, at time.Time) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stamps[key] = at
	c.enforceMaxSize()
}

// SeenWithin reports whether key was stamped less than window before now.
func (c *StampCache) SeenWithin(key string, now time.Time, window time.Duration) bool {
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ok := c.stamps[key]
	if !ok {
		return false
	}
	return now.Sub(at) < window
}

// Prune removes stamps older than the TTL relative to now and returns how
// many were removed.
func (c *StampCache) Prune(now time.Time) int {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, at := range c.stamps {
		if now.Sub(at) > c.ttl {
			delete(c.stamps, key)
			removed++
		}
	}
	return removed
}

func (c *StampCache) enforceMaxSize() {
	if c.maxSize <= 0 {
		return
	}
	for len(c.stamps) > c.maxSize {
		var oldestKey string
		var oldest time.Time
		for k, at := range c.stamps {
			if oldestKey == "" || at.Before(oldest) {
				oldestKey = k
				oldest = at
			}
		}
		delete(c.stamps, oldestKey)
	}
}

// Remove removes a specific key.
func (c *StampCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stamps, key)
}

// Clear removes all entries.
func (c *StampCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stamps = make(map[string]time.Time)
}

// Size returns current number of entries.
func (c *StampCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stamps)
}
