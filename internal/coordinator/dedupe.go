package coordinator

import (
	"sync"
	"time"
)

// dedupeCache is a TTL set over message IDs with a hard entry cap. Webhook
// retries and reconnect replays deliver the same message more than once;
// the first sighting wins.
type dedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]time.Time
	now     func() time.Time
}

func newDedupeCache(ttl time.Duration, max int) *dedupeCache {
	return &dedupeCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// IsDuplicate records key and reports whether it was already seen inside the
// TTL window.
func (c *dedupeCache) IsDuplicate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if seen, ok := c.entries[key]; ok && now.Sub(seen) < c.ttl {
		return true
	}

	if len(c.entries) >= c.max {
		c.evictLocked(now)
	}
	c.entries[key] = now
	return false
}

// evictLocked drops expired entries, then oldest entries if still at cap.
func (c *dedupeCache) evictLocked(now time.Time) {
	for k, seen := range c.entries {
		if now.Sub(seen) >= c.ttl {
			delete(c.entries, k)
		}
	}
	for len(c.entries) >= c.max {
		var oldestKey string
		var oldest time.Time
		for k, seen := range c.entries {
			if oldestKey == "" || seen.Before(oldest) {
				oldestKey, oldest = k, seen
			}
		}
		delete(c.entries, oldestKey)
	}
}
