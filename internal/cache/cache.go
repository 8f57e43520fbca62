// Package cache is a read-through TTL cache for list and search responses.
// Entries are a disposable projection of the meeting store: every write path
// invalidates coarsely by key prefix, and anything dropped is rebuilt on the
// next read.
package cache

import (
	"strings"
	"sync"
	"time"
)

// Key prefixes shared by everything that reads or invalidates the cache.
// Invalidation is coarse: a write drops all list and search entries rather
// than tracking which records each cached result depends on.
const (
	ListPrefix   = "list:"
	SearchPrefix = "search:"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry

	// now is replaceable in tests.
	now func() time.Time
}

func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// GetOrCompute returns the cached value for key if present and unexpired.
// Otherwise it runs compute, stores the result with the given TTL, and
// returns it. A compute error is returned without caching anything.
func (c *Cache) GetOrCompute(key string, ttl time.Duration, compute func() (any, error)) (any, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	// Computed outside the lock: a slow store query must not block readers of
	// other keys. Concurrent misses on the same key may compute twice; the
	// last write wins, which is fine for a disposable projection.
	value, err := compute()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return value, nil
}

// Invalidate drops every entry whose key starts with any of the given
// prefixes.
func (c *Cache) Invalidate(prefixes ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		for _, p := range prefixes {
			if strings.HasPrefix(key, p) {
				delete(c.entries, key)
				break
			}
		}
	}
}

// Len reports the number of entries, expired or not. Used by tests and the
// health endpoint.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
