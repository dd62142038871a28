// Package cache provides a small thread-safe TTL cache used for booking lookups.
package cache

import (
	"context"
	"sync"
	"time"
)

type item[V any] struct {
	value      V
	expiration int64
}

func (i item[V]) expired(now int64) bool {
	return i.expiration > 0 && now > i.expiration
}

// Cache is a thread-safe in-memory cache with expiration
type Cache[V any] struct {
	mu                sync.RWMutex
	items             map[string]item[V]
	defaultExpiration time.Duration
	maxItems          int
	now               func() time.Time
}

// New creates a cache whose entries expire after ttl. maxItems <= 0 means unbounded.
func New[V any](ttl time.Duration, maxItems int) *Cache[V] {
	return &Cache[V]{
		items:             make(map[string]item[V]),
		defaultExpiration: ttl,
		maxItems:          maxItems,
		now:               time.Now,
	}
}

// Set adds an item to the cache with the default expiration
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithExpiration(key, value, c.defaultExpiration)
}

// SetWithExpiration adds an item to the cache with a specific expiration time
func (c *Cache[V]) SetWithExpiration(key string, value V, d time.Duration) {
	var exp int64
	if d > 0 {
		exp = c.now().Add(d).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxItems > 0 && len(c.items) >= c.maxItems {
		c.evictOldest()
	}

	c.items[key] = item[V]{value: value, expiration: exp}
}

// Get retrieves an item from the cache
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, found := c.items[key]
	if !found || it.expired(c.now().UnixNano()) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Delete removes an item from the cache
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Count returns the number of items in the cache (including expired items)
func (c *Cache[V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Run purges expired entries every interval until ctx is done
func (c *Cache[V]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.deleteExpired()
		}
	}
}

func (c *Cache[V]) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UnixNano()
	for k, v := range c.items {
		if v.expired(now) {
			delete(c.items, k)
		}
	}
}

// evictOldest removes the entry closest to expiring. Caller holds the lock.
func (c *Cache[V]) evictOldest() {
	var oldestKey string
	var oldest int64
	first := true
	for k, v := range c.items {
		if first || v.expiration < oldest {
			oldestKey, oldest, first = k, v.expiration, false
		}
	}
	if !first {
		delete(c.items, oldestKey)
	}
}
