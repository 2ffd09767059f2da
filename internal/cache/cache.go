package cache

import (
	"context"
	"sync"
	"time"

	"portfolioproxy/internal/metrics"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is an in-memory expiring key-value store.
// Entries are never evicted by size; expiry is checked lazily on Get and by a periodic sweep.
type TTL[V any] struct {
	name    string
	entries map[string]entry[V]
	mutex   sync.RWMutex
	now     func() time.Time
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a cache whose expired entries are swept every sweep interval.
// A zero sweep disables the background goroutine.
func New[V any](name string, sweep time.Duration) *TTL[V] {
	ctx, cancel := context.WithCancel(context.Background())
	c := &TTL[V]{
		name:    name,
		entries: make(map[string]entry[V]),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}

	if sweep > 0 {
		go c.cleanup(sweep)
	}

	return c
}

// Close stops the sweep goroutine
func (c *TTL[V]) Close() {
	c.cancel()
}

// Get returns the value for key. Expired entries count as absent and are evicted.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mutex.RLock()
	e, exists := c.entries[key]
	c.mutex.RUnlock()

	var zero V
	if !exists {
		metrics.RecordCacheMiss(c.name)
		return zero, false
	}

	if !c.now().Before(e.expiresAt) {
		c.mutex.Lock()
		// re-check: a concurrent Set may have refreshed the entry
		if cur, ok := c.entries[key]; ok && !c.now().Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mutex.Unlock()
		metrics.RecordCacheMiss(c.name)
		return zero, false
	}

	metrics.RecordCacheHit(c.name)
	return e.value, true
}

// Set stores value under key for ttl, overwriting any previous entry
func (c *TTL[V]) Set(key string, value V, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
}

// Delete removes key from the cache
func (c *TTL[V]) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, key)
}

func (c *TTL[V]) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *TTL[V]) removeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// Size returns the number of stored entries, expired or not
func (c *TTL[V]) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

// Clear removes every entry
func (c *TTL[V]) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = make(map[string]entry[V])
}
