// Package cache provides a small generic in-memory cache with per-entry
// expiry.
//
// Used for consultation lookups: every join, chat send and room status
// request needs the consultation's parties, and those change rarely.
//
// Expiry is checked on read, so a stale entry is never returned. Physical
// removal from the map is left to a background goroutine; Close stops it.
// Reads take only the read lock.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is safe for concurrent use. K and V are fixed at construction:
//
//	c := cache.New[string, models.Consultation](time.Minute, 5*time.Minute)
//	c.Set("c1", consultation)
//	v, ok := c.Get("c1")
type TTLCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
	ttl     time.Duration

	// stopCleanup is closed by Close to end the eviction goroutine.
	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// New creates a cache whose entries live for ttl and starts the eviction loop.
//
// cleanupInterval is separate from ttl because Get already hides expired
// entries; the loop only reclaims memory. Keys that are written once and
// never read again would otherwise stay in the map for the process
// lifetime. Keep cleanupInterval at or below a few multiples of ttl so the
// map does not grow much past the live set.
func New[K comparable, V any](ttl, cleanupInterval time.Duration) *TTLCache[K, V] {
	c := &TTLCache[K, V]{
		entries:     make(map[K]entry[V]),
		ttl:         ttl,
		stopCleanup: make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.evictExpired()
			case <-c.stopCleanup:
				return
			}
		}
	}()

	return c
}

// Get returns the value for key if present and not expired.
//
// An expired entry is reported as a miss but left in place for the
// eviction loop, so Get never needs the write lock.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Delete drops key before it expires.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// Len counts stored entries, including expired ones not yet evicted.
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Close stops the eviction loop. Call it when the cache is discarded or
// the goroutine leaks. Safe to call more than once.
func (c *TTLCache[K, V]) Close() {
	c.closeOnce.Do(func() { close(c.stopCleanup) })
}

// evictExpired removes expired entries from the map. Called by the
// eviction loop only.
func (c *TTLCache[K, V]) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}
