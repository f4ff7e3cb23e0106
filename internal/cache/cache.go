package cache

// Package cache wraps an expiring LRU for hot read paths. The engine uses it
// to memoize threshold-policy resolution: policies are admin-managed and
// rarely mutated, while every promotion evaluation resolves one, so a short
// TTL plus explicit invalidation on upsert keeps reads off the database
// without ever serving a stale row for long.

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Stats reports cache effectiveness since start.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// Cache is a bounded, expiring LRU with hit/miss accounting.
type Cache[K comparable, V any] struct {
	lru    *expirable.LRU[K, V]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// New builds a cache holding at most size entries, each expiring ttl after
// insertion. size <= 0 falls back to 128, ttl <= 0 to five minutes.
func New[K comparable, V any](size int, ttl time.Duration) *Cache[K, V] {
	if size <= 0 {
		size = 128
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache[K, V]{
		lru: expirable.NewLRU[K, V](size, nil, ttl),
	}
}

// Get returns the cached value and whether it was present and unexpired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Add stores a value, evicting the least recently used entry when full.
func (c *Cache[K, V]) Add(key K, value V) {
	c.lru.Add(key, value)
}

// Remove drops one key.
func (c *Cache[K, V]) Remove(key K) {
	c.lru.Remove(key)
}

// Purge drops every entry. Called after any policy mutation: correctness
// beats hit rate on a path this rare.
func (c *Cache[K, V]) Purge() {
	c.lru.Purge()
}

// Len returns the current entry count.
func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}

// Stats returns accumulated hit/miss counts and the current size.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.lru.Len(),
	}
}
