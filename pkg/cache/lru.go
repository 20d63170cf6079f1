// Package cache provides the bounded LRU cache used throughout the
// core (spec §4.1): embedding cache, semantic query cache, and project
// handle caches all build on this type.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Stats reports cumulative counters for an LRU cache. A Stats value
// returned by Stats() is a consistent snapshot: it reflects the
// operations applied up to and including the call that produced it.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
}

// LRU is a concurrency-safe, capacity-bounded key-value store with
// least-recently-used eviction. All operations are serialized behind
// a single mutex so get/put/delete/stats never observe or produce a
// torn state: size never transiently exceeds capacity, and an entry
// is never visible in the index without being visible in the eviction
// order (spec §4.1 invariant).
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	inner    *lru.Cache[K, V]

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewLRU constructs a bounded LRU cache of the given capacity. Capacity
// must be positive.
func NewLRU[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	c := &LRU[K, V]{capacity: capacity}
	// onEvict runs synchronously inside the underlying cache's own
	// locked section; our mutex is already held by the caller (Put),
	// so we only touch the plain counter here, never re-enter inner.
	inner, err := lru.NewWithEvict[K, V](capacity, func(K, V) {
		c.evictions++
	})
	if err != nil {
		// Only returns an error for non-positive size, already guarded above.
		panic(err)
	}
	c.inner = inner
	return c
}

// Get looks up key, promoting it to most-recently-used on a hit.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.inner.Get(key)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Peek looks up key without affecting recency, for callers (the
// semantic query cache) that need to inspect a value before deciding
// whether the lookup counts as a hit.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Peek(key)
}

// Put inserts or updates key, evicting the least-recently-used entry
// if the cache is at capacity.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(key, value)
}

// Delete removes key if present.
func (c *LRU[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Remove(key)
}

// Clear empties the cache without affecting cumulative stats.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	evictions := c.evictions
	c.inner.Purge()
	c.evictions = evictions
}

// Keys returns a snapshot of keys in least-to-most-recently-used order.
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Keys()
}

// Len returns the current number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}

// Stats returns a consistent snapshot of cumulative counters.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.inner.Len(),
	}
}
