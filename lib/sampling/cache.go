// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sampling

import (
	"sort"
	"time"
)

// Entry is one entity's slot in a Cache: the raw counters of its most
// recent reading, when that reading was taken, and the record computed
// from it. Raw is never modified after it is stored.
type Entry[R, V any] struct {
	Raw     R
	Sampled time.Time
	Record  V
}

// Cache maps entity identity to its latest Entry. It is not safe for
// concurrent use; each sampler guards its cache with its own lock.
type Cache[K comparable, R, V any] struct {
	entries map[K]Entry[R, V]
	open    bool
}

// NewCache returns an empty cache.
func NewCache[K comparable, R, V any]() *Cache[K, R, V] {
	return &Cache[K, R, V]{entries: make(map[K]Entry[R, V])}
}

// Generation is an in-progress refresh of a Cache. Previous entries
// are taken out as their entities are observed again; new entries are
// put into the next map. Exactly one Generation may be open at a time.
type Generation[K comparable, R, V any] struct {
	cache    *Cache[K, R, V]
	previous map[K]Entry[R, V]
	taken    map[K]struct{}
	next     map[K]Entry[R, V]
}

// Begin takes every entry out of the cache into a new Generation. The
// cache reads as empty until Commit or Abort. Begin panics if a
// Generation is already open.
func (c *Cache[K, R, V]) Begin() *Generation[K, R, V] {
	if c.open {
		panic("sampling: Begin called while a generation is open")
	}
	c.open = true
	previous := c.entries
	c.entries = make(map[K]Entry[R, V])
	return &Generation[K, R, V]{
		cache:    c,
		previous: previous,
		taken:    make(map[K]struct{}, len(previous)),
		next:     make(map[K]Entry[R, V], len(previous)),
	}
}

// Take removes and returns the previous entry for key. The second
// result is false for an entity that was not in the cache before this
// refresh (cold start), or that was already taken.
func (g *Generation[K, R, V]) Take(key K) (Entry[R, V], bool) {
	if _, done := g.taken[key]; done {
		return Entry[R, V]{}, false
	}
	entry, ok := g.previous[key]
	if ok {
		g.taken[key] = struct{}{}
	}
	return entry, ok
}

// Put stores the entry for key in the next generation.
func (g *Generation[K, R, V]) Put(key K, entry Entry[R, V]) {
	g.next[key] = entry
}

// Keep carries the previous entry for key into the next generation
// unchanged. Used when an entity is still present but its counters
// could not be read this pass. Returns false if there was no previous
// entry.
func (g *Generation[K, R, V]) Keep(key K) bool {
	entry, ok := g.Take(key)
	if ok {
		g.next[key] = entry
	}
	return ok
}

// Commit publishes the next generation and discards every previous
// entry that was not taken. Returns the number of entries discarded.
func (g *Generation[K, R, V]) Commit() int {
	dropped := len(g.previous) - len(g.taken)
	g.cache.entries = g.next
	g.finish()
	return dropped
}

// Abort restores the cache to its state before Begin. Everything Put
// in this generation is thrown away.
func (g *Generation[K, R, V]) Abort() {
	g.cache.entries = g.previous
	g.finish()
}

func (g *Generation[K, R, V]) finish() {
	g.cache.open = false
	g.previous, g.taken, g.next = nil, nil, nil
}

// Len returns the number of cached entities.
func (c *Cache[K, R, V]) Len() int { return len(c.entries) }

// Get returns the entry for key.
func (c *Cache[K, R, V]) Get(key K) (Entry[R, V], bool) {
	entry, ok := c.entries[key]
	return entry, ok
}

// Mutate applies fn to the record stored for key in place. Returns
// false if key is not cached. The raw counters are not reachable from
// fn and stay as sampled.
func (c *Cache[K, R, V]) Mutate(key K, fn func(record *V)) bool {
	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	fn(&entry.Record)
	c.entries[key] = entry
	return true
}

// Range calls fn for every entry until fn returns false. Iteration
// order is unspecified.
func (c *Cache[K, R, V]) Range(fn func(key K, entry Entry[R, V]) bool) {
	for key, entry := range c.entries {
		if !fn(key, entry) {
			return
		}
	}
}

// Records returns a copy of every cached record, ordered by less.
func (c *Cache[K, R, V]) Records(less func(a, b V) bool) []V {
	records := make([]V, 0, len(c.entries))
	for _, entry := range c.entries {
		records = append(records, entry.Record)
	}
	if less != nil {
		sort.Slice(records, func(i, j int) bool { return less(records[i], records[j]) })
	}
	return records
}
