package report

import (
	"sync"
	"time"
)

// CacheKey is the tuple spec.md §4.9 caches on.
type CacheKey struct {
	Timeframe      Timeframe
	Format         Format
	IncludeDetails bool
}

type cacheEntry struct {
	report  Report
	cacheAt time.Time
}

// Cache is a process-local, mutex-guarded report cache with a fixed TTL.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[CacheKey]cacheEntry
}

// NewCache returns an empty cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, entries: make(map[CacheKey]cacheEntry)}
}

// Get returns the cached report for key if present and not expired as of
// now.
func (c *Cache) Get(key CacheKey, now time.Time) (Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || now.Sub(entry.cacheAt) >= c.ttl {
		return Report{}, false
	}
	return entry.report, true
}

// Set stores rpt under key, timestamped at now.
func (c *Cache) Set(key CacheKey, rpt Report, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{report: rpt, cacheAt: now}
}

// Clear empties the cache. Called on config reload.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[CacheKey]cacheEntry)
}
