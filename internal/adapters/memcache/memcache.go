// Package memcache is the process-local cache tier in front of the durable
// score cache. Entries live for a bounded TTL inside a bounded map; anything
// older or beyond capacity is evicted. The tier may lag the durable store by
// at most its TTL, which readers accept by design of the read path.
package memcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mireles/canonry/internal/adapters/repository"
	"github.com/mireles/canonry/pkg/metrics"
)

// Default cache configuration constants.
const (
	defaultTTL        = 30 * time.Minute
	defaultMaxEntries = 1024
)

type entry struct {
	value    repository.Entry
	storedAt time.Time
}

// Cache is a thread-safe TTL map keyed by (partition key, configuration id).
type Cache struct {
	mu         sync.Mutex
	data       map[string]entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time // injectable for deterministic tests

	hits      int64
	misses    int64
	evictions int64
}

// Stats is a point-in-time snapshot of cache behaviour.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Option applies a configuration option to the Cache.
type Option func(*Cache)

// WithTTL sets how long an entry stays readable after Put.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithMaxEntries bounds the number of entries held at once.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Cache with the given options.
func New(opts ...Option) *Cache {
	c := &Cache{
		data:       make(map[string]entry),
		ttl:        defaultTTL,
		maxEntries: defaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(partitionKey string, configID int64) string {
	return fmt.Sprintf("%s|%d", partitionKey, configID)
}

// Put stores or replaces the entry for the key. When the cache is full the
// oldest entry makes room.
func (c *Cache) Put(partitionKey string, configID int64, value repository.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(partitionKey, configID)
	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.data[key] = entry{value: value, storedAt: c.now()}
	metrics.UpdateMemoryEntryCount(len(c.data))
}

// Get returns the cached entry for the key. Entries past their TTL count as
// misses and are dropped on the spot.
func (c *Cache) Get(partitionKey string, configID int64) (repository.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(partitionKey, configID)
	e, ok := c.data[key]
	if !ok {
		c.misses++
		return repository.Entry{}, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.data, key)
		c.evictions++
		c.misses++
		metrics.RecordMemoryEviction()
		metrics.UpdateMemoryEntryCount(len(c.data))
		return repository.Entry{}, false
	}

	c.hits++
	return e.value, true
}

// Invalidate drops the entry for the key, if present.
func (c *Cache) Invalidate(partitionKey string, configID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, cacheKey(partitionKey, configID))
	metrics.UpdateMemoryEntryCount(len(c.data))
}

// Len returns the number of entries currently held, including not yet
// evicted expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.data),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Evict removes entries stored before now minus TTL and returns how many
// went.
func (c *Cache) Evict(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-c.ttl)
	removed := 0
	for key, e := range c.data {
		if !e.storedAt.After(cutoff) {
			delete(c.data, key)
			removed++
		}
	}
	if removed > 0 {
		c.evictions += int64(removed)
		for i := 0; i < removed; i++ {
			metrics.RecordMemoryEviction()
		}
		metrics.UpdateMemoryEntryCount(len(c.data))
	}
	return removed
}

// evictOldestLocked drops the entry with the earliest storedAt. Callers hold
// the mutex.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for key, e := range c.data {
		if oldestKey == "" || e.storedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.data, oldestKey)
		c.evictions++
		metrics.RecordMemoryEviction()
	}
}

// Run blocks, evicting expired entries at half the TTL interval (minimum one
// second) until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			c.Evict(now)
		}
	}
}
