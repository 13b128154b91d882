// Package querycache is a bounded, time-expiring cache for search results.
// Eviction is by insertion time: reading an entry does not refresh it.
package querycache

import (
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/pubsearch/internal/metrics"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type entry[V any] struct {
	value    V
	inserted time.Time
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	clock   Clock
	entries map[string]entry[V]
}

// New creates a cache holding at most maxEntries values for ttl each.
// maxEntries < 1 is treated as 1.
func New[V any](maxEntries int, ttl time.Duration, clock Clock) *Cache[V] {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache[V]{
		ttl:     ttl,
		max:     maxEntries,
		clock:   clock,
		entries: make(map[string]entry[V], maxEntries),
	}
}

// Get returns the value for key. An entry older than the TTL is removed and
// reported as absent.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		metrics.ObserveCacheLookup(false)
		return zero, false
	}
	if c.ttl > 0 && c.clock.Now().Sub(e.inserted) > c.ttl {
		delete(c.entries, key)
		metrics.ObserveCacheLookup(false)
		return zero, false
	}
	metrics.ObserveCacheLookup(true)
	return e.value, true
}

// Put stores value under key. Adding a new key to a full cache first evicts
// the entry with the oldest insertion time; replacing an existing key does
// not evict.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.max {
		c.evictOldest()
	}
	c.entries[key] = entry[V]{value: value, inserted: c.clock.Now()}
}

func (c *Cache[V]) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.inserted.Before(oldest) || (e.inserted.Equal(oldest) && k < oldestKey) {
			oldestKey, oldest, found = k, e.inserted, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Key normalizes the parts of a query signature: each part is trimmed and
// lowercased and the parts are joined with "|".
func Key(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = strings.ToLower(strings.Join(strings.Fields(p), " "))
	}
	return strings.Join(normalized, "|")
}
