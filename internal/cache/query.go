package cache

import (
	"sync"
	"time"

	"github.com/agentmem/retrieval-core/internal/events"
	"github.com/agentmem/retrieval-core/internal/model"
)

type queryEntry struct {
	value     any
	expiresAt time.Time
}

// QueryCache is an optional TTL cache of full request responses keyed by
// a stable hash of the normalized request. When full it evicts the oldest
// inserted key; reads do not refresh a key's position. Any write event invalidates
// the whole cache: a fine-grained per-entry invalidation scheme would need
// to know which cached responses an entry could have appeared in, which
// the response shape doesn't track, so a global flush on write is the
// correct blunt instrument here.
type QueryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	items   map[string]queryEntry
	order   []string
}

// NewQueryCache builds a QueryCache of the given capacity/TTL.
func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	return &QueryCache{maxSize: maxSize, ttl: ttl, items: make(map[string]queryEntry)}
}

// Get returns the cached value for key, if present and unexpired.
func (c *QueryCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with this cache's TTL.
func (c *QueryCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		if c.maxSize > 0 && len(c.order) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.items, oldest)
		}
		c.order = append(c.order, key)
	}
	c.items[key] = queryEntry{value: value, expiresAt: time.Now().Add(c.ttl)}
}

// Flush drops every cached entry.
func (c *QueryCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]queryEntry)
	c.order = c.order[:0]
}

// Len reports the number of cached entries.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Subscribe registers this cache on bus so any write event flushes it.
func (c *QueryCache) Subscribe(bus *events.Bus) events.Token {
	return bus.Subscribe(func(_ model.ChangeEvent) error {
		c.Flush()
		return nil
	})
}
