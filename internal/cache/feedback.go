package cache

import (
	"sync"
	"time"

	"github.com/agentmem/retrieval-core/internal/events"
	"github.com/agentmem/retrieval-core/internal/model"
)

// FeedbackLoader fetches the feedback rollup for one (kind, id) on a cache
// miss. store.DB.FeedbackFor satisfies this.
type FeedbackLoader func(kind model.Kind, id string) (model.FeedbackScore, error)

type feedbackEntry struct {
	score     model.FeedbackScore
	expiresAt time.Time
}

// FeedbackCache is a read-through, TTL-bounded cache of feedback rollups,
// keyed by (kind, entryID), invalidated per-entry on entry_changed events.
// Capacity eviction is FIFO, the same bounded-map idiom as the HyDE and
// embedding caches.
type FeedbackCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	items   map[string]feedbackEntry
	order   []string
	load    FeedbackLoader
}

// NewFeedbackCache builds a FeedbackCache of the given capacity/TTL,
// reading through to load on miss.
func NewFeedbackCache(maxSize int, ttl time.Duration, load FeedbackLoader) *FeedbackCache {
	return &FeedbackCache{
		maxSize: maxSize, ttl: ttl, load: load,
		items: make(map[string]feedbackEntry),
	}
}

func feedbackKey(kind model.Kind, id string) string {
	return string(kind) + "\x00" + id
}

// Get returns the feedback rollup for (kind, id), reading through to load
// on miss or expiry.
func (c *FeedbackCache) Get(kind model.Kind, id string) (model.FeedbackScore, error) {
	key := feedbackKey(kind, id)
	now := time.Now()

	c.mu.Lock()
	e, ok := c.items[key]
	c.mu.Unlock()
	if ok && now.Before(e.expiresAt) {
		return e.score, nil
	}

	fs, err := c.load(kind, id)
	if err != nil {
		return model.FeedbackScore{}, err
	}
	c.set(key, fs, now)
	return fs, nil
}

func (c *FeedbackCache) set(key string, fs model.FeedbackScore, now time.Time) {
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
	c.items[key] = feedbackEntry{score: fs, expiresAt: now.Add(c.ttl)}
}

// invalidate drops the cached rollup for (kind, id), if any.
func (c *FeedbackCache) invalidate(kind model.Kind, id string) {
	key := feedbackKey(kind, id)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len reports the number of cached entries.
func (c *FeedbackCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Subscribe registers this cache on bus so entry_changed events evict the
// affected (kind, id) rollup.
func (c *FeedbackCache) Subscribe(bus *events.Bus) events.Token {
	return bus.Subscribe(func(ev model.ChangeEvent) error {
		c.invalidate(ev.EntryType, ev.EntryID)
		return nil
	})
}
