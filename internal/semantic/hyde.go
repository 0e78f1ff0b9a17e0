package semantic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// hydePrompts gives each intent a distinct hypothetical-document template,
// the same prompt-templating idiom Client.Summarize used for memory
// conversion, retargeted to synthesizing a plausible answer document
// instead of a memory entry.
var hydePrompts = map[Intent]string{
	IntentLookup:    "Write a short reference passage that directly answers: %q",
	IntentHowTo:     "Write a short step-by-step passage explaining how to: %q",
	IntentDebug:     "Write a short passage describing the cause and fix for this problem: %q",
	IntentExplore:   "Write a short passage giving an overview of: %q",
	IntentCompare:   "Write a short passage comparing the options in: %q",
	IntentConfigure: "Write a short passage describing the configuration steps for: %q",
	IntentUnknown:   "Write a short passage relevant to: %q",
}

type hydeCacheEntry struct {
	docs      []string
	expiresAt time.Time
}

// hydeCache is a small TTL'd cache of hypothetical documents keyed by
// blake3(query+intent+N), avoiding repeated LLM round trips for exactly
// repeated queries within the TTL window. Whether HyDE documents
// should be cached across requests was left open by the source material;
// this resolves that open question in favor of caching, the same
// bounded-capacity hand-rolled cache idiom the embedding client's own
// cache uses.
type hydeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	items   map[string]hydeCacheEntry
	order   []string
}

func newHydeCache(maxSize int, ttl time.Duration) *hydeCache {
	return &hydeCache{maxSize: maxSize, ttl: ttl, items: make(map[string]hydeCacheEntry)}
}

func hydeCacheKey(query string, intent Intent, n int) string {
	h := blake3.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d", query, intent, n)))
	return fmt.Sprintf("%x", h[:16])
}

func (c *hydeCache) get(key string, now time.Time) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok || now.After(e.expiresAt) {
		return nil, false
	}
	return e.docs, true
}

func (c *hydeCache) set(key string, docs []string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		if len(c.order) >= c.maxSize && c.maxSize > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.items, oldest)
		}
		c.order = append(c.order, key)
	}
	c.items[key] = hydeCacheEntry{docs: docs, expiresAt: now.Add(c.ttl)}
}

// generateHyde produces up to n hypothetical documents for query under the
// given intent. On any generator failure, or if ctx is canceled between
// round trips, it returns whatever it has (possibly nil); callers treat
// HyDE as non-essential and fall back to the literal query.
func (g *Generator) generateHyde(ctx context.Context, query string, intent Intent, n int) []string {
	if g.llm == nil || n <= 0 {
		return nil
	}
	key := hydeCacheKey(query, intent, n)
	now := time.Now()
	if g.hyde != nil {
		if docs, ok := g.hyde.get(key, now); ok {
			return docs
		}
	}

	template, ok := hydePrompts[intent]
	if !ok {
		template = hydePrompts[IntentUnknown]
	}
	prompt := fmt.Sprintf(template, query)

	docs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		doc, err := g.llm.Generate(ctx, prompt)
		if err != nil || doc == "" {
			break
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil
	}
	if g.hyde != nil {
		g.hyde.set(key, docs, now)
	}
	return docs
}
