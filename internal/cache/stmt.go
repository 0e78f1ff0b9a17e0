// Package cache implements the prepared-statement cache, feedback-score
// cache, and query-result cache: the caching layer the scorer and fetcher
// share across requests.
//
// The prepared-statement cache is LRU-backed via golang-lru/v2, the same
// dependency profiling.Profiler uses for its per-request timing cache.
// The query-result cache is a hand-rolled TTL+capacity map that evicts
// the oldest insertion first. The feedback-score cache is a hand-rolled
// TTL+capacity cache in the style of embedding's embeddingCache, because
// its read-through-on-miss, invalidate-on-event shape doesn't fit a plain
// LRU without wrapping it anyway.
package cache

import (
	"database/sql"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// StmtCache maps canonical SQL text to a compiled *sql.Stmt, avoiding
// repeated prepare round trips for the handful of queries the retrieval
// core runs over and over (entry fetch by id, scope-and-kind listing, FTS
// match, neighbor lookup, feedback rollup). Capacity-bounded; eviction
// closes the evicted statement.
type StmtCache struct {
	db  *sql.DB
	mu  sync.Mutex
	lru *lru.Cache[string, *sql.Stmt]
}

// NewStmtCache builds a StmtCache of the given capacity over db.
func NewStmtCache(db *sql.DB, capacity int) (*StmtCache, error) {
	c := &StmtCache{db: db}
	l, err := lru.NewWithEvict[string, *sql.Stmt](capacity, func(_ string, stmt *sql.Stmt) {
		stmt.Close()
	})
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// Prepared returns a compiled statement for query, preparing and caching
// it on first use.
func (c *StmtCache) Prepared(query string) (*sql.Stmt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if stmt, ok := c.lru.Get(query); ok {
		return stmt, nil
	}
	stmt, err := c.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	c.lru.Add(query, stmt)
	return stmt, nil
}

// Len reports the number of cached statements.
func (c *StmtCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close releases every cached statement.
func (c *StmtCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
