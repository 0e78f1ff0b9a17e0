package fts

import (
	"context"
	"sort"
	"strings"

	"github.com/agentmem/retrieval-core/internal/errs"
	"github.com/agentmem/retrieval-core/internal/events"
	"github.com/agentmem/retrieval-core/internal/logging"
	"github.com/agentmem/retrieval-core/internal/store"
)

// Options controls one FTS candidate generation call.
type Options struct {
	Fuzzy bool
	Regex bool
	Limit int // candidate pool size
}

// Result is the FTS Candidate Generator's output: an id set plus a sparse
// (rank-derived) score per id, or a nil Result when the query was empty
// or purely filter-based (bypass, not failure).
type Result struct {
	IDs          []string
	ScoreByID    map[string]float64
	Degraded     bool // naive-scan fallback was used
}

// Generator wraps the storage driver and an optional fuzzy-term
// expander.
type Generator struct {
	db     *store.DB
	fuzzy  *FuzzyExpander
}

// New builds a Generator. fuzzy may be nil, in which case fuzzy=true
// requests silently behave as exact matching (a narrower degraded mode,
// not a failure).
func New(db *store.DB, fuzzy *FuzzyExpander) *Generator {
	return &Generator{db: db, fuzzy: fuzzy}
}

// NewWithFuzzy builds a Generator whose fuzzy vocabulary is actually
// populated: it seeds fuzzy from every active entry's searchable text up
// front, then (if bus is non-nil) subscribes a VocabMaintainer so later
// creates/updates keep it current. Without this, a non-nil fuzzy passed
// to New stays permanently empty and fuzzy=true silently degrades to
// exact matching.
func NewWithFuzzy(db *store.DB, fuzzy *FuzzyExpander, bus *events.Bus) (*Generator, error) {
	g := &Generator{db: db, fuzzy: fuzzy}
	if fuzzy == nil {
		return g, nil
	}
	vm := NewVocabMaintainer(fuzzy, db)
	if err := vm.Seed(); err != nil {
		return nil, err
	}
	if bus != nil {
		vm.Subscribe(bus)
	}
	return g, nil
}

// Generate runs the FTS candidate query described by opts against query.
// Returns (nil, nil) when query is empty (the bypass case from the
// contract). Regex failures are BadRequest (essential input validation);
// everything else fails open by returning a degraded naive-scan result.
// ctx's deadline is checked on entry and before the naive-scan fallback,
// the one suspension point in this generator expensive enough to matter
// (a full table scan over every entry's searchable text).
func (g *Generator) Generate(ctx context.Context, query string, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if opts.Regex {
		return g.generateRegex(ctx, query)
	}

	tokens := parse(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	if opts.Fuzzy && g.fuzzy != nil {
		tokens = g.expandFuzzy(tokens)
	}

	ftsQuery := ToFTS5(tokens)
	ids, err := g.db.FTSMatch(ftsQuery, opts.Limit)
	if err == nil {
		return rankedResult(ids, false), nil
	}

	// FTS5 unavailable: fail open to a naive substring scan, per the
	// contract's "Engine unavailable" failure mode.
	logging.Warn("fts", "FTS5 match failed (%v), falling back to naive scan", err)
	return g.naiveScan(ctx, PlainTerms(tokens), opts.Limit)
}

func (g *Generator) generateRegex(ctx context.Context, pattern string) (*Result, error) {
	re, err := CompileSafe(pattern)
	if err != nil {
		return nil, errs.New(errs.BadRequest, "fts.Generate", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.New(errs.Timeout, "fts.Generate", err)
	}

	texts, err := g.db.AllSearchableText()
	if err != nil {
		return nil, errs.New(errs.Unavailable, "fts.Generate", err)
	}

	hits := ScanRegex(re, texts)
	return rankedResult(hits, false), nil
}

func (g *Generator) naiveScan(ctx context.Context, terms []string, limit int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.New(errs.Timeout, "fts.naiveScan", err)
	}

	texts, err := g.db.AllSearchableText()
	if err != nil {
		return nil, errs.New(errs.Unavailable, "fts.naiveScan", err)
	}

	type scored struct {
		id    string
		count int
	}
	var candidates []scored
	for id, text := range texts {
		lower := strings.ToLower(text)
		count := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				count++
			}
		}
		if count > 0 {
			candidates = append(candidates, scored{id: id, count: count})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].count > candidates[j].count })

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	ids := make([]string, len(candidates))
	scoreByID := make(map[string]float64, len(candidates))
	maxCount := 1
	if len(candidates) > 0 {
		maxCount = candidates[0].count
	}
	for i, c := range candidates {
		ids[i] = c.id
		scoreByID[c.id] = float64(c.count) / float64(maxCount)
	}

	return &Result{IDs: ids, ScoreByID: scoreByID, Degraded: true}, nil
}

func (g *Generator) expandFuzzy(tokens []token) []token {
	out := make([]token, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, t)
		if t.operator != "" || t.phrase {
			continue
		}
		expansions, err := g.fuzzy.Expand(t.text, 5)
		if err != nil || len(expansions) == 0 {
			continue
		}
		out = append(out, token{operator: "OR"})
		for i, e := range expansions {
			if i > 0 {
				out = append(out, token{operator: "OR"})
			}
			out = append(out, token{text: e})
		}
	}
	return out
}

// rankedResult assigns a monotone-descending score by rank order: the
// absolute value is meaningless per the contract, only the ordering it
// preserves is.
func rankedResult(ids []string, degraded bool) *Result {
	if len(ids) == 0 {
		return &Result{IDs: nil, ScoreByID: map[string]float64{}, Degraded: degraded}
	}
	scoreByID := make(map[string]float64, len(ids))
	n := float64(len(ids))
	for i, id := range ids {
		scoreByID[id] = (n - float64(i)) / n
	}
	return &Result{IDs: ids, ScoreByID: scoreByID, Degraded: degraded}
}
