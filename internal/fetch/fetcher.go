// Package fetch loads full records for a candidate id set (or "all in
// scope" when nil) and applies a strict ten-step filter order: scope,
// kind, active, tag include/require/exclude, priority, confidence,
// temporal validity, and created/updated windows.
//
// Rows are loaded through the entry store's GetMany and
// ListByScopeAndKind; every filter step then runs in Go over the loaded
// entries rather than in a generated WHERE clause.
package fetch

import (
	"time"

	"github.com/agentmem/retrieval-core/internal/errs"
	"github.com/agentmem/retrieval-core/internal/model"
	"github.com/agentmem/retrieval-core/internal/scope"
	"github.com/agentmem/retrieval-core/internal/store"
)

// Range is a generic inclusive [Min,Max] bound; a nil pointer means
// unbounded on that side.
type Range struct {
	Min *float64
	Max *float64
}

// TagFilter is the three-way tag filter: include, require, exclude.
type TagFilter struct {
	Include []string // entry.tags ∩ include != ∅ (no-op if empty)
	Require []string // entry.tags ⊇ require
	Exclude []string // entry.tags ∩ exclude == ∅
}

// TemporalQuery is either an instant-in-time check or an overlap check
// against an interval; at most one of AtTime/Interval should be set.
type TemporalQuery struct {
	AtTime   *time.Time
	Interval *Interval
}

// Interval is a closed [Start,End] window used for validDuring overlap
// checks and created/updated window filters.
type Interval struct {
	Start *time.Time
	End   *time.Time
}

// Options is the Entry Fetcher's full filter options block.
type Options struct {
	IncludeInactive bool
	Tags            TagFilter
	Priority        Range
	Confidence      Range
	Temporal        *TemporalQuery
	CreatedWindow   *Interval
	UpdatedWindow   *Interval
	Offset          int
	Limit           int // candidate limit, typically ceil(requestLimit * 1.5)
}

// Fetcher loads and filters entries for the refine phase of the pipeline.
type Fetcher struct {
	db *store.DB
}

// New builds a Fetcher over db.
func New(db *store.DB) *Fetcher {
	return &Fetcher{db: db}
}

// Fetch applies candidate-id intersection (if candidateIDs is non-nil)
// then the strict filter order over the resolved scope chain and kind
// set, returning entries that survive every step.
func (f *Fetcher) Fetch(candidateIDs []string, chain scope.Chain, kinds []model.Kind, opts Options) ([]*model.Entry, error) {
	var entries []*model.Entry
	var err error

	if candidateIDs != nil {
		entries, err = f.db.GetMany(candidateIDs)
	} else {
		entries, err = f.fetchAllInScope(chain, kinds)
	}
	if err != nil {
		return nil, errs.New(errs.Internal, "fetch.Fetch", err)
	}

	out := entries[:0:0]
	for _, e := range entries {
		if !f.passes(e, chain, kinds, opts) {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (f *Fetcher) fetchAllInScope(chain scope.Chain, kinds []model.Kind) ([]*model.Entry, error) {
	var all []*model.Entry
	seen := map[string]bool{}
	kindList := kinds
	if len(kindList) == 0 {
		kindList = []model.Kind{model.KindGuideline, model.KindKnowledge, model.KindTool, model.KindExperience}
	}
	for _, s := range chain {
		for _, k := range kindList {
			entries, err := f.db.ListByScopeAndKind(s, k)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if seen[e.ID] {
					continue
				}
				seen[e.ID] = true
				all = append(all, e)
			}
		}
	}
	return all, nil
}

// passes runs the strict ten-step filter order. Candidate-id intersection
// has already happened by the time passes is called, before step 1.
func (f *Fetcher) passes(e *model.Entry, chain scope.Chain, kinds []model.Kind, opts Options) bool {
	// 1. Scope membership.
	if !inChain(e.Scope, chain) {
		return false
	}
	// 2. Kind in requested set.
	if len(kinds) > 0 && !kindIn(e.Kind, kinds) {
		return false
	}
	// 3. active = true unless includeInactive.
	if !e.Active && !opts.IncludeInactive {
		return false
	}
	// 4. Tag include.
	if len(opts.Tags.Include) > 0 && !intersects(e.Tags, opts.Tags.Include) {
		return false
	}
	// 5. Tag require.
	if len(opts.Tags.Require) > 0 && !supersetOf(e.Tags, opts.Tags.Require) {
		return false
	}
	// 6. Tag exclude.
	if len(opts.Tags.Exclude) > 0 && intersects(e.Tags, opts.Tags.Exclude) {
		return false
	}
	// 7. Priority range (guideline only; non-guidelines pass through).
	if e.Kind == model.KindGuideline && e.Priority != nil && !inRange(float64(*e.Priority), opts.Priority) {
		return false
	}
	// 8. Confidence range (knowledge only).
	if e.Kind == model.KindKnowledge && e.Confidence != nil && !inRange(*e.Confidence, opts.Confidence) {
		return false
	}
	// 9. Temporal.
	if opts.Temporal != nil && !passesTemporal(e, opts.Temporal) {
		return false
	}
	// 10. Created/updated windows.
	if opts.CreatedWindow != nil && !inInterval(e.CreatedAt, *opts.CreatedWindow) {
		return false
	}
	if opts.UpdatedWindow != nil && !inInterval(e.UpdatedAt, *opts.UpdatedWindow) {
		return false
	}
	return true
}

func inChain(s model.Scope, chain scope.Chain) bool {
	for _, c := range chain {
		if c.Equal(s) {
			return true
		}
	}
	return false
}

func kindIn(k model.Kind, kinds []model.Kind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	set := make(map[string]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	for _, v := range a {
		if set[v] {
			return true
		}
	}
	return false
}

func supersetOf(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, v := range have {
		set[v] = true
	}
	for _, v := range want {
		if !set[v] {
			return false
		}
	}
	return true
}

func inRange(v float64, r Range) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// passesTemporal checks temporal validity: entries lacking temporal
// fields are always-valid. With atTime t: validFrom <= t < validUntil
// (open-ended bounds pass). With validDuring {s,e}: the entry's interval
// must overlap [s,e].
func passesTemporal(e *model.Entry, q *TemporalQuery) bool {
	if q.AtTime != nil {
		t := *q.AtTime
		if e.ValidFrom != nil && t.Before(*e.ValidFrom) {
			return false
		}
		if e.ValidUntil != nil && !t.Before(*e.ValidUntil) {
			return false
		}
		return true
	}
	if q.Interval != nil {
		// Overlap test: entry interval [from,until) vs query [start,end].
		// An unset entry bound is open on that side.
		if q.Interval.End != nil && e.ValidFrom != nil && e.ValidFrom.After(*q.Interval.End) {
			return false
		}
		if q.Interval.Start != nil && e.ValidUntil != nil && !e.ValidUntil.After(*q.Interval.Start) {
			return false
		}
		return true
	}
	return true
}

func inInterval(t time.Time, iv Interval) bool {
	if iv.Start != nil && t.Before(*iv.Start) {
		return false
	}
	if iv.End != nil && t.After(*iv.End) {
		return false
	}
	return true
}
