// Package relation implements bounded BFS over the typed, directed
// relation graph starting from a seed entry, returning per-kind id sets of
// everything reachable within a depth limit.
//
// The batch-neighbor-loading idiom follows the entry store's own Neighbors/
// IncomingNeighbors lookups; the BFS loop itself is hand-rolled, since a
// dozen-line bounded-BFS with a visited set has no better fit among
// available dependencies.
package relation

import (
	"context"

	"github.com/agentmem/retrieval-core/internal/errs"
	"github.com/agentmem/retrieval-core/internal/model"
	"github.com/agentmem/retrieval-core/internal/store"
)

// Direction constrains which edges a traversal follows relative to a node.
type Direction string

const (
	Forward  Direction = "forward"  // follow From -> To
	Backward Direction = "backward" // follow To -> From
	Both     Direction = "both"
)

// Options controls one expansion call.
type Options struct {
	Type       model.RelationType // empty means "any type"
	Direction  Direction          // default Forward if empty
	MaxDepth   int                // clamped to [1,5]
	MaxResults int                // 0 means unbounded
}

// Result is the per-kind id sets reached by the traversal, seed excluded.
type Result struct {
	IDsByKind map[model.Kind][]string
	Edges     []model.Relation // every traversed edge, for downstream relation-boost scoring
}

// Expander runs bounded BFS over relations backed by the storage driver.
type Expander struct {
	db *store.DB
}

// New builds an Expander over db.
func New(db *store.DB) *Expander {
	return &Expander{db: db}
}

// Expand performs bounded BFS from seedID and returns everything reachable
// within opts.MaxDepth hops, excluding the seed itself. Edges whose source
// or target entry is inactive are skipped (the storage driver's Neighbors
// call already filters targets; backward traversal mirrors that). ctx's
// deadline is checked before the seed lookup and before each BFS depth, so
// a canceled request stops expanding further hops rather than running the
// full traversal to completion.
func (x *Expander) Expand(ctx context.Context, seedID string, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.New(errs.Timeout, "relation.Expand", err)
	}
	if _, err := x.db.Get(seedID); err != nil {
		return nil, errs.New(errs.NotFound, "relation.Expand", err)
	}

	depth := opts.MaxDepth
	if depth < 1 {
		depth = 1
	}
	if depth > 5 {
		depth = 5
	}
	dir := opts.Direction
	if dir == "" {
		dir = Forward
	}

	visited := map[string]bool{seedID: true}
	frontier := []string{seedID}
	var order []string
	var edges []model.Relation

	for d := 0; d < depth; d++ {
		if err := ctx.Err(); err != nil {
			return x.assemble(order, edges)
		}
		var next []string
		for _, id := range frontier {
			neighbors, err := x.neighborsOf(id, dir)
			if err != nil {
				return nil, errs.New(errs.Internal, "relation.Expand", err)
			}
			for _, n := range neighbors {
				if opts.Type != "" && n.edge.Type != opts.Type {
					continue
				}
				if n.FromID == n.ToID {
					// Self-loops are allowed but ignored by traversal.
					continue
				}
				edges = append(edges, n.edge)
				if visited[n.otherID] {
					continue
				}
				visited[n.otherID] = true
				order = append(order, n.otherID)
				next = append(next, n.otherID)
				if opts.MaxResults > 0 && len(order) >= opts.MaxResults {
					return x.assemble(order, edges)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}

	return x.assemble(order, edges)
}

type hop struct {
	edge            model.Relation
	FromID, ToID    string
	otherID         string
}

// neighborsOf returns one hop of typed edges from id, collapsing parallel
// edges of the same (direction, type, other-end) triple so BFS never
// double-counts a relation.
func (x *Expander) neighborsOf(id string, dir Direction) ([]hop, error) {
	seen := map[string]bool{}
	var out []hop

	addForward := func() error {
		rels, err := x.db.Neighbors(id)
		if err != nil {
			return err
		}
		for _, r := range rels {
			key := "f:" + string(r.Type) + ":" + r.ToID
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, hop{edge: r, FromID: r.FromID, ToID: r.ToID, otherID: r.ToID})
		}
		return nil
	}
	addBackward := func() error {
		rels, err := x.db.IncomingNeighbors(id)
		if err != nil {
			return err
		}
		for _, r := range rels {
			key := "b:" + string(r.Type) + ":" + r.FromID
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, hop{edge: r, FromID: r.FromID, ToID: r.ToID, otherID: r.FromID})
		}
		return nil
	}

	switch dir {
	case Forward:
		if err := addForward(); err != nil {
			return nil, err
		}
	case Backward:
		if err := addBackward(); err != nil {
			return nil, err
		}
	case Both:
		if err := addForward(); err != nil {
			return nil, err
		}
		if err := addBackward(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (x *Expander) assemble(order []string, edges []model.Relation) (*Result, error) {
	res := &Result{IDsByKind: make(map[model.Kind][]string), Edges: edges}
	if len(order) == 0 {
		return res, nil
	}
	entries, err := x.db.GetMany(order)
	if err != nil {
		return nil, errs.New(errs.Internal, "relation.Expand", err)
	}
	// Preserve BFS order within each kind bucket.
	byID := make(map[string]*model.Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	for _, id := range order {
		e, ok := byID[id]
		if !ok {
			continue // entry vanished between traversal and fetch (hard-deleted concurrently)
		}
		res.IDsByKind[e.Kind] = append(res.IDsByKind[e.Kind], id)
	}
	return res, nil
}
