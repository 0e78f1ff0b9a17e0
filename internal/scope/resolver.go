// Package scope implements the Scope Resolver: expanding a request's
// target scope into the ordered chain of scopes whose entries are
// eligible for retrieval (session -> project -> org -> global), following
// declared parent links rather than assuming the fixed hierarchy always
// applies verbatim.
package scope

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/agentmem/retrieval-core/internal/errs"
	"github.com/agentmem/retrieval-core/internal/model"
)

// Resolver expands a leaf scope into its full inheritance chain.
type Resolver struct {
	db *sql.DB
}

// New builds a Resolver over the scopes table.
func New(db *sql.DB) *Resolver {
	return &Resolver{db: db}
}

// Chain is the ordered list of scopes to search, most specific first. The
// global scope is always the last entry, appended even when no explicit
// parent link reaches it, since every entry is implicitly visible from
// global scope outward.
type Chain []model.Scope

// Resolve walks parent links starting at leaf and returns the full chain
// ending at global. A scope with no stored parent link falls back to
// defaultParent, which is global itself: no intermediate project or org
// scope is inferred, so such a leaf resolves to [leaf, global]. This
// keeps resolution working for scopes created before any parent was
// registered.
func (r *Resolver) Resolve(leaf model.Scope) (Chain, error) {
	if leaf.Type == model.ScopeGlobal {
		return Chain{leaf}, nil
	}

	chain := Chain{leaf}
	seen := map[string]bool{leaf.String(): true}
	current := leaf

	for current.Type != model.ScopeGlobal {
		parent, ok, err := r.lookupParent(current)
		if err != nil {
			return nil, errs.New(errs.Internal, "scope.Resolve", err)
		}
		if !ok {
			parent = defaultParent(current)
		}
		key := parent.String()
		if seen[key] {
			// A cycle in declared parent links; stop here rather than loop
			// forever, and make sure global is still reachable.
			break
		}
		seen[key] = true
		chain = append(chain, parent)
		current = parent
	}

	if chain[len(chain)-1].Type != model.ScopeGlobal {
		chain = append(chain, model.Scope{Type: model.ScopeGlobal})
	}
	return chain, nil
}

func (r *Resolver) lookupParent(s model.Scope) (model.Scope, bool, error) {
	var parentType, parentID sql.NullString
	err := r.db.QueryRow(
		`SELECT parent_type, parent_id FROM scopes WHERE type = ? AND id = ?`,
		string(s.Type), s.ID,
	).Scan(&parentType, &parentID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Scope{}, false, nil
	}
	if err != nil {
		return model.Scope{}, false, fmt.Errorf("lookup parent of %s: %w", s, err)
	}
	if !parentType.Valid {
		return model.Scope{}, false, nil
	}
	return model.Scope{Type: model.ScopeType(parentType.String), ID: parentID.String}, true, nil
}

// defaultParent gives the fallback for a scope with no declared parent
// link. Without an explicit link we have no way to know which project a
// session belongs to (or which org a project belongs to), so the only
// honest default is to skip straight to global rather than guess at an
// intermediate scope id.
func defaultParent(s model.Scope) model.Scope {
	return model.Scope{Type: model.ScopeGlobal}
}

// SetParent records an explicit parent link for a scope, overriding the
// straight-to-global default.
func (r *Resolver) SetParent(child, parent model.Scope) error {
	_, err := r.db.Exec(`
		INSERT INTO scopes (type, id, parent_type, parent_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(type, id) DO UPDATE SET parent_type = excluded.parent_type, parent_id = excluded.parent_id
	`, string(child.Type), child.ID, string(parent.Type), parent.ID)
	if err != nil {
		return errs.New(errs.Internal, "scope.SetParent", err)
	}
	return nil
}
