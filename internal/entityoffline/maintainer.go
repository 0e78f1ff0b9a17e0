package entityoffline

import (
	"github.com/agentmem/retrieval-core/internal/entityindex"
	"github.com/agentmem/retrieval-core/internal/store"
)

// NewMaintainer builds an entityindex.Maintainer with this package's
// prose-backed NER pass attached as its Supplement, so every offline
// (re)index of an entry runs both the rule-based extractor and prose's
// statistical NER. This is the one production call site that turns the
// Extractor above from a standalone type into part of the composed
// entity-indexing path; entityindex itself cannot depend on this package
// (entityoffline already depends on entityindex), so the two are wired
// together here instead.
func NewMaintainer(idx *entityindex.Index, db *store.DB) *entityindex.Maintainer {
	return entityindex.NewMaintainer(idx, db).WithSupplement(New().Extract)
}
