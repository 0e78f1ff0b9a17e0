package entityindex

import (
	"strings"
	"sync"

	"github.com/agentmem/retrieval-core/internal/events"
	"github.com/agentmem/retrieval-core/internal/logging"
	"github.com/agentmem/retrieval-core/internal/model"
	"github.com/agentmem/retrieval-core/internal/store"
)

// key identifies one (entity type, normalized value) bucket.
type key struct {
	Type  model.EntityType
	Value string
}

// Occurrence is one entry's hit count for a bucket.
type Occurrence struct {
	EntryID string
	Count   int
}

// Index is the in-memory reverse index entity_type+normalized_value ->
// (entry_id, count). It is read-mostly: writes are serialized through a
// single mutex, readers never see torn state because the whole bucket
// map is replaced atomically on rebuild and individual bucket slices are
// only ever replaced wholesale, never mutated in place.
type Index struct {
	mu      sync.RWMutex
	buckets map[key][]Occurrence
}

// New builds an empty index. Call Rebuild before serving queries.
func New() *Index {
	return &Index{buckets: make(map[key][]Occurrence)}
}

// Rebuild replaces the entire index from a full snapshot of stored
// occurrences, used once at startup.
func (ix *Index) Rebuild(occs []model.EntityOccurrence) {
	buckets := make(map[key][]Occurrence, len(occs))
	for _, o := range occs {
		k := key{Type: o.EntityType, Value: o.NormalizedValue}
		buckets[k] = append(buckets[k], Occurrence{EntryID: o.EntryID, Count: o.Count})
	}
	ix.mu.Lock()
	ix.buckets = buckets
	ix.mu.Unlock()
}

// replaceEntry removes every bucket entry belonging to entryID, then
// re-inserts the ones in occs (occs may legitimately be empty, clearing
// the entry entirely). Used by both RebuildOne and the change-bus hook.
func (ix *Index) replaceEntry(entryID string, occs []model.EntityOccurrence) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for k, list := range ix.buckets {
		filtered := list[:0:0]
		for _, o := range list {
			if o.EntryID != entryID {
				filtered = append(filtered, o)
			}
		}
		if len(filtered) == 0 {
			delete(ix.buckets, k)
		} else {
			ix.buckets[k] = filtered
		}
	}
	for _, o := range occs {
		k := key{Type: o.EntityType, Value: o.NormalizedValue}
		ix.buckets[k] = append(ix.buckets[k], Occurrence{EntryID: o.EntryID, Count: o.Count})
	}
}

// LookupMultiple returns, for every entry that matches at least one of the
// extracted entities, how many distinct extracted entities it matched —
// the matchedCount the Entity Filter's partial-match boost needs.
func (ix *Index) LookupMultiple(extracted []Extracted) map[string]int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make(map[string]int)
	for _, e := range extracted {
		seenThisEntity := map[string]bool{}
		for _, o := range ix.buckets[key{Type: e.Type, Value: e.Value}] {
			if seenThisEntity[o.EntryID] {
				continue
			}
			seenThisEntity[o.EntryID] = true
			out[o.EntryID]++
		}
	}
	return out
}

// Len reports the number of distinct (type, value) buckets, mostly for
// tests and diagnostics.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.buckets)
}

// Supplement is an optional enrichment extractor run alongside the
// rule-based one when (re)indexing an entry offline — see
// internal/entityoffline for the prose-NER-backed implementation. It
// takes the entry's searchable text and returns additional entities to
// fold into that entry's occurrences.
type Supplement func(text string) []Extracted

// Maintainer wires the Index to the change-event bus and the offline
// extractor, keeping it current incrementally rather than only at
// startup.
type Maintainer struct {
	idx        *Index
	db         *store.DB
	supplement Supplement
}

// NewMaintainer builds a Maintainer over idx and db. Subscribe registers
// it on bus; call it once after Rebuild.
func NewMaintainer(idx *Index, db *store.DB) *Maintainer {
	return &Maintainer{idx: idx, db: db}
}

// WithSupplement attaches an enrichment extractor, run in addition to the
// rule-based one on every create/update. Returns m for chaining.
func (m *Maintainer) WithSupplement(s Supplement) *Maintainer {
	m.supplement = s
	return m
}

// Subscribe registers the maintainer's change handler on bus.
func (m *Maintainer) Subscribe(bus *events.Bus) events.Token {
	return bus.Subscribe(m.handle)
}

func (m *Maintainer) handle(ev model.ChangeEvent) error {
	switch ev.Action {
	case model.ActionDelete:
		m.idx.replaceEntry(ev.EntryID, nil)
		return nil
	case model.ActionDeactivate:
		// A deactivated entry's occurrences are dropped from the index too:
		// an inactive entry should never surface via entity matching any
		// more than it would via any other candidate generator.
		m.idx.replaceEntry(ev.EntryID, nil)
		return nil
	case model.ActionCreate, model.ActionUpdate:
		entry, err := m.db.Get(ev.EntryID)
		if err != nil {
			logging.Warn("entityindex", "lookup %s after %s: %v", ev.EntryID, ev.Action, err)
			return err
		}
		if !entry.Active {
			m.idx.replaceEntry(ev.EntryID, nil)
			return nil
		}
		occs := ExtractOccurrences(entry)
		if m.supplement != nil {
			text := entry.Name + " " + entry.Title + " " + entry.Body
			for _, ent := range m.supplement(text) {
				occs = append(occs, model.EntityOccurrence{
					EntityType:      ent.Type,
					NormalizedValue: ent.Value,
					EntryID:         entry.ID,
					Count:           countOccurrences(text, ent.Value),
				})
			}
		}
		if err := m.db.ReplaceEntityOccurrences(ev.EntryID, occs); err != nil {
			return err
		}
		m.idx.replaceEntry(ev.EntryID, occs)
		return nil
	}
	return nil
}

// ExtractOccurrences runs the rule-based extractor over an entry's
// searchable text and tallies per-entity occurrence counts, the offline
// half of entity indexing (produced from entry bodies rather than from a
// live query).
func ExtractOccurrences(e *model.Entry) []model.EntityOccurrence {
	text := e.Name + " " + e.Title + " " + e.Body
	extracted := ExtractFromText(text)

	out := make([]model.EntityOccurrence, 0, len(extracted))
	for _, ent := range extracted {
		out = append(out, model.EntityOccurrence{
			EntityType:      ent.Type,
			NormalizedValue: ent.Value,
			EntryID:         e.ID,
			Count:           countOccurrences(text, ent.Value),
		})
	}
	return out
}

func countOccurrences(text, normalizedValue string) int {
	lower := strings.ToLower(text)
	needle := strings.ToLower(normalizedValue)
	if needle == "" {
		return 0
	}
	n, idx := 0, 0
	for {
		pos := strings.Index(lower[idx:], needle)
		if pos < 0 {
			break
		}
		n++
		idx += pos + len(needle)
	}
	if n == 0 {
		return 1
	}
	return n
}
