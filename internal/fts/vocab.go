package fts

import (
	"github.com/agentmem/retrieval-core/internal/events"
	"github.com/agentmem/retrieval-core/internal/logging"
	"github.com/agentmem/retrieval-core/internal/model"
	"github.com/agentmem/retrieval-core/internal/store"
)

// VocabMaintainer keeps a FuzzyExpander's vocabulary current: a full
// seed from storage at startup, then incremental additions from the
// change-event bus, the same seed-then-subscribe shape
// entityindex.Maintainer uses for its own in-memory index.
//
// It only ever adds terms, never removes them: a stale vocabulary entry
// from a deleted or deactivated entry is harmless (FTS5 against the live
// entries table is still the authority on what matches), so there is no
// analog to replaceEntry here.
type VocabMaintainer struct {
	fuzzy *FuzzyExpander
	db    *store.DB
}

// NewVocabMaintainer builds a maintainer over fuzzy and db.
func NewVocabMaintainer(fuzzy *FuzzyExpander, db *store.DB) *VocabMaintainer {
	return &VocabMaintainer{fuzzy: fuzzy, db: db}
}

// Seed populates fuzzy's vocabulary from every active entry's searchable
// text. Call once at startup before serving fuzzy=true requests.
func (m *VocabMaintainer) Seed() error {
	texts, err := m.db.AllSearchableText()
	if err != nil {
		return err
	}
	var terms []string
	for _, text := range texts {
		terms = append(terms, ExtractVocabulary(text)...)
	}
	return m.fuzzy.AddTerms(terms)
}

// Subscribe registers the maintainer's change handler on bus, keeping the
// vocabulary current as entries are created or updated after Seed.
func (m *VocabMaintainer) Subscribe(bus *events.Bus) events.Token {
	return bus.Subscribe(m.handle)
}

func (m *VocabMaintainer) handle(ev model.ChangeEvent) error {
	switch ev.Action {
	case model.ActionCreate, model.ActionUpdate:
		entry, err := m.db.Get(ev.EntryID)
		if err != nil {
			logging.Warn("fts", "vocab lookup %s after %s: %v", ev.EntryID, ev.Action, err)
			return err
		}
		text := entry.Name + " " + entry.Title + " " + entry.Body
		return m.fuzzy.AddTerms(ExtractVocabulary(text))
	}
	return nil
}
