package fts

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// FuzzyExpander maintains a small in-memory bleve index over the corpus's
// distinct terms, used only to expand a query token into its
// bounded-edit-distance neighbors before handing the widened term set to
// FTS5. The corpus itself stays in FTS5/SQLite; bleve here is a pure
// vocabulary-matching helper, not a second copy of the documents.
type FuzzyExpander struct {
	mu    sync.RWMutex
	index bleve.Index
	terms map[string]bool
}

// NewFuzzyExpander builds an empty in-memory term index.
func NewFuzzyExpander() (*FuzzyExpander, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("create fuzzy term index: %w", err)
	}
	return &FuzzyExpander{index: idx, terms: make(map[string]bool)}, nil
}

type termDoc struct {
	Term string `json:"term"`
}

// AddTerms indexes new vocabulary terms (idempotent: already-known terms
// are skipped). Called whenever an entry is written, with the terms
// tokenized from its name/title/body.
func (f *FuzzyExpander) AddTerms(terms []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch := f.index.NewBatch()
	added := false
	for _, t := range terms {
		t = Normalize(t)
		if t == "" || f.terms[t] {
			continue
		}
		f.terms[t] = true
		if err := batch.Index(t, termDoc{Term: t}); err != nil {
			return fmt.Errorf("batch index term %q: %w", t, err)
		}
		added = true
	}
	if !added {
		return nil
	}
	return f.index.Batch(batch)
}

// Expand returns the up-to-limit closest vocabulary terms to token within
// a bounded edit distance scaled by token length: distance <=2 for tokens
// of 4+ characters, <=1 for shorter ones.
func (f *FuzzyExpander) Expand(token string, limit int) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	fuzziness := 1
	if len(token) >= 4 {
		fuzziness = 2
	}

	q := bleve.NewFuzzyQuery(token)
	q.SetFuzziness(fuzziness)
	req := bleve.NewSearchRequest(q)
	req.Size = limit

	res, err := f.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("fuzzy search %q: %w", token, err)
	}

	out := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if hit.ID == token {
			continue
		}
		out = append(out, hit.ID)
	}
	return out, nil
}
