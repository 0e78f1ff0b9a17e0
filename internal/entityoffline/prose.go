// Package entityoffline supplements the rule-based extractor in
// internal/entityindex with an NLP-backed entity pass, used only on the
// offline path that populates the entity index from entry bodies — never
// on the query hot path, which stays rule-based per §4.5.
//
// The rule-based extractor in internal/entityindex catches the five
// structured token types §4.5 names explicitly (file paths, function
// names, identifiers, versions, URLs). Named entities that don't fit
// those shapes — a product name, an org, a person mentioned in an
// experience trajectory — fall through it silently. This package runs
// github.com/tsawler/prose/v3's statistical NER over the same text and
// tags what it finds as model.EntityOther, so such names land in the
// entity index. Query-time extraction (entityindex.ExtractFromText)
// stays rule-based and never produces model.EntityOther, so a query for
// a bare name such as "Kubernetes" or "Acme Corp" extracts no entity and
// gets no entity-filter boost from these occurrences.
package entityoffline

import (
	"github.com/tsawler/prose/v3"

	"github.com/agentmem/retrieval-core/internal/entityindex"
	"github.com/agentmem/retrieval-core/internal/logging"
	"github.com/agentmem/retrieval-core/internal/model"
)

// Extractor runs prose's named-entity recognizer over entry text. It is
// stateless and safe for concurrent use; prose.NewDocument builds its own
// tagger state per call.
type Extractor struct{}

// New builds a prose-backed Extractor.
func New() *Extractor { return &Extractor{} }

// Extract returns the named entities prose finds in text, deduplicated by
// exact text. Values shorter than two runes are dropped; case is kept as
// prose reports it (no casefolding or punctuation trimming). A
// parse failure (malformed UTF-8, empty text) degrades to no entities
// rather than failing the caller — this is an enrichment pass, not an
// essential subsystem (§7: entity index lookup fails open).
func (x *Extractor) Extract(text string) []entityindex.Extracted {
	if text == "" {
		return nil
	}
	doc, err := prose.NewDocument(text)
	if err != nil {
		logging.Warn("entityoffline", "prose parse failed: %v", err)
		return nil
	}

	seen := map[string]bool{}
	var out []entityindex.Extracted
	for _, ent := range doc.Entities() {
		norm := normalize(ent.Text)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, entityindex.Extracted{Type: model.EntityOther, Value: norm})
	}
	return out
}

func normalize(raw string) string {
	v := []rune(raw)
	if len(v) < 2 {
		return ""
	}
	return string(v)
}
