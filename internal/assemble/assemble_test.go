package assemble

import (
	"testing"

	"github.com/agentmem/retrieval-core/internal/model"
	"github.com/agentmem/retrieval-core/internal/scorer"
)

func cand(id string) *scorer.Candidate {
	return &scorer.Candidate{Entry: &model.Entry{ID: id, Name: id, Title: "t-" + id, Body: "body-" + id}}
}

func TestAssembleAppliesOffsetAndLimit(t *testing.T) {
	ranked := []*scorer.Candidate{cand("a"), cand("b"), cand("c"), cand("d")}
	resp := Assemble(ranked, Options{Offset: 1, Limit: 2})

	if len(resp.Entries) != 2 || resp.Entries[0].ID != "b" || resp.Entries[1].ID != "c" {
		t.Fatalf("unexpected page: %+v", resp.Entries)
	}
	if resp.Meta.ReturnedCount != 2 {
		t.Fatalf("expected returnedCount=2, got %d", resp.Meta.ReturnedCount)
	}
}

func TestAssembleOffsetPastEndReturnsEmpty(t *testing.T) {
	ranked := []*scorer.Candidate{cand("a")}
	resp := Assemble(ranked, Options{Offset: 5, Limit: 10})
	if len(resp.Entries) != 0 {
		t.Fatalf("expected empty page, got %+v", resp.Entries)
	}
}

func TestAssembleZeroLimitReturnsEverythingFromOffset(t *testing.T) {
	ranked := []*scorer.Candidate{cand("a"), cand("b")}
	resp := Assemble(ranked, Options{Offset: 0, Limit: 0})
	if len(resp.Entries) != 2 {
		t.Fatalf("expected both entries with limit=0, got %+v", resp.Entries)
	}
}

func TestAssembleCompactClearsBodyAndTitleWithoutMutatingInput(t *testing.T) {
	c := cand("a")
	ranked := []*scorer.Candidate{c}
	resp := Assemble(ranked, Options{Limit: 10, Compact: true})

	if resp.Entries[0].Body != "" || resp.Entries[0].Title != "" {
		t.Fatalf("expected compact entry to clear body/title, got %+v", resp.Entries[0])
	}
	if c.Entry.Body == "" {
		t.Fatal("expected original candidate entry to be left untouched")
	}
}

func TestAssembleMetaCarriesFlags(t *testing.T) {
	total := 42
	resp := Assemble(nil, Options{CacheHit: true, Degraded: true, TotalMatched: &total})
	if !resp.Meta.CacheHit || !resp.Meta.Degraded {
		t.Fatalf("expected flags carried through, got %+v", resp.Meta)
	}
	if resp.Meta.TotalMatched == nil || *resp.Meta.TotalMatched != 42 {
		t.Fatalf("expected totalMatched=42, got %+v", resp.Meta.TotalMatched)
	}
}
