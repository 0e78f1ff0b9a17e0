package entityindex

import (
	"os"
	"testing"
	"time"

	"github.com/agentmem/retrieval-core/internal/model"
	"github.com/agentmem/retrieval-core/internal/store"
)

func TestExtractFromTextFilePathAndVersion(t *testing.T) {
	extracted := ExtractFromText("see src/app/handler.go for the fix, upgrade to v2.1.0")

	var sawPath, sawVersion bool
	for _, e := range extracted {
		if e.Type == model.EntityFilePath && e.Value == "src/app/handler.go" {
			sawPath = true
		}
		if e.Type == model.EntityVersionString && e.Value == "v2.1.0" {
			sawVersion = true
		}
	}
	if !sawPath {
		t.Errorf("expected file path entity, got %+v", extracted)
	}
	if !sawVersion {
		t.Errorf("expected version entity, got %+v", extracted)
	}
}

func TestExtractFromTextIdentifierCasefold(t *testing.T) {
	extracted := ExtractFromText("call handleRequest to process it")
	found := false
	for _, e := range extracted {
		if e.Type == model.EntityIdentifier && e.Value == "handlerequest" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected casefolded identifier handlerequest, got %+v", extracted)
	}
}

func TestExtractFromTextDropsShortAndStopWords(t *testing.T) {
	extracted := ExtractFromText("this with from")
	for _, e := range extracted {
		if e.Type == model.EntityIdentifier {
			t.Errorf("stop word leaked through as identifier: %+v", e)
		}
	}
}

func TestIndexLookupMultiple(t *testing.T) {
	ix := New()
	ix.Rebuild([]model.EntityOccurrence{
		{EntityType: model.EntityFilePath, NormalizedValue: "src/app/handler.go", EntryID: "e1", Count: 2},
		{EntityType: model.EntityVersionString, NormalizedValue: "v2.1.0", EntryID: "e1", Count: 1},
		{EntityType: model.EntityVersionString, NormalizedValue: "v2.1.0", EntryID: "e2", Count: 1},
	})

	matched := ix.LookupMultiple([]Extracted{
		{Type: model.EntityFilePath, Value: "src/app/handler.go"},
		{Type: model.EntityVersionString, Value: "v2.1.0"},
	})

	if matched["e1"] != 2 {
		t.Errorf("e1 matched count = %d, want 2", matched["e1"])
	}
	if matched["e2"] != 1 {
		t.Errorf("e2 matched count = %d, want 1", matched["e2"])
	}
}

func TestMaintainerHandleDeleteClearsEntry(t *testing.T) {
	ix := New()
	ix.Rebuild([]model.EntityOccurrence{
		{EntityType: model.EntityVersionString, NormalizedValue: "v1.0.0", EntryID: "e1", Count: 1},
	})
	m := &Maintainer{idx: ix}
	if err := m.handle(model.ChangeEvent{EntryID: "e1", Action: model.ActionDelete}); err != nil {
		t.Fatalf("handle delete: %v", err)
	}
	matched := ix.LookupMultiple([]Extracted{{Type: model.EntityVersionString, Value: "v1.0.0"}})
	if len(matched) != 0 {
		t.Errorf("expected e1 removed after delete, got %+v", matched)
	}
}

func TestMaintainerWithSupplementFoldsExtraEntities(t *testing.T) {
	dir, err := os.MkdirTemp("", "entityindex-test-*")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	defer os.RemoveAll(dir)
	db, err := store.Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC().Truncate(time.Second)
	entry := &model.Entry{
		ID: "e1", Kind: model.KindKnowledge,
		Scope:  model.Scope{Type: model.ScopeGlobal},
		Name:   "e1", Body: "deployed to Acme Corp last week",
		Active: true, CreatedAt: now, UpdatedAt: now, Version: 1,
	}
	if err := db.Upsert(entry); err != nil {
		t.Fatalf("create: %v", err)
	}

	ix := New()
	m := NewMaintainer(ix, db).WithSupplement(func(text string) []Extracted {
		return []Extracted{{Type: model.EntityOther, Value: "acme corp"}}
	})

	if err := m.handle(model.ChangeEvent{EntryID: "e1", Action: model.ActionCreate}); err != nil {
		t.Fatalf("handle create: %v", err)
	}

	matched := ix.LookupMultiple([]Extracted{{Type: model.EntityOther, Value: "acme corp"}})
	if matched["e1"] == 0 {
		t.Errorf("expected supplement entity to be folded into index, got %+v", matched)
	}
}
