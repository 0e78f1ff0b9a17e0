package relation

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/agentmem/retrieval-core/internal/model"
	"github.com/agentmem/retrieval-core/internal/store"
)

func setupTestDB(t *testing.T) (*store.DB, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "relation-test-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	db, err := store.Open(tmpDir)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("open: %v", err)
	}
	return db, func() { db.Close(); os.RemoveAll(tmpDir) }
}

func seedEntry(t *testing.T, db *store.DB, id string, kind model.Kind) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	e := &model.Entry{
		ID: id, Kind: kind, Scope: model.Scope{Type: model.ScopeGlobal},
		Name: id, Body: "body", Active: true, CreatedAt: now, UpdatedAt: now, Version: 1,
	}
	if err := db.Upsert(e); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

// TestExpandTwoHopsExcludesSeed covers a two-hop chain g-ts-strict
// --related_to--> g-no-any --related_to--> g-deep, depth 2, direction
// both, expecting {g-no-any, g-deep} with the seed excluded.
func TestExpandTwoHopsExcludesSeed(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	seedEntry(t, db, "g-ts-strict", model.KindGuideline)
	seedEntry(t, db, "g-no-any", model.KindGuideline)
	seedEntry(t, db, "g-deep", model.KindGuideline)

	now := time.Now()
	db.PutRelation(&model.Relation{FromID: "g-ts-strict", ToID: "g-no-any", Type: model.RelationRelatedTo, Weight: 1, CreatedAt: now})
	db.PutRelation(&model.Relation{FromID: "g-no-any", ToID: "g-deep", Type: model.RelationRelatedTo, Weight: 1, CreatedAt: now})

	exp := New(db)
	res, err := exp.Expand(context.Background(), "g-ts-strict", Options{Direction: Both, MaxDepth: 2})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	got := map[string]bool{}
	for _, id := range res.IDsByKind[model.KindGuideline] {
		got[id] = true
	}
	if got["g-ts-strict"] {
		t.Fatal("seed must be excluded from results")
	}
	if !got["g-no-any"] || !got["g-deep"] {
		t.Fatalf("expected both g-no-any and g-deep reachable, got %+v", got)
	}
}

func TestExpandDepthOneStopsAtFirstHop(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	seedEntry(t, db, "a", model.KindGuideline)
	seedEntry(t, db, "b", model.KindGuideline)
	seedEntry(t, db, "c", model.KindGuideline)

	now := time.Now()
	db.PutRelation(&model.Relation{FromID: "a", ToID: "b", Type: model.RelationRelatedTo, Weight: 1, CreatedAt: now})
	db.PutRelation(&model.Relation{FromID: "b", ToID: "c", Type: model.RelationRelatedTo, Weight: 1, CreatedAt: now})

	exp := New(db)
	res, err := exp.Expand(context.Background(), "a", Options{Direction: Forward, MaxDepth: 1})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	ids := res.IDsByKind[model.KindGuideline]
	if len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("expected only [b] at depth 1, got %v", ids)
	}
}

func TestExpandCyclesDoNotInfiniteLoop(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	seedEntry(t, db, "a", model.KindGuideline)
	seedEntry(t, db, "b", model.KindGuideline)

	now := time.Now()
	db.PutRelation(&model.Relation{FromID: "a", ToID: "b", Type: model.RelationRelatedTo, Weight: 1, CreatedAt: now})
	db.PutRelation(&model.Relation{FromID: "b", ToID: "a", Type: model.RelationRelatedTo, Weight: 1, CreatedAt: now})

	exp := New(db)
	res, err := exp.Expand(context.Background(), "a", Options{Direction: Both, MaxDepth: 5})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	ids := res.IDsByKind[model.KindGuideline]
	if len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("expected only [b], got %v", ids)
	}
}

func TestExpandSkipsInactiveNeighbor(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	seedEntry(t, db, "a", model.KindGuideline)
	now := time.Now().UTC().Truncate(time.Second)
	inactive := &model.Entry{
		ID: "b", Kind: model.KindGuideline, Scope: model.Scope{Type: model.ScopeGlobal},
		Name: "b", Active: false, CreatedAt: now, UpdatedAt: now, Version: 1,
	}
	db.Upsert(inactive)
	db.PutRelation(&model.Relation{FromID: "a", ToID: "b", Type: model.RelationRelatedTo, Weight: 1, CreatedAt: time.Now()})

	exp := New(db)
	res, err := exp.Expand(context.Background(), "a", Options{Direction: Forward, MaxDepth: 2})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(res.IDsByKind[model.KindGuideline]) != 0 {
		t.Fatalf("expected inactive neighbor excluded, got %+v", res.IDsByKind)
	}
}

func TestExpandUnknownSeedIsNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	exp := New(db)
	if _, err := exp.Expand(context.Background(), "missing", Options{MaxDepth: 1}); err == nil {
		t.Fatal("expected NotFound for unknown seed")
	}
}

func TestExpandMaxResultsTruncates(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	seedEntry(t, db, "seed", model.KindGuideline)
	now := time.Now()
	for _, id := range []string{"n1", "n2", "n3"} {
		seedEntry(t, db, id, model.KindGuideline)
		db.PutRelation(&model.Relation{FromID: "seed", ToID: id, Type: model.RelationRelatedTo, Weight: 1, CreatedAt: now})
	}

	exp := New(db)
	res, err := exp.Expand(context.Background(), "seed", Options{Direction: Forward, MaxDepth: 2, MaxResults: 2})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(res.IDsByKind[model.KindGuideline]) != 2 {
		t.Fatalf("expected exactly 2 results, got %d", len(res.IDsByKind[model.KindGuideline]))
	}
}
