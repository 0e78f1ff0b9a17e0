package store

import (
	"os"
	"testing"
	"time"

	"github.com/agentmem/retrieval-core/internal/errs"
	"github.com/agentmem/retrieval-core/internal/model"
)

func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "store-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	db, err := Open(tmpDir)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to open database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}
	return db, cleanup
}

func testEntry(id string, kind model.Kind, scope model.Scope) *model.Entry {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Entry{
		ID:        id,
		Kind:      kind,
		Scope:     scope,
		Name:      id,
		Body:      "body of " + id,
		Tags:      []string{"go", "testing"},
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

func TestUpsertAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	e := testEntry("e1", model.KindGuideline, model.Scope{Type: model.ScopeProject, ID: "proj1"})
	if err := db.Upsert(e); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := db.Get("e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "e1" || got.Body != "body of e1" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "go" {
		t.Fatalf("tags not round-tripped: %+v", got.Tags)
	}
}

func TestUpsertBumpsVersionOnConflict(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	e := testEntry("e1", model.KindKnowledge, model.Scope{Type: model.ScopeGlobal})
	if err := db.Upsert(e); err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	e.Body = "updated body"
	if err := db.Upsert(e); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}

	got, err := db.Get("e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("expected version 2 after second upsert, got %d", got.Version)
	}
	if got.Body != "updated body" {
		t.Fatalf("expected updated body, got %q", got.Body)
	}
}

func TestUpsertStaleVersionRaisesConflict(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	e := testEntry("e1", model.KindKnowledge, model.Scope{Type: model.ScopeGlobal})
	if err := db.Upsert(e); err != nil {
		t.Fatalf("upsert 1: %v", err)
	}

	stale := testEntry("e1", model.KindKnowledge, model.Scope{Type: model.ScopeGlobal})
	stale.Body = "racing update"
	stale.Version = 2 // stored version is 1 after the first Upsert; this is stale

	err := db.Upsert(stale)
	if !errs.Is(err, errs.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}

	got, getErr := db.Get("e1")
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if got.Version != 1 {
		t.Fatalf("conflicting write must not change stored state, got version %d", got.Version)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := db.Get("missing")
	if err == nil {
		t.Fatal("expected error for missing entry")
	}
}

func TestListByScopeAndKind(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	scope := model.Scope{Type: model.ScopeProject, ID: "proj1"}
	other := model.Scope{Type: model.ScopeProject, ID: "proj2"}

	db.Upsert(testEntry("g1", model.KindGuideline, scope))
	db.Upsert(testEntry("k1", model.KindKnowledge, scope))
	db.Upsert(testEntry("g2", model.KindGuideline, other))

	guidelines, err := db.ListByScopeAndKind(scope, model.KindGuideline)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(guidelines) != 1 || guidelines[0].ID != "g1" {
		t.Fatalf("expected only g1, got %+v", guidelines)
	}

	all, err := db.ListByScopeAndKind(scope, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries in scope, got %d", len(all))
	}
}

func TestDeleteRemovesEntryAndRelations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	scope := model.Scope{Type: model.ScopeGlobal}
	db.Upsert(testEntry("a", model.KindGuideline, scope))
	db.Upsert(testEntry("b", model.KindGuideline, scope))
	db.PutRelation(&model.Relation{FromID: "a", ToID: "b", Type: model.RelationRelatedTo, Weight: 1, CreatedAt: time.Now()})

	if err := db.Delete("a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get("a"); err == nil {
		t.Fatal("expected a to be gone")
	}
	neighbors, err := db.Neighbors("a")
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(neighbors) != 0 {
		t.Fatalf("expected no neighbors after delete, got %+v", neighbors)
	}
}

func TestRelationsAndNeighbors(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	scope := model.Scope{Type: model.ScopeGlobal}
	db.Upsert(testEntry("a", model.KindGuideline, scope))
	db.Upsert(testEntry("b", model.KindGuideline, scope))
	db.Upsert(testEntry("c", model.KindGuideline, scope))

	db.PutRelation(&model.Relation{FromID: "a", ToID: "b", Type: model.RelationRelatedTo, Weight: 0.8, CreatedAt: time.Now()})
	db.PutRelation(&model.Relation{FromID: "a", ToID: "c", Type: model.RelationDependsOn, Weight: 0.5, CreatedAt: time.Now()})

	neighbors, err := db.Neighbors("a")
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(neighbors) != 2 {
		t.Fatalf("expected 2 neighbors, got %d", len(neighbors))
	}
}

func TestNeighborsSkipsInactiveTargets(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	scope := model.Scope{Type: model.ScopeGlobal}
	db.Upsert(testEntry("a", model.KindGuideline, scope))
	inactive := testEntry("b", model.KindGuideline, scope)
	inactive.Active = false
	db.Upsert(inactive)

	db.PutRelation(&model.Relation{FromID: "a", ToID: "b", Type: model.RelationRelatedTo, Weight: 1, CreatedAt: time.Now()})

	neighbors, err := db.Neighbors("a")
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(neighbors) != 0 {
		t.Fatalf("expected inactive target to be excluded, got %+v", neighbors)
	}
}

func TestFeedbackRollup(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	scope := model.Scope{Type: model.ScopeGlobal}
	db.Upsert(testEntry("a", model.KindGuideline, scope))

	now := time.Now()
	if err := db.RecordFeedback(model.KindGuideline, "a", true, now); err != nil {
		t.Fatalf("record positive: %v", err)
	}
	if err := db.RecordFeedback(model.KindGuideline, "a", true, now); err != nil {
		t.Fatalf("record positive 2: %v", err)
	}
	if err := db.RecordFeedback(model.KindGuideline, "a", false, now); err != nil {
		t.Fatalf("record negative: %v", err)
	}

	fs, err := db.FeedbackFor(model.KindGuideline, "a")
	if err != nil {
		t.Fatalf("feedback for: %v", err)
	}
	if fs.Positive != 2 || fs.Negative != 1 || fs.Net != 1 {
		t.Fatalf("unexpected rollup: %+v", fs)
	}
}

func TestFeedbackForMissingReturnsZeroValue(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	fs, err := db.FeedbackFor(model.KindGuideline, "never-scored")
	if err != nil {
		t.Fatalf("expected no error for unseen entry, got %v", err)
	}
	if fs.Positive != 0 || fs.Negative != 0 || fs.Net != 0 {
		t.Fatalf("expected zero-value rollup, got %+v", fs)
	}
}

func TestEmbeddingRoundTripThroughVecIndex(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	if !db.VecAvailable() {
		t.Skip("sqlite-vec not available in this environment")
	}

	scope := model.Scope{Type: model.ScopeGlobal}
	db.Upsert(testEntry("a", model.KindKnowledge, scope))
	db.Upsert(testEntry("b", model.KindKnowledge, scope))

	if err := db.UpsertEmbedding("a", []float64{1, 0, 0, 0}); err != nil {
		t.Fatalf("upsert embedding a: %v", err)
	}
	if err := db.UpsertEmbedding("b", []float64{0, 1, 0, 0}); err != nil {
		t.Fatalf("upsert embedding b: %v", err)
	}

	hits, err := db.NearestByVector([]float64{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if len(hits) == 0 || hits[0].EntryID != "a" {
		t.Fatalf("expected a to be nearest neighbor of itself, got %+v", hits)
	}
	if hits[0].CosineSimilarity < 0.99 {
		t.Fatalf("expected near-1.0 cosine similarity for identical vector, got %f", hits[0].CosineSimilarity)
	}
}

func TestFTSMatch(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	scope := model.Scope{Type: model.ScopeGlobal}
	e := testEntry("a", model.KindGuideline, scope)
	e.Body = "always validate user input before calling the database"
	db.Upsert(e)

	ids, err := db.FTSMatch("validate", 10)
	if err != nil {
		t.Fatalf("fts match: %v", err)
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("expected [a], got %v", ids)
	}
}
