package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentmem/retrieval-core/internal/errs"
	"github.com/agentmem/retrieval-core/internal/model"
)

// Upsert inserts a new entry, or updates an existing one by id. Updates
// are optimistic-concurrency gated: e.Version must match the currently
// stored version, the same versioned-update contract §3/§7 describe. A
// mismatch raises errs.Conflict rather than silently clobbering a
// concurrent writer's update; the caller is expected to re-read and
// retry. On success e.Version holds the stored version: for a fresh
// insert, the caller's e.Version, or 1 if it was zero; for an update,
// storedVersion+1.
func (d *DB) Upsert(e *model.Entry) error {
	if err := e.Validate(); err != nil {
		return errs.New(errs.BadRequest, "store.Upsert", err)
	}

	tagsJSON, err := json.Marshal(e.Tags)
	if err != nil {
		return errs.New(errs.Internal, "store.Upsert", fmt.Errorf("marshal tags: %w", err))
	}
	var expJSON []byte
	if e.Experience != nil {
		expJSON, err = json.Marshal(e.Experience)
		if err != nil {
			return errs.New(errs.Internal, "store.Upsert", fmt.Errorf("marshal experience: %w", err))
		}
	}

	tx, err := d.db.Begin()
	if err != nil {
		return errs.New(errs.Internal, "store.Upsert", err)
	}
	defer tx.Rollback()

	var storedVersion int
	err = tx.QueryRow(`SELECT version FROM entries WHERE id = ?`, e.ID).Scan(&storedVersion)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if e.Version == 0 {
			e.Version = 1
		}
		_, err = tx.Exec(`
			INSERT INTO entries (id, kind, scope_type, scope_id, name, title, body, tags,
				priority, confidence, active, created_at, updated_at, valid_from, valid_until,
				experience_payload, version)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		`,
			e.ID, string(e.Kind), string(e.Scope.Type), e.Scope.ID, e.Name, nullStr(e.Title), e.Body, string(tagsJSON),
			nullInt(e.Priority), nullFloat(e.Confidence), e.Active, e.CreatedAt, e.UpdatedAt,
			nullTime(e.ValidFrom), nullTime(e.ValidUntil), nullBytes(expJSON), e.Version,
		)
		if err != nil {
			return errs.New(errs.Internal, "store.Upsert", err)
		}
	case err != nil:
		return errs.New(errs.Internal, "store.Upsert", err)
	default:
		if e.Version != storedVersion {
			return errs.New(errs.Conflict, "store.Upsert", fmt.Errorf("entry %s: version %d does not match stored version %d", e.ID, e.Version, storedVersion))
		}
		e.Version = storedVersion + 1
		_, err = tx.Exec(`
			UPDATE entries SET
				kind=?, scope_type=?, scope_id=?, name=?, title=?, body=?, tags=?,
				priority=?, confidence=?, active=?, updated_at=?, valid_from=?, valid_until=?,
				experience_payload=?, version=?
			WHERE id = ?
		`,
			string(e.Kind), string(e.Scope.Type), e.Scope.ID, e.Name, nullStr(e.Title), e.Body, string(tagsJSON),
			nullInt(e.Priority), nullFloat(e.Confidence), e.Active, e.UpdatedAt,
			nullTime(e.ValidFrom), nullTime(e.ValidUntil), nullBytes(expJSON), e.Version, e.ID,
		)
		if err != nil {
			return errs.New(errs.Internal, "store.Upsert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.New(errs.Internal, "store.Upsert", err)
	}
	return nil
}

// Delete hard-deletes an entry and its dependent rows.
func (d *DB) Delete(id string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return errs.New(errs.Internal, "store.Delete", err)
	}
	defer tx.Rollback()

	stmts := []struct {
		q    string
		args []any
	}{
		{`DELETE FROM entity_occurrences WHERE entry_id = ?`, []any{id}},
		{`DELETE FROM relations WHERE from_id = ? OR to_id = ?`, []any{id, id}},
		{`DELETE FROM entries WHERE id = ?`, []any{id}},
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s.q, s.args...); err != nil {
			return errs.New(errs.Internal, "store.Delete", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.New(errs.Internal, "store.Delete", err)
	}
	return d.DeleteEmbedding(id)
}

// Get fetches one entry by id. Returns a NotFound error if absent.
func (d *DB) Get(id string) (*model.Entry, error) {
	row := d.queryRowStmt(entrySelectCols+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "store.Get", fmt.Errorf("entry %s not found", id))
	}
	if err != nil {
		return nil, errs.New(errs.Internal, "store.Get", err)
	}
	return e, nil
}

// GetMany fetches entries by id, skipping ids that don't exist. Used by
// the Entry Fetcher on the union of the FTS/semantic/relation candidate
// sets, and by the Relation Expander. Its IN-clause text varies with
// len(ids) on every call, so it bypasses the prepared-statement cache
// deliberately: a cache keyed by canonical SQL text would just accumulate
// one entry per distinct candidate-set size instead of ever getting a hit.
func (d *DB) GetMany(ids []string) ([]*model.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(ids)
	rows, err := d.db.Query(entrySelectCols+` WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, errs.New(errs.Internal, "store.GetMany", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByScopeAndKind returns active entries in a single scope, optionally
// filtered to a kind, used by the Entry Fetcher's all-in-scope path (one
// call per scope and kind over the resolved chain).
func (d *DB) ListByScopeAndKind(scope model.Scope, kind model.Kind) ([]*model.Entry, error) {
	q := entrySelectCols + ` WHERE scope_type = ? AND scope_id = ? AND active = 1`
	args := []any{string(scope.Type), scope.ID}
	if kind != "" {
		q += ` AND kind = ?`
		args = append(args, string(kind))
	}
	rows, err := d.queryStmt(q, args...)
	if err != nil {
		return nil, errs.New(errs.Internal, "store.ListByScopeAndKind", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// FTSMatch runs an FTS5 MATCH query against entry_fts and returns matching
// entry ids ranked by bm25, best (most negative) first. Returns an
// Unavailable error if the FTS5 virtual table was never created (the
// caller treats this as a non-essential subsystem and fails open).
func (d *DB) FTSMatch(query string, limit int) ([]string, error) {
	rows, err := d.queryStmt(`
		SELECT entry_id FROM entry_fts WHERE entry_fts MATCH ? ORDER BY bm25(entry_fts) LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, errs.New(errs.Unavailable, "store.FTSMatch", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.New(errs.Internal, "store.FTSMatch", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Neighbors returns the typed, active-only outgoing relations from id,
// used by the Relation Expander's per-hop fan-out.
func (d *DB) Neighbors(id string) ([]model.Relation, error) {
	rows, err := d.queryStmt(`
		SELECT r.id, r.from_id, r.to_id, r.type, r.weight, r.properties, r.created_at
		FROM relations r
		JOIN entries e ON e.id = r.to_id
		WHERE r.from_id = ? AND e.active = 1
	`, id)
	if err != nil {
		return nil, errs.New(errs.Internal, "store.Neighbors", err)
	}
	defer rows.Close()

	var out []model.Relation
	for rows.Next() {
		var r model.Relation
		var propsJSON sql.NullString
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &r.Type, &r.Weight, &propsJSON, &r.CreatedAt); err != nil {
			return nil, errs.New(errs.Internal, "store.Neighbors", err)
		}
		if propsJSON.Valid && propsJSON.String != "" {
			_ = json.Unmarshal([]byte(propsJSON.String), &r.Properties)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IncomingNeighbors returns the typed, active-only incoming relations
// pointing at id (the source entry active, id itself not required to be
// active so backward traversal from a soft-deleted seed is still possible
// by direct id), used by the Relation Expander's backward/both traversal.
func (d *DB) IncomingNeighbors(id string) ([]model.Relation, error) {
	rows, err := d.queryStmt(`
		SELECT r.id, r.from_id, r.to_id, r.type, r.weight, r.properties, r.created_at
		FROM relations r
		JOIN entries e ON e.id = r.from_id
		WHERE r.to_id = ? AND e.active = 1
	`, id)
	if err != nil {
		return nil, errs.New(errs.Internal, "store.IncomingNeighbors", err)
	}
	defer rows.Close()

	var out []model.Relation
	for rows.Next() {
		var r model.Relation
		var propsJSON sql.NullString
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &r.Type, &r.Weight, &propsJSON, &r.CreatedAt); err != nil {
			return nil, errs.New(errs.Internal, "store.IncomingNeighbors", err)
		}
		if propsJSON.Valid && propsJSON.String != "" {
			_ = json.Unmarshal([]byte(propsJSON.String), &r.Properties)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceEntityOccurrences atomically replaces every entity_occurrences row
// for entryID with occs, used by the offline entity extractor after it
// re-scans an entry's body. An empty occs just clears the entry's rows.
func (d *DB) ReplaceEntityOccurrences(entryID string, occs []model.EntityOccurrence) error {
	tx, err := d.db.Begin()
	if err != nil {
		return errs.New(errs.Internal, "store.ReplaceEntityOccurrences", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM entity_occurrences WHERE entry_id = ?`, entryID); err != nil {
		return errs.New(errs.Internal, "store.ReplaceEntityOccurrences", err)
	}
	for _, o := range occs {
		if _, err := tx.Exec(`
			INSERT INTO entity_occurrences (entity_type, normalized_value, entry_id, count)
			VALUES (?,?,?,?)
			ON CONFLICT(entity_type, normalized_value, entry_id) DO UPDATE SET count = excluded.count
		`, string(o.EntityType), o.NormalizedValue, entryID, o.Count); err != nil {
			return errs.New(errs.Internal, "store.ReplaceEntityOccurrences", err)
		}
	}
	return tx.Commit()
}

// AllEntityOccurrences returns every stored occurrence, used by the entity
// index's full rebuild at startup.
func (d *DB) AllEntityOccurrences() ([]model.EntityOccurrence, error) {
	rows, err := d.db.Query(`SELECT entity_type, normalized_value, entry_id, count FROM entity_occurrences`)
	if err != nil {
		return nil, errs.New(errs.Internal, "store.AllEntityOccurrences", err)
	}
	defer rows.Close()

	var out []model.EntityOccurrence
	for rows.Next() {
		var o model.EntityOccurrence
		if err := rows.Scan(&o.EntityType, &o.NormalizedValue, &o.EntryID, &o.Count); err != nil {
			return nil, errs.New(errs.Internal, "store.AllEntityOccurrences", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// EntityOccurrencesForEntry returns one entry's stored occurrences, used by
// the entity index's incremental update after a create/update change event.
func (d *DB) EntityOccurrencesForEntry(entryID string) ([]model.EntityOccurrence, error) {
	rows, err := d.db.Query(`SELECT entity_type, normalized_value, entry_id, count FROM entity_occurrences WHERE entry_id = ?`, entryID)
	if err != nil {
		return nil, errs.New(errs.Internal, "store.EntityOccurrencesForEntry", err)
	}
	defer rows.Close()

	var out []model.EntityOccurrence
	for rows.Next() {
		var o model.EntityOccurrence
		if err := rows.Scan(&o.EntityType, &o.NormalizedValue, &o.EntryID, &o.Count); err != nil {
			return nil, errs.New(errs.Internal, "store.EntityOccurrencesForEntry", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// AllSearchableText returns every active entry's concatenated name+title+
// body, used by the FTS Candidate Generator's degraded-path naive scan
// and by the regex query path (FTS5 has no native regex operator).
func (d *DB) AllSearchableText() (map[string]string, error) {
	rows, err := d.db.Query(`SELECT id, name, COALESCE(title,''), body FROM entries WHERE active = 1`)
	if err != nil {
		return nil, errs.New(errs.Internal, "store.AllSearchableText", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, name, title, body string
		if err := rows.Scan(&id, &name, &title, &body); err != nil {
			return nil, errs.New(errs.Internal, "store.AllSearchableText", err)
		}
		out[id] = name + " " + title + " " + body
	}
	return out, rows.Err()
}

// PutRelation inserts or refreshes a directed typed edge.
func (d *DB) PutRelation(r *model.Relation) error {
	var propsJSON []byte
	if len(r.Properties) > 0 {
		var err error
		propsJSON, err = json.Marshal(r.Properties)
		if err != nil {
			return errs.New(errs.Internal, "store.PutRelation", err)
		}
	}
	_, err := d.db.Exec(`
		INSERT INTO relations (from_id, to_id, type, weight, properties, created_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(from_id, to_id, type) DO UPDATE SET weight = excluded.weight, properties = excluded.properties
	`, r.FromID, r.ToID, string(r.Type), r.Weight, nullBytes(propsJSON), r.CreatedAt)
	if err != nil {
		return errs.New(errs.Internal, "store.PutRelation", err)
	}
	return nil
}

// FeedbackFor returns the feedback rollup for (kind, entryID), or a zero
// value (no error) if none has been recorded yet — a missing rollup is
// the normal "no feedback seen" state, not a failure.
func (d *DB) FeedbackFor(kind model.Kind, entryID string) (model.FeedbackScore, error) {
	var fs model.FeedbackScore
	fs.Kind, fs.EntryID = kind, entryID
	row := d.queryRowStmt(`
		SELECT positive, negative, net, inserted_at FROM feedback_scores WHERE kind = ? AND entry_id = ?
	`, string(kind), entryID)
	err := row.Scan(&fs.Positive, &fs.Negative, &fs.Net, &fs.InsertedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fs, nil
	}
	if err != nil {
		return fs, errs.New(errs.Internal, "store.FeedbackFor", err)
	}
	return fs, nil
}

// RecordFeedback applies one piece of explicit feedback (thumbs up/down)
// to an entry's rollup, creating it if absent.
func (d *DB) RecordFeedback(kind model.Kind, entryID string, positive bool, at time.Time) error {
	posDelta, negDelta := 0, 0
	if positive {
		posDelta = 1
	} else {
		negDelta = 1
	}
	_, err := d.db.Exec(`
		INSERT INTO feedback_scores (kind, entry_id, positive, negative, net, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, entry_id) DO UPDATE SET
			positive = positive + excluded.positive,
			negative = negative + excluded.negative,
			net = net + excluded.positive - excluded.negative
	`, string(kind), entryID, posDelta, negDelta, posDelta-negDelta, at)
	if err != nil {
		return errs.New(errs.Internal, "store.RecordFeedback", err)
	}
	return nil
}

const entrySelectCols = `SELECT id, kind, scope_type, scope_id, name, title, body, tags,
	priority, confidence, active, created_at, updated_at, valid_from, valid_until,
	experience_payload, version FROM entries`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*model.Entry, error) {
	var e model.Entry
	var title, tagsJSON sql.NullString
	var priority sql.NullInt64
	var confidence sql.NullFloat64
	var validFrom, validUntil sql.NullTime
	var expJSON sql.NullString

	err := s.Scan(
		&e.ID, &e.Kind, &e.Scope.Type, &e.Scope.ID, &e.Name, &title, &e.Body, &tagsJSON,
		&priority, &confidence, &e.Active, &e.CreatedAt, &e.UpdatedAt, &validFrom, &validUntil,
		&expJSON, &e.Version,
	)
	if err != nil {
		return nil, err
	}

	e.Title = title.String
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &e.Tags)
	}
	if priority.Valid {
		p := int(priority.Int64)
		e.Priority = &p
	}
	if confidence.Valid {
		c := confidence.Float64
		e.Confidence = &c
	}
	if validFrom.Valid {
		e.ValidFrom = &validFrom.Time
	}
	if validUntil.Valid {
		e.ValidUntil = &validUntil.Time
	}
	if expJSON.Valid && expJSON.String != "" {
		var payload model.ExperiencePayload
		if err := json.Unmarshal([]byte(expJSON.String), &payload); err == nil {
			e.Experience = &payload
		}
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*model.Entry, error) {
	var out []*model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errs.New(errs.Internal, "store.scanEntries", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func inClause(ids []string) (string, []any) {
	placeholders := ""
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = id
	}
	return placeholders, args
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
