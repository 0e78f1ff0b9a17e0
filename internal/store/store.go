// Package store is the durable storage driver the retrieval core's Entry
// Fetcher, FTS Candidate Generator, and Semantic Candidate Generator are
// built on: SQLite with an FTS5 keyword index and a sqlite-vec ANN index,
// both kept in sync with the entries table via triggers and a write-path
// backfill.
//
// Schema migrations are a version-gated ladder, the same idiom the source
// memory graph used for its own schema evolution: each step is idempotent
// and records its version in schema_version so restarts never re-run a
// completed step.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agentmem/retrieval-core/internal/cache"
)

func init() {
	sqlite_vec.Auto() // registers the vec0 virtual table with go-sqlite3
}

// stmtCacheCapacity bounds the prepared-statement cache (§4.9's C₁):
// the driver issues a small, fixed set of canonical queries (fetch-by-id,
// list-by-scope-kind, FTS match, neighbors, feedback rollup), so a
// handful of slots comfortably covers every distinct query shape without
// needing to be configurable.
const stmtCacheCapacity = 64

// DB wraps the SQLite connection backing the retrieval core.
type DB struct {
	db           *sql.DB
	path         string
	vecAvailable bool
	vecDim       int
	stmts        *cache.StmtCache
}

// Open opens or creates the retrieval core's database under dataDir.
func Open(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "entries.db")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	d := &DB{db: sqlDB, path: dbPath}

	stmts, err := cache.NewStmtCache(sqlDB, stmtCacheCapacity)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("build statement cache: %w", err)
	}
	d.stmts = stmts

	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var vecVersion string
	if err := sqlDB.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		log.Printf("[store] sqlite-vec not available: %v — falling back to full scan", err)
	} else {
		log.Printf("[store] sqlite-vec %s loaded", vecVersion)
		d.vecAvailable = true
		if err := d.initVecTableFromEntries(); err != nil {
			log.Printf("[store] vec init warning: %v", err)
		}
	}

	return d, nil
}

// Close closes every cached prepared statement, then the underlying
// connection.
func (d *DB) Close() error {
	if d.stmts != nil {
		d.stmts.Close()
	}
	return d.db.Close()
}

// queryRowStmt runs query (QueryRow) through the prepared-statement
// cache, preparing it on first use. If priming the cache fails, it falls
// back to an unprepared call — the cache is a performance optimization,
// not a correctness dependency.
func (d *DB) queryRowStmt(query string, args ...any) *sql.Row {
	if d.stmts != nil {
		if stmt, err := d.stmts.Prepared(query); err == nil {
			return stmt.QueryRow(args...)
		}
	}
	return d.db.QueryRow(query, args...)
}

// queryStmt runs query (Query) through the prepared-statement cache, with
// the same unprepared fallback as queryRowStmt.
func (d *DB) queryStmt(query string, args ...any) (*sql.Rows, error) {
	if d.stmts != nil {
		if stmt, err := d.stmts.Prepared(query); err == nil {
			return stmt.Query(args...)
		}
	}
	return d.db.Query(query, args...)
}

// Raw exposes the underlying *sql.DB for packages that need to run
// parameterized queries directly (the scope resolver). Kept narrow on
// purpose: callers own their own SQL, this package owns schema and index
// maintenance.
func (d *DB) Raw() *sql.DB {
	return d.db
}

// VecAvailable reports whether the sqlite-vec extension loaded.
func (d *DB) VecAvailable() bool {
	return d.vecAvailable
}

func (d *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS scopes (
		type TEXT NOT NULL,
		id TEXT NOT NULL,
		parent_type TEXT,
		parent_id TEXT,
		PRIMARY KEY (type, id)
	);

	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		scope_type TEXT NOT NULL,
		scope_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		title TEXT,
		body TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		priority INTEGER,
		confidence REAL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		valid_from DATETIME,
		valid_until DATETIME,
		experience_payload TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		embedding BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_entries_scope ON entries(scope_type, scope_id);
	CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries(kind);
	CREATE INDEX IF NOT EXISTS idx_entries_active ON entries(active);
	CREATE INDEX IF NOT EXISTS idx_entries_updated ON entries(updated_at);

	CREATE TABLE IF NOT EXISTS relations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_id TEXT NOT NULL,
		to_id TEXT NOT NULL,
		type TEXT NOT NULL,
		weight REAL NOT NULL DEFAULT 1.0,
		properties TEXT,
		created_at DATETIME NOT NULL,
		UNIQUE(from_id, to_id, type)
	);
	CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_id);
	CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(to_id);
	CREATE INDEX IF NOT EXISTS idx_relations_type ON relations(type);

	CREATE TABLE IF NOT EXISTS entity_occurrences (
		entity_type TEXT NOT NULL,
		normalized_value TEXT NOT NULL,
		entry_id TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (entity_type, normalized_value, entry_id)
	);
	CREATE INDEX IF NOT EXISTS idx_entity_occ_value ON entity_occurrences(normalized_value);
	CREATE INDEX IF NOT EXISTS idx_entity_occ_entry ON entity_occurrences(entry_id);

	CREATE TABLE IF NOT EXISTS feedback_scores (
		kind TEXT NOT NULL,
		entry_id TEXT NOT NULL,
		positive INTEGER NOT NULL DEFAULT 0,
		negative INTEGER NOT NULL DEFAULT 0,
		net INTEGER NOT NULL DEFAULT 0,
		inserted_at DATETIME NOT NULL,
		PRIMARY KEY (kind, entry_id)
	);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("base schema: %w", err)
	}

	return d.runMigrations()
}

func (d *DB) schemaVersion() int {
	var v int
	_ = d.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v)
	return v
}

// runMigrations applies version-gated, idempotent migrations beyond the
// always-current base schema above. Each one records its own version so a
// restart never re-applies a completed step.
func (d *DB) runMigrations() error {
	version := d.schemaVersion()

	if version < 1 {
		log.Println("[store] migrating to schema v1: entry_fts keyword index")
		stmts := []string{
			`CREATE VIRTUAL TABLE IF NOT EXISTS entry_fts USING fts5(
				entry_id UNINDEXED,
				name,
				title,
				body,
				content=entries,
				content_rowid=rowid
			)`,
			`INSERT INTO entry_fts(rowid, entry_id, name, title, body)
				SELECT rowid, id, name, COALESCE(title,''), body FROM entries`,
			`CREATE TRIGGER IF NOT EXISTS entries_fts_ai AFTER INSERT ON entries BEGIN
				INSERT INTO entry_fts(rowid, entry_id, name, title, body)
				VALUES (NEW.rowid, NEW.id, NEW.name, COALESCE(NEW.title,''), NEW.body);
			END`,
			`CREATE TRIGGER IF NOT EXISTS entries_fts_au AFTER UPDATE ON entries BEGIN
				INSERT INTO entry_fts(entry_fts, rowid, entry_id, name, title, body)
				VALUES ('delete', OLD.rowid, OLD.entry_id, OLD.name, COALESCE(OLD.title,''), OLD.body);
				INSERT INTO entry_fts(rowid, entry_id, name, title, body)
				VALUES (NEW.rowid, NEW.id, NEW.name, COALESCE(NEW.title,''), NEW.body);
			END`,
			`CREATE TRIGGER IF NOT EXISTS entries_fts_ad AFTER DELETE ON entries BEGIN
				INSERT INTO entry_fts(entry_fts, rowid, entry_id, name, title, body)
				VALUES ('delete', OLD.rowid, OLD.id, OLD.name, COALESCE(OLD.title,''), OLD.body);
			END`,
		}
		ftsOK := true
		for _, s := range stmts {
			if _, err := d.db.Exec(s); err != nil {
				log.Printf("[store] migration v1 warning (FTS5 may be unavailable): %v", err)
				ftsOK = false
				break
			}
		}
		d.db.Exec("INSERT INTO schema_version (version) VALUES (1)")
		if ftsOK {
			log.Println("[store] migration v1 complete: entry_fts created")
		} else {
			log.Println("[store] migration v1 skipped: FTS5 unavailable")
		}
	}

	return nil
}

// Stats returns row counts for the core tables, used by tests and
// diagnostics.
func (d *DB) Stats() (map[string]int, error) {
	tables := []string{"entries", "relations", "entity_occurrences", "feedback_scores"}
	out := make(map[string]int, len(tables))
	for _, t := range tables {
		var n int
		if err := d.db.QueryRow("SELECT COUNT(*) FROM " + t).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", t, err)
		}
		out[t] = n
	}
	return out, nil
}

// Clear deletes all rows in FK-safe dependency order. Test-only.
func (d *DB) Clear() error {
	order := []string{"feedback_scores", "entity_occurrences", "relations", "entries", "scopes"}
	for _, t := range order {
		if _, err := d.db.Exec("DELETE FROM " + t); err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}
	return nil
}
