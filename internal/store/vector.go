package store

import (
	"fmt"
	"math"
)

// ensureVecTable (re)creates the vec0 virtual table for the given
// dimension. sqlite-vec partitions vec0 tables by declared dimension, so a
// dimension change (switching embedding collaborators) requires a fresh
// table; callers are expected to call this once per process lifetime, at
// startup, before any backfill.
//
// The table carries an integer rowid plus an auxiliary +entry_id TEXT
// column rather than using entry_id as the primary key directly: vec0
// partitions on a TEXT primary key in a way that defeats efficient
// incremental backfill, so rowid stays the join key and entry_id rides
// along as plain (non-indexed) data.
func (d *DB) ensureVecTable(dim int) error {
	if _, err := d.db.Exec("DROP TABLE IF EXISTS entry_vec"); err != nil {
		return fmt.Errorf("drop entry_vec: %w", err)
	}
	stmt := fmt.Sprintf(
		"CREATE VIRTUAL TABLE entry_vec USING vec0(embedding FLOAT[%d], +entry_id TEXT)",
		dim,
	)
	if _, err := d.db.Exec(stmt); err != nil {
		return fmt.Errorf("create entry_vec: %w", err)
	}
	d.vecDim = dim
	return nil
}

// initVecTableFromEntries builds entry_vec from whatever embeddings are
// already stored in entries.embedding. Dimension is taken from the first
// row seen; entries with no embedding or a mismatched dimension are
// skipped silently (not fatal — the semantic generator degrades to scan
// fallback for those rows until they're re-embedded).
func (d *DB) initVecTableFromEntries() error {
	rows, err := d.db.Query(`SELECT id, embedding FROM entries WHERE embedding IS NOT NULL AND active = 1`)
	if err != nil {
		return fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	type row struct {
		id  string
		emb []float32
	}
	var buffered []row
	dim := 0

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("scan embedding: %w", err)
		}
		vec := bytesToFloat32(blob)
		if len(vec) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(vec)
		}
		if len(vec) != dim {
			continue
		}
		buffered = append(buffered, row{id: id, emb: vec})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if dim == 0 {
		// Nothing embedded yet; defer table creation until the first
		// UpsertEmbedding call tells us the real dimension.
		return nil
	}

	if err := d.ensureVecTable(dim); err != nil {
		return err
	}

	for _, r := range buffered {
		if err := d.upsertVecRow(r.id, r.emb); err != nil {
			return fmt.Errorf("backfill %s: %w", r.id, err)
		}
	}
	return nil
}

// UpsertEmbedding stores an entry's embedding both as the durable BLOB
// column and in the ANN index. If this is the first embedding ever seen
// (vec table not yet created, or at a different dimension), the vec table
// is (re)created at this dimension.
func (d *DB) UpsertEmbedding(entryID string, embedding []float64) error {
	normalized := normalizeFloat32(toFloat32(embedding))

	blob := float32ToBytes(normalized)
	if _, err := d.db.Exec(`UPDATE entries SET embedding = ? WHERE id = ?`, blob, entryID); err != nil {
		return fmt.Errorf("store embedding blob: %w", err)
	}

	if !d.vecAvailable {
		return nil
	}
	if d.vecDim != len(normalized) {
		if err := d.ensureVecTable(len(normalized)); err != nil {
			return err
		}
	}
	return d.upsertVecRow(entryID, normalized)
}

// upsertVecRow replaces entry_id's row in entry_vec. vec0 does not support
// INSERT OR REPLACE reliably, so this deletes first.
func (d *DB) upsertVecRow(entryID string, vec []float32) error {
	if _, err := d.db.Exec(`DELETE FROM entry_vec WHERE entry_id = ?`, entryID); err != nil {
		return fmt.Errorf("delete stale vec row: %w", err)
	}
	_, err := d.db.Exec(
		`INSERT INTO entry_vec(embedding, entry_id) VALUES (?, ?)`,
		float32ToBytes(vec), entryID,
	)
	return err
}

// DeleteEmbedding removes entryID from the ANN index, used on hard delete.
func (d *DB) DeleteEmbedding(entryID string) error {
	if !d.vecAvailable {
		return nil
	}
	_, err := d.db.Exec(`DELETE FROM entry_vec WHERE entry_id = ?`, entryID)
	return err
}

// VecCandidate is one nearest-neighbor hit from the ANN index.
type VecCandidate struct {
	EntryID        string
	CosineSimilarity float64
}

// NearestByVector runs an ANN query over entry_vec and returns the topK
// nearest entries by cosine similarity. Query vectors are normalized
// before search so the vec0 L2 distance it returns converts directly to
// cosine similarity.
func (d *DB) NearestByVector(query []float64, topK int) ([]VecCandidate, error) {
	if !d.vecAvailable || d.vecDim == 0 {
		return nil, fmt.Errorf("vector index unavailable")
	}
	normalized := normalizeFloat32(toFloat32(query))
	if len(normalized) != d.vecDim {
		return nil, fmt.Errorf("query dim %d does not match index dim %d", len(normalized), d.vecDim)
	}

	rows, err := d.db.Query(
		`SELECT entry_id, distance FROM entry_vec WHERE embedding MATCH ? AND k = ? ORDER BY distance`,
		float32ToBytes(normalized), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("ann query: %w", err)
	}
	defer rows.Close()

	var out []VecCandidate
	for rows.Next() {
		var id string
		var dist float64
		if err := rows.Scan(&id, &dist); err != nil {
			return nil, fmt.Errorf("scan ann hit: %w", err)
		}
		out = append(out, VecCandidate{EntryID: id, CosineSimilarity: l2ToCosineSim(dist)})
	}
	return out, rows.Err()
}

// ScanAllEmbeddings returns every active entry's embedding for the brute
// force fallback path used when the ANN index is unavailable.
func (d *DB) ScanAllEmbeddings() (map[string][]float64, error) {
	rows, err := d.db.Query(`SELECT id, embedding FROM entries WHERE embedding IS NOT NULL AND active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]float64)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vec := bytesToFloat32(blob)
		if len(vec) == 0 {
			continue
		}
		out[id] = float32to64(vec)
	}
	return out, rows.Err()
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func float32to64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// normalizeFloat32 unit-normalizes a vector so that L2 distance between
// two normalized vectors relates to cosine similarity by a fixed formula
// (see cosineDistToL2/l2ToCosineSim), letting the vec0 index (which only
// speaks L2/distance) stand in for cosine search.
func normalizeFloat32(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// cosineDistToL2 converts a cosine distance (1 - cosine similarity) to the
// squared L2 distance between two unit vectors: ||a-b||^2 = 2*(1-cos).
func cosineDistToL2(cosineDist float64) float64 {
	return 2 * cosineDist
}

// l2ToCosineSim inverts the relationship above: given the L2 distance
// vec0 reports between two unit vectors, recovers cosine similarity.
func l2ToCosineSim(l2Dist float64) float64 {
	return 1 - (l2Dist*l2Dist)/2
}

func float32ToBytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, x := range v {
		bits := math.Float32bits(x)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

func bytesToFloat32(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
