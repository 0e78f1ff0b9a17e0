// Package semantic implements the Semantic Candidate Generator: a vector
// similarity query against the embedding collaborator's output, with
// optional HyDE expansion and a lightweight intent classifier that steers
// both this stage and the full scorer's hybrid blend.
package semantic

import (
	"fmt"
	"sync"

	"github.com/coder/hnsw"
)

// ANNIndex is an in-memory accelerator layered in front of the durable
// sqlite-vec index: coder/hnsw gives sub-millisecond approximate search
// once the corpus no longer fits comfortably in a brute-force scan,
// while sqlite-vec remains the source of truth that rebuilds it on
// startup and keeps it correct across restarts.
type ANNIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[string]
	dim    int
	loaded bool
	dead   map[string]struct{}
}

// NewANNIndex builds an empty accelerator for the given embedding
// dimension. The graph is populated by Load and kept current by Upsert/
// Delete as entries change.
func NewANNIndex(dim int) *ANNIndex {
	g := hnsw.NewGraph[string]()
	g.Distance = hnsw.CosineDistance
	return &ANNIndex{graph: g, dim: dim, dead: make(map[string]struct{})}
}

// Load bulk-populates the index from a snapshot of entryID -> embedding,
// called once at startup after the durable vector index has been
// rebuilt. Vectors at the wrong dimension are skipped.
func (a *ANNIndex) Load(embeddings map[string][]float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, emb := range embeddings {
		if len(emb) != a.dim {
			continue
		}
		a.graph.Add(hnsw.MakeNode(id, toFloat32(emb)))
	}
	a.loaded = true
}

// Upsert adds or updates one entry's vector in the index.
func (a *ANNIndex) Upsert(entryID string, embedding []float64) error {
	if len(embedding) != a.dim {
		return fmt.Errorf("embedding dim %d does not match index dim %d", len(embedding), a.dim)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.graph.Add(hnsw.MakeNode(entryID, toFloat32(embedding)))
	return nil
}

// Delete removes an entry from the index. coder/hnsw degrades if the
// last remaining node is deleted outright, so deletion here is lazy:
// the id is recorded in the index's own dead set, which Search skips,
// instead of physically removing the node.
func (a *ANNIndex) Delete(entryID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dead[entryID] = struct{}{}
}

// Hit is one nearest-neighbor result.
type Hit struct {
	EntryID          string
	CosineSimilarity float64
}

// Search returns up to k nearest neighbors of query by cosine similarity,
// excluding any id marked dead via Delete.
func (a *ANNIndex) Search(query []float64, k int) ([]Hit, error) {
	if len(query) != a.dim {
		return nil, fmt.Errorf("query dim %d does not match index dim %d", len(query), a.dim)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.graph.Len() == 0 {
		return nil, nil
	}

	q32 := toFloat32(query)
	nodes := a.graph.Search(q32, k+len(a.dead))

	out := make([]Hit, 0, k)
	for _, n := range nodes {
		if _, gone := a.dead[n.Key]; gone {
			continue
		}
		dist := a.graph.Distance(q32, n.Value)
		out = append(out, Hit{EntryID: n.Key, CosineSimilarity: 1 - dist})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// Len reports how many live vectors the index holds.
func (a *ANNIndex) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.graph.Len() - len(a.dead)
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
