package semantic

import (
	"context"
	"time"

	"github.com/agentmem/retrieval-core/internal/embedding"
	"github.com/agentmem/retrieval-core/internal/logging"
	"github.com/agentmem/retrieval-core/internal/store"
)

// Options controls one semantic candidate generation call.
type Options struct {
	Enabled   bool
	Threshold float64 // similarity threshold; below-threshold hits dropped
	HyDE      bool
	HyDEDocs  int // number of hypothetical documents to synthesize, if HyDE enabled
	Intent    Intent
}

// Result is the Semantic Candidate Generator's output: an id set plus a
// dense score per id in [0,1], or nil when disabled or the collaborator
// is unavailable.
type Result struct {
	IDs         []string
	ScoreByID   map[string]float64
	UsedHyDE    bool
	Degraded    bool
}

// Generator runs vector similarity search via the embedding collaborator,
// with optional HyDE expansion, backed by the in-memory ANN accelerator
// and falling back to the durable sqlite-vec index or a full scan.
//
// Grounded on graph/activation.go's FindSimilarTraces/
// findSimilarTracesVec/findSimilarTracesScan (ANN + full-scan fallback).
type Generator struct {
	db    *store.DB
	ann   *ANNIndex
	embed embedding.Collaborator
	llm   embedding.Generator
	hyde  *hydeCache
}

// New builds a Generator. ann and llm may be nil: a nil ann means the
// generator always goes through sqlite-vec/full-scan; a nil llm disables
// HyDE regardless of Options.HyDE.
func New(db *store.DB, ann *ANNIndex, embed embedding.Collaborator, llm embedding.Generator, hydeCacheSize int, hydeCacheTTL time.Duration) *Generator {
	return &Generator{
		db: db, ann: ann, embed: embed, llm: llm,
		hyde: newHydeCache(hydeCacheSize, hydeCacheTTL),
	}
}

// Generate runs semantic candidate generation for one query. Returns
// (nil, nil) when disabled or the collaborator is unavailable — this is
// the "bypass", never an error, since the semantic signal is non-essential
// and fails open.
func (g *Generator) Generate(ctx context.Context, query string, opts Options) (*Result, error) {
	if !opts.Enabled || g.embed == nil || !g.embed.IsAvailable() || query == "" {
		return nil, nil
	}
	if ctx.Err() != nil {
		return nil, nil
	}

	queries := []string{query}
	usedHyDE := false
	if opts.HyDE {
		if docs := g.generateHyde(ctx, query, opts.Intent, opts.HyDEDocs); len(docs) > 0 {
			queries = append(queries, docs...)
			usedHyDE = true
		}
	}

	embeddings, _, err := g.embed.EmbedBatch(ctx, queries)
	if err != nil || len(embeddings) == 0 {
		logging.Warn("semantic", "embed query batch failed: %v", err)
		return nil, nil
	}

	scoreByID := make(map[string]float64)
	degraded := false
	for _, qvec := range embeddings {
		if ctx.Err() != nil {
			degraded = true
			break
		}
		if len(qvec) == 0 {
			continue
		}
		hits, deg, err := g.search(ctx, qvec, opts)
		if err != nil {
			logging.Warn("semantic", "vector search failed: %v", err)
			continue
		}
		degraded = degraded || deg
		for id, score := range hits {
			score = min(max(score, 0), 1)
			if existing, ok := scoreByID[id]; !ok || score > existing {
				scoreByID[id] = score
			}
		}
	}

	if len(scoreByID) == 0 {
		return &Result{ScoreByID: map[string]float64{}, UsedHyDE: usedHyDE, Degraded: degraded}, nil
	}

	ids := make([]string, 0, len(scoreByID))
	for id := range scoreByID {
		ids = append(ids, id)
	}
	return &Result{IDs: ids, ScoreByID: scoreByID, UsedHyDE: usedHyDE, Degraded: degraded}, nil
}

// search returns id->cosine-similarity for one query vector, preferring
// the in-memory ANN index, falling back to the durable sqlite-vec index,
// and finally to a brute-force scan (degraded=true) when neither is
// available. Hits below opts.Threshold are dropped.
func (g *Generator) search(ctx context.Context, qvec []float64, opts Options) (map[string]float64, bool, error) {
	const topK = 200

	if err := ctx.Err(); err != nil {
		return nil, true, err
	}

	if g.ann != nil && g.ann.Len() > 0 {
		hits, err := g.ann.Search(qvec, topK)
		if err == nil {
			return filterByThreshold(annHitsToMap(hits), opts.Threshold), false, nil
		}
		logging.Warn("semantic", "ANN search failed, falling back: %v", err)
	}

	if g.db.VecAvailable() {
		hits, err := g.db.NearestByVector(qvec, topK)
		if err == nil {
			m := make(map[string]float64, len(hits))
			for _, h := range hits {
				m[h.EntryID] = h.CosineSimilarity
			}
			return filterByThreshold(m, opts.Threshold), false, nil
		}
		logging.Warn("semantic", "sqlite-vec search failed, falling back to full scan: %v", err)
	}

	all, err := g.db.ScanAllEmbeddings()
	if err != nil {
		return nil, true, err
	}
	m := make(map[string]float64, len(all))
	for id, emb := range all {
		m[id] = embedding.CosineSimilarity(qvec, emb)
	}
	return filterByThreshold(m, opts.Threshold), true, nil
}

func annHitsToMap(hits []Hit) map[string]float64 {
	m := make(map[string]float64, len(hits))
	for _, h := range hits {
		m[h.EntryID] = h.CosineSimilarity
	}
	return m
}

func filterByThreshold(m map[string]float64, threshold float64) map[string]float64 {
	if threshold <= 0 {
		return m
	}
	out := make(map[string]float64, len(m))
	for id, score := range m {
		if score >= threshold {
			out[id] = score
		}
	}
	return out
}
