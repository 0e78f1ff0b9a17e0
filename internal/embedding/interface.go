// Package embedding implements the embedding-collaborator contract: a
// narrow interface the retrieval core depends on, plus a concrete
// Ollama-backed client that satisfies it.
package embedding

import "context"

// Collaborator is the external embedding/LLM contract the retrieval core
// consumes. No guarantees are made about vector dimension; the caller's
// vector index is built from the first batch's dimension and rejects
// mismatched vectors.
type Collaborator interface {
	// EmbedBatch embeds a batch of texts in one round trip and reports the
	// model that produced them. ctx carries the request deadline through
	// to the underlying HTTP call; a canceled ctx aborts the round trip
	// rather than waiting it out.
	EmbedBatch(ctx context.Context, texts []string) (embeddings [][]float64, model string, err error)
	// IsAvailable reports whether the collaborator can currently be reached.
	IsAvailable() bool
}

// Generator is the narrower LLM-only contract used for HyDE hypothetical
// document synthesis. Kept separate from Collaborator because some
// deployments run embeddings and generation on different models/endpoints.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
