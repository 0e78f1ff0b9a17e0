// Package assemble builds the public response shape from a ranked
// candidate list: applying offset/limit last and attaching the request
// metadata block (returned count, cache/degraded flags, per-stage
// timings, detected intent).
//
// Grounded on the memory service's own handleRecall response assembly
// (shape the ranked rows into the public JSON last, after every filter
// and score has already run) and on profiling.Profiler's per-request
// timing accumulator for stageTimingsMs.
package assemble

import (
	"github.com/agentmem/retrieval-core/internal/model"
	"github.com/agentmem/retrieval-core/internal/scorer"
	"github.com/agentmem/retrieval-core/internal/semantic"
)

// Meta is the response metadata block.
type Meta struct {
	ReturnedCount   int                `json:"returnedCount"`
	TotalMatched    *int               `json:"totalMatched,omitempty"`
	CacheHit        bool               `json:"cacheHit"`
	Degraded        bool               `json:"degraded"`
	StageTimingsMs  map[string]float64 `json:"stageTimingsMs,omitempty"`
	IntentDetected  *semantic.Intent   `json:"intentDetected,omitempty"`
}

// Response is the full public result shape.
type Response struct {
	Entries []*model.Entry `json:"entries"`
	Meta    Meta           `json:"meta"`
}

// Options controls assembly of one response.
type Options struct {
	Offset int
	Limit  int

	TotalMatched   *int // set when the caller tracked the pre-pagination count
	CacheHit       bool
	Degraded       bool
	StageTimingsMs map[string]float64
	IntentDetected *semantic.Intent
	Compact        bool // when true, Body/Title are cleared to shrink payload size
}

// Assemble takes the Phase 2-ranked candidates, applies offset/limit, and
// builds the public response.
func Assemble(ranked []*scorer.Candidate, opts Options) Response {
	entries := paginate(ranked, opts.Offset, opts.Limit)
	if opts.Compact {
		for i, e := range entries {
			compact := *e
			compact.Body = ""
			compact.Title = ""
			entries[i] = &compact
		}
	}

	return Response{
		Entries: entries,
		Meta: Meta{
			ReturnedCount:  len(entries),
			TotalMatched:   opts.TotalMatched,
			CacheHit:       opts.CacheHit,
			Degraded:       opts.Degraded,
			StageTimingsMs: opts.StageTimingsMs,
			IntentDetected: opts.IntentDetected,
		},
	}
}

func paginate(ranked []*scorer.Candidate, offset, limit int) []*model.Entry {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ranked) {
		return []*model.Entry{}
	}
	end := len(ranked)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]*model.Entry, 0, end-offset)
	for _, c := range ranked[offset:end] {
		out = append(out, c.Entry)
	}
	return out
}
