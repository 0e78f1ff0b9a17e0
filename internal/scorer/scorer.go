// Package scorer implements the two-phase ranking funnel: a cheap linear
// Light Score over the full candidate pool, followed by a richer Full
// Score (recency decay, hybrid FTS/semantic blending, intent x kind
// reweighting, feedback multiplier) over the short list Phase 1 keeps.
//
// The structural split mirrors the source memory graph's two-phase
// Retrieve: a dual/triple-trigger seed funneled to a top-N Phase 1 pass,
// then a full Phase 2 fetch and re-sort on the survivors. The configurable
// named-weight table follows that same file's style of tunable decay/
// threshold constants, generalized from one exponential decay rate to the
// exponential/linear/step family below.
package scorer

import (
	"math"
	"sort"
	"time"

	"github.com/agentmem/retrieval-core/internal/config"
	"github.com/agentmem/retrieval-core/internal/model"
	"github.com/agentmem/retrieval-core/internal/semantic"
)

// DecayFunction selects the shape of the recency decay curve.
type DecayFunction string

const (
	DecayExponential DecayFunction = "exponential"
	DecayLinear      DecayFunction = "linear"
	DecayStep        DecayFunction = "step"
)

// TimestampField selects which entry timestamp recency decay is computed
// against.
type TimestampField string

const (
	TimestampCreatedAt TimestampField = "createdAt"
	TimestampUpdatedAt TimestampField = "updatedAt"
)

// Signals carries the per-candidate evidence gathered by the earlier
// pipeline stages (entity filter, relation expander, FTS/semantic
// generators, scope resolver) that the scorer itself does not compute.
type Signals struct {
	EntityMatchBoost    float64
	HasExplicitRelation bool
	MatchingTagCount    int
	ScopeIndex          int // 0 = most specific scope in the chain
	ScopeChainLen       int
	TextMatched         bool
	FTSScore            *float64
	SemanticScore       *float64
}

// Feedback is the aggregated positive/negative/net feedback count used by
// the Phase 2 multiplier.
type Feedback struct {
	Positive int
	NetScore int
}

// Candidate bundles one entry with its signals and running scores as it
// moves through the funnel.
type Candidate struct {
	Entry      *model.Entry
	Signals    Signals
	LightScore float64
	FullScore  float64
}

// Options configures Phase 2 scoring for one request.
type Options struct {
	Now               time.Time
	TimestampField    TimestampField
	RecencyWeight     float64 // 0 disables recency entirely
	DecayHalfLifeDays float64
	DecayFunction     DecayFunction

	Intent      semantic.Intent
	HybridAlpha *float64 // overrides the intent-derived alpha when non-nil

	FeedbackEnabled bool
	FeedbackByID    map[string]Feedback
}

// LightScore computes the Phase 1 cheap linear combination for one
// candidate.
func LightScore(e *model.Entry, sig Signals, w config.Weights) float64 {
	s := sig.EntityMatchBoost
	if sig.HasExplicitRelation {
		s += w.ExplicitRelation
	}
	s += float64(sig.MatchingTagCount) * w.TagMatch
	if sig.ScopeChainLen > 1 {
		s += (float64(sig.ScopeChainLen-sig.ScopeIndex) / float64(sig.ScopeChainLen)) * w.ScopeProximity
	}
	if sig.TextMatched {
		s += w.TextMatch
	}
	if sig.FTSScore != nil {
		s += *sig.FTSScore * w.TextMatch
	}
	if e.Priority != nil {
		s += (float64(*e.Priority) / 100) * w.PriorityMax
	}
	if sig.SemanticScore != nil {
		s += *sig.SemanticScore * w.SemanticMax
	}
	return s
}

// RankPhase1 scores every candidate, sorts descending (with the same
// tie-break RankPhase2 uses), and keeps the top limit.
func RankPhase1(candidates []*Candidate, w config.Weights, limit int) []*Candidate {
	for _, c := range candidates {
		c.LightScore = LightScore(c.Entry, c.Signals, w)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidateLess(candidates[i], candidates[j], func(c *Candidate) float64 { return c.LightScore })
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// FullScore computes the Phase 2 score for one candidate, starting from
// its already-computed LightScore.
func FullScore(c *Candidate, w config.Weights, opts Options) float64 {
	s := c.LightScore

	if hybridApplies(c.Signals) {
		alpha := opts.Intent.HybridAlpha()
		if w.Alpha != 0 {
			alpha = w.Alpha
		}
		if opts.HybridAlpha != nil {
			alpha = *opts.HybridAlpha
		}
		hybridBoost := alpha**c.Signals.SemanticScore + (1-alpha)*(*c.Signals.FTSScore)
		s -= *c.Signals.SemanticScore * w.SemanticMax
		s += hybridBoost * w.SemanticMax
	}

	if opts.RecencyWeight != 0 {
		s += recencyScore(c.Entry, opts) * opts.RecencyWeight * w.RecencyMax
	}

	s *= intentKindWeight(w.IntentKindWeight, opts.Intent, c.Entry.Kind)

	if opts.FeedbackEnabled {
		s *= feedbackMultiplier(opts.FeedbackByID[c.Entry.ID], w)
	}

	return s
}

// RankPhase2 computes FullScore for every surviving candidate and sorts
// descending with the deterministic tie-break: higher priority, then more
// recently updated, then lexicographic id.
func RankPhase2(candidates []*Candidate, w config.Weights, opts Options) []*Candidate {
	for _, c := range candidates {
		c.FullScore = FullScore(c, w, opts)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidateLess(candidates[i], candidates[j], func(c *Candidate) float64 { return c.FullScore })
	})
	return candidates
}

// candidateLess reports whether a should rank above (sort before) b: by
// score descending, then priority descending, then updatedAt descending,
// then id ascending.
func candidateLess(a, b *Candidate, scoreOf func(*Candidate) float64) bool {
	sa, sb := scoreOf(a), scoreOf(b)
	if sa != sb {
		return sa > sb
	}
	pa, pb := priorityOf(a.Entry), priorityOf(b.Entry)
	if pa != pb {
		return pa > pb
	}
	if !a.Entry.UpdatedAt.Equal(b.Entry.UpdatedAt) {
		return a.Entry.UpdatedAt.After(b.Entry.UpdatedAt)
	}
	return a.Entry.ID < b.Entry.ID
}

func priorityOf(e *model.Entry) int {
	if e.Priority == nil {
		return -1
	}
	return *e.Priority
}

func hybridApplies(sig Signals) bool {
	return sig.SemanticScore != nil && sig.FTSScore != nil
}

func recencyScore(e *model.Entry, opts Options) float64 {
	ts := e.CreatedAt
	if opts.TimestampField == TimestampUpdatedAt {
		ts = e.UpdatedAt
	}
	ageDays := opts.Now.Sub(ts).Hours() / 24

	halfLife := opts.DecayHalfLifeDays
	if halfLife <= 0 {
		halfLife = 1
	}

	switch opts.DecayFunction {
	case DecayLinear:
		return math.Max(0, 1-ageDays/(2*halfLife))
	case DecayStep:
		if ageDays <= halfLife {
			return 1
		}
		return 0.5
	default: // DecayExponential
		return math.Exp(-math.Ln2 * ageDays / halfLife)
	}
}

func intentKindWeight(table map[string]map[string]float64, intent semantic.Intent, kind model.Kind) float64 {
	if table == nil {
		return 1.0
	}
	byKind, ok := table[string(intent)]
	if !ok {
		return 1.0
	}
	w, ok := byKind[string(kind)]
	if !ok {
		return 1.0
	}
	return w
}

func feedbackMultiplier(fb Feedback, w config.Weights) float64 {
	boost := math.Min(float64(fb.Positive)*w.BoostPerPositive, w.BoostMax)
	penalty := math.Min(math.Max(float64(-fb.NetScore), 0)*w.PenaltyPerNegative, w.PenaltyMax)
	return 1 + boost - penalty
}
