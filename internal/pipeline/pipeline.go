// Package pipeline wires every retrieval stage into the one cooperative
// per-request task external callers drive: Scope Resolver, FTS Candidate
// Generator, Semantic Candidate Generator, Relation Expander, Entity
// Index lookup, Entry Fetcher, Light Scorer, Full Scorer, Result
// Assembler.
//
// Concurrency follows the same goroutine-per-signal-generator shape the
// source memory graph used for its own triple-trigger seed
// (SpreadActivationFromEmbedding's concurrent seed generation): FTS,
// semantic, and relation expansion run in parallel goroutines joined by a
// WaitGroup, since each reads storage/the embedding collaborator
// independently and none depends on another's output. Only scope
// resolution, entry fetch, and an invalid limit fail closed; every other
// subsystem fails open, recording degradation in the response instead.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/agentmem/retrieval-core/internal/assemble"
	"github.com/agentmem/retrieval-core/internal/cache"
	"github.com/agentmem/retrieval-core/internal/config"
	"github.com/agentmem/retrieval-core/internal/entityindex"
	"github.com/agentmem/retrieval-core/internal/errs"
	"github.com/agentmem/retrieval-core/internal/fetch"
	"github.com/agentmem/retrieval-core/internal/fts"
	"github.com/agentmem/retrieval-core/internal/model"
	"github.com/agentmem/retrieval-core/internal/profiling"
	"github.com/agentmem/retrieval-core/internal/relation"
	"github.com/agentmem/retrieval-core/internal/scope"
	"github.com/agentmem/retrieval-core/internal/scorer"
	"github.com/agentmem/retrieval-core/internal/semantic"
	"github.com/agentmem/retrieval-core/internal/store"
)

// Action selects the top-level retrieval mode.
type Action string

const (
	ActionSearch  Action = "search"
	ActionContext Action = "context"
)

// ScopeRef is the request's scope target plus its inheritance flag.
type ScopeRef struct {
	Type    model.ScopeType
	ID      string
	Inherit bool
}

// RelatedToRef requests relation-graph expansion from a seed entry.
type RelatedToRef struct {
	ID         string
	Type       model.RelationType // empty means any type
	Direction  relation.Direction
	Depth      int
	MaxResults int
}

// Request is the canonical query request.
type Request struct {
	ID     string // caller-supplied (never generated here); used for profiling correlation
	Action Action
	Scope  ScopeRef
	Types  []model.Kind // empty means all four kinds

	Search string
	Fuzzy  bool
	Regex  bool

	UseFTS5           bool
	SemanticSearch    bool
	SemanticThreshold float64
	HyDE              bool
	HyDEDocs          int

	Tags       fetch.TagFilter
	Priority   fetch.Range
	Confidence fetch.Range

	IncludeInactive bool
	AtTime          *time.Time
	ValidDuring     *fetch.Interval
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time

	RelatedTo *RelatedToRef

	Limit  int
	Offset int

	Intent            semantic.Intent // empty means auto-detect from Search
	HybridAlpha       *float64
	RecencyWeight     *float64
	DecayHalfLifeDays *float64
	DecayFunction     scorer.DecayFunction

	FeedbackEnabled bool
	Compact         bool
}

const (
	defaultLimit = 20
	maxLimit     = 500
)

// Deps bundles the pre-built stage handles a Pipeline is constructed
// from. Feedback and Profiler may be nil to disable those optional
// subsystems.
type Deps struct {
	DB        *store.DB
	Weights   config.Weights
	Scopes    *scope.Resolver
	FTS       *fts.Generator
	Semantic  *semantic.Generator
	Relations *relation.Expander
	Entities  *entityindex.Index
	Fetcher   *fetch.Fetcher
	Feedback  *cache.FeedbackCache
	Profiler  *profiling.Profiler

	RecencyHalfLifeDays float64
}

// Pipeline holds every stage's handle, built once and reused across
// requests.
type Pipeline struct {
	db       *store.DB
	cfg      config.Weights
	scopes   *scope.Resolver
	ftsGen   *fts.Generator
	semGen   *semantic.Generator
	relExp   *relation.Expander
	entities *entityindex.Index
	fetcher  *fetch.Fetcher
	feedback *cache.FeedbackCache
	profiler *profiling.Profiler

	recencyHalfLifeDays float64
}

// New builds a Pipeline from its dependencies.
func New(d Deps) *Pipeline {
	return &Pipeline{
		db: d.DB, cfg: d.Weights, scopes: d.Scopes, ftsGen: d.FTS, semGen: d.Semantic,
		relExp: d.Relations, entities: d.Entities, fetcher: d.Fetcher,
		feedback: d.Feedback, profiler: d.Profiler,
		recencyHalfLifeDays: d.RecencyHalfLifeDays,
	}
}

type generated struct {
	fts *fts.Result
	sem *semantic.Result
	rel *relation.Result
}

// Run executes one request through the full pipeline and returns the
// assembled response.
func (p *Pipeline) Run(ctx context.Context, req Request) (*assemble.Response, error) {
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		return nil, errs.New(errs.BadRequest, "pipeline.Run", fmt.Errorf("limit %d exceeds maximum %d", req.Limit, maxLimit))
	}

	stop := p.stage(req.ID, "total")
	defer stop()

	degraded := deadlineExceeded(ctx)

	chain, err := p.resolveChain(req)
	if err != nil {
		return nil, err
	}

	intent := req.Intent
	if intent == "" {
		intent = semantic.DetectIntent(req.Search)
	}

	out, genDegraded := p.runGenerators(ctx, req, intent)
	degraded = degraded || genDegraded

	entityBoosts, totalEntities := p.entityBoosts(req.Search)
	candidateIDs := unionCandidateIDs(out)

	entries, err := p.fetchEntries(req, chain, candidateIDs)
	if err != nil {
		return nil, err
	}

	candidates := p.buildCandidates(entries, chain, out, entityBoosts, totalEntities, req.Tags)
	if req.Action == ActionContext && req.Search == "" {
		for _, c := range candidates {
			c.LightScore = scorer.LightScore(c.Entry, c.Signals, p.cfg)
		}
		candidates = applyContextQuota(candidates, kindsFor(req.Types), req.Limit)
	} else {
		candidates = scorer.RankPhase1(candidates, p.cfg, candidatePoolSize(req.Limit))
	}

	fullOpts := scorer.Options{
		Now: time.Now(), TimestampField: scorer.TimestampUpdatedAt,
		RecencyWeight:     recencyWeightFor(req, p.cfg),
		DecayHalfLifeDays: decayHalfLifeFor(req, p.recencyHalfLifeDays),
		DecayFunction:     decayFunctionFor(req),
		Intent:            intent, HybridAlpha: req.HybridAlpha,
		FeedbackEnabled: req.FeedbackEnabled, FeedbackByID: p.feedbackByID(req.FeedbackEnabled, candidates),
	}
	candidates = scorer.RankPhase2(candidates, p.cfg, fullOpts)

	if deadlineExceeded(ctx) {
		degraded = true
	}

	var timings map[string]float64
	if p.profiler != nil {
		timings = p.profiler.Collect(req.ID)
	}
	total := len(candidates)
	resp := assemble.Assemble(candidates, assemble.Options{
		Offset: req.Offset, Limit: req.Limit, TotalMatched: &total,
		Degraded: degraded, StageTimingsMs: timings, IntentDetected: &intent, Compact: req.Compact,
	})
	return &resp, nil
}

func (p *Pipeline) resolveChain(req Request) (scope.Chain, error) {
	stop := p.stage(req.ID, "scope_resolve")
	defer stop()

	leaf := model.Scope{Type: req.Scope.Type, ID: req.Scope.ID}
	if !req.Scope.Inherit {
		return scope.Chain{leaf}, nil
	}
	chain, err := p.scopes.Resolve(leaf)
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// runGenerators runs FTS, semantic, and relation expansion concurrently.
// Each fails open: an error or unavailable collaborator degrades the
// response rather than aborting the request.
func (p *Pipeline) runGenerators(ctx context.Context, req Request, intent semantic.Intent) (generated, bool) {
	stop := p.stage(req.ID, "candidate_generation")
	defer stop()

	var out generated
	var degraded bool
	var wg sync.WaitGroup
	var mu sync.Mutex

	if req.Search != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := p.ftsGen.Generate(ctx, req.Search, fts.Options{
				Fuzzy: req.Fuzzy, Regex: req.Regex, Limit: candidatePoolSize(req.Limit),
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				degraded = true
				return
			}
			out.fts = r
			if r != nil && r.Degraded {
				degraded = true
			}
		}()
	}

	if req.SemanticSearch && p.semGen != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := p.semGen.Generate(ctx, req.Search, semantic.Options{
				Enabled: true, Threshold: req.SemanticThreshold, HyDE: req.HyDE,
				HyDEDocs: req.HyDEDocs, Intent: intent,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				degraded = true
				return
			}
			out.sem = r
			if r != nil && r.Degraded {
				degraded = true
			}
		}()
	}

	if req.RelatedTo != nil && p.relExp != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := p.relExp.Expand(ctx, req.RelatedTo.ID, relation.Options{
				Type: req.RelatedTo.Type, Direction: req.RelatedTo.Direction,
				MaxDepth: req.RelatedTo.Depth, MaxResults: req.RelatedTo.MaxResults,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				degraded = true
				return
			}
			out.rel = r
		}()
	}

	wg.Wait()
	if deadlineExceeded(ctx) {
		degraded = true
	}
	return out, degraded
}

func (p *Pipeline) entityBoosts(query string) (map[string]int, int) {
	if p.entities == nil || query == "" {
		return nil, 0
	}
	extracted := entityindex.ExtractFromText(query)
	if len(extracted) < p.cfg.MinEntitiesForFilter {
		return nil, 0
	}
	return p.entities.LookupMultiple(extracted), len(extracted)
}

func (p *Pipeline) fetchEntries(req Request, chain scope.Chain, candidateIDs []string) ([]*model.Entry, error) {
	stop := p.stage(req.ID, "entry_fetch")
	defer stop()

	fetchOpts := fetch.Options{
		IncludeInactive: req.IncludeInactive, Tags: req.Tags, Priority: req.Priority,
		Confidence: req.Confidence, Offset: req.Offset, Limit: candidatePoolSize(req.Limit),
	}
	if req.AtTime != nil || req.ValidDuring != nil {
		fetchOpts.Temporal = &fetch.TemporalQuery{AtTime: req.AtTime, Interval: req.ValidDuring}
	}
	if req.CreatedAfter != nil || req.CreatedBefore != nil {
		fetchOpts.CreatedWindow = &fetch.Interval{Start: req.CreatedAfter, End: req.CreatedBefore}
	}
	return p.fetcher.Fetch(candidateIDs, chain, req.Types, fetchOpts)
}

func (p *Pipeline) buildCandidates(entries []*model.Entry, chain scope.Chain, out generated, entityBoosts map[string]int, totalEntities int, tags fetch.TagFilter) []*scorer.Candidate {
	relatedIDs := map[string]bool{}
	if out.rel != nil {
		for _, ids := range out.rel.IDsByKind {
			for _, id := range ids {
				relatedIDs[id] = true
			}
		}
	}

	candidates := make([]*scorer.Candidate, 0, len(entries))
	for _, e := range entries {
		sig := scorer.Signals{
			ScopeIndex: scopeIndexOf(e.Scope, chain), ScopeChainLen: len(chain),
		}
		if out.fts != nil {
			if s, ok := out.fts.ScoreByID[e.ID]; ok {
				v := s
				sig.FTSScore = &v
				sig.TextMatched = true
			}
		}
		if out.sem != nil {
			if s, ok := out.sem.ScoreByID[e.ID]; ok {
				v := s
				sig.SemanticScore = &v
			}
		}
		sig.HasExplicitRelation = relatedIDs[e.ID]
		sig.EntityMatchBoost = entityBoostFor(entityBoosts, totalEntities, e.ID, p.cfg)
		sig.MatchingTagCount = matchingTagCount(e.Tags, tags)

		candidates = append(candidates, &scorer.Candidate{Entry: e, Signals: sig})
	}
	return candidates
}

// entityBoostFor applies the entity filter's score contribution: an exact
// match across every extracted entity gets the full boost, a partial
// match is scaled by the fraction matched, and a nil/empty boosts map (no
// entities extracted, or below the minimum-to-filter threshold) is a
// no-op.
func entityBoostFor(boosts map[string]int, totalEntities int, entryID string, w config.Weights) float64 {
	if totalEntities == 0 {
		return 0
	}
	matched, ok := boosts[entryID]
	if !ok {
		return 0
	}
	if matched >= totalEntities {
		return w.EntityExactMatchBoost
	}
	return math.Round(w.EntityPartialMatchBoost * (float64(matched) / float64(totalEntities)))
}

// matchingTagCount counts how many of an entry's tags satisfy the
// request's tag filter, combining the include set (soft boost) and the
// require set (already a hard gate by the time scoring runs, but still
// counted so a guideline matching three required tags outranks one
// matching one).
func matchingTagCount(entryTags []string, filter fetch.TagFilter) int {
	want := make(map[string]bool, len(filter.Include)+len(filter.Require))
	for _, t := range filter.Include {
		want[t] = true
	}
	for _, t := range filter.Require {
		want[t] = true
	}
	if len(want) == 0 {
		return 0
	}
	n := 0
	for _, t := range entryTags {
		if want[t] {
			n++
		}
	}
	return n
}

func kindsFor(requested []model.Kind) []model.Kind {
	if len(requested) > 0 {
		return requested
	}
	return []model.Kind{model.KindGuideline, model.KindKnowledge, model.KindTool, model.KindExperience}
}

// applyContextQuota implements action=context's per-kind mixing rule: with
// no search term to rank against, a plain top-limit cut would let one
// prolific kind crowd out the others, so each kind gets its own
// ceil(limit/|kinds|) share of the candidate pool (by LightScore,
// highest first) before the combined set proceeds to Phase 2.
func applyContextQuota(candidates []*scorer.Candidate, kinds []model.Kind, limit int) []*scorer.Candidate {
	quota := int(math.Ceil(float64(limit) / float64(len(kinds))))

	byKind := make(map[model.Kind][]*scorer.Candidate, len(kinds))
	for _, c := range candidates {
		byKind[c.Entry.Kind] = append(byKind[c.Entry.Kind], c)
	}

	out := make([]*scorer.Candidate, 0, limit)
	for _, k := range kinds {
		group := byKind[k]
		sort.SliceStable(group, func(i, j int) bool {
			return candidateLightScoreLess(group[i], group[j])
		})
		if len(group) > quota {
			group = group[:quota]
		}
		out = append(out, group...)
	}
	return out
}

// candidateLightScoreLess applies the pipeline's deterministic ordering
// to Phase 1 scores specifically, since scorer.RankPhase1's own
// tie-breaking is only exposed bundled with its scoring pass.
func candidateLightScoreLess(a, b *scorer.Candidate) bool {
	if a.LightScore != b.LightScore {
		return a.LightScore > b.LightScore
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

func scopeIndexOf(s model.Scope, chain scope.Chain) int {
	for i, c := range chain {
		if c.Equal(s) {
			return i
		}
	}
	return len(chain) - 1
}

func unionCandidateIDs(out generated) []string {
	if out.fts == nil && out.sem == nil && out.rel == nil {
		return nil
	}
	seen := map[string]bool{}
	var ids []string
	add := func(list []string) {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if out.fts != nil {
		add(out.fts.IDs)
	}
	if out.sem != nil {
		add(out.sem.IDs)
	}
	if out.rel != nil {
		for _, list := range out.rel.IDsByKind {
			add(list)
		}
	}
	if len(ids) == 0 {
		// Every generator ran and came up empty: this is a real "no
		// matches" result, not "no candidate-id restriction".
		return []string{}
	}
	return ids
}

// candidatePoolSize is the Phase 1 short-list bound fed forward into
// scoring: 1.5x the requested page size, rounded up.
func candidatePoolSize(limit int) int {
	return int(math.Ceil(float64(limit) * 1.5))
}

func (p *Pipeline) feedbackByID(enabled bool, candidates []*scorer.Candidate) map[string]scorer.Feedback {
	if !enabled || p.feedback == nil {
		return nil
	}
	out := make(map[string]scorer.Feedback, len(candidates))
	for _, c := range candidates {
		fs, err := p.feedback.Get(c.Entry.Kind, c.Entry.ID)
		if err != nil {
			continue
		}
		out[c.Entry.ID] = scorer.Feedback{Positive: fs.Positive, NetScore: fs.Net}
	}
	return out
}

func recencyWeightFor(req Request, w config.Weights) float64 {
	if req.RecencyWeight != nil {
		return *req.RecencyWeight
	}
	return w.RecencyWeight
}

func decayHalfLifeFor(req Request, fallback float64) float64 {
	if req.DecayHalfLifeDays != nil {
		return *req.DecayHalfLifeDays
	}
	return fallback
}

func decayFunctionFor(req Request) scorer.DecayFunction {
	if req.DecayFunction != "" {
		return req.DecayFunction
	}
	return scorer.DecayExponential
}

func deadlineExceeded(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (p *Pipeline) stage(requestID, name string) func() {
	if p.profiler == nil {
		return func() {}
	}
	return p.profiler.Start(requestID, name)
}
