package scorer

import (
	"testing"
	"time"

	"github.com/agentmem/retrieval-core/internal/config"
	"github.com/agentmem/retrieval-core/internal/model"
	"github.com/agentmem/retrieval-core/internal/semantic"
)

func weights() config.Weights {
	return config.Weights{
		ExplicitRelation: 5, TagMatch: 1, ScopeProximity: 2, TextMatch: 1,
		PriorityMax: 3, SemanticMax: 4, RecencyMax: 2,
		BoostPerPositive: 0.05, BoostMax: 0.3, PenaltyPerNegative: 0.08, PenaltyMax: 0.4,
		IntentKindWeight: map[string]map[string]float64{
			"debug": {"experience": 1.3, "guideline": 0.9},
		},
	}
}

func entry(id string, priority *int, updatedAt time.Time) *model.Entry {
	return &model.Entry{
		ID: id, Kind: model.KindGuideline, Name: id, Priority: priority,
		CreatedAt: updatedAt, UpdatedAt: updatedAt, Active: true,
	}
}

func f64(v float64) *float64 { return &v }

func TestLightScoreSumsEnabledTerms(t *testing.T) {
	p := 50
	e := entry("a", &p, time.Now())
	sig := Signals{
		EntityMatchBoost: 25, HasExplicitRelation: true, MatchingTagCount: 2,
		ScopeIndex: 0, ScopeChainLen: 2, TextMatched: true,
		FTSScore: f64(0.5), SemanticScore: f64(0.8),
	}
	w := weights()
	got := LightScore(e, sig, w)

	want := 25.0 + w.ExplicitRelation + 2*w.TagMatch +
		(float64(2-0)/2)*w.ScopeProximity + w.TextMatch + 0.5*w.TextMatch +
		(50.0/100)*w.PriorityMax + 0.8*w.SemanticMax
	if got != want {
		t.Fatalf("LightScore = %v, want %v", got, want)
	}
}

func TestLightScoreSkipsScopeProximityWhenChainLenOne(t *testing.T) {
	e := entry("a", nil, time.Now())
	sig := Signals{ScopeChainLen: 1, ScopeIndex: 0}
	got := LightScore(e, sig, weights())
	if got != 0 {
		t.Fatalf("expected 0 contribution with single-scope chain, got %v", got)
	}
}

func TestRankPhase1KeepsTopLimit(t *testing.T) {
	now := time.Now()
	low := &Candidate{Entry: entry("low", nil, now), Signals: Signals{}}
	high := &Candidate{Entry: entry("high", nil, now), Signals: Signals{EntityMatchBoost: 100}}
	ranked := RankPhase1([]*Candidate{low, high}, weights(), 1)
	if len(ranked) != 1 || ranked[0].Entry.ID != "high" {
		t.Fatalf("expected only high to survive, got %+v", ranked)
	}
}

func TestFullScoreHybridBlendReplacesSemanticContribution(t *testing.T) {
	e := entry("a", nil, time.Now())
	sig := Signals{SemanticScore: f64(1.0), FTSScore: f64(0.0)}
	w := weights()
	c := &Candidate{Entry: e, Signals: sig, LightScore: LightScore(e, sig, w)}

	alpha := 0.5
	got := FullScore(c, w, Options{Intent: semantic.IntentUnknown, HybridAlpha: &alpha})

	// light score included 1.0*SemanticMax; hybrid should replace it with
	// (0.5*1.0 + 0.5*0.0)*SemanticMax = 0.5*SemanticMax.
	want := (1.0 * w.SemanticMax) - (1.0*w.SemanticMax - 0.5*w.SemanticMax)
	if got != want {
		t.Fatalf("FullScore = %v, want %v", got, want)
	}
}

func TestFullScoreRecencyDecayExponentialHalvesAtHalfLife(t *testing.T) {
	now := time.Now()
	e := entry("a", nil, now.AddDate(0, 0, -14))
	w := weights()
	c := &Candidate{Entry: e, LightScore: 0}
	opts := Options{
		Now: now, TimestampField: TimestampCreatedAt, RecencyWeight: 1,
		DecayHalfLifeDays: 14, DecayFunction: DecayExponential, Intent: semantic.IntentUnknown,
	}
	got := FullScore(c, w, opts)
	want := 0.5 * w.RecencyMax
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("FullScore = %v, want ~%v", got, want)
	}
}

func TestFullScoreIntentKindWeightMultipliesSum(t *testing.T) {
	e := entry("a", nil, time.Now())
	e.Kind = model.KindExperience
	w := weights()
	c := &Candidate{Entry: e, LightScore: 10}
	got := FullScore(c, w, Options{Intent: semantic.IntentDebug})
	if got != 13 {
		t.Fatalf("expected 10*1.3=13, got %v", got)
	}
}

func TestFullScoreFeedbackMultiplierBoostsAndPenalizes(t *testing.T) {
	w := weights()
	e := entry("a", nil, time.Now())
	c := &Candidate{Entry: e, LightScore: 10}

	boosted := FullScore(c, w, Options{
		Intent: semantic.IntentUnknown, FeedbackEnabled: true,
		FeedbackByID: map[string]Feedback{"a": {Positive: 2, NetScore: 2}},
	})
	if boosted != 11 { // 10 * (1 + min(2*0.05,0.3)) = 10*1.1
		t.Fatalf("expected boosted score 11, got %v", boosted)
	}

	penalized := FullScore(c, w, Options{
		Intent: semantic.IntentUnknown, FeedbackEnabled: true,
		FeedbackByID: map[string]Feedback{"a": {Positive: 0, NetScore: -5}},
	})
	if penalized != 6 { // 10 * (1 - min(5*0.08,0.4)) = 10*0.6
		t.Fatalf("expected penalized score 6, got %v", penalized)
	}
}

func TestRankPhase2TieBreaksByPriorityThenUpdatedAtThenID(t *testing.T) {
	now := time.Now()
	older := now.Add(-time.Hour)
	highPriority := 90
	lowPriority := 10

	a := &Candidate{Entry: entry("b-entry", &lowPriority, now), LightScore: 0}
	b := &Candidate{Entry: entry("a-entry", &highPriority, older), LightScore: 0}
	c := &Candidate{Entry: entry("c-entry", &highPriority, now), LightScore: 0}

	ranked := RankPhase2([]*Candidate{a, b, c}, weights(), Options{Intent: semantic.IntentUnknown})
	if ranked[0].Entry.ID != "c-entry" {
		t.Fatalf("expected c-entry first (highest priority, most recent), got %s", ranked[0].Entry.ID)
	}
	if ranked[1].Entry.ID != "a-entry" {
		t.Fatalf("expected a-entry second, got %s", ranked[1].Entry.ID)
	}
	if ranked[2].Entry.ID != "b-entry" {
		t.Fatalf("expected b-entry last (lowest priority), got %s", ranked[2].Entry.ID)
	}
}
