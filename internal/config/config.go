// Package config loads retrieval-core configuration from environment
// variables, with an optional YAML file for scoring-weight overrides —
// the same envOr-with-defaults shape the memory service used for its own
// Config, extended with a file layer because weight tuning needs more
// structure than a flat env var comfortably carries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds process-wide configuration, populated from environment
// variables with an optional weights.yaml overlay.
type Config struct {
	DataDir string // SQLite database directory (default "./data")

	EmbedURL   string // embedding collaborator base URL (default "http://localhost:11434")
	EmbedModel string // embedding model name (default "nomic-embed-text")
	GenModel   string // generation model name, used for HyDE (default "llama3.2")

	ProfilingLevel string // "off", "minimal", "detailed", "trace" (default "off")
	ProfilingLog   string // JSON-lines profiling log path (default "" = disabled)

	FTSCandidateLimit      int // max rows pulled per FTS query (default 200)
	SemanticCandidateLimit int // max rows pulled per ANN query (default 200)
	RelationHopLimit       int // max BFS hops in the relation expander (default 2)
	RelationFanoutLimit    int // max neighbors expanded per node per hop (default 50)

	QueryCacheSize int           // capacity for the query-result cache, oldest insertion evicted first (default 500)
	QueryCacheTTL  time.Duration // (default 30s)
	HyDECacheSize  int           // capacity for the HyDE hypothetical-document cache, oldest insertion evicted first (default 200)
	HyDECacheTTL   time.Duration // (default 10m)

	RecencyHalfLifeDays float64 // half-life for the recency decay term (default 14)

	Weights Weights
}

// Weights are the scoring coefficients used by the light and full scorer.
// WeightsFile can override any subset, falling back to these defaults for
// omitted fields.
type Weights struct {
	// Phase-1/Phase-2 linear-combination coefficients.
	ExplicitRelation float64 `yaml:"explicit_relation"` // default 5
	TagMatch         float64 `yaml:"tag_match"`         // default 1, per matching tag
	ScopeProximity   float64 `yaml:"scope_proximity"`   // default 2, max
	TextMatch        float64 `yaml:"text_match"`        // default 1
	PriorityMax      float64 `yaml:"priority_max"`      // default 3
	SemanticMax      float64 `yaml:"semantic_max"`      // default 4
	RecencyMax       float64 `yaml:"recency_max"`       // default 2

	// Entity filter contribution.
	EntityExactMatchBoost   float64 `yaml:"entity_exact_match_boost"`   // default 25
	EntityPartialMatchBoost float64 `yaml:"entity_partial_match_boost"` // default 15
	MinEntitiesForFilter    int     `yaml:"min_entities_for_filter"`    // default 1

	// Feedback multiplier tuning.
	BoostPerPositive   float64 `yaml:"boost_per_positive"`   // default 0.05
	BoostMax           float64 `yaml:"boost_max"`            // default 0.3
	PenaltyPerNegative float64 `yaml:"penalty_per_negative"` // default 0.08
	PenaltyMax         float64 `yaml:"penalty_max"`          // default 0.4

	// Alpha overrides the intent-derived hybrid blend weight when non-zero;
	// zero means "use semantic.Intent.HybridAlpha()".
	Alpha float64 `yaml:"alpha"`

	// RecencyWeight is the default recencyWeight applied when a request
	// does not specify its own; 0 disables recency entirely.
	RecencyWeight float64 `yaml:"recency_weight"`

	// IntentKindWeight is a fixed intent x kind multiplier table,
	// IntentKindWeight[intent][kind]. Missing entries default to 1.0,
	// matching unknown-intent behavior.
	IntentKindWeight map[string]map[string]float64 `yaml:"intent_kind_weight"`
}

func defaultWeights() Weights {
	return Weights{
		ExplicitRelation: 5,
		TagMatch:         1,
		ScopeProximity:   2,
		TextMatch:        1,
		PriorityMax:      3,
		SemanticMax:      4,
		RecencyMax:       2,

		EntityExactMatchBoost:   25,
		EntityPartialMatchBoost: 15,
		MinEntitiesForFilter:    1,

		BoostPerPositive:   0.05,
		BoostMax:           0.3,
		PenaltyPerNegative: 0.08,
		PenaltyMax:         0.4,

		Alpha:         0,
		RecencyWeight: 0.15,

		IntentKindWeight: defaultIntentKindWeight(),
	}
}

// defaultIntentKindWeight gives each (intent, kind) pair a plausible
// multiplier: "how_to"/"debug" intents favor tools and experiences,
// "lookup"/"compare" favor guidelines and knowledge, matching the way the
// source memory graph biased operational traces by query type
// (isStatusQuery in graph/activation.go) generalized from a single bias
// flag to a full intent x kind table.
func defaultIntentKindWeight() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"lookup": {
			"guideline": 1.1, "knowledge": 1.2, "tool": 0.9, "experience": 0.8,
		},
		"how_to": {
			"guideline": 1.1, "knowledge": 0.9, "tool": 1.2, "experience": 1.1,
		},
		"debug": {
			"guideline": 0.9, "knowledge": 0.9, "tool": 1.0, "experience": 1.3,
		},
		"explore": {
			"guideline": 1.0, "knowledge": 1.1, "tool": 0.9, "experience": 1.0,
		},
		"compare": {
			"guideline": 1.0, "knowledge": 1.2, "tool": 1.0, "experience": 0.8,
		},
		"configure": {
			"guideline": 1.1, "knowledge": 0.9, "tool": 1.2, "experience": 0.9,
		},
		"unknown": {
			"guideline": 1.0, "knowledge": 1.0, "tool": 1.0, "experience": 1.0,
		},
	}
}

// Load builds a Config from environment variables. If WEIGHTS_FILE is set,
// it is parsed as YAML and merged over the defaults field-by-field (a
// missing or zero-valued field in the file keeps the default).
func Load() (Config, error) {
	cfg := Config{
		DataDir: envOr("RETRIEVAL_DATA_DIR", "./data"),

		EmbedURL:   envOr("EMBED_URL", "http://localhost:11434"),
		EmbedModel: envOr("EMBED_MODEL", "nomic-embed-text"),
		GenModel:   envOr("EMBED_GEN_MODEL", "llama3.2"),

		ProfilingLevel: envOr("RETRIEVAL_PROFILING_LEVEL", "off"),
		ProfilingLog:   envOr("RETRIEVAL_PROFILING_LOG", ""),

		FTSCandidateLimit:      envOrInt("RETRIEVAL_FTS_CANDIDATE_LIMIT", 200),
		SemanticCandidateLimit: envOrInt("RETRIEVAL_SEMANTIC_CANDIDATE_LIMIT", 200),
		RelationHopLimit:       envOrInt("RETRIEVAL_RELATION_HOP_LIMIT", 2),
		RelationFanoutLimit:    envOrInt("RETRIEVAL_RELATION_FANOUT_LIMIT", 50),

		QueryCacheSize: envOrInt("RETRIEVAL_QUERY_CACHE_SIZE", 500),
		QueryCacheTTL:  envOrDuration("RETRIEVAL_QUERY_CACHE_TTL", 30*time.Second),
		HyDECacheSize:  envOrInt("RETRIEVAL_HYDE_CACHE_SIZE", 200),
		HyDECacheTTL:   envOrDuration("RETRIEVAL_HYDE_CACHE_TTL", 10*time.Minute),

		RecencyHalfLifeDays: envOrFloat("RETRIEVAL_RECENCY_HALF_LIFE_DAYS", 14),

		Weights: defaultWeights(),
	}

	if path := os.Getenv("WEIGHTS_FILE"); path != "" {
		if err := cfg.loadWeightsFile(path); err != nil {
			return cfg, fmt.Errorf("load weights file %s: %w", path, err)
		}
	}

	return cfg, nil
}

func (c *Config) loadWeightsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var override Weights
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	mergeWeights(&c.Weights, override)
	return nil
}

// mergeWeights overlays non-zero fields from override onto base, leaving
// base's defaults in place for anything the file didn't set.
func mergeWeights(base *Weights, override Weights) {
	if override.ExplicitRelation != 0 {
		base.ExplicitRelation = override.ExplicitRelation
	}
	if override.TagMatch != 0 {
		base.TagMatch = override.TagMatch
	}
	if override.ScopeProximity != 0 {
		base.ScopeProximity = override.ScopeProximity
	}
	if override.TextMatch != 0 {
		base.TextMatch = override.TextMatch
	}
	if override.PriorityMax != 0 {
		base.PriorityMax = override.PriorityMax
	}
	if override.SemanticMax != 0 {
		base.SemanticMax = override.SemanticMax
	}
	if override.RecencyMax != 0 {
		base.RecencyMax = override.RecencyMax
	}
	if override.EntityExactMatchBoost != 0 {
		base.EntityExactMatchBoost = override.EntityExactMatchBoost
	}
	if override.EntityPartialMatchBoost != 0 {
		base.EntityPartialMatchBoost = override.EntityPartialMatchBoost
	}
	if override.MinEntitiesForFilter != 0 {
		base.MinEntitiesForFilter = override.MinEntitiesForFilter
	}
	if override.BoostPerPositive != 0 {
		base.BoostPerPositive = override.BoostPerPositive
	}
	if override.BoostMax != 0 {
		base.BoostMax = override.BoostMax
	}
	if override.PenaltyPerNegative != 0 {
		base.PenaltyPerNegative = override.PenaltyPerNegative
	}
	if override.PenaltyMax != 0 {
		base.PenaltyMax = override.PenaltyMax
	}
	if override.Alpha != 0 {
		base.Alpha = override.Alpha
	}
	if override.RecencyWeight != 0 {
		base.RecencyWeight = override.RecencyWeight
	}
	for intent, kindWeights := range override.IntentKindWeight {
		if base.IntentKindWeight == nil {
			base.IntentKindWeight = make(map[string]map[string]float64)
		}
		if base.IntentKindWeight[intent] == nil {
			base.IntentKindWeight[intent] = make(map[string]float64)
		}
		for kind, w := range kindWeights {
			base.IntentKindWeight[intent][kind] = w
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envOrFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
