package semantic

import "strings"

// Intent is the coarse query category that steers hybrid blending and
// Phase-2 reweighting.
type Intent string

const (
	IntentLookup    Intent = "lookup"
	IntentHowTo     Intent = "how_to"
	IntentDebug     Intent = "debug"
	IntentExplore   Intent = "explore"
	IntentCompare   Intent = "compare"
	IntentConfigure Intent = "configure"
	IntentUnknown   Intent = "unknown"
)

// HybridAlpha gives each intent's default weight on the semantic term of
// the hybrid blend: hybridBoost = alpha*semantic + (1-alpha)*fts.
func (i Intent) HybridAlpha() float64 {
	switch i {
	case IntentLookup:
		return 0.5
	case IntentHowTo:
		return 0.7
	case IntentDebug:
		return 0.6
	case IntentExplore:
		return 0.8
	case IntentCompare:
		return 0.75
	case IntentConfigure:
		return 0.6
	default:
		return 0.5
	}
}

// classifierRule pairs a set of keywords with the intent they imply.
// Checked in order; the first rule with a keyword match wins. This
// mirrors the keyword-substring classifier the source memory graph used
// to separate status queries from ordinary recall.
var classifierRules = []struct {
	intent   Intent
	keywords []string
}{
	{IntentDebug, []string{"error", "bug", "fails", "failing", "broken", "crash", "exception", "stack trace", "not working", "doesn't work", "troubleshoot"}},
	{IntentHowTo, []string{"how do i", "how to", "how can i", "steps to", "guide for", "walk me through"}},
	{IntentConfigure, []string{"configure", "set up", "setup", "install", "enable", "disable", "settings for"}},
	{IntentCompare, []string{"vs", "versus", "compare", "difference between", "better than", "which is"}},
	{IntentExplore, []string{"what do we know", "tell me about", "overview of", "anything about", "related to"}},
	{IntentLookup, []string{"what is", "where is", "find", "lookup", "look up", "definition of"}},
}

// DetectIntent classifies query text into one of the seven intent
// buckets. Empty or unmatched text is IntentUnknown.
func DetectIntent(query string) Intent {
	if query == "" {
		return IntentUnknown
	}
	lower := strings.ToLower(query)
	for _, rule := range classifierRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.intent
			}
		}
	}
	return IntentUnknown
}
