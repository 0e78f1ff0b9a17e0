package fts

import (
	"regexp"

	"github.com/agentmem/retrieval-core/internal/errs"
)

// CompileSafe compiles a regex for the regex=true query path. Go's RE2
// engine (regexp/syntax, no backreferences or lookaround) cannot express
// the constructs that cause catastrophic backtracking in backtracking
// engines, so compilation itself is the only safety gate needed here.
func CompileSafe(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errs.New(errs.BadRequest, "fts.CompileSafe", err)
	}
	return re, nil
}

// RegexHit is one entry whose name+title+body matched a compiled regex.
type RegexHit struct {
	EntryID string
}

// ScanRegex runs re over each candidate's searchable text and returns the
// ids that match. Used for the regex=true query path, which bypasses
// FTS5 entirely (FTS5 has no native regex operator).
func ScanRegex(re *regexp.Regexp, candidates map[string]string) []string {
	var hits []string
	for id, text := range candidates {
		if re.MatchString(text) {
			hits = append(hits, id)
		}
	}
	return hits
}
