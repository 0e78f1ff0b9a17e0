// Package entityindex implements entity extraction and lookup: a
// rule-based structured-token extractor plus an in-memory reverse index
// from (entity type, normalized value) to the entries that contain it.
//
// Extraction covers the FILE_PATH/FUNCTION_NAME/IDENTIFIER/VERSION_STRING/URL
// entity types with word-boundary regex matching. Stdlib regexp only: no
// rule-based structured-token extraction job this targeted benefits from
// a heavier dependency.
package entityindex

import (
	"regexp"
	"strings"

	"github.com/agentmem/retrieval-core/internal/model"
)

var (
	filePathRe = regexp.MustCompile(`\b([\w.-]+/)+[\w.-]+\.[A-Za-z0-9]+\b`)
	versionRe  = regexp.MustCompile(`\bv\d+(?:\.\d+)*\b`)
	urlRe      = regexp.MustCompile(`\bhttps?://[^\s"'` + "`" + `]+\b`)
	// camelCase: lower-then-upper transition; snake_case: underscore joining
	// two word segments. Both require >= 4 characters total once matched.
	camelCaseRe = regexp.MustCompile(`\b[a-z][a-zA-Z0-9]*[A-Z][a-zA-Z0-9]*\b`)
	snakeCaseRe = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9]*(?:_[a-zA-Z0-9]+)+\b`)
	// function-name heuristic: identifier immediately followed by "(".
	functionNameRe = regexp.MustCompile(`\b([a-zA-Z_][a-zA-Z0-9_]*)\s*\(`)
)

// stopWords are common English words that would otherwise false-positive
// as snake/camel identifiers or capitalized tokens.
var stopWords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "what": true,
	"when": true, "where": true, "which": true, "about": true, "into": true,
}

// Extracted is one structured token pulled from free text, already
// normalized.
type Extracted struct {
	Type  model.EntityType
	Value string
}

// ExtractFromText runs every extraction rule over text and returns the
// deduplicated set of entities found. Used both on query text (entity
// filtering) and on entry bodies (offline index population).
func ExtractFromText(text string) []Extracted {
	seen := map[Extracted]bool{}
	var out []Extracted

	add := func(t model.EntityType, raw string) {
		norm := normalize(t, raw)
		if norm == "" {
			return
		}
		e := Extracted{Type: t, Value: norm}
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}

	for _, m := range filePathRe.FindAllString(text, -1) {
		add(model.EntityFilePath, m)
	}
	for _, m := range versionRe.FindAllString(text, -1) {
		add(model.EntityVersionString, m)
	}
	for _, m := range urlRe.FindAllString(text, -1) {
		add(model.EntityURL, m)
	}
	for _, m := range functionNameRe.FindAllStringSubmatch(text, -1) {
		add(model.EntityFunctionName, m[1])
	}
	for _, m := range camelCaseRe.FindAllString(text, -1) {
		add(model.EntityIdentifier, m)
	}
	for _, m := range snakeCaseRe.FindAllString(text, -1) {
		add(model.EntityIdentifier, m)
	}

	return out
}

// normalize applies per-type normalization: casefold for identifiers,
// preserve case for file paths, trim trailing punctuation from everything.
func normalize(t model.EntityType, raw string) string {
	v := strings.TrimRight(raw, ".,;:!?)]}\"'")
	if v == "" {
		return ""
	}
	switch t {
	case model.EntityFilePath, model.EntityURL:
		return v
	case model.EntityIdentifier, model.EntityFunctionName:
		lower := strings.ToLower(v)
		if len([]rune(lower)) < 4 || stopWords[lower] {
			return ""
		}
		return lower
	case model.EntityVersionString:
		return strings.ToLower(v)
	default:
		return v
	}
}
