// Package fts implements the FTS Candidate Generator: keyword matching
// against the storage driver's FTS5 index, with bounded fuzzy expansion,
// safe regex scanning, and a naive-scan degraded path when FTS5 itself is
// unavailable.
package fts

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// minTokenLen is the shortest unquoted token kept; shorter tokens are
// dropped as noise unless the caller quoted them explicitly.
const minTokenLen = 2

// token is one parsed unit of a query string.
type token struct {
	text     string
	phrase   bool // came from a "quoted phrase"
	operator string // "AND", "OR", "NOT", or "" for a plain term
	prefix   bool // had a trailing * wildcard
}

// Normalize applies NFKC normalization and casefolding, the two
// requirements on every plain token and quoted phrase before matching.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	return strings.ToLower(s)
}

// parse tokenizes a raw query string into operators, phrases, and plain
// terms. Quoted substrings are kept intact (phrase search); a trailing
// `*` marks a term as a prefix query; bare AND/OR/NOT (any case) are
// recognized as boolean operators between terms.
func parse(query string) []token {
	var tokens []token
	runes := []rune(query)
	i := 0
	for i < len(runes) {
		r := runes[i]
		if unicode.IsSpace(r) {
			i++
			continue
		}
		if r == '"' {
			j := i + 1
			for j < len(runes) && runes[j] != '"' {
				j++
			}
			phrase := string(runes[i+1 : min(j, len(runes))])
			if phrase != "" {
				tokens = append(tokens, token{text: Normalize(phrase), phrase: true})
			}
			i = j + 1
			continue
		}

		j := i
		for j < len(runes) && !unicode.IsSpace(runes[j]) && runes[j] != '"' {
			j++
		}
		raw := string(runes[i:j])
		i = j

		upper := strings.ToUpper(raw)
		if upper == "AND" || upper == "OR" || upper == "NOT" {
			tokens = append(tokens, token{operator: upper})
			continue
		}

		prefix := strings.HasSuffix(raw, "*")
		term := strings.TrimSuffix(raw, "*")
		term = Normalize(term)
		if len(term) < minTokenLen {
			continue
		}
		tokens = append(tokens, token{text: term, prefix: prefix})
	}
	return tokens
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ToFTS5 renders parsed tokens into an FTS5 MATCH expression. Consecutive
// plain terms with no explicit operator are joined with implicit AND, the
// same default FTS5 itself uses.
func ToFTS5(tokens []token) string {
	var b strings.Builder
	needOperator := false
	for _, t := range tokens {
		if t.operator != "" {
			if b.Len() > 0 {
				b.WriteString(" " + t.operator + " ")
			}
			needOperator = false
			continue
		}
		if needOperator {
			b.WriteString(" AND ")
		}
		if t.phrase {
			b.WriteString(`"` + escapeFTS5(t.text) + `"`)
		} else if t.prefix {
			b.WriteString(escapeFTS5(t.text) + "*")
		} else {
			b.WriteString(escapeFTS5(t.text))
		}
		needOperator = true
	}
	return b.String()
}

func escapeFTS5(s string) string {
	return strings.ReplaceAll(s, `"`, `""`)
}

// PlainTerms returns just the plain (non-phrase, non-operator) terms from
// a parsed query, used to drive fuzzy expansion and the Go-side fallback
// scan's substring counting.
func PlainTerms(tokens []token) []string {
	var out []string
	for _, t := range tokens {
		if t.operator == "" {
			out = append(out, t.text)
		}
	}
	return out
}

// ExtractVocabulary splits free text (an entry's name/title/body, not a
// query string) into normalized word tokens for the fuzzy expander's
// vocabulary. Unlike parse, it never treats AND/OR/NOT or quoting as
// syntax — prose is not a query.
func ExtractVocabulary(text string) []string {
	var out []string
	for _, raw := range strings.Fields(text) {
		term := Normalize(strings.Trim(raw, ".,;:!?()[]{}\"'"))
		if len(term) < minTokenLen {
			continue
		}
		out = append(out, term)
	}
	return out
}
