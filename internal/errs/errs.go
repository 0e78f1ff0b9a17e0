// Package errs defines the retrieval core's typed error kinds and the
// fail-open/fail-closed policy each one implies.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation-policy purposes.
type Kind string

const (
	// BadRequest: invalid scope/type/flag, malformed regex, limit>max. Surfaced verbatim.
	BadRequest Kind = "bad_request"
	// NotFound: unknown scope id, unknown relation seed. Surfaced.
	NotFound Kind = "not_found"
	// Conflict: concurrent write to a versioned entry. Surfaced; caller may retry.
	Conflict Kind = "conflict"
	// Unavailable: storage driver down. Surfaced; no fallback.
	Unavailable Kind = "unavailable"
	// Degraded: semantic/LLM/embedding collaborator failed. Swallowed by the
	// caller; the pipeline continues and marks the result degraded.
	Degraded Kind = "degraded"
	// Timeout: deadline exceeded. Partial result, degraded=true.
	Timeout Kind = "timeout"
	// Internal: invariant violation or recovered panic. Logged with context,
	// surfaced as a generic error.
	Internal Kind = "internal"
)

// Error wraps an underlying error with a Kind.
type Error struct {
	Kind Kind
	Op   string // component/operation that produced the error, e.g. "scope.Resolve"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a Kind and an op label. If err is nil, returns nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind carried by err, or Internal if err isn't a
// typed Error — an untyped error reaching the top of the pipeline is
// itself a sign of a missed classification, so it fails closed as Internal
// rather than silently passing through.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// FailsOpen reports whether an error of this kind should let the pipeline
// continue without the signal that produced it: Degraded and Timeout are
// the only fail-open kinds.
func FailsOpen(kind Kind) bool {
	return kind == Degraded || kind == Timeout
}
