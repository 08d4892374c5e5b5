// Package cpgerrors implements the engine's structured error taxonomy:
// usage, transient, data, state and conflict errors, each carrying a
// message and optional context, with a Retryable helper for backoff
// policies.
package cpgerrors

import "fmt"

// Kind classifies an Error for callers deciding how to react.
type Kind string

// Kind values.
const (
	KindUsage     Kind = "usage"
	KindTransient Kind = "transient"
	KindData      Kind = "data"
	KindState     Kind = "state"
	KindConflict  Kind = "conflict"
)

// Error is a structured error carrying a Kind, a human message and
// optional key/value context for logging.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// With attaches context key/value pairs, returning the same error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newErr(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Usage reports a caller mistake: bad arguments, malformed filters, an
// unsupported extension. Never retryable.
func Usage(message string, cause error) *Error { return newErr(KindUsage, message, cause) }

// Transient reports a condition expected to clear on its own: a timed-out
// provider call, a dropped connection, a rate limit. Retryable under the
// capped backoff policy.
func Transient(message string, cause error) *Error { return newErr(KindTransient, message, cause) }

// Data reports malformed or unexpected content: an unparsable file, a
// corrupt embedding payload. Not retryable without a content change.
func Data(message string, cause error) *Error { return newErr(KindData, message, cause) }

// State reports an operation attempted against an object in the wrong
// lifecycle state: embedding a non-completed snapshot, reading from a
// repository with no active snapshot. Not retryable without a state change.
func State(message string, cause error) *Error { return newErr(KindState, message, cause) }

// Conflict reports contention over a shared resource: a second indexing
// snapshot requested while one is already running. Retryable after the
// holder releases it.
func Conflict(message string, cause error) *Error { return newErr(KindConflict, message, cause) }

// Retryable reports whether a caller should retry the operation that
// produced err under the engine's capped exponential backoff policy
// (base 1s, cap 10s, max 3 attempts).
func Retryable(err error) bool {
	var e *Error
	if !As(err, &e) {
		return false
	}
	return e.Kind == KindTransient || e.Kind == KindConflict
}

// As is a local alias of errors.As kept here so callers only need this
// package for taxonomy checks.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
