// Package pipelineerr defines the core-visible error taxonomy (spec §7) as
// typed sentinel values so callers can errors.Is/errors.As instead of
// string-matching.
package pipelineerr

import "errors"

// Kind classifies an error the way the coordinator reasons about recovery.
type Kind string

const (
	KindRateLimit            Kind = "RATE_LIMIT"
	KindProviderOverload     Kind = "PROVIDER_OVERLOAD"
	KindQueryEmpty           Kind = "QUERY_EMPTY"
	KindNoCandidates         Kind = "NO_CANDIDATES"
	KindCandidateRejected    Kind = "CANDIDATE_REJECTED"
	KindBlockSearchExhausted Kind = "BLOCK_SEARCH_EXHAUSTED"
	KindExtractionFailure    Kind = "EXTRACTION_FAILURE"
	KindCancelled            Kind = "CANCELLED"
	KindFipeUnreachable      Kind = "FIPE_UNREACHABLE"
	KindInternal             Kind = "INTERNAL"
)

// Error wraps an underlying cause with a Kind the coordinator can branch on.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is allows errors.Is(err, pipelineerr.KindX) style checks via a sentinel
// wrapper, by comparing Kind whenever the target is also a *Error.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for the common zero-payload cases, so call sites can do
// errors.Is(err, pipelineerr.ErrCancelled) without constructing a wrapper.
var (
	ErrCancelled            = New(KindCancelled, "quote request cancelled")
	ErrQueryEmpty           = New(KindQueryEmpty, "llm produced no usable query")
	ErrNoCandidates         = New(KindNoCandidates, "aggregator returned no usable candidates")
	ErrBlockSearchExhausted = New(KindBlockSearchExhausted, "block search exhausted escalation budget")
)
