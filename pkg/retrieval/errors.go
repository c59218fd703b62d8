package retrieval

import (
	"errors"
	"fmt"
)

// Kind names one of the error taxa from the retrieval engine's error
// handling design: InvalidQuery, TransportError, Timeout,
// IntegrityViolation, and Cancelled. Kind is intentionally a distinct taxon,
// not a Go error type hierarchy — callers branch on it via
// [RetrievalError.Kind] after an errors.As.
type Kind int

const (
	// KindInvalidQuery marks an empty query or one with no usable tokens.
	KindInvalidQuery Kind = iota

	// KindTransport marks a storage or embedding-service failure
	// (unreachable, 5xx).
	KindTransport

	// KindTimeout marks a per-request wall-clock deadline exceeded.
	KindTimeout

	// KindIntegrityViolation marks storage data that violates a corpus
	// invariant (e.g. an edge with empty evidence, a wrong-dimension
	// embedding). The offending record is skipped; retrieval proceeds.
	KindIntegrityViolation

	// KindCancelled marks a caller-cancelled request.
	KindCancelled
)

// String renders a human-readable taxon name.
func (k Kind) String() string {
	switch k {
	case KindInvalidQuery:
		return "InvalidQuery"
	case KindTransport:
		return "TransportError"
	case KindTimeout:
		return "Timeout"
	case KindIntegrityViolation:
		return "IntegrityViolation"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// RetrievalError is the error type surfaced by every public operation in
// this package. Wrap an underlying cause with [NewError] and inspect the
// taxon with [RetrievalError.Kind] (or errors.As).
type RetrievalError struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError constructs a [RetrievalError] for op, wrapping cause (which may
// be nil).
func NewError(kind Kind, op string, cause error) *RetrievalError {
	return &RetrievalError{Kind: kind, Op: op, Err: cause}
}

func (e *RetrievalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("retrieval: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("retrieval: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Is reports whether target is a [RetrievalError] of the same [Kind],
// satisfying errors.Is("kind sentinels").
func (e *RetrievalError) Is(target error) bool {
	var other *RetrievalError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// IsKind reports whether err is a [RetrievalError] of the given kind.
func IsKind(err error, kind Kind) bool {
	var re *RetrievalError
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

// ErrInvalidQuery is a sentinel of [KindInvalidQuery] usable with errors.Is
// via [RetrievalError.Is].
var ErrInvalidQuery = &RetrievalError{Kind: KindInvalidQuery, Op: "sentinel"}

// ErrTimeout is a sentinel of [KindTimeout].
var ErrTimeout = &RetrievalError{Kind: KindTimeout, Op: "sentinel"}

// ErrCancelled is a sentinel of [KindCancelled].
var ErrCancelled = &RetrievalError{Kind: KindCancelled, Op: "sentinel"}
