// Package merr defines the error taxonomy shared across Mementor's core
// components, so callers can branch on failure class without parsing
// strings.
package merr

import "fmt"

// Kind classifies a failure by what the caller can do about it.
type Kind int

const (
	// KindUnknown is the zero value; never returned by core code.
	KindUnknown Kind = iota
	// KindStorage covers backing-store or vector-index failures.
	KindStorage
	// KindModelMissing means the embedder has no model on disk.
	KindModelMissing
	// KindInvalidTranscript means an unrecoverable decode or schema
	// mismatch of the whole transcript file (not a single bad line).
	KindInvalidTranscript
	// KindInvariant means a precondition breach: a bug, not user error.
	KindInvariant
	// KindNotReady means the store isn't initialized for this operation.
	KindNotReady
	// KindExternal covers collaborator failures (e.g. git/commit lookup).
	KindExternal
	// KindCancelled means the caller's context was cancelled mid-operation.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindStorage:
		return "storage"
	case KindModelMissing:
		return "model_missing"
	case KindInvalidTranscript:
		return "invalid_transcript"
	case KindInvariant:
		return "invariant"
	case KindNotReady:
		return "not_ready"
	case KindExternal:
		return "external"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error wraps a cause with a Kind so callers can use errors.As to recover
// classification across wrapping boundaries.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a new classified error.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies an existing error, preserving it as the cause.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, walking the unwrap chain. Returns
// KindUnknown if neither err nor anything in its chain is a *Error.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return KindUnknown
}
