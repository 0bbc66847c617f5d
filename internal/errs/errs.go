// Package errs defines the error taxonomy shared across the core: what each
// kind signals to a caller, not a type hierarchy to switch on defensively.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller should react to it.
type Kind int

const (
	// KindInvalidRequest marks malformed input at the edge. Never retried
	// internally; surfaced to the client as 4xx.
	KindInvalidRequest Kind = iota
	// KindNotFound marks a missing tenant or entity; surfaced as 404.
	KindNotFound
	// KindTooManyConcurrentWrites marks write-permit exhaustion; surfaced
	// as 429 and is client-retryable.
	KindTooManyConcurrentWrites
	// KindStorageFailure marks a disk/IO error during append or read.
	// Fatal for the individual operation; never silently retried.
	KindStorageFailure
	// KindPeerUnavailable marks a circuit-open or transport error talking
	// to a peer. Always absorbed by the replication manager; never
	// surfaced to a client.
	KindPeerUnavailable
	// KindPartialResults marks an analytics fan-out where not every peer
	// answered. Carried as response metadata, not a failure — the HTTP
	// status stays 200.
	KindPartialResults
	// KindConfigError marks an invalid experiment or embedder
	// configuration; surfaced as 400.
	KindConfigError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindNotFound:
		return "not_found"
	case KindTooManyConcurrentWrites:
		return "too_many_concurrent_writes"
	case KindStorageFailure:
		return "storage_failure"
	case KindPeerUnavailable:
		return "peer_unavailable"
	case KindPartialResults:
		return "partial_results"
	case KindConfigError:
		return "config_error"
	default:
		return "unknown"
	}
}

// HTTPStatus returns the status code a handler should use when this kind of
// error reaches the edge of a request.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest:
		return 400
	case KindNotFound:
		return 404
	case KindTooManyConcurrentWrites:
		return 429
	case KindStorageFailure:
		return 500
	case KindConfigError:
		return 400
	default:
		return 500
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on
// errors.As without string-matching messages.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op describing kind, optionally wrapping cause.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindStorageFailure for
// errors that were never classified (an unclassified error on the critical
// path is treated as the worst case, not silently ignored).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorageFailure
}
