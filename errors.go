package heytomcache

import (
	"errors"
	"fmt"

	"github.com/heytom-labs/heytom-cache/resilience"
)

var (
	// ErrInvalidArgument reports an empty/whitespace key, a nil value, or
	// unusable expiration options (e.g. an absolute deadline in the past).
	ErrInvalidArgument = errors.New("heytomcache: invalid argument")

	// ErrClosed reports a call made after Close.
	ErrClosed = errors.New("heytomcache: cache is closed")

	// ErrBackendUnavailable reports that a far-tier operation failed after
	// retries (or short-circuited on an open breaker) and the near tier was
	// not available to degrade to. Match with errors.Is; the underlying
	// cause is reachable via errors.Unwrap.
	ErrBackendUnavailable = errors.New("heytomcache: far tier unavailable")

	// ErrSerialization reports a codec failure in the typed helpers.
	ErrSerialization = errors.New("heytomcache: serialization failed")

	// ErrCircuitOpen is resilience.ErrCircuitOpen, re-exported: the far-tier
	// breaker short-circuited the call.
	ErrCircuitOpen = resilience.ErrCircuitOpen
)

// BackendError wraps the far-tier cause behind ErrBackendUnavailable so
// callers can both categorize (errors.Is(err, ErrBackendUnavailable)) and
// inspect the root cause.
type BackendError struct {
	Op  string // "get", "set", "remove", "refresh", "hget", ...
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("heytomcache: %s: far tier unavailable: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool { return target == ErrBackendUnavailable }

func backendErr(op string, err error) error { return &BackendError{Op: op, Err: err} }

func invalidArg(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, reason)
}
