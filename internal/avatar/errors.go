package avatar

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when a session operation runs before
	// Initialize succeeded.
	ErrNotInitialized = errors.New("avatar manager not initialized")

	// ErrMissingDependency is returned by Initialize when a required
	// capability provider is absent.
	ErrMissingDependency = errors.New("missing capability provider")

	// ErrCapacityExceeded is returned when the live-session limit is hit.
	ErrCapacityExceeded = errors.New("maximum concurrent avatar sessions reached")

	// ErrSessionNotFound covers unknown ids and sessions already in a
	// terminal status; terminal sessions are treated as absent.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPreconditionFailed is returned when a session exists but lacks the
	// capability handle or status an operation requires.
	ErrPreconditionFailed = errors.New("session precondition failed")

	// ErrUnsupportedInputKind is returned for input kinds the turn loop
	// does not understand.
	ErrUnsupportedInputKind = errors.New("unsupported input kind")
)

// ProviderError wraps a capability provider failure with the provider name
// and the operation that failed.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func providerErr(provider, op string, err error) error {
	return &ProviderError{Provider: provider, Op: op, Err: err}
}
