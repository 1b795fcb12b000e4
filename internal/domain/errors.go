package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is sent to a connection that attempts to track
	// an entity before authenticating.
	ErrNotAuthenticated = errors.New("Not authenticated")

	// ErrCoordinatorUnavailable marks the shared pub/sub store as
	// unreachable; broadcasts degrade to local-instance-only delivery.
	ErrCoordinatorUnavailable = errors.New("broadcast coordinator unavailable")
)

// AuthenticationError covers every token verification failure: bad
// signature, expired, malformed, missing subject. All of them collapse to
// one outcome - the connection is terminated.
type AuthenticationError struct {
	Reason string
	Cause  error
}

func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Cause)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return e.Cause }

// CoordinationError wraps a failure to reach the shared pub/sub store.
// Callers log it and fall back to local delivery; there is no retry.
type CoordinationError struct {
	Op    string
	Cause error
}

func (e *CoordinationError) Error() string {
	return fmt.Sprintf("coordination %s failed: %v", e.Op, e.Cause)
}

func (e *CoordinationError) Unwrap() error { return e.Cause }

// SerializationError marks a cross-instance payload that could not be
// decoded. The message is dropped and logged, never redelivered.
type SerializationError struct {
	Channel string
	Cause   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("undecodable payload on %s: %v", e.Channel, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// PersistenceError marks a best-effort write failure. It is logged and
// fully isolated from the publish path.
type PersistenceError struct {
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence write failed: %v", e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }
