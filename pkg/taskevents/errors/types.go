package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for coordinator lifecycle violations. These are the only
// failures surfaced synchronously to callers besides validation failures.
var (
	// ErrNotInitialized is returned when emitting before Initialize.
	ErrNotInitialized = errors.New("coordinator not initialized")

	// ErrShuttingDown is returned when emitting during or after Shutdown.
	ErrShuttingDown = errors.New("coordinator is shutting down")

	// ErrQueueClosed is returned when pushing to a stopped queue.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrBusClosed is returned when publishing to a closed bus.
	ErrBusClosed = errors.New("bus is closed")

	// ErrNoProcessor is returned when a queued item has no processor, per-item
	// or queue-level.
	ErrNoProcessor = errors.New("no processor for queue item")
)

// TimeoutError marks a listener or integration that did not complete in time.
// The underlying work is not cancelled, only the dispatcher's wait.
type TimeoutError struct {
	// Op identifies what timed out (listener ID or integration name).
	Op string

	// Timeout is the configured limit.
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

// ValidationError is returned when a payload fails its schema check.
// It aborts the whole emission.
type ValidationError struct {
	// EventType is the type whose schema was violated.
	EventType string

	// Problems lists the individual schema violations.
	Problems []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return fmt.Sprintf("payload for %q failed validation", e.EventType)
	}
	return fmt.Sprintf("payload for %q failed validation: %s",
		e.EventType, strings.Join(e.Problems, "; "))
}

// BreakerOpenError is returned when a circuit breaker rejects an invocation
// without calling the underlying integration.
type BreakerOpenError struct {
	// Integration is the name the breaker is keyed by.
	Integration string
}

// Error implements the error interface.
func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open for integration %q", e.Integration)
}

// DispatchError wraps a listener failure inside an emission.
type DispatchError struct {
	// EmissionID identifies the emission the failure belongs to.
	EmissionID string

	// EventType is the emitted event type.
	EventType string

	// ListenerID is the failing listener, if known.
	ListenerID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	if e.ListenerID != "" {
		return fmt.Sprintf("emission %s (%s): listener %s: %v",
			e.EmissionID, e.EventType, e.ListenerID, e.Err)
	}
	return fmt.Sprintf("emission %s (%s): %v", e.EmissionID, e.EventType, e.Err)
}

// Unwrap returns the underlying error.
func (e *DispatchError) Unwrap() error {
	return e.Err
}
