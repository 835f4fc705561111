// Package integration orchestrates event delivery to registered
// integrations. The coordinator routes every emission through a middleware
// pipeline and then to one of four processing paths per integration: direct
// dispatch, the work queue, the pub-sub bus, or both direct and bus.
// Integration failures are isolated; one failing integration never affects
// another or the coordinator itself.
package integration

import (
	"context"
	"time"

	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/event"
)

// Integration is a delivery target for domain events.
type Integration interface {
	// Name uniquely identifies the integration.
	Name() string

	// Initialize prepares the integration for event delivery.
	Initialize(ctx context.Context) error

	// Shutdown releases the integration's resources.
	Shutdown(ctx context.Context) error

	// HandleEvent processes one event payload.
	HandleEvent(ctx context.Context, payload *event.Payload) error

	// EventTypes declares the event types the integration handles. Literal
	// types and "*" patterns are accepted; empty means every event.
	EventTypes() []string
}

// ProcessingMode selects how events reach an integration.
type ProcessingMode int

const (
	// ModeHybrid delivers via both the dispatcher and the bus. The same
	// event reaches the integration twice on independent paths; handlers
	// must be idempotent.
	ModeHybrid ProcessingMode = iota

	// ModeDirect delivers via dispatcher listeners only.
	ModeDirect

	// ModeQueued routes events through the work queue.
	ModeQueued

	// ModeBus delivers via bus subscriptions only.
	ModeBus
)

// String returns the mode name.
func (m ProcessingMode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeQueued:
		return "queued"
	case ModeBus:
		return "bus"
	case ModeHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// RegisterOptions configures one integration registration.
type RegisterOptions struct {
	// Mode selects the processing path. Default: ModeHybrid.
	Mode ProcessingMode

	// Priority orders this integration's listeners and subscribers.
	Priority int

	// BusChannel is the channel for bus subscriptions; empty uses the bus
	// default channel.
	BusChannel string

	// BusTopics are the topics subscribed on the bus path. Empty falls back
	// to the integration's declared event types, then to "*".
	BusTopics []string

	// QueuePriority orders this integration's items on the queued path.
	QueuePriority int

	// Guaranteed marks direct-path failures for delivery tracking.
	Guaranteed bool
}

// RegisterOption configures one registration.
type RegisterOption func(*RegisterOptions)

// WithMode selects the processing mode.
func WithMode(m ProcessingMode) RegisterOption {
	return func(o *RegisterOptions) { o.Mode = m }
}

// WithPriority orders the integration's listeners (higher runs first).
func WithPriority(p int) RegisterOption {
	return func(o *RegisterOptions) { o.Priority = p }
}

// WithBusChannel sets the channel for bus subscriptions.
func WithBusChannel(channel string) RegisterOption {
	return func(o *RegisterOptions) { o.BusChannel = channel }
}

// WithBusTopics sets the topics subscribed on the bus path.
func WithBusTopics(topics ...string) RegisterOption {
	return func(o *RegisterOptions) { o.BusTopics = topics }
}

// WithQueuePriority orders the integration's queued items.
func WithQueuePriority(p int) RegisterOption {
	return func(o *RegisterOptions) { o.QueuePriority = p }
}

// Guaranteed marks direct-path failures for delivery tracking.
func Guaranteed() RegisterOption {
	return func(o *RegisterOptions) { o.Guaranteed = true }
}

// Result is the outcome for one participating integration in one emission.
type Result struct {
	// Integration names the participant.
	Integration string

	// Mode is the path the event took.
	Mode ProcessingMode

	// Success is true when delivery succeeded (or was accepted by the
	// queue, for the queued path).
	Success bool

	// Queued is true when the event was handed to the queue; the handler
	// outcome arrives asynchronously.
	Queued bool

	// Err is the delivery error when Success is false.
	Err error
}

// EmissionResult aggregates one coordinator emission.
type EmissionResult struct {
	// EventID identifies the payload.
	EventID string

	// EventType is the emitted type.
	EventType string

	// Filtered is true when middleware short-circuited the emission. A
	// filtered emission is a success with no per-integration results.
	Filtered bool

	// Results holds one entry per participating integration.
	Results []Result

	// Duration is the wall time of the emission.
	Duration time.Duration
}

// Success reports whether every participating integration succeeded.
func (r *EmissionResult) Success() bool {
	for _, res := range r.Results {
		if !res.Success {
			return false
		}
	}
	return true
}
