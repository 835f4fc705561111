// Package dispatch implements the event dispatcher: a registry of listeners
// per event type with priority ordering, wildcard and pattern matching,
// per-listener filtering, timeouts, retries, and guaranteed-delivery
// tracking.
//
// An emission fans out to every matching listener either in parallel
// (default) or sequentially. Listener failures are isolated: one listener
// throwing or timing out never prevents its siblings from executing.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/archive"
	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/observability"
)

// Listener processes emitted event data and returns an optional result.
type Listener func(ctx context.Context, data any) (any, error)

// FilterFunc decides whether a listener participates in an emission.
// It receives the emission data before any listener runs.
type FilterFunc func(data any) bool

// Config configures dispatcher behavior.
type Config struct {
	// DefaultTimeout bounds each listener execution when the listener does
	// not set its own timeout. Default: 5s. Negative disables the bound.
	DefaultTimeout time.Duration

	// DefaultRetryDelay is the pause between listener retry attempts when
	// the listener does not set its own delay. Default: 100ms.
	DefaultRetryDelay time.Duration

	// DeliveryMaxRetries is the number of RetryFailedDeliveries attempts a
	// guaranteed-delivery record survives before being dropped. Default: 3.
	DeliveryMaxRetries int

	// Archive receives records that exhausted their delivery retries.
	// Optional; nil means exhausted records are only logged.
	Archive archive.Archive

	// Logger for diagnostics. Nil disables logging.
	Logger *slog.Logger

	// Metrics records emission and listener metrics. Nil disables metrics.
	Metrics observability.MetricsRecorder
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	DefaultTimeout:     5 * time.Second,
	DefaultRetryDelay:  100 * time.Millisecond,
	DeliveryMaxRetries: 3,
}

// ListenerOptions configures a single listener registration.
type ListenerOptions struct {
	// Priority orders execution: higher priority runs first. Listeners with
	// equal priority run in registration order.
	Priority int

	// Filter, when set, must return true for the listener to participate.
	Filter FilterFunc

	// Once removes the listener after its first execution, regardless of
	// outcome.
	Once bool

	// Guaranteed marks failures of this listener for delivery tracking even
	// when the emission itself is not guaranteed.
	Guaranteed bool

	// Timeout bounds each execution attempt. Zero uses the dispatcher
	// default; negative disables the bound.
	Timeout time.Duration

	// MaxRetries is the number of retry attempts after an initial failure.
	MaxRetries int

	// RetryDelay is the fixed pause between attempts. Zero uses the
	// dispatcher default.
	RetryDelay time.Duration
}

// Option configures a listener registration.
type Option func(*ListenerOptions)

// WithPriority sets the listener priority (higher runs first).
func WithPriority(p int) Option {
	return func(o *ListenerOptions) { o.Priority = p }
}

// WithFilter sets a participation predicate.
func WithFilter(f FilterFunc) Option {
	return func(o *ListenerOptions) { o.Filter = f }
}

// Once removes the listener after its first execution.
func Once() Option {
	return func(o *ListenerOptions) { o.Once = true }
}

// Guaranteed marks the listener for delivery tracking on failure.
func Guaranteed() Option {
	return func(o *ListenerOptions) { o.Guaranteed = true }
}

// WithTimeout bounds each execution attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *ListenerOptions) { o.Timeout = d }
}

// WithRetry sets the retry attempts and the fixed delay between them.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(o *ListenerOptions) {
		o.MaxRetries = maxRetries
		o.RetryDelay = delay
	}
}

// ListenerStats tracks per-listener execution counters.
type ListenerStats struct {
	Invocations        int64
	Failures           int64
	TotalExecutionTime time.Duration
}

// registration is a registered listener.
type registration struct {
	id        string
	eventType string
	matcher   *matcher // nil for literal types and the bare wildcard
	fn        Listener
	opts      ListenerOptions
	seq       uint64

	mu    sync.Mutex
	stats ListenerStats
}

func (r *registration) recordRun(d time.Duration, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Invocations++
	r.stats.TotalExecutionTime += d
	if failed {
		r.stats.Failures++
	}
}

// Stats is a point-in-time snapshot of dispatcher counters.
type Stats struct {
	// Listeners is the number of live registrations.
	Listeners int

	// Emissions is the total number of Emit calls.
	Emissions int64

	// ListenerFailures is the total number of final listener failures.
	ListenerFailures int64

	// TrackedDeliveries is the number of live guaranteed-delivery records.
	TrackedDeliveries int

	// EmissionsByType counts emissions per event type.
	EmissionsByType map[string]int64
}

// Dispatcher is the low-level fan-out primitive. It owns the listener
// registry exclusively; all mutation is serialized against iteration by
// copying the candidate set before executing.
type Dispatcher struct {
	cfg Config

	mu        sync.RWMutex
	byType    map[string][]*registration // literal event type -> registrations
	wildcards []*registration            // "*" registrations
	patterns  []*registration            // compiled pattern registrations
	byID      map[string]*registration
	seq       uint64

	statsMu         sync.Mutex
	emissions       int64
	failures        int64
	emissionsByType map[string]int64

	trackingMu sync.Mutex
	tracking   map[string]*TrackingRecord
}

// New creates a dispatcher with the given configuration.
func New(cfg Config) *Dispatcher {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = DefaultConfig.DefaultTimeout
	}
	if cfg.DefaultRetryDelay <= 0 {
		cfg.DefaultRetryDelay = DefaultConfig.DefaultRetryDelay
	}
	if cfg.DeliveryMaxRetries <= 0 {
		cfg.DeliveryMaxRetries = DefaultConfig.DeliveryMaxRetries
	}

	return &Dispatcher{
		cfg:             cfg,
		byType:          make(map[string][]*registration),
		byID:            make(map[string]*registration),
		emissionsByType: make(map[string]int64),
		tracking:        make(map[string]*TrackingRecord),
	}
}

// On registers a listener for an event type and returns its listener ID.
//
// eventType may be a literal type, the wildcard "*" (matches every
// emission), or a pattern containing "*" as a suffix or infix segment
// (e.g. "task.*" or "task.*.done").
func (d *Dispatcher) On(eventType string, fn Listener, opts ...Option) (string, error) {
	var lo ListenerOptions
	for _, opt := range opts {
		opt(&lo)
	}

	reg := &registration{
		id:        uuid.New().String(),
		eventType: eventType,
		fn:        fn,
		opts:      lo,
	}

	if eventType != "*" && isPattern(eventType) {
		m, err := compilePattern(eventType)
		if err != nil {
			return "", fmt.Errorf("compile pattern %q: %w", eventType, err)
		}
		reg.matcher = m
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	reg.seq = d.seq
	d.byID[reg.id] = reg

	switch {
	case eventType == "*":
		d.wildcards = append(d.wildcards, reg)
	case reg.matcher != nil:
		d.patterns = append(d.patterns, reg)
	default:
		subs := append(d.byType[eventType], reg)
		// Resort by descending priority; insertion order breaks ties.
		sort.SliceStable(subs, func(i, j int) bool {
			return subs[i].opts.Priority > subs[j].opts.Priority
		})
		d.byType[eventType] = subs
	}

	return reg.id, nil
}

// Off removes a listener by ID. Returns false if the ID is unknown.
func (d *Dispatcher) Off(listenerID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeLocked(listenerID)
}

func (d *Dispatcher) removeLocked(listenerID string) bool {
	reg, ok := d.byID[listenerID]
	if !ok {
		return false
	}
	delete(d.byID, listenerID)

	switch {
	case reg.eventType == "*":
		d.wildcards = removeReg(d.wildcards, listenerID)
	case reg.matcher != nil:
		d.patterns = removeReg(d.patterns, listenerID)
	default:
		subs := removeReg(d.byType[reg.eventType], listenerID)
		if len(subs) == 0 {
			delete(d.byType, reg.eventType)
		} else {
			d.byType[reg.eventType] = subs
		}
	}
	return true
}

// RemoveAllListeners removes every listener registered for exactly the given
// event type (literal, wildcard, or pattern string). Returns the count
// removed.
func (d *Dispatcher) RemoveAllListeners(eventType string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ids []string
	for id, reg := range d.byID {
		if reg.eventType == eventType {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		d.removeLocked(id)
	}
	return len(ids)
}

// Clear removes all listeners and drops all delivery-tracking records.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	d.byType = make(map[string][]*registration)
	d.wildcards = nil
	d.patterns = nil
	d.byID = make(map[string]*registration)
	d.mu.Unlock()

	d.trackingMu.Lock()
	d.tracking = make(map[string]*TrackingRecord)
	d.trackingMu.Unlock()
}

// ListenerCount returns the number of live registrations, optionally
// restricted to one event type string.
func (d *Dispatcher) ListenerCount(eventType string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if eventType == "" {
		return len(d.byID)
	}
	count := 0
	for _, reg := range d.byID {
		if reg.eventType == eventType {
			count++
		}
	}
	return count
}

// ListenerStatsFor returns a snapshot of a listener's counters.
func (d *Dispatcher) ListenerStatsFor(listenerID string) (ListenerStats, bool) {
	d.mu.RLock()
	reg, ok := d.byID[listenerID]
	d.mu.RUnlock()
	if !ok {
		return ListenerStats{}, false
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.stats, true
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	listeners := len(d.byID)
	d.mu.RUnlock()

	d.trackingMu.Lock()
	tracked := len(d.tracking)
	d.trackingMu.Unlock()

	d.statsMu.Lock()
	defer d.statsMu.Unlock()

	byType := make(map[string]int64, len(d.emissionsByType))
	for k, v := range d.emissionsByType {
		byType[k] = v
	}

	return Stats{
		Listeners:         listeners,
		Emissions:         d.emissions,
		ListenerFailures:  d.failures,
		TrackedDeliveries: tracked,
		EmissionsByType:   byType,
	}
}

// candidates resolves the full listener set for an event type: direct-type
// listeners, wildcard listeners, and pattern matches, sorted by descending
// priority with registration order breaking ties. The returned slice is a
// copy; concurrent registration cannot corrupt iteration.
func (d *Dispatcher) candidates(eventType string) []*registration {
	d.mu.RLock()
	defer d.mu.RUnlock()

	all := make([]*registration, 0,
		len(d.byType[eventType])+len(d.wildcards)+len(d.patterns))
	all = append(all, d.byType[eventType]...)
	all = append(all, d.wildcards...)
	for _, reg := range d.patterns {
		if reg.matcher.matches(eventType) {
			all = append(all, reg)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].opts.Priority != all[j].opts.Priority {
			return all[i].opts.Priority > all[j].opts.Priority
		}
		return all[i].seq < all[j].seq
	})
	return all
}

func removeReg(regs []*registration, id string) []*registration {
	for i, reg := range regs {
		if reg.id == id {
			return append(regs[:i], regs[i+1:]...)
		}
	}
	return regs
}
