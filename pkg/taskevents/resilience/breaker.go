// Package resilience provides the circuit breaker and recovery policies that
// wrap integration invocations. A breaker is keyed by integration name; when
// it is open, invocations fail fast without reaching the integration.
package resilience

import (
	"context"
	"sync"
	"time"

	teverrors "github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/errors"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed means calls flow through normally.
	StateClosed State = iota

	// StateOpen means calls are rejected without invoking the integration.
	StateOpen

	// StateHalfOpen means a limited number of probe calls are allowed to
	// test whether the integration recovered.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5.
	FailureThreshold int

	// SuccessThreshold is the number of successes in half-open state that
	// closes the circuit. Default: 2.
	SuccessThreshold int

	// OpenTimeout is how long the circuit stays open before allowing a
	// half-open probe. Default: 30s.
	OpenTimeout time.Duration

	// OnStateChange is invoked on every transition. Called from the
	// breaker's goroutine; must not block.
	OnStateChange func(name string, from, to State)
}

// DefaultBreakerConfig provides reasonable defaults.
var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: 5,
	SuccessThreshold: 2,
	OpenTimeout:      30 * time.Second,
}

// Breaker is a three-state circuit breaker for one integration.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	lastFailure     time.Time
	lastStateChange time.Time

	totalCalls     int64
	totalRejected  int64
	totalFailures  int64
	totalSuccesses int64
}

// BreakerStats is a point-in-time snapshot of breaker counters.
type BreakerStats struct {
	Name            string
	State           State
	Failures        int
	Successes       int
	LastFailure     time.Time
	LastStateChange time.Time
	TotalCalls      int64
	TotalRejected   int64
	TotalFailures   int64
	TotalSuccesses  int64
}

// NewBreaker creates a circuit breaker for the named integration.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultBreakerConfig.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig.OpenTimeout
	}
	return &Breaker{
		name:            name,
		cfg:             cfg,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Name returns the integration name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// IsOpen reports whether calls would currently be rejected. An open breaker
// past its timeout transitions to half-open and reports false.
func (b *Breaker) IsOpen() bool {
	return !b.allow()
}

// Execute runs fn through the breaker. When the circuit is open it returns
// a BreakerOpenError without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		b.mu.Lock()
		b.totalRejected++
		b.mu.Unlock()
		return &teverrors.BreakerOpenError{Integration: b.name}
	}

	err := fn(ctx)
	if err != nil {
		b.RecordFailure()
	} else {
		b.RecordSuccess()
	}
	return err
}

// RecordSuccess feeds a successful outcome into the breaker's state machine.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++
	b.totalSuccesses++

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// RecordFailure feeds a failed outcome into the breaker's state machine.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++
	b.totalFailures++
	b.failures++
	b.successes = 0
	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		// A probe failure reopens immediately.
		b.transition(StateOpen)
	}
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.failures = 0
	b.successes = 0
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		Name:            b.name,
		State:           b.state,
		Failures:        b.failures,
		Successes:       b.successes,
		LastFailure:     b.lastFailure,
		LastStateChange: b.lastStateChange,
		TotalCalls:      b.totalCalls,
		TotalRejected:   b.totalRejected,
		TotalFailures:   b.totalFailures,
		TotalSuccesses:  b.totalSuccesses,
	}
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(b.lastFailure) > b.cfg.OpenTimeout {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.lastStateChange = time.Now()
	b.failures = 0
	b.successes = 0

	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(b.name, from, to)
	}
}
