package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	teverrors "github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/errors"
	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/observability"
)

// Result is the outcome of one successful listener execution.
type Result struct {
	// ListenerID identifies the listener that produced the value.
	ListenerID string

	// Value is the listener's return value.
	Value any

	// Attempts is the number of attempts made (1 = no retries needed).
	Attempts int

	// Duration is the total execution time across attempts.
	Duration time.Duration
}

// Failure is the outcome of one listener that failed after exhausting its
// retries.
type Failure struct {
	// ListenerID identifies the failing listener.
	ListenerID string

	// Err is the final error.
	Err error

	// Attempts is the number of attempts made.
	Attempts int

	// TimedOut is true when the final failure was a timeout.
	TimedOut bool
}

// Emission is the aggregate outcome of one Emit call.
type Emission struct {
	// EmissionID uniquely identifies this emission.
	EmissionID string

	// EventType is the emitted type.
	EventType string

	// ListenersExecuted is the number of listeners that participated after
	// filtering.
	ListenersExecuted int

	// Results holds successful listener outcomes, in priority order.
	Results []Result

	// Failures holds failed listener outcomes, in priority order.
	Failures []Failure

	// Success is true iff zero failures occurred.
	Success bool
}

// EmitOptions configures one emission.
type EmitOptions struct {
	// Sequential runs listeners one at a time in priority order instead of
	// in parallel.
	Sequential bool

	// Guaranteed creates a delivery-tracking record if any listener fails.
	Guaranteed bool

	// noTrack suppresses tracking entirely. Redelivery emissions set it so a
	// failed retry cannot spawn a second record for the same delivery.
	noTrack bool
}

// EmitOption configures one emission.
type EmitOption func(*EmitOptions)

// Sequentially runs the emission's listeners one at a time.
func Sequentially() EmitOption {
	return func(o *EmitOptions) { o.Sequential = true }
}

// GuaranteedDelivery tracks the emission for redelivery if listeners fail.
func GuaranteedDelivery() EmitOption {
	return func(o *EmitOptions) { o.Guaranteed = true }
}

// outcome is the internal per-listener result before splitting into
// Results/Failures.
type outcome struct {
	reg      *registration
	value    any
	err      error
	attempts int
	duration time.Duration
	timedOut bool
}

// Emit fans an event out to every matching listener.
//
// The candidate set is direct-type listeners, wildcard listeners, and
// pattern matches; each listener's filter then decides participation.
// Listeners run in parallel by default; Sequentially() preserves strict
// priority order. Results are always reported in priority order regardless
// of completion order.
func (d *Dispatcher) Emit(ctx context.Context, eventType string, data any, opts ...EmitOption) *Emission {
	var eo EmitOptions
	for _, opt := range opts {
		opt(&eo)
	}

	em := &Emission{
		EmissionID: uuid.New().String(),
		EventType:  eventType,
	}

	done := observability.TimedOperation()

	participating := d.participants(eventType, data)
	em.ListenersExecuted = len(participating)

	outcomes := make([]outcome, len(participating))
	if eo.Sequential {
		for i, reg := range participating {
			outcomes[i] = d.runListener(ctx, reg, eventType, data)
		}
	} else {
		var wg sync.WaitGroup
		for i, reg := range participating {
			wg.Add(1)
			go func(i int, reg *registration) {
				defer wg.Done()
				outcomes[i] = d.runListener(ctx, reg, eventType, data)
			}(i, reg)
		}
		wg.Wait()
	}

	for _, oc := range outcomes {
		if oc.err != nil {
			em.Failures = append(em.Failures, Failure{
				ListenerID: oc.reg.id,
				Err:        oc.err,
				Attempts:   oc.attempts,
				TimedOut:   oc.timedOut,
			})
			continue
		}
		em.Results = append(em.Results, Result{
			ListenerID: oc.reg.id,
			Value:      oc.value,
			Attempts:   oc.attempts,
			Duration:   oc.duration,
		})
	}
	em.Success = len(em.Failures) == 0

	d.recordEmission(eventType, len(em.Failures))
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.RecordEmission(ctx, eventType, em.ListenersExecuted, len(em.Failures), time.Duration(done()*float64(time.Millisecond)))
	}
	observability.LogEmission(d.cfg.Logger, em.EmissionID, eventType, em.ListenersExecuted, len(em.Failures), done())

	if len(em.Failures) > 0 {
		for _, f := range em.Failures {
			observability.LogListenerFailure(d.cfg.Logger, em.EmissionID, f.ListenerID, f.Attempts, f.Err)
		}
		if d.shouldTrack(eo, em) {
			d.track(em, data)
		}
	}

	// Once listeners leave the registry after executing, success or not.
	d.expireOnce(participating)

	return em
}

// participants resolves candidates and applies filters. A panicking filter
// excludes its listener and is logged; it cannot break the emission.
func (d *Dispatcher) participants(eventType string, data any) []*registration {
	candidates := d.candidates(eventType)
	participating := make([]*registration, 0, len(candidates))
	for _, reg := range candidates {
		if reg.opts.Filter != nil && !safeFilter(d, reg, data) {
			continue
		}
		participating = append(participating, reg)
	}
	return participating
}

func safeFilter(d *Dispatcher, reg *registration, data any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if d.cfg.Logger != nil {
				d.cfg.Logger.Warn("listener filter panicked",
					"listener_id", reg.id, "panic", fmt.Sprint(r))
			}
			ok = false
		}
	}()
	return reg.opts.Filter(data)
}

// runListener executes one listener with its timeout race and fixed-delay
// retry loop.
func (d *Dispatcher) runListener(ctx context.Context, reg *registration, eventType string, data any) outcome {
	timeout := reg.opts.Timeout
	if timeout == 0 {
		timeout = d.cfg.DefaultTimeout
	}
	delay := reg.opts.RetryDelay
	if delay <= 0 {
		delay = d.cfg.DefaultRetryDelay
	}

	oc := outcome{reg: reg}
	for attempt := 0; attempt <= reg.opts.MaxRetries; attempt++ {
		oc.attempts = attempt + 1

		start := time.Now()
		value, err, timedOut := d.invoke(ctx, reg, data, timeout)
		elapsed := time.Since(start)
		oc.duration += elapsed

		reg.recordRun(elapsed, err != nil)
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.RecordListener(ctx, eventType, elapsed, err)
		}

		if err == nil {
			oc.value = value
			oc.err = nil
			oc.timedOut = false
			return oc
		}

		oc.err = err
		oc.timedOut = timedOut

		if attempt < reg.opts.MaxRetries {
			select {
			case <-ctx.Done():
				oc.err = ctx.Err()
				return oc
			case <-time.After(delay):
			}
		}
	}
	return oc
}

// invoke races the listener against its timeout. On timeout the listener's
// goroutine keeps running; only the dispatcher's wait ends. The buffered
// channel lets the abandoned goroutine exit when it eventually finishes.
func (d *Dispatcher) invoke(ctx context.Context, reg *registration, data any, timeout time.Duration) (any, error, bool) {
	type res struct {
		value any
		err   error
	}
	ch := make(chan res, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- res{err: fmt.Errorf("listener panic: %v", r)}
			}
		}()
		value, err := reg.fn(ctx, data)
		ch <- res{value: value, err: err}
	}()

	if timeout <= 0 {
		select {
		case r := <-ch:
			return r.value, r.err, false
		case <-ctx.Done():
			return nil, ctx.Err(), false
		}
	}

	select {
	case r := <-ch:
		return r.value, r.err, false
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case <-time.After(timeout):
		return nil, &teverrors.TimeoutError{Op: "listener " + reg.id, Timeout: timeout}, true
	}
}

func (d *Dispatcher) expireOnce(participating []*registration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, reg := range participating {
		if reg.opts.Once {
			d.removeLocked(reg.id)
		}
	}
}

func (d *Dispatcher) recordEmission(eventType string, failures int) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	d.emissions++
	d.failures += int64(failures)
	d.emissionsByType[eventType]++
}

// shouldTrack reports whether a failed emission warrants a tracking record:
// either the emission was guaranteed, or a failing listener was registered
// as guaranteed.
func (d *Dispatcher) shouldTrack(eo EmitOptions, em *Emission) bool {
	if eo.noTrack {
		return false
	}
	if eo.Guaranteed {
		return true
	}
	for _, f := range em.Failures {
		d.mu.RLock()
		reg, ok := d.byID[f.ListenerID]
		d.mu.RUnlock()
		if ok && reg.opts.Guaranteed {
			return true
		}
	}
	return false
}
