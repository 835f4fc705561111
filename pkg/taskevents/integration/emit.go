package integration

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/bus"
	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/dispatch"
	teverrors "github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/errors"
	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/event"
	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/queue"
)

// EmitOptions configures one coordinator emission.
type EmitOptions struct {
	// Sequential runs direct-path listeners one at a time in priority order.
	Sequential bool

	// Guaranteed tracks the direct-path emission for redelivery if listeners
	// fail.
	Guaranteed bool

	// PayloadOptions are applied to the constructed payload.
	PayloadOptions []event.Option
}

// EmitOption configures one coordinator emission.
type EmitOption func(*EmitOptions)

// Sequentially runs direct-path listeners one at a time.
func Sequentially() EmitOption {
	return func(o *EmitOptions) { o.Sequential = true }
}

// GuaranteedDelivery tracks the direct-path emission for redelivery.
func GuaranteedDelivery() EmitOption {
	return func(o *EmitOptions) { o.Guaranteed = true }
}

// WithPayloadOptions forwards options to the payload constructor.
func WithPayloadOptions(opts ...event.Option) EmitOption {
	return func(o *EmitOptions) { o.PayloadOptions = append(o.PayloadOptions, opts...) }
}

// Emit constructs, validates, and delivers an event to every participating
// integration, aggregating one outcome entry per integration. The only
// synchronous failures are an invalid payload and calling before Initialize
// or during Shutdown; integration failures land in the per-integration
// results.
func (c *Coordinator) Emit(ctx context.Context, eventType string, data map[string]any, evctx event.Context, opts ...EmitOption) (*EmissionResult, error) {
	var eo EmitOptions
	for _, opt := range opts {
		opt(&eo)
	}

	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()
	switch state {
	case stateCreated:
		return nil, teverrors.ErrNotInitialized
	case stateShuttingDown, stateShutdown:
		return nil, teverrors.ErrShuttingDown
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.EventTimeout)
	defer cancel()

	payload := event.New(eventType, data, evctx, eo.PayloadOptions...)

	if c.cfg.Validator != nil {
		if err := c.cfg.Validator.ValidateStrict(eventType, payload.Map()); err != nil {
			return nil, err
		}
	}

	if c.cfg.Spans != nil {
		var span trace.Span
		ctx, span = c.cfg.Spans.StartEmitSpan(ctx, eventType, payload.EventID)
		defer func() { c.cfg.Spans.EndSpanWithError(span, nil) }()
	}

	result := &EmissionResult{
		EventID:   payload.EventID,
		EventType: eventType,
	}

	payload, filtered := c.applyMiddleware(ctx, payload)
	if filtered {
		result.Filtered = true
		result.Duration = time.Since(start)
		c.statsMu.Lock()
		c.emissions++
		c.filtered++
		c.statsMu.Unlock()
		return result, nil
	}

	participants := c.participants(eventType)

	directOutcomes := c.emitDirect(ctx, eventType, payload, participants, eo)
	busOutcomes := c.emitBus(ctx, eventType, payload, participants)

	for _, reg := range participants {
		name := reg.integration.Name()
		switch reg.opts.Mode {
		case ModeDirect:
			result.Results = append(result.Results, directResult(name, directOutcomes))
		case ModeBus:
			result.Results = append(result.Results, busResult(name, busOutcomes))
		case ModeQueued:
			result.Results = append(result.Results, c.enqueue(reg, payload))
		case ModeHybrid:
			result.Results = append(result.Results, mergeHybrid(
				directResult(name, directOutcomes), busResult(name, busOutcomes)))
		}
	}

	result.Duration = time.Since(start)

	failureCount := 0
	for _, res := range result.Results {
		if !res.Success {
			failureCount++
		}
	}
	c.statsMu.Lock()
	c.emissions++
	c.failures += int64(failureCount)
	c.statsMu.Unlock()

	return result, nil
}

// participants snapshots the registrations whose declared event types match.
func (c *Coordinator) participants(eventType string) []*registration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*registration
	for _, reg := range c.regs {
		types := reg.integration.EventTypes()
		if len(types) == 0 {
			out = append(out, reg)
			continue
		}
		for _, t := range types {
			if matchesType(t, eventType) {
				out = append(out, reg)
				break
			}
		}
	}
	return out
}

// emitDirect fans out through the dispatcher and maps listener outcomes back
// to integration names. Returns nil when no participant uses the direct path.
func (c *Coordinator) emitDirect(ctx context.Context, eventType string, payload *event.Payload, participants []*registration, eo EmitOptions) map[string]error {
	hasDirect := false
	for _, reg := range participants {
		if reg.opts.Mode == ModeDirect || reg.opts.Mode == ModeHybrid {
			hasDirect = true
			break
		}
	}
	if !hasDirect {
		return nil
	}

	var emitOpts []dispatch.EmitOption
	if eo.Sequential {
		emitOpts = append(emitOpts, dispatch.Sequentially())
	}
	if eo.Guaranteed {
		emitOpts = append(emitOpts, dispatch.GuaranteedDelivery())
	}

	em := c.dispatcher.Emit(ctx, eventType, payload, emitOpts...)

	outcomes := make(map[string]error)
	c.mu.RLock()
	for _, res := range em.Results {
		if name, ok := c.byListener[res.ListenerID]; ok {
			if _, seen := outcomes[name]; !seen {
				outcomes[name] = nil
			}
		}
	}
	for _, f := range em.Failures {
		if name, ok := c.byListener[f.ListenerID]; ok {
			outcomes[name] = f.Err
		}
	}
	c.mu.RUnlock()
	return outcomes
}

// emitBus publishes once per distinct channel used by bus-path participants
// and collects per-integration outcomes recorded by their subscribers.
func (c *Coordinator) emitBus(ctx context.Context, eventType string, payload *event.Payload, participants []*registration) map[string]error {
	channels := make(map[string]struct{})
	for _, reg := range participants {
		if reg.opts.Mode == ModeBus || reg.opts.Mode == ModeHybrid {
			channel := reg.opts.BusChannel
			if channel == "" {
				channel = bus.DefaultChannel
			}
			channels[channel] = struct{}{}
		}
	}
	if len(channels) == 0 {
		return nil
	}

	outcomes := make(map[string]error)
	for channel := range channels {
		// Register the pending outcome entry before publishing so subscribers
		// can attribute their results. Messages published out of band through
		// Bus() have no entry and are never recorded.
		messageID := c.expectBusOutcomes()

		pub, err := c.bus.Publish(ctx, eventType, payload,
			bus.OnChannel(channel), bus.WithMessageID(messageID))
		if err != nil {
			c.takeBusOutcomes(messageID)
			// Publish-level failure applies to every participant on this
			// channel.
			for _, reg := range participants {
				if busChannelOf(reg) == channel {
					outcomes[reg.integration.Name()] = err
				}
			}
			continue
		}
		for name, res := range c.takeBusOutcomes(pub.MessageID) {
			outcomes[name] = res
		}
	}
	return outcomes
}

// enqueue pushes the payload onto the queued path for one integration.
func (c *Coordinator) enqueue(reg *registration, payload *event.Payload) Result {
	name := reg.integration.Name()
	_, err := c.queue.Push(payload,
		queue.WithPriority(reg.opts.QueuePriority),
		queue.WithProcessor(func(ctx context.Context, item any) error {
			p, ok := item.(*event.Payload)
			if !ok {
				return teverrors.ErrNoProcessor
			}
			return c.invoke(ctx, reg, p)
		}),
	)
	if err != nil {
		return Result{Integration: name, Mode: ModeQueued, Err: err}
	}
	return Result{Integration: name, Mode: ModeQueued, Success: true, Queued: true}
}

func busChannelOf(reg *registration) string {
	if reg.opts.Mode != ModeBus && reg.opts.Mode != ModeHybrid {
		return ""
	}
	if reg.opts.BusChannel == "" {
		return bus.DefaultChannel
	}
	return reg.opts.BusChannel
}

func directResult(name string, outcomes map[string]error) Result {
	err, seen := outcomes[name]
	if !seen {
		// The listener did not participate (filtered or superseded); report
		// success with no delivery.
		return Result{Integration: name, Mode: ModeDirect, Success: true}
	}
	return Result{Integration: name, Mode: ModeDirect, Success: err == nil, Err: err}
}

func busResult(name string, outcomes map[string]error) Result {
	err, seen := outcomes[name]
	if !seen {
		// Paused subscription or expired message; skipped, not failed.
		return Result{Integration: name, Mode: ModeBus, Success: true}
	}
	return Result{Integration: name, Mode: ModeBus, Success: err == nil, Err: err}
}

func mergeHybrid(direct, viaBus Result) Result {
	merged := Result{
		Integration: direct.Integration,
		Mode:        ModeHybrid,
		Success:     direct.Success && viaBus.Success,
	}
	if direct.Err != nil {
		merged.Err = direct.Err
	} else if viaBus.Err != nil {
		merged.Err = viaBus.Err
	}
	return merged
}

// matchesType reports whether a declared type (literal, "*", or a pattern
// with "*" segments) matches an event type.
func matchesType(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}

	parts := strings.Split(pattern, "*")
	rest := eventType
	if !strings.HasPrefix(rest, parts[0]) {
		return false
	}
	rest = rest[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(rest, part)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(part):]
	}
	return strings.HasSuffix(rest, parts[len(parts)-1])
}
