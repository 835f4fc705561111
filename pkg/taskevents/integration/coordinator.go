package integration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/bus"
	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/dispatch"
	teverrors "github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/errors"
	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/event"
	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/health"
	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/observability"
	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/queue"
	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/resilience"
	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/schema"
)

// Config configures the coordinator and the components it owns.
type Config struct {
	// Dispatcher configures the coordinator-owned dispatcher (direct path).
	Dispatcher dispatch.Config

	// Bus configures the coordinator-owned bus (pub-sub path).
	Bus bus.Config

	// Queue configures the coordinator-owned queue (queued path).
	Queue queue.Config

	// Validator checks payloads before emission. Nil disables validation.
	Validator *schema.Validator

	// Breakers hands out one circuit breaker per integration. Nil disables
	// circuit breaking.
	Breakers *resilience.Registry

	// Recovery wraps each integration invocation. Nil disables recovery.
	Recovery resilience.RecoveryManager

	// Health receives one check per registered integration. Optional.
	Health *health.Monitor

	// EventTimeout bounds one whole Emit call, independent of per-listener
	// timeouts. Default: 30s.
	EventTimeout time.Duration

	// ShutdownTimeout bounds the queue drain during Shutdown. Default: 10s.
	ShutdownTimeout time.Duration

	// Logger for diagnostics. Nil disables logging.
	Logger *slog.Logger

	// Metrics records emission metrics. Nil disables metrics.
	Metrics observability.MetricsRecorder

	// Spans traces emissions and integration invocations. Nil disables
	// tracing.
	Spans observability.SpanManager
}

type lifecycle int

const (
	stateCreated lifecycle = iota
	stateInitialized
	stateShuttingDown
	stateShutdown
)

type regStats struct {
	eventsHandled int64
	failures      int64
	lastEventAt   time.Time
}

// registration is one integration's live wiring.
type registration struct {
	integration Integration
	opts        RegisterOptions

	listenerIDs     []string
	subscriptionIDs []string

	mu          sync.Mutex
	stats       regStats
	initialized bool
	initErr     error
}

func (r *registration) recordOutcome(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.eventsHandled++
	r.stats.lastEventAt = time.Now()
	if err != nil {
		r.stats.failures++
	}
}

// IntegrationStatus is a snapshot of one registration.
type IntegrationStatus struct {
	Name          string
	Mode          ProcessingMode
	Initialized   bool
	InitError     error
	EventsHandled int64
	Failures      int64
	LastEventAt   time.Time
	BreakerState  string
}

// Stats aggregates coordinator counters.
type Stats struct {
	Integrations int
	Emissions    int64
	Failures     int64
	Filtered     int64
	Dispatcher   dispatch.Stats
	Bus          bus.Stats
	Queue        queue.Stats
}

// Coordinator routes emissions to registered integrations. It owns its
// dispatcher, bus, and queue exclusively.
type Coordinator struct {
	cfg Config

	dispatcher *dispatch.Dispatcher
	bus        *bus.Bus
	queue      *queue.Queue

	mu         sync.RWMutex
	regs       map[string]*registration
	byListener map[string]string // dispatcher listener ID -> integration name
	middleware []Middleware
	state      lifecycle

	statsMu   sync.Mutex
	emissions int64
	failures  int64
	filtered  int64

	busMu       sync.Mutex
	busOutcomes map[string]map[string]error // message ID -> integration -> outcome
}

// NewCoordinator creates a coordinator and the components it owns.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Dispatcher.Logger == nil {
		cfg.Dispatcher.Logger = cfg.Logger
	}
	if cfg.Bus.Logger == nil {
		cfg.Bus.Logger = cfg.Logger
	}
	if cfg.Queue.Logger == nil {
		cfg.Queue.Logger = cfg.Logger
	}

	return &Coordinator{
		cfg:         cfg,
		dispatcher:  dispatch.New(cfg.Dispatcher),
		bus:         bus.New(cfg.Bus),
		queue:       queue.New(cfg.Queue),
		regs:        make(map[string]*registration),
		byListener:  make(map[string]string),
		busOutcomes: make(map[string]map[string]error),
	}
}

// Register stores an integration and wires its processing path. Registering
// a name that already exists replaces the prior entry, immediately
// superseding its listeners and subscriptions.
func (c *Coordinator) Register(integ Integration, opts ...RegisterOption) error {
	var ro RegisterOptions
	for _, opt := range opts {
		opt(&ro)
	}

	name := integ.Name()
	if name == "" {
		return fmt.Errorf("integration has no name")
	}

	c.mu.Lock()
	if c.state == stateShuttingDown || c.state == stateShutdown {
		c.mu.Unlock()
		return teverrors.ErrShuttingDown
	}
	prior := c.regs[name]
	c.mu.Unlock()

	if prior != nil {
		if c.cfg.Logger != nil {
			c.cfg.Logger.Warn("integration re-registered, replacing prior entry",
				"integration", name)
		}
		c.unwire(prior)
	}

	reg := &registration{integration: integ, opts: ro}
	if err := c.wire(reg); err != nil {
		return err
	}

	c.mu.Lock()
	c.regs[name] = reg
	c.mu.Unlock()

	if c.cfg.Health != nil {
		c.cfg.Health.RegisterCheck("integration:"+name, c.healthCheck(name))
	}
	return nil
}

// wire installs the registration's listeners and subscriptions per its mode.
func (c *Coordinator) wire(reg *registration) error {
	mode := reg.opts.Mode

	if mode == ModeDirect || mode == ModeHybrid {
		if err := c.wireDirect(reg); err != nil {
			return err
		}
	}
	if mode == ModeBus || mode == ModeHybrid {
		if err := c.wireBus(reg); err != nil {
			c.unwire(reg)
			return err
		}
	}
	// ModeQueued installs nothing up front; emissions are pushed with the
	// integration's processor at emit time.
	return nil
}

func (c *Coordinator) wireDirect(reg *registration) error {
	types := reg.integration.EventTypes()
	if len(types) == 0 {
		types = []string{"*"}
	}

	name := reg.integration.Name()
	for _, eventType := range types {
		listenerOpts := []dispatch.Option{dispatch.WithPriority(reg.opts.Priority)}
		if reg.opts.Guaranteed {
			listenerOpts = append(listenerOpts, dispatch.Guaranteed())
		}

		id, err := c.dispatcher.On(eventType, func(ctx context.Context, data any) (any, error) {
			payload, ok := data.(*event.Payload)
			if !ok {
				return nil, fmt.Errorf("unexpected emission payload %T", data)
			}
			return nil, c.invoke(ctx, reg, payload)
		}, listenerOpts...)
		if err != nil {
			c.unwire(reg)
			return fmt.Errorf("register listener for %q: %w", name, err)
		}

		reg.listenerIDs = append(reg.listenerIDs, id)
		c.mu.Lock()
		c.byListener[id] = name
		c.mu.Unlock()
	}
	return nil
}

func (c *Coordinator) wireBus(reg *registration) error {
	topics := reg.opts.BusTopics
	if len(topics) == 0 {
		topics = reg.integration.EventTypes()
	}
	if len(topics) == 0 {
		topics = []string{"*"}
	}

	name := reg.integration.Name()
	for _, topic := range topics {
		subOpts := []bus.SubscribeOption{bus.WithSubscriberPriority(reg.opts.Priority)}
		if reg.opts.BusChannel != "" {
			subOpts = append(subOpts, bus.FromChannel(reg.opts.BusChannel))
		}

		id, err := c.bus.Subscribe(context.Background(), topic,
			func(ctx context.Context, msg *bus.Message) error {
				payload, ok := msg.Data.(*event.Payload)
				if !ok {
					return fmt.Errorf("unexpected bus payload %T", msg.Data)
				}
				err := c.invoke(ctx, reg, payload)
				c.recordBusOutcome(msg.ID, name, err)
				return err
			}, subOpts...)
		if err != nil {
			return fmt.Errorf("subscribe %q to topic %q: %w", name, topic, err)
		}
		reg.subscriptionIDs = append(reg.subscriptionIDs, id)
	}
	return nil
}

// unwire removes a registration's listeners and subscriptions.
func (c *Coordinator) unwire(reg *registration) {
	for _, id := range reg.listenerIDs {
		c.dispatcher.Off(id)
		c.mu.Lock()
		delete(c.byListener, id)
		c.mu.Unlock()
	}
	reg.listenerIDs = nil

	for _, id := range reg.subscriptionIDs {
		c.bus.Unsubscribe(id)
	}
	reg.subscriptionIDs = nil
}

// Unregister removes an integration entirely. Returns false if unknown.
func (c *Coordinator) Unregister(name string) bool {
	c.mu.Lock()
	reg, ok := c.regs[name]
	if ok {
		delete(c.regs, name)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	c.unwire(reg)
	if c.cfg.Breakers != nil {
		c.cfg.Breakers.Remove(name)
	}
	if c.cfg.Health != nil {
		c.cfg.Health.UnregisterCheck("integration:" + name)
	}
	return true
}

// healthCheck reports unhealthy when the integration failed to initialize or
// its breaker is open.
func (c *Coordinator) healthCheck(name string) health.CheckFunc {
	return func(ctx context.Context) error {
		c.mu.RLock()
		reg, ok := c.regs[name]
		c.mu.RUnlock()
		if !ok {
			return fmt.Errorf("integration %q not registered", name)
		}

		reg.mu.Lock()
		initialized, initErr := reg.initialized, reg.initErr
		reg.mu.Unlock()
		if initErr != nil {
			return fmt.Errorf("initialization failed: %w", initErr)
		}
		if !initialized {
			return fmt.Errorf("not initialized")
		}

		if c.cfg.Breakers != nil {
			if c.cfg.Breakers.Get(name).State() == resilience.StateOpen {
				return &teverrors.BreakerOpenError{Integration: name}
			}
		}
		return nil
	}
}

// Initialize runs every registered integration's initialization
// concurrently. Individual failures are logged, recorded on the
// registration, and do not prevent the others from initializing.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateCreated {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already initialized")
	}
	regs := make([]*registration, 0, len(c.regs))
	for _, reg := range c.regs {
		regs = append(regs, reg)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, reg := range regs {
		wg.Add(1)
		go func(reg *registration) {
			defer wg.Done()
			err := safeInitialize(ctx, reg.integration)

			reg.mu.Lock()
			reg.initialized = err == nil
			reg.initErr = err
			reg.mu.Unlock()

			if err != nil {
				observability.LogIntegrationError(c.cfg.Logger,
					reg.integration.Name(), "initialize", err)
			}
		}(reg)
	}
	wg.Wait()

	c.mu.Lock()
	c.state = stateInitialized
	c.mu.Unlock()
	return nil
}

// Shutdown drains the queue, clears the bus and dispatcher, then shuts down
// every integration concurrently. Individual shutdown failures are logged,
// not returned. After Shutdown the coordinator rejects emissions.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stateShuttingDown || c.state == stateShutdown {
		c.mu.Unlock()
		return nil
	}
	c.state = stateShuttingDown
	regs := make([]*registration, 0, len(c.regs))
	for _, reg := range c.regs {
		regs = append(regs, reg)
	}
	c.mu.Unlock()

	drainCtx, cancel := context.WithTimeout(ctx, c.cfg.ShutdownTimeout)
	if err := c.queue.Drain(drainCtx); err != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Warn("queue drain incomplete at shutdown", "error", err.Error())
	}
	cancel()
	c.queue.Stop()

	c.bus.Clear()
	c.dispatcher.Clear()

	var wg sync.WaitGroup
	for _, reg := range regs {
		wg.Add(1)
		go func(reg *registration) {
			defer wg.Done()
			if err := safeShutdown(ctx, reg.integration); err != nil {
				observability.LogIntegrationError(c.cfg.Logger,
					reg.integration.Name(), "shutdown", err)
			}
		}(reg)
	}
	wg.Wait()

	c.mu.Lock()
	c.state = stateShutdown
	c.mu.Unlock()
	return nil
}

// IsRunning reports whether the coordinator accepts emissions.
func (c *Coordinator) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == stateInitialized
}

// Bus returns the coordinator-owned bus for out-of-band pub-sub use.
// Publishing domain events should still go through Emit.
func (c *Coordinator) Bus() *bus.Bus { return c.bus }

// GetStats returns aggregated counters across the coordinator and the
// components it owns.
func (c *Coordinator) GetStats() Stats {
	c.mu.RLock()
	integrations := len(c.regs)
	c.mu.RUnlock()

	c.statsMu.Lock()
	emissions, failures, filtered := c.emissions, c.failures, c.filtered
	c.statsMu.Unlock()

	return Stats{
		Integrations: integrations,
		Emissions:    emissions,
		Failures:     failures,
		Filtered:     filtered,
		Dispatcher:   c.dispatcher.Stats(),
		Bus:          c.bus.Stats(),
		Queue:        c.queue.Stats(),
	}
}

// GetIntegrationStatus returns a snapshot of one registration.
func (c *Coordinator) GetIntegrationStatus(name string) (IntegrationStatus, bool) {
	c.mu.RLock()
	reg, ok := c.regs[name]
	c.mu.RUnlock()
	if !ok {
		return IntegrationStatus{}, false
	}

	reg.mu.Lock()
	status := IntegrationStatus{
		Name:          name,
		Mode:          reg.opts.Mode,
		Initialized:   reg.initialized,
		InitError:     reg.initErr,
		EventsHandled: reg.stats.eventsHandled,
		Failures:      reg.stats.failures,
		LastEventAt:   reg.stats.lastEventAt,
	}
	reg.mu.Unlock()

	if c.cfg.Breakers != nil {
		status.BreakerState = c.cfg.Breakers.Get(name).State().String()
	}
	return status, true
}

// invoke runs one integration handler with circuit breaking and recovery.
// Breaker or recovery-manager malfunctions degrade to direct execution; they
// never propagate.
func (c *Coordinator) invoke(ctx context.Context, reg *registration, payload *event.Payload) error {
	name := reg.integration.Name()

	var span trace.Span
	if c.cfg.Spans != nil {
		ctx, span = c.cfg.Spans.StartIntegrationSpan(ctx, name)
	}

	handler := func(ctx context.Context) error {
		return safeHandle(ctx, reg.integration, payload)
	}

	wrapped := handler
	if c.cfg.Recovery != nil {
		recovery := c.cfg.Recovery
		wrapped = func(ctx context.Context) error {
			err, ok := safeRecoveryCall(ctx, recovery, name, handler)
			if !ok {
				// Recovery machinery malfunctioned; fall back to the bare
				// handler.
				return handler(ctx)
			}
			return err
		}
	}

	var err error
	switch {
	case c.cfg.Breakers != nil:
		err = c.executeWithBreaker(ctx, name, wrapped)
	default:
		err = wrapped(ctx)
	}

	reg.recordOutcome(err)
	if err != nil {
		observability.LogIntegrationError(c.cfg.Logger, name, payload.Type, err)
	}
	if c.cfg.Spans != nil {
		c.cfg.Spans.EndSpanWithError(span, err)
	}
	return err
}

// executeWithBreaker guards against the breaker itself misbehaving.
func (c *Coordinator) executeWithBreaker(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	breaker, ok := safeGetBreaker(c.cfg.Breakers, name)
	if !ok {
		if c.cfg.Logger != nil {
			c.cfg.Logger.Warn("breaker registry malfunction, executing directly",
				"integration", name)
		}
		return fn(ctx)
	}
	return breaker.Execute(ctx, fn)
}

// expectBusOutcomes allocates a message ID with a pending outcome entry for a
// coordinator-originated publish.
func (c *Coordinator) expectBusOutcomes() string {
	messageID := uuid.New().String()
	c.busMu.Lock()
	c.busOutcomes[messageID] = make(map[string]error)
	c.busMu.Unlock()
	return messageID
}

// recordBusOutcome notes one subscriber's outcome for a coordinator-originated
// publish. Out-of-band publishes carry no pending entry and leave no state.
func (c *Coordinator) recordBusOutcome(messageID, name string, err error) {
	c.busMu.Lock()
	defer c.busMu.Unlock()
	outcomes, ok := c.busOutcomes[messageID]
	if !ok {
		return
	}
	outcomes[name] = err
}

func (c *Coordinator) takeBusOutcomes(messageID string) map[string]error {
	c.busMu.Lock()
	defer c.busMu.Unlock()
	outcomes := c.busOutcomes[messageID]
	delete(c.busOutcomes, messageID)
	return outcomes
}

func safeInitialize(ctx context.Context, integ Integration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initialize panic: %v", r)
		}
	}()
	return integ.Initialize(ctx)
}

func safeShutdown(ctx context.Context, integ Integration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("shutdown panic: %v", r)
		}
	}()
	return integ.Shutdown(ctx)
}

func safeHandle(ctx context.Context, integ Integration, payload *event.Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return integ.HandleEvent(ctx, payload)
}

func safeRecoveryCall(ctx context.Context, rm resilience.RecoveryManager, name string, fn func(ctx context.Context) error) (err error, ok bool) {
	ok = true
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return rm.ExecuteWithRecovery(ctx, name, fn), true
}

func safeGetBreaker(reg *resilience.Registry, name string) (b *resilience.Breaker, ok bool) {
	ok = true
	defer func() {
		if r := recover(); r != nil {
			b, ok = nil, false
		}
	}()
	return reg.Get(name), true
}
