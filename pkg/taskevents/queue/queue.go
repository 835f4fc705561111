// Package queue implements a buffered priority work queue with configurable
// concurrency and an optional batching window. It decouples event processing
// from the publisher's call stack: producers push items and return
// immediately; worker goroutines process items asynchronously with per-item
// retry and exponential backoff.
package queue

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	teverrors "github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/errors"
	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/observability"
)

// Processor handles one queued item.
type Processor func(ctx context.Context, item any) error

// Config configures queue behavior.
type Config struct {
	// Concurrency is the number of worker goroutines. Default: 4.
	Concurrency int

	// BatchWindow delays a worker after it picks up work so closely-spaced
	// pushes coalesce into one drain of the backlog. Zero processes
	// immediately.
	BatchWindow time.Duration

	// MaxRetries is the per-item retry budget after the initial attempt,
	// unless overridden per item. Default: 3.
	MaxRetries int

	// InitialBackoff seeds the exponential backoff between item attempts.
	// Default: 100ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff between item attempts. Default: 5s.
	MaxBackoff time.Duration

	// Processor handles items that carry no per-item processor.
	Processor Processor

	// OnCompleted is invoked after an item succeeds. Optional.
	OnCompleted func(itemID string, item any)

	// OnFailed is invoked after an item exhausts its retries. Optional.
	OnFailed func(itemID string, item any, err error)

	// Logger for diagnostics. Nil disables logging.
	Logger *slog.Logger

	// Metrics records per-item metrics. Nil disables metrics.
	Metrics observability.MetricsRecorder
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	Concurrency:    4,
	MaxRetries:     3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
}

// ItemOptions configures one pushed item.
type ItemOptions struct {
	// Priority orders processing: higher priority items run first.
	Priority int

	// Processor overrides the queue-level processor for this item.
	Processor Processor

	// MaxRetries overrides the queue-level retry budget. Negative means
	// no retries.
	MaxRetries *int
}

// ItemOption configures one pushed item.
type ItemOption func(*ItemOptions)

// WithPriority sets the item priority (higher runs first).
func WithPriority(p int) ItemOption {
	return func(o *ItemOptions) { o.Priority = p }
}

// WithProcessor sets a per-item processor.
func WithProcessor(p Processor) ItemOption {
	return func(o *ItemOptions) { o.Processor = p }
}

// WithMaxRetries overrides the retry budget for this item.
func WithMaxRetries(n int) ItemOption {
	return func(o *ItemOptions) { o.MaxRetries = &n }
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Pending   int
	InFlight  int
	Pushed    int64
	Completed int64
	Failed    int64
}

type workItem struct {
	id        string
	data      any
	priority  int
	seq       uint64
	processor Processor
	retries   int
}

// itemHeap orders by descending priority, FIFO within equal priority.
type itemHeap []*workItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*workItem)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is a priority work queue. Create with New; Stop releases the
// workers.
type Queue struct {
	cfg Config

	mu       sync.Mutex
	items    itemHeap
	seq      uint64
	inflight int
	stopped  bool

	pushed    int64
	completed int64
	failed    int64

	wake    chan struct{}
	idle    chan struct{} // closed and replaced whenever the queue empties
	stopCh  chan struct{}
	workers sync.WaitGroup
}

// New creates a queue and starts its workers.
func New(cfg Config) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig.Concurrency
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}

	q := &Queue{
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
		idle:   make(chan struct{}),
		stopCh: make(chan struct{}),
	}
	close(q.idle) // empty at birth

	for i := 0; i < cfg.Concurrency; i++ {
		q.workers.Add(1)
		go q.worker()
	}
	return q
}

// Push enqueues an item and returns its item ID. The item must have a
// processor, either per-item or queue-level.
func (q *Queue) Push(item any, opts ...ItemOption) (string, error) {
	var io ItemOptions
	for _, opt := range opts {
		opt(&io)
	}

	processor := io.Processor
	if processor == nil {
		processor = q.cfg.Processor
	}
	if processor == nil {
		return "", teverrors.ErrNoProcessor
	}

	retries := q.cfg.MaxRetries
	if io.MaxRetries != nil {
		retries = *io.MaxRetries
	}
	if retries < 0 {
		retries = 0
	}

	wi := &workItem{
		id:        uuid.New().String(),
		data:      item,
		priority:  io.Priority,
		processor: processor,
		retries:   retries,
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return "", teverrors.ErrQueueClosed
	}
	q.seq++
	wi.seq = q.seq
	if len(q.items) == 0 && q.inflight == 0 {
		q.idle = make(chan struct{})
	}
	heap.Push(&q.items, wi)
	q.pushed++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return wi.id, nil
}

// Drain blocks until every queued and in-flight item has finished, or ctx
// expires. New pushes during the drain extend it.
func (q *Queue) Drain(ctx context.Context) error {
	for {
		q.mu.Lock()
		idle := q.idle
		empty := len(q.items) == 0 && q.inflight == 0
		q.mu.Unlock()

		if empty {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop rejects further pushes and releases the workers after the current
// items finish. It does not wait for pending items; call Drain first for a
// graceful shutdown.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	close(q.stopCh)
	q.workers.Wait()
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:   len(q.items),
		InFlight:  q.inflight,
		Pushed:    q.pushed,
		Completed: q.completed,
		Failed:    q.failed,
	}
}

func (q *Queue) worker() {
	defer q.workers.Done()

	for {
		// Stop abandons whatever is still queued; only the item already being
		// processed finishes.
		select {
		case <-q.stopCh:
			return
		default:
		}

		wi := q.next()
		if wi == nil {
			select {
			case <-q.wake:
				continue
			case <-q.stopCh:
				return
			}
		}

		if q.cfg.BatchWindow > 0 {
			// Let closely-spaced pushes pile up before processing.
			select {
			case <-time.After(q.cfg.BatchWindow):
			case <-q.stopCh:
			}
		}

		q.process(wi)
	}
}

func (q *Queue) next() *workItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	wi := heap.Pop(&q.items).(*workItem)
	q.inflight++
	return wi
}

func (q *Queue) process(wi *workItem) {
	ctx := context.Background()
	done := observability.TimedOperation()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.cfg.InitialBackoff
	bo.MaxInterval = q.cfg.MaxBackoff
	bo.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return wi.processor(ctx, wi.data)
	}, backoff.WithMaxRetries(bo, uint64(wi.retries)))

	observability.LogQueueItem(q.cfg.Logger, wi.id, attempts, err)
	if q.cfg.Metrics != nil {
		q.cfg.Metrics.RecordQueueItem(ctx, err == nil, time.Duration(done()*float64(time.Millisecond)))
	}

	q.mu.Lock()
	q.inflight--
	if err != nil {
		q.failed++
	} else {
		q.completed++
	}
	if len(q.items) == 0 && q.inflight == 0 {
		close(q.idle)
	}
	q.mu.Unlock()

	if err != nil {
		if q.cfg.OnFailed != nil {
			q.cfg.OnFailed(wi.id, wi.data, err)
		}
		return
	}
	if q.cfg.OnCompleted != nil {
		q.cfg.OnCompleted(wi.id, wi.data)
	}
}
