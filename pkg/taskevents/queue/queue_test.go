package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	teverrors "github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/errors"
)

func TestProcessesPushedItems(t *testing.T) {
	var processed atomic.Int32
	q := New(Config{
		Concurrency: 2,
		Processor: func(ctx context.Context, item any) error {
			processed.Add(1)
			return nil
		},
	})
	defer q.Stop()

	for i := 0; i < 10; i++ {
		if _, err := q.Push(i); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Drain(ctx); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if processed.Load() != 10 {
		t.Errorf("expected 10 processed, got %d", processed.Load())
	}
	stats := q.Stats()
	if stats.Completed != 10 || stats.Failed != 0 || stats.Pending != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPriorityOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []int

	release := make(chan struct{})
	q := New(Config{
		Concurrency: 1,
		Processor: func(ctx context.Context, item any) error {
			<-release
			mu.Lock()
			order = append(order, item.(int))
			mu.Unlock()
			return nil
		},
	})
	defer q.Stop()

	// Hold the single worker on a blocker item so the rest queue up.
	blocked := make(chan struct{})
	q.Push(nil, WithProcessor(func(ctx context.Context, item any) error {
		close(blocked)
		<-release
		return nil
	}))
	<-blocked

	q.Push(1, WithPriority(1))
	q.Push(3, WithPriority(3))
	q.Push(2, WithPriority(2))
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Drain(ctx); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{3, 2, 1}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestItemRetryWithBackoff(t *testing.T) {
	var attempts atomic.Int32
	var completed atomic.Int32

	q := New(Config{
		Concurrency:    1,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		Processor: func(ctx context.Context, item any) error {
			if attempts.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
		OnCompleted: func(itemID string, item any) {
			completed.Add(1)
		},
	})
	defer q.Stop()

	q.Push("work")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Drain(ctx); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	if completed.Load() != 1 {
		t.Errorf("expected completion callback, got %d", completed.Load())
	}
}

func TestStopAbandonsPendingItems(t *testing.T) {
	var processed atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})

	q := New(Config{
		Concurrency: 1,
		Processor: func(ctx context.Context, item any) error {
			processed.Add(1)
			return nil
		},
	})

	// Hold the single worker in flight so the second item stays queued.
	q.Push(nil, WithProcessor(func(ctx context.Context, item any) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	q.Push("pending")

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()
	<-q.stopCh
	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a pending item")
	}

	if processed.Load() != 0 {
		t.Errorf("expected the queued item abandoned, got %d processed", processed.Load())
	}
	if stats := q.Stats(); stats.Pending != 1 {
		t.Errorf("expected 1 pending after Stop, got %d", stats.Pending)
	}
}

func TestItemFailureNotification(t *testing.T) {
	var failedID string
	var failedErr error
	done := make(chan struct{})

	q := New(Config{
		Concurrency:    1,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		Processor: func(ctx context.Context, item any) error {
			return errors.New("permanent")
		},
		OnFailed: func(itemID string, item any, err error) {
			failedID = itemID
			failedErr = err
			close(done)
		},
	})
	defer q.Stop()

	id, _ := q.Push("doomed")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("failure callback never fired")
	}

	if failedID != id {
		t.Errorf("expected item ID %s, got %s", id, failedID)
	}
	if failedErr == nil {
		t.Error("expected an error in the failure callback")
	}
	if stats := q.Stats(); stats.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", stats.Failed)
	}
}

func TestPerItemProcessorOverride(t *testing.T) {
	var defaultCalls, overrideCalls atomic.Int32
	q := New(Config{
		Concurrency: 1,
		Processor: func(ctx context.Context, item any) error {
			defaultCalls.Add(1)
			return nil
		},
	})
	defer q.Stop()

	q.Push("a")
	q.Push("b", WithProcessor(func(ctx context.Context, item any) error {
		overrideCalls.Add(1)
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Drain(ctx)

	if defaultCalls.Load() != 1 || overrideCalls.Load() != 1 {
		t.Errorf("expected 1 default and 1 override call, got %d/%d",
			defaultCalls.Load(), overrideCalls.Load())
	}
}

func TestPushWithoutProcessor(t *testing.T) {
	q := New(Config{Concurrency: 1})
	defer q.Stop()

	if _, err := q.Push("orphan"); !errors.Is(err, teverrors.ErrNoProcessor) {
		t.Errorf("expected ErrNoProcessor, got %v", err)
	}
}

func TestStopRejectsPushes(t *testing.T) {
	q := New(Config{
		Concurrency: 1,
		Processor:   func(ctx context.Context, item any) error { return nil },
	})
	q.Stop()

	if _, err := q.Push("late"); !errors.Is(err, teverrors.ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}

func TestDrainTimeout(t *testing.T) {
	q := New(Config{
		Concurrency: 1,
		Processor: func(ctx context.Context, item any) error {
			time.Sleep(time.Second)
			return nil
		},
	})
	defer q.Stop()

	q.Push("slow")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestBatchWindowCoalesces(t *testing.T) {
	var processed atomic.Int32
	q := New(Config{
		Concurrency: 1,
		BatchWindow: 20 * time.Millisecond,
		Processor: func(ctx context.Context, item any) error {
			processed.Add(1)
			return nil
		},
	})
	defer q.Stop()

	for i := 0; i < 5; i++ {
		q.Push(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Drain(ctx); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if processed.Load() != 5 {
		t.Errorf("expected all 5 processed, got %d", processed.Load())
	}
}
