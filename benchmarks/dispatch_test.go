package benchmarks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/dispatch"
)

// noopListener does minimal work to measure framework overhead.
func noopListener(ctx context.Context, data any) (any, error) {
	return nil, nil
}

func newDispatcher() *dispatch.Dispatcher {
	return dispatch.New(dispatch.Config{DefaultTimeout: time.Second})
}

// BenchmarkOn measures listener registration overhead.
func BenchmarkOn(b *testing.B) {
	d := newDispatcher()
	for i := 0; i < b.N; i++ {
		d.On("task:created", noopListener)
	}
}

// BenchmarkEmit_1 emits to a single listener.
func BenchmarkEmit_1(b *testing.B) {
	d := newDispatcher()
	d.On("task:created", noopListener)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Emit(ctx, "task:created", nil)
	}
}

// BenchmarkEmit_10 emits to 10 parallel listeners.
func BenchmarkEmit_10(b *testing.B) {
	d := newDispatcher()
	for i := 0; i < 10; i++ {
		d.On("task:created", noopListener)
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Emit(ctx, "task:created", nil)
	}
}

// BenchmarkEmit_100 emits to 100 parallel listeners.
func BenchmarkEmit_100(b *testing.B) {
	d := newDispatcher()
	for i := 0; i < 100; i++ {
		d.On("task:created", noopListener)
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Emit(ctx, "task:created", nil)
	}
}

// BenchmarkEmit_Sequential_10 emits to 10 listeners in strict priority order.
func BenchmarkEmit_Sequential_10(b *testing.B) {
	d := newDispatcher()
	for i := 0; i < 10; i++ {
		d.On("task:created", noopListener, dispatch.WithPriority(i))
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Emit(ctx, "task:created", nil, dispatch.Sequentially())
	}
}

// BenchmarkEmit_Pattern measures wildcard-pattern candidate resolution with
// 100 pattern listeners registered.
func BenchmarkEmit_Pattern(b *testing.B) {
	d := newDispatcher()
	for i := 0; i < 100; i++ {
		d.On(fmt.Sprintf("task.%d.*", i), noopListener)
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Emit(ctx, "task.50.done", nil)
	}
}

// BenchmarkEmit_Filtered measures per-listener filter evaluation.
func BenchmarkEmit_Filtered(b *testing.B) {
	d := newDispatcher()
	for i := 0; i < 10; i++ {
		keep := i%2 == 0
		d.On("task:created", noopListener,
			dispatch.WithFilter(func(data any) bool { return keep }))
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Emit(ctx, "task:created", nil)
	}
}
