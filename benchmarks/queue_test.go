package benchmarks

import (
	"context"
	"testing"

	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/queue"
)

func noopProcessor(ctx context.Context, item any) error {
	return nil
}

// BenchmarkQueuePushDrain measures end-to-end throughput at various
// concurrency levels.
func BenchmarkQueuePushDrain(b *testing.B) {
	for _, workers := range []int{1, 4, 16} {
		b.Run(workerLabel(workers), func(b *testing.B) {
			q := queue.New(queue.Config{
				Concurrency: workers,
				Processor:   noopProcessor,
			})
			defer q.Stop()

			ctx := context.Background()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				q.Push(i)
			}
			q.Drain(ctx)
		})
	}
}

// BenchmarkQueuePushPriority measures heap overhead with mixed priorities.
func BenchmarkQueuePushPriority(b *testing.B) {
	q := queue.New(queue.Config{
		Concurrency: 4,
		Processor:   noopProcessor,
	})
	defer q.Stop()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Push(i, queue.WithPriority(i%10))
	}
	q.Drain(ctx)
}

func workerLabel(n int) string {
	switch n {
	case 1:
		return "workers_1"
	case 4:
		return "workers_4"
	default:
		return "workers_16"
	}
}
