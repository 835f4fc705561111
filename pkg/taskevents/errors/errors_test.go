package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryPermanent},
		{"plain error", errors.New("unknown"), CategoryPermanent},
		{"timeout", &TimeoutError{Op: "listener x", Timeout: time.Second}, CategoryTransient},
		{"breaker open", &BreakerOpenError{Integration: "linear"}, CategoryTransient},
		{"validation", &ValidationError{EventType: "task:created"}, CategoryPermanent},
		{"explicit transient", Transient(errors.New("overloaded"), "emit"), CategoryTransient},
		{"explicit permanent", Permanent(errors.New("bad input"), "emit"), CategoryPermanent},
		{"wrapped timeout", fmt.Errorf("emit: %w", &TimeoutError{Op: "l", Timeout: time.Second}), CategoryTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.want {
				t.Errorf("Categorize(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&TimeoutError{Op: "l", Timeout: time.Second}) {
		t.Error("timeouts should be retryable")
	}
	if IsRetryable(&ValidationError{EventType: "evt"}) {
		t.Error("validation failures should not be retryable")
	}
}

func TestCategorizedErrorMessage(t *testing.T) {
	err := &CategorizedError{
		Err:      errors.New("connection refused"),
		Category: CategoryTransient,
		Retries:  2,
		Context:  "publish",
	}
	msg := err.Error()
	for _, want := range []string{"publish", "connection refused", "transient", "2"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
	if !errors.Is(err, err.Err) {
		t.Error("expected Unwrap to expose the underlying error")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{
		EventType: "task:created",
		Problems:  []string{"data.taskId is required", "version must be a string"},
	}
	msg := err.Error()
	if !strings.Contains(msg, "task:created") || !strings.Contains(msg, "taskId is required") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	res := WithRetry(RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1.0,
	}, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", Transient(errors.New("not yet"), "test")
		}
		return "done", nil
	})

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value != "done" || res.Attempts != 3 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestWithRetryStopsOnPermanent(t *testing.T) {
	attempts := 0
	res := WithRetry(DefaultRetry, func() (int, error) {
		attempts++
		return 0, Permanent(errors.New("bad request"), "test")
	})

	if attempts != 1 {
		t.Errorf("expected 1 attempt for a permanent error, got %d", attempts)
	}
	var catErr *CategorizedError
	if !errors.As(res.Err, &catErr) || catErr.Category != CategoryPermanent {
		t.Errorf("expected categorized permanent error, got %v", res.Err)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	res := WithRetry(RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1.0,
	}, func() (int, error) {
		attempts++
		return 0, Transient(errors.New("still down"), "test")
	})

	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "max retries exceeded") {
		t.Errorf("expected exhaustion error, got %v", res.Err)
	}
}

func TestWithRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := WithRetryContext(ctx, DefaultRetry, func(ctx context.Context) (int, error) {
		t.Error("function must not run with a cancelled context")
		return 0, nil
	})

	if res.Attempts != 0 {
		t.Errorf("expected 0 attempts, got %d", res.Attempts)
	}
	if res.Err == nil || !errors.Is(res.Err, context.Canceled) {
		t.Errorf("expected context cancellation error, got %v", res.Err)
	}
}

func TestWithRetryRetryableFuncOverride(t *testing.T) {
	attempts := 0
	res := WithRetry(RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1.0,
		RetryableFunc:  func(err error) bool { return true },
	}, func() (int, error) {
		attempts++
		return 0, errors.New("normally permanent")
	})

	if attempts != 3 {
		t.Errorf("expected override to force retries, got %d attempts", attempts)
	}
	if res.Err == nil {
		t.Error("expected final error")
	}
}

func TestNoRetry(t *testing.T) {
	attempts := 0
	WithRetry(NoRetry, func() (int, error) {
		attempts++
		return 0, Transient(errors.New("down"), "test")
	})
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", attempts)
	}
}
