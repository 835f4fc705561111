package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	teverrors "github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/errors"
)

func TestRetryRecoveryRetriesTransient(t *testing.T) {
	r := NewRetryRecovery(teverrors.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1.0,
	})

	attempts := 0
	err := r.ExecuteWithRecovery(context.Background(), "linear", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return teverrors.Transient(errors.New("flaky"), "sync")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryRecoverySkipsPermanent(t *testing.T) {
	r := NewRetryRecovery(teverrors.RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1.0,
	})

	attempts := 0
	err := r.ExecuteWithRecovery(context.Background(), "linear", func(ctx context.Context) error {
		attempts++
		return teverrors.Permanent(errors.New("bad token"), "sync")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryRecoveryZeroConfigUsesDefault(t *testing.T) {
	r := NewRetryRecovery(teverrors.RetryConfig{})
	assert.Equal(t, teverrors.DefaultRetry.MaxAttempts, r.cfg.MaxAttempts)
}

func TestPassthroughRecovery(t *testing.T) {
	boom := errors.New("boom")
	err := PassthroughRecovery{}.ExecuteWithRecovery(context.Background(), "x",
		func(ctx context.Context) error { return boom })
	assert.Same(t, boom, err)
}

func TestFallbackRecovery(t *testing.T) {
	f := &FallbackRecovery{
		Fallback: func(ctx context.Context, name string, primaryErr error) error {
			assert.Equal(t, "linear", name)
			assert.EqualError(t, primaryErr, "primary down")
			return nil
		},
	}

	err := f.ExecuteWithRecovery(context.Background(), "linear",
		func(ctx context.Context) error { return errors.New("primary down") })
	assert.NoError(t, err)

	// Primary success never touches the fallback.
	err = f.ExecuteWithRecovery(context.Background(), "linear",
		func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestFallbackRecoveryPropagatesFallbackError(t *testing.T) {
	fallbackErr := errors.New("fallback also down")
	f := &FallbackRecovery{
		Fallback: func(ctx context.Context, name string, primaryErr error) error {
			return fallbackErr
		},
	}

	err := f.ExecuteWithRecovery(context.Background(), "linear",
		func(ctx context.Context) error { return errors.New("primary down") })
	assert.Same(t, fallbackErr, err)
}
