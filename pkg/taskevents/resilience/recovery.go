package resilience

import (
	"context"

	teverrors "github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/errors"
)

// RecoveryManager wraps an operation in a recovery policy. Implementations
// may retry with backoff, substitute fallbacks, or simply pass through; the
// final error propagates to the caller.
type RecoveryManager interface {
	// ExecuteWithRecovery runs op under the recovery policy. name identifies
	// the operation for diagnostics.
	ExecuteWithRecovery(ctx context.Context, name string, op func(ctx context.Context) error) error
}

// RetryRecovery retries transient failures with exponential backoff and
// jitter. Permanent failures are not retried.
type RetryRecovery struct {
	cfg teverrors.RetryConfig
}

// NewRetryRecovery creates a retry-based recovery manager. A zero config
// uses the default retry policy.
func NewRetryRecovery(cfg teverrors.RetryConfig) *RetryRecovery {
	if cfg.MaxAttempts <= 0 {
		cfg = teverrors.DefaultRetry
	}
	return &RetryRecovery{cfg: cfg}
}

// ExecuteWithRecovery implements RecoveryManager.
func (r *RetryRecovery) ExecuteWithRecovery(ctx context.Context, name string, op func(ctx context.Context) error) error {
	res := teverrors.WithRetryContext(ctx, r.cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return res.Err
}

// PassthroughRecovery applies no recovery policy at all.
type PassthroughRecovery struct{}

// ExecuteWithRecovery implements RecoveryManager.
func (PassthroughRecovery) ExecuteWithRecovery(ctx context.Context, _ string, op func(ctx context.Context) error) error {
	return op(ctx)
}

// FallbackRecovery runs the primary operation and, on failure, a fallback.
// The fallback's outcome replaces the primary error.
type FallbackRecovery struct {
	// Fallback runs when the primary operation fails. The primary error is
	// passed for inspection.
	Fallback func(ctx context.Context, name string, primaryErr error) error
}

// ExecuteWithRecovery implements RecoveryManager.
func (f *FallbackRecovery) ExecuteWithRecovery(ctx context.Context, name string, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil || f.Fallback == nil {
		return err
	}
	return f.Fallback(ctx, name, err)
}

var (
	_ RecoveryManager = (*RetryRecovery)(nil)
	_ RecoveryManager = PassthroughRecovery{}
	_ RecoveryManager = (*FallbackRecovery)(nil)
)
