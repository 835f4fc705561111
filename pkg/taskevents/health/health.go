// Package health provides a named-check health monitor. The coordinator
// registers one check per integration; operators run the checks on demand.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// CheckFunc probes one component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// CheckResult is the outcome of one check run.
type CheckResult struct {
	// Name identifies the check.
	Name string

	// Healthy is true when the check returned nil.
	Healthy bool

	// Err is the check's error, if any.
	Err error

	// Duration is how long the check took.
	Duration time.Duration

	// CheckedAt is when the check completed.
	CheckedAt time.Time
}

// Status aggregates the most recent run.
type Status struct {
	// Healthy is true when every check passed.
	Healthy bool

	// Checks holds per-check results, sorted by name.
	Checks []CheckResult
}

// Monitor runs registered health checks concurrently with a per-check
// timeout. Check panics are converted to failures so a broken probe cannot
// take the monitor down.
type Monitor struct {
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
	last   map[string]CheckResult
}

// NewMonitor creates a monitor. timeout bounds each individual check;
// zero or negative uses 5s.
func NewMonitor(timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		timeout: timeout,
		checks:  make(map[string]CheckFunc),
		last:    make(map[string]CheckResult),
	}
}

// RegisterCheck registers or replaces a named check.
func (m *Monitor) RegisterCheck(name string, fn CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = fn
}

// UnregisterCheck removes a named check and its last result.
func (m *Monitor) UnregisterCheck(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
	delete(m.last, name)
}

// RunChecks executes every registered check concurrently and returns the
// aggregate status.
func (m *Monitor) RunChecks(ctx context.Context) Status {
	m.mu.RLock()
	checks := make(map[string]CheckFunc, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	results := make([]CheckResult, 0, len(checks))
	resultCh := make(chan CheckResult, len(checks))

	var wg sync.WaitGroup
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			resultCh <- m.runOne(ctx, name, fn)
		}(name, fn)
	}
	wg.Wait()
	close(resultCh)

	healthy := true
	for res := range resultCh {
		if !res.Healthy {
			healthy = false
		}
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	m.mu.Lock()
	for _, res := range results {
		m.last[res.Name] = res
	}
	m.mu.Unlock()

	return Status{Healthy: healthy, Checks: results}
}

// Status returns the aggregate of the most recent run without re-probing.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	healthy := true
	results := make([]CheckResult, 0, len(m.last))
	for _, res := range m.last {
		if !res.Healthy {
			healthy = false
		}
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return Status{Healthy: healthy, Checks: results}
}

func (m *Monitor) runOne(ctx context.Context, name string, fn CheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("health check panic: %v", r)
			}
		}()
		errCh <- fn(ctx)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}

	return CheckResult{
		Name:      name,
		Healthy:   err == nil,
		Err:       err,
		Duration:  time.Since(start),
		CheckedAt: time.Now(),
	}
}
