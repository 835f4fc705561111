package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunChecksAggregates(t *testing.T) {
	m := NewMonitor(time.Second)
	m.RegisterCheck("db", func(ctx context.Context) error { return nil })
	m.RegisterCheck("api", func(ctx context.Context) error { return errors.New("unreachable") })

	status := m.RunChecks(context.Background())
	if status.Healthy {
		t.Error("expected unhealthy aggregate")
	}
	if len(status.Checks) != 2 {
		t.Fatalf("expected 2 check results, got %d", len(status.Checks))
	}

	// Sorted by name: api before db.
	if status.Checks[0].Name != "api" || status.Checks[0].Healthy {
		t.Errorf("unexpected first result: %+v", status.Checks[0])
	}
	if status.Checks[1].Name != "db" || !status.Checks[1].Healthy {
		t.Errorf("unexpected second result: %+v", status.Checks[1])
	}
	if status.Checks[0].Err == nil {
		t.Error("expected check error recorded")
	}
}

func TestAllHealthy(t *testing.T) {
	m := NewMonitor(time.Second)
	m.RegisterCheck("a", func(ctx context.Context) error { return nil })
	m.RegisterCheck("b", func(ctx context.Context) error { return nil })

	if status := m.RunChecks(context.Background()); !status.Healthy {
		t.Errorf("expected healthy, got %+v", status)
	}
}

func TestCheckTimeout(t *testing.T) {
	m := NewMonitor(10 * time.Millisecond)
	m.RegisterCheck("slow", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	status := m.RunChecks(context.Background())
	if status.Healthy {
		t.Error("expected timeout to mark the check unhealthy")
	}
	if !errors.Is(status.Checks[0].Err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", status.Checks[0].Err)
	}
}

func TestCheckPanicIsFailure(t *testing.T) {
	m := NewMonitor(time.Second)
	m.RegisterCheck("broken", func(ctx context.Context) error {
		panic("probe bug")
	})
	m.RegisterCheck("fine", func(ctx context.Context) error { return nil })

	status := m.RunChecks(context.Background())
	if status.Healthy {
		t.Error("expected panic to mark the check unhealthy")
	}
	for _, res := range status.Checks {
		if res.Name == "fine" && !res.Healthy {
			t.Error("a panicking probe must not affect other checks")
		}
	}
}

func TestStatusReturnsLastRun(t *testing.T) {
	m := NewMonitor(time.Second)

	healthy := true
	m.RegisterCheck("toggle", func(ctx context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("degraded")
	})

	m.RunChecks(context.Background())
	if !m.Status().Healthy {
		t.Error("expected healthy snapshot")
	}

	healthy = false
	// Status does not re-probe.
	if !m.Status().Healthy {
		t.Error("expected stale snapshot before the next run")
	}

	m.RunChecks(context.Background())
	if m.Status().Healthy {
		t.Error("expected unhealthy snapshot after re-run")
	}
}

func TestUnregisterCheck(t *testing.T) {
	m := NewMonitor(time.Second)
	m.RegisterCheck("gone", func(ctx context.Context) error { return errors.New("bad") })
	m.RunChecks(context.Background())

	m.UnregisterCheck("gone")
	status := m.RunChecks(context.Background())
	if !status.Healthy || len(status.Checks) != 0 {
		t.Errorf("expected empty healthy status, got %+v", status)
	}
	if len(m.Status().Checks) != 0 {
		t.Error("expected last result dropped with the check")
	}
}
