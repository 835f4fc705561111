package event

import (
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	p := New("task:created", map[string]any{"taskId": "1"}, Context{Source: "cli"})

	if p.Version != SchemaVersion {
		t.Errorf("expected version %s, got %s", SchemaVersion, p.Version)
	}
	if p.EventID == "" {
		t.Error("expected generated event ID")
	}
	if p.Type != "task:created" {
		t.Errorf("unexpected type %s", p.Type)
	}
	if p.Timestamp.IsZero() {
		t.Error("expected timestamp set")
	}
	if p.Context.Source != "cli" {
		t.Errorf("unexpected source %s", p.Context.Source)
	}
}

func TestNewCorrelationRoot(t *testing.T) {
	p := New("evt", nil, Context{})
	if p.Context.CorrelationID != p.EventID {
		t.Errorf("expected correlation rooted at event ID, got %s vs %s",
			p.Context.CorrelationID, p.EventID)
	}

	p2 := New("evt", nil, Context{CorrelationID: "corr-1"})
	if p2.Context.CorrelationID != "corr-1" {
		t.Errorf("expected existing correlation preserved, got %s", p2.Context.CorrelationID)
	}
}

func TestNewOptions(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := New("evt", nil, Context{},
		WithEventID("e-1"), WithTimestamp(ts), WithVersion("2.0.0"))

	if p.EventID != "e-1" || !p.Timestamp.Equal(ts) || p.Version != "2.0.0" {
		t.Errorf("options not applied: %+v", p)
	}
}

func TestNewFromParent(t *testing.T) {
	parent := New("task:created", nil, Context{Session: "s-1"})
	child := NewFromParent(parent, "task:updated", nil)

	if child.Context.CausationID != parent.EventID {
		t.Errorf("expected causation %s, got %s", parent.EventID, child.Context.CausationID)
	}
	if child.Context.CorrelationID != parent.Context.CorrelationID {
		t.Error("expected correlation inherited from parent")
	}
	if child.Context.Session != "s-1" {
		t.Error("expected context carried over")
	}
	if child.EventID == parent.EventID {
		t.Error("expected a fresh event ID")
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := New("evt", map[string]any{
		"nested": map[string]any{"k": "v"},
		"list":   []any{1, 2},
	}, Context{})

	cp := p.Clone()
	cp.Data["nested"].(map[string]any)["k"] = "changed"
	cp.Data["list"].([]any)[0] = 99
	cp.Data["extra"] = true

	if p.Data["nested"].(map[string]any)["k"] != "v" {
		t.Error("clone mutation leaked into nested map")
	}
	if p.Data["list"].([]any)[0] != 1 {
		t.Error("clone mutation leaked into slice")
	}
	if _, ok := p.Data["extra"]; ok {
		t.Error("clone mutation leaked a new key")
	}
}

func TestMapRoundTrip(t *testing.T) {
	p := New("task:created", map[string]any{"taskId": "7"}, Context{RequestID: "r-1"})

	m := p.Map()
	if m["type"] != "task:created" {
		t.Errorf("unexpected map type %v", m["type"])
	}
	ctx, ok := m["context"].(map[string]any)
	if !ok || ctx["requestId"] != "r-1" {
		t.Errorf("unexpected context shape %v", m["context"])
	}

	back, err := FromMap(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back.EventID != p.EventID || back.Type != p.Type {
		t.Errorf("round trip lost identity: %+v", back)
	}
	if back.Data["taskId"] != "7" {
		t.Errorf("round trip lost data: %+v", back.Data)
	}
}
