package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLogHelpersNilSafe(t *testing.T) {
	// None of these may panic with a nil logger.
	LogEmission(nil, "em-1", "evt", 2, 1, 1.5)
	LogListenerFailure(nil, "em-1", "l-1", 2, errors.New("x"))
	LogDeliveryTracked(nil, "em-1", "evt", 1)
	LogDeliveryDropped(nil, "em-1", "evt", 3)
	LogPublish(nil, "m-1", "default", "topic", 2)
	LogRoutingRuleError(nil, "rule", errors.New("x"))
	LogQueueItem(nil, "q-1", 1, nil)
	LogQueueItem(nil, "q-1", 2, errors.New("x"))
	LogIntegrationError(nil, "linear", "evt", errors.New("x"))
	LogBreakerStateChange(nil, "linear", "closed", "open")
	if EnrichLogger(nil, "em-1", "evt", 1) != nil {
		t.Error("expected nil logger to stay nil")
	}
}

func TestLogEmissionFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	LogEmission(logger, "em-1", "task:created", 3, 1, 12.5)

	out := buf.String()
	for _, want := range []string{"em-1", "task:created", `"listeners_executed":3`, `"failures":1`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in log output %q", want, out)
		}
	}
}

func TestEnrichLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	EnrichLogger(logger, "em-1", "task:created", 2).Info("hello")

	out := buf.String()
	for _, want := range []string{`"emission_id":"em-1"`, `"event_type":"task:created"`, `"attempt":2`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in log output %q", want, out)
		}
	}
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(10 * time.Millisecond)
	if ms := done(); ms < 5 {
		t.Errorf("expected at least 5ms elapsed, got %f", ms)
	}
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()
	m.RecordEmission(ctx, "evt", 2, 0, time.Millisecond)
	m.RecordListener(ctx, "evt", time.Millisecond, errors.New("x"))
	m.RecordPublish(ctx, "default", "topic", 1)
	m.RecordQueueItem(ctx, true, time.Millisecond)
}

func TestNoopSpanManager(t *testing.T) {
	var sm SpanManager = NoopSpanManager{}
	ctx := context.Background()

	ctx2, span := sm.StartEmitSpan(ctx, "evt", "em-1")
	if ctx2 != ctx {
		t.Error("expected context unchanged")
	}
	sm.EndSpanWithError(span, errors.New("x"))

	_, span = sm.StartIntegrationSpan(ctx, "linear")
	sm.EndSpanWithError(span, nil)
	sm.AddSpanEvent(ctx, "event")
}

func TestOtelSpanManagerLifecycle(t *testing.T) {
	sm := NewSpanManager()
	ctx, span := sm.StartEmitSpan(context.Background(), "task:created", "em-1")

	_, child := sm.StartIntegrationSpan(ctx, "linear")
	sm.EndSpanWithError(child, errors.New("boom"))
	sm.EndSpanWithError(span, nil)
	sm.EndSpanWithError(nil, nil)
}

func TestMetricsRecorderRecords(t *testing.T) {
	m := NewMetricsRecorder()
	ctx := context.Background()
	m.RecordEmission(ctx, "task:created", 2, 1, 5*time.Millisecond)
	m.RecordListener(ctx, "task:created", time.Millisecond, nil)
	m.RecordListener(ctx, "task:created", time.Millisecond, errors.New("x"))
	m.RecordPublish(ctx, "default", "task:created", 3)
	m.RecordQueueItem(ctx, false, time.Millisecond)
}

func TestRegistryProvider(t *testing.T) {
	p := NewRegistryProvider()

	if err := p.RegisterGauge("listeners", "live listeners", func() float64 { return 7 }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.RegisterCounter("emissions_total", "total emissions", func() float64 { return 42 }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Duplicate registration is rejected by the registry.
	if err := p.RegisterGauge("listeners", "dup", func() float64 { return 0 }); err == nil {
		t.Error("expected duplicate registration to fail")
	}

	families, err := p.Registry().Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	values := map[string]float64{}
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			switch {
			case metric.GetGauge() != nil:
				values[fam.GetName()] = metric.GetGauge().GetValue()
			case metric.GetCounter() != nil:
				values[fam.GetName()] = metric.GetCounter().GetValue()
			}
		}
	}
	if values["taskevents_listeners"] != 7 {
		t.Errorf("unexpected gauge value: %v", values)
	}
	if values["taskevents_emissions_total"] != 42 {
		t.Errorf("unexpected counter value: %v", values)
	}
}
