package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records dispatch metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEmission records a completed dispatcher emission.
	RecordEmission(ctx context.Context, eventType string, listeners, failures int, duration time.Duration)

	// RecordListener records a single listener execution.
	RecordListener(ctx context.Context, eventType string, duration time.Duration, err error)

	// RecordPublish records a bus publish and its fan-out size.
	RecordPublish(ctx context.Context, channel, topic string, notified int)

	// RecordQueueItem records a processed queue item.
	RecordQueueItem(ctx context.Context, succeeded bool, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	emissions        metric.Int64Counter
	emissionLatency  metric.Float64Histogram
	listenerRuns     metric.Int64Counter
	listenerLatency  metric.Float64Histogram
	listenerFailures metric.Int64Counter
	publishes        metric.Int64Counter
	fanOut           metric.Int64Histogram
	queueItems       metric.Int64Counter
	queueLatency     metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("taskevents")

	emissions, err := meter.Int64Counter("taskevents.dispatch.emissions",
		metric.WithDescription("Number of dispatcher emissions"),
	)
	if err != nil {
		return nil, err
	}

	emissionLatency, err := meter.Float64Histogram("taskevents.dispatch.emission_latency_ms",
		metric.WithDescription("Emission latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	listenerRuns, err := meter.Int64Counter("taskevents.dispatch.listener_runs",
		metric.WithDescription("Number of listener executions"),
	)
	if err != nil {
		return nil, err
	}

	listenerLatency, err := meter.Float64Histogram("taskevents.dispatch.listener_latency_ms",
		metric.WithDescription("Listener execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	listenerFailures, err := meter.Int64Counter("taskevents.dispatch.listener_failures",
		metric.WithDescription("Number of listener failures"),
	)
	if err != nil {
		return nil, err
	}

	publishes, err := meter.Int64Counter("taskevents.bus.publishes",
		metric.WithDescription("Number of bus publishes"),
	)
	if err != nil {
		return nil, err
	}

	fanOut, err := meter.Int64Histogram("taskevents.bus.fan_out",
		metric.WithDescription("Subscribers notified per publish"),
	)
	if err != nil {
		return nil, err
	}

	queueItems, err := meter.Int64Counter("taskevents.queue.items",
		metric.WithDescription("Number of processed queue items"),
	)
	if err != nil {
		return nil, err
	}

	queueLatency, err := meter.Float64Histogram("taskevents.queue.item_latency_ms",
		metric.WithDescription("Queue item processing latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		emissions:        emissions,
		emissionLatency:  emissionLatency,
		listenerRuns:     listenerRuns,
		listenerLatency:  listenerLatency,
		listenerFailures: listenerFailures,
		publishes:        publishes,
		fanOut:           fanOut,
		queueItems:       queueItems,
		queueLatency:     queueLatency,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordEmission records a completed emission.
func (m *otelMetrics) RecordEmission(ctx context.Context, eventType string, listeners, failures int, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
	}

	m.emissions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.emissionLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordListener records a listener execution.
func (m *otelMetrics) RecordListener(ctx context.Context, eventType string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
	}

	m.listenerRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.listenerLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.listenerFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordPublish records a bus publish.
func (m *otelMetrics) RecordPublish(ctx context.Context, channel, topic string, notified int) {
	attrs := []attribute.KeyValue{
		attribute.String("channel", channel),
		attribute.String("topic", topic),
	}
	m.publishes.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.fanOut.Record(ctx, int64(notified), metric.WithAttributes(attrs...))
}

// RecordQueueItem records a processed queue item.
func (m *otelMetrics) RecordQueueItem(ctx context.Context, succeeded bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.Bool("success", succeeded),
	}
	m.queueItems.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.queueLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}
