// Package observability provides structured logging, metrics, and tracing
// for the event dispatch core.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry, with an optional Prometheus registry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Logging helpers are nil-safe: a nil logger disables output, and a logging
// failure never fails the operation being logged.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds emission context to a logger.
// Returns a new logger with emission_id, event_type, and attempt fields.
func EnrichLogger(logger *slog.Logger, emissionID, eventType string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("emission_id", emissionID),
		slog.String("event_type", eventType),
		slog.Int("attempt", attempt),
	)
}

// LogEmission logs the outcome of a dispatcher emission.
func LogEmission(logger *slog.Logger, emissionID, eventType string, executed, failures int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("emission completed",
		slog.String("emission_id", emissionID),
		slog.String("event_type", eventType),
		slog.Int("listeners_executed", executed),
		slog.Int("failures", failures),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogListenerFailure logs a listener failure inside an emission.
func LogListenerFailure(logger *slog.Logger, emissionID, listenerID string, attempts int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("listener failed",
		slog.String("emission_id", emissionID),
		slog.String("listener_id", listenerID),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// LogDeliveryTracked logs creation of a guaranteed-delivery tracking record.
func LogDeliveryTracked(logger *slog.Logger, emissionID, eventType string, failures int) {
	if logger == nil {
		return
	}
	logger.Info("guaranteed delivery tracked",
		slog.String("emission_id", emissionID),
		slog.String("event_type", eventType),
		slog.Int("failures", failures),
	)
}

// LogDeliveryDropped logs a tracking record that exhausted its retries.
func LogDeliveryDropped(logger *slog.Logger, emissionID, eventType string, retries int) {
	if logger == nil {
		return
	}
	logger.Error("guaranteed delivery permanently failed",
		slog.String("emission_id", emissionID),
		slog.String("event_type", eventType),
		slog.Int("retries", retries),
	)
}

// LogPublish logs a bus publish.
func LogPublish(logger *slog.Logger, messageID, channel, topic string, notified int) {
	if logger == nil {
		return
	}
	logger.Debug("message published",
		slog.String("message_id", messageID),
		slog.String("channel", channel),
		slog.String("topic", topic),
		slog.Int("subscribers_notified", notified),
	)
}

// LogRoutingRuleError logs a routing rule failure (non-fatal).
func LogRoutingRuleError(logger *slog.Logger, rule string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("routing rule failed",
		slog.String("rule", rule),
		slog.String("error", err.Error()),
	)
}

// LogQueueItem logs completion or failure of a queued item.
func LogQueueItem(logger *slog.Logger, itemID string, attempts int, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("queue item failed",
			slog.String("item_id", itemID),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("queue item completed",
		slog.String("item_id", itemID),
		slog.Int("attempts", attempts),
	)
}

// LogIntegrationError logs an integration failure (isolated, non-fatal).
func LogIntegrationError(logger *slog.Logger, integration, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("integration failed",
		slog.String("integration", integration),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogBreakerStateChange logs a circuit breaker transition.
func LogBreakerStateChange(logger *slog.Logger, integration, from, to string) {
	if logger == nil {
		return
	}
	logger.Info("circuit breaker state changed",
		slog.String("integration", integration),
		slog.String("from", from),
		slog.String("to", to),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in
// milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
