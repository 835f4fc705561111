package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvOverrides are the environment-settable knobs. Fields left at their zero
// value are treated as unset and do not override the file configuration.
type EnvOverrides struct {
	DispatcherTimeout   time.Duration `env:"DISPATCHER_TIMEOUT"`
	DispatcherRetries   int           `env:"DISPATCHER_RETRIES"`
	BusHistoryRetention int           `env:"BUS_HISTORY_RETENTION"`
	QueueConcurrency    int           `env:"QUEUE_CONCURRENCY"`
	QueueBatchWindow    time.Duration `env:"QUEUE_BATCH_WINDOW"`
	EventTimeout        time.Duration `env:"EVENT_TIMEOUT"`
	BreakerThreshold    int           `env:"BREAKER_THRESHOLD"`
	BreakerOpenTimeout  time.Duration `env:"BREAKER_OPEN_TIMEOUT"`
	ArchivePath         string        `env:"ARCHIVE_PATH"`
	LogLevel            string        `env:"LOG_LEVEL"`
}

// EnvPrefix is prepended to every override variable name.
const EnvPrefix = "TASKEVENTS_"

// ApplyEnv parses TASKEVENTS_* environment variables and overlays the set
// values onto cfg.
func ApplyEnv(cfg Config) (Config, error) {
	var ov EnvOverrides
	if err := env.ParseWithOptions(&ov, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	if ov.DispatcherTimeout > 0 {
		cfg.Set("dispatcher_timeout", ov.DispatcherTimeout)
	}
	if ov.DispatcherRetries > 0 {
		cfg.Set("dispatcher_retries", ov.DispatcherRetries)
	}
	if ov.BusHistoryRetention > 0 {
		cfg.Set("bus_history_retention", ov.BusHistoryRetention)
	}
	if ov.QueueConcurrency > 0 {
		cfg.Set("queue_concurrency", ov.QueueConcurrency)
	}
	if ov.QueueBatchWindow > 0 {
		cfg.Set("queue_batch_window", ov.QueueBatchWindow)
	}
	if ov.EventTimeout > 0 {
		cfg.Set("event_timeout", ov.EventTimeout)
	}
	if ov.BreakerThreshold > 0 {
		cfg.Set("breaker_threshold", ov.BreakerThreshold)
	}
	if ov.BreakerOpenTimeout > 0 {
		cfg.Set("breaker_open_timeout", ov.BreakerOpenTimeout)
	}
	if ov.ArchivePath != "" {
		cfg.Set("archive_path", ov.ArchivePath)
	}
	if ov.LogLevel != "" {
		cfg.Set("log_level", ov.LogLevel)
	}

	return cfg, nil
}
