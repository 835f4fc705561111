package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessorsWithDefaults(t *testing.T) {
	cfg := New(map[string]any{
		"name":      "taskevents",
		"enabled":   true,
		"workers":   float64(4), // JSON decoding shape
		"ratio":     0.5,
		"timeout":   "2s",
		"window":    1.5,
		"topics":    []any{"task:created", "task:updated"},
		"retention": 100,
	})

	assert.Equal(t, "taskevents", cfg.String("name", "fallback"))
	assert.Equal(t, "fallback", cfg.String("missing", "fallback"))

	assert.True(t, cfg.Bool("enabled", false))
	assert.True(t, cfg.Bool("missing", true))

	assert.Equal(t, 4, cfg.Int("workers", 1))
	assert.Equal(t, 100, cfg.Int("retention", 1))
	assert.Equal(t, 1, cfg.Int("missing", 1))
	assert.Equal(t, 1, cfg.Int("ratio", 1)) // fractional float is not an int

	assert.Equal(t, 0.5, cfg.Float("ratio", 0))
	assert.Equal(t, 4.0, cfg.Float("workers", 0))

	assert.Equal(t, 2*time.Second, cfg.Duration("timeout", time.Minute))
	assert.Equal(t, 1500*time.Millisecond, cfg.Duration("window", 0))
	assert.Equal(t, time.Minute, cfg.Duration("missing", time.Minute))

	assert.Equal(t, []string{"task:created", "task:updated"},
		cfg.StringSlice("topics", nil))
	assert.Equal(t, []string{"x"}, cfg.StringSlice("missing", []string{"x"}))
}

func TestSubAndHasAndSet(t *testing.T) {
	cfg := New(map[string]any{
		"queue": map[string]any{"concurrency": 8},
	})

	assert.Equal(t, 8, cfg.Sub("queue").Int("concurrency", 1))
	assert.Equal(t, 1, cfg.Sub("missing").Int("concurrency", 1))

	assert.True(t, cfg.Has("queue"))
	assert.False(t, cfg.Has("missing"))

	cfg.Set("extra", "v")
	assert.Equal(t, "v", cfg.String("extra", ""))
}

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(`
dispatcher_timeout: 5s
queue:
  concurrency: 2
topics:
  - task:created
`))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Duration("dispatcher_timeout", 0))
	assert.Equal(t, 2, cfg.Sub("queue").Int("concurrency", 0))
	assert.Equal(t, []string{"task:created"}, cfg.StringSlice("topics", nil))

	_, err = FromYAML([]byte("{invalid"))
	assert.Error(t, err)
}

func TestFromJSON(t *testing.T) {
	cfg, err := FromJSON([]byte(`{"workers": 3, "name": "core"}`))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Int("workers", 0))
	assert.Equal(t, "core", cfg.String("name", ""))

	_, err = FromJSON([]byte("not json"))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("workers: 7"), 0o644))
	cfg, err := FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Int("workers", 0))

	txtPath := filepath.Join(dir, "cfg.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o644))
	_, err = FromFile(txtPath)
	assert.Error(t, err)

	_, err = FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TASKEVENTS_QUEUE_CONCURRENCY", "16")
	t.Setenv("TASKEVENTS_DISPATCHER_TIMEOUT", "3s")
	t.Setenv("TASKEVENTS_LOG_LEVEL", "debug")

	cfg, err := ApplyEnv(New(map[string]any{
		"queue_concurrency": 4,
		"archive_path":      "/var/lib/taskevents.db",
	}))
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Int("queue_concurrency", 0))
	assert.Equal(t, 3*time.Second, cfg.Duration("dispatcher_timeout", 0))
	assert.Equal(t, "debug", cfg.String("log_level", ""))
	// Unset variables leave file values alone.
	assert.Equal(t, "/var/lib/taskevents.db", cfg.String("archive_path", ""))
}
