package schema

import (
	"fmt"
	"sync"

	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/event"
)

// MigrationFunc rewrites a payload mapping produced under an older schema
// version into the next version's shape. It must return the version the
// payload now carries.
type MigrationFunc func(payload map[string]any) (map[string]any, string, error)

// Migrator upgrades legacy payload mappings to the current schema version.
// Migrations are registered per source version and chained until the current
// version is reached.
type Migrator struct {
	mu         sync.RWMutex
	migrations map[string]MigrationFunc
}

// NewMigrator creates an empty migrator.
func NewMigrator() *Migrator {
	return &Migrator{migrations: make(map[string]MigrationFunc)}
}

// DetectVersion extracts the schema version from a payload mapping.
// A payload without a version field is treated as pre-versioning "0.0.0".
func DetectVersion(payload map[string]any) string {
	if v, ok := payload["version"].(string); ok && v != "" {
		return v
	}
	return "0.0.0"
}

// RegisterMigration registers the migration applied to payloads at
// fromVersion, replacing any previous registration.
func (m *Migrator) RegisterMigration(fromVersion string, fn MigrationFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.migrations[fromVersion] = fn
}

// Migrate upgrades a payload from fromVersion to the current schema version,
// chaining registered migrations. Current-version payloads pass through
// untouched. The returned bool reports whether any migration ran.
func (m *Migrator) Migrate(payload map[string]any, fromVersion string) (map[string]any, bool, error) {
	if fromVersion == event.SchemaVersion {
		return payload, false, nil
	}

	migrated := false
	version := fromVersion
	// Bounded walk so a miswired migration chain cannot loop forever.
	for steps := 0; version != event.SchemaVersion; steps++ {
		if steps >= 32 {
			return nil, migrated, fmt.Errorf("migration chain from %q did not reach %q", fromVersion, event.SchemaVersion)
		}

		m.mu.RLock()
		fn, ok := m.migrations[version]
		m.mu.RUnlock()
		if !ok {
			return nil, migrated, fmt.Errorf("no migration registered for version %q", version)
		}

		next, nextVersion, err := fn(payload)
		if err != nil {
			return nil, migrated, fmt.Errorf("migrate from %q: %w", version, err)
		}
		if nextVersion == version {
			return nil, migrated, fmt.Errorf("migration from %q did not advance the version", version)
		}

		payload = next
		version = nextVersion
		migrated = true
	}

	payload["version"] = event.SchemaVersion
	return payload, migrated, nil
}
