package config

import "fmt"

// MigrationChange describes one field adjusted during migration.
type MigrationChange struct {
	Field       string
	Description string
}

// Migrate upgrades a loaded config to the current schema version and
// reports what changed.
func Migrate(cfg *Config) (changed bool, changes []MigrationChange) {
	start := cfg.SchemaVersion

	// Configs without schema_version predate versioning.
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = 1
	}

	// v1 -> v2: federation timeout became configurable.
	if cfg.SchemaVersion < 2 {
		if cfg.Federation.RemoteTimeoutMs == 0 {
			cfg.Federation.RemoteTimeoutMs = Default().Federation.RemoteTimeoutMs
			changes = append(changes, MigrationChange{
				Field:       "federation.remote_timeout_ms",
				Description: fmt.Sprintf("default: %d", cfg.Federation.RemoteTimeoutMs),
			})
		}
		cfg.SchemaVersion = 2
	}

	return cfg.SchemaVersion != start, changes
}

// NeedsMigration reports whether a config predates the current schema.
func NeedsMigration(cfg *Config) bool {
	return cfg.SchemaVersion < CurrentSchemaVersion
}
