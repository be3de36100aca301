// Package config provides configuration management for the remembrance
// node: a YAML file under the data root, section defaults, and schema
// migration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/remembrance-run/remembrance-core/internal/core/coherency"
)

// CurrentSchemaVersion is the latest config schema version. Increment it
// when adding fields that need migration.
const CurrentSchemaVersion = 2

// DefaultRootDirName is the data root created under the home directory.
const DefaultRootDirName = ".remembrance"

// Config is the full node configuration.
type Config struct {
	SchemaVersion int              `yaml:"schema_version"`
	Store         StoreConfig      `yaml:"store"`
	Seed          SeedConfig       `yaml:"seed"`
	Auth          AuthConfig       `yaml:"auth"`
	RateLimit     RateLimitConfig  `yaml:"rate_limit"`
	Coherency     CoherencyConfig  `yaml:"coherency"`
	Resolver      ResolverConfig   `yaml:"resolver"`
	Reflect       ReflectConfig    `yaml:"reflect"`
	Lifecycle     LifecycleConfig  `yaml:"lifecycle"`
	Covenant      CovenantConfig   `yaml:"covenant"`
	Federation    FederationConfig `yaml:"federation"`
	Community     CommunityConfig  `yaml:"community"`
}

// CommunityConfig records the operator's sharing consent, asked once
// during init.
type CommunityConfig struct {
	ShareEnabled bool `yaml:"share_enabled"`
}

// StoreConfig locates the shard directories.
type StoreConfig struct {
	// RootDir holds the database, config, and remotes files. "~" expands
	// to the home directory.
	RootDir string `yaml:"root_dir"`
}

// SeedConfig controls the starter library.
type SeedConfig struct {
	Auto bool `yaml:"auto"`
}

// AuthConfig toggles token checks on federation endpoints.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RateLimitConfig bounds federation submissions per origin.
type RateLimitConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	MaxRequests   int `yaml:"max_requests"`
	MaxReads      int `yaml:"max_reads"`
}

// Window returns the sliding-window duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// CoherencyConfig carries the six dimension weights.
type CoherencyConfig struct {
	Weights coherency.Weights `yaml:"weights"`
}

// ResolverConfig holds the decision thresholds.
type ResolverConfig struct {
	TauPull   float64 `yaml:"tau_pull"`
	TauEvolve float64 `yaml:"tau_evolve"`
	TopK      int     `yaml:"top_k"`
}

// ReflectConfig bounds the reflection loop.
type ReflectConfig struct {
	MaxLoops int     `yaml:"max_loops"`
	Target   float64 `yaml:"target"`
}

// LifecycleConfig holds the cycle trigger thresholds.
type LifecycleConfig struct {
	FeedbackTrigger     int64 `yaml:"feedback_trigger"`
	SubmissionTrigger   int64 `yaml:"submission_trigger"`
	RegistrationTrigger int64 `yaml:"registration_trigger"`
	AutoRetag           bool  `yaml:"auto_retag"`
	AutoClean           bool  `yaml:"auto_clean"`
}

// CovenantConfig toggles strict sealing.
type CovenantConfig struct {
	Strict bool `yaml:"strict"`
}

// FederationConfig bounds remote calls.
type FederationConfig struct {
	RemoteTimeoutMs int `yaml:"remote_timeout_ms"`
}

// RemoteTimeout returns the per-call timeout.
func (f FederationConfig) RemoteTimeout() time.Duration {
	return time.Duration(f.RemoteTimeoutMs) * time.Millisecond
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		SchemaVersion: CurrentSchemaVersion,
		Store:         StoreConfig{RootDir: "~/" + DefaultRootDirName},
		Seed:          SeedConfig{Auto: true},
		Auth:          AuthConfig{Enabled: true},
		RateLimit: RateLimitConfig{
			WindowSeconds: 60,
			MaxRequests:   5,
			MaxReads:      100,
		},
		Coherency: CoherencyConfig{Weights: coherency.DefaultWeights()},
		Resolver: ResolverConfig{
			TauPull:   0.85,
			TauEvolve: 0.55,
			TopK:      5,
		},
		Reflect: ReflectConfig{
			MaxLoops: 3,
			Target:   0.8,
		},
		Lifecycle: LifecycleConfig{
			FeedbackTrigger:     10,
			SubmissionTrigger:   5,
			RegistrationTrigger: 25,
			AutoRetag:           true,
			AutoClean:           true,
		},
		Covenant:   CovenantConfig{Strict: false},
		Federation: FederationConfig{RemoteTimeoutMs: 30000},
	}
}

// Validate rejects configurations that cannot drive the node.
func (c *Config) Validate() error {
	if err := c.Coherency.Weights.Validate(); err != nil {
		return fmt.Errorf("coherency config: %w", err)
	}
	if c.Resolver.TauPull <= c.Resolver.TauEvolve {
		return fmt.Errorf("resolver: tau_pull %.2f must exceed tau_evolve %.2f",
			c.Resolver.TauPull, c.Resolver.TauEvolve)
	}
	if c.Resolver.TopK <= 0 {
		return fmt.Errorf("resolver: top_k must be positive")
	}
	if c.Reflect.MaxLoops <= 0 {
		return fmt.Errorf("reflect: max_loops must be positive")
	}
	if c.RateLimit.WindowSeconds <= 0 || c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit: window and max_requests must be positive")
	}
	return nil
}

// RootDir expands the configured data root.
func (c *Config) RootDir() (string, error) {
	return expandHome(c.Store.RootDir)
}

func expandHome(path string) (string, error) {
	if path == "~" || len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot resolve home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// fileName is the config file inside the data root.
const fileName = "config.yaml"

// PathIn returns the config file path under the given data root.
func PathIn(rootDir string) string {
	return filepath.Join(rootDir, fileName)
}

// Load reads the config file under rootDir, migrating old schemas and
// filling missing sections with defaults. A missing file yields defaults.
func Load(rootDir string) (*Config, error) {
	data, err := os.ReadFile(PathIn(rootDir))
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	Migrate(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config file under rootDir, creating the root when
// needed.
func Save(rootDir string, cfg *Config) error {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return fmt.Errorf("cannot create data root: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot encode config: %w", err)
	}
	if err := os.WriteFile(PathIn(rootDir), data, 0o644); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}
