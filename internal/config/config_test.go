package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("schema version = %d, want %d", cfg.SchemaVersion, CurrentSchemaVersion)
	}
	if !cfg.Seed.Auto {
		t.Error("seed.auto should default to true")
	}
	if cfg.Resolver.TauPull != 0.85 || cfg.Resolver.TauEvolve != 0.55 {
		t.Errorf("resolver thresholds = %.2f/%.2f, want 0.85/0.55",
			cfg.Resolver.TauPull, cfg.Resolver.TauEvolve)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := Default()
	cfg.Seed.Auto = false
	cfg.Resolver.TauPull = 0.9
	cfg.Lifecycle.FeedbackTrigger = 20

	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Seed.Auto {
		t.Error("seed.auto should round-trip as false")
	}
	if loaded.Resolver.TauPull != 0.9 {
		t.Errorf("tau_pull = %.2f, want 0.9", loaded.Resolver.TauPull)
	}
	if loaded.Lifecycle.FeedbackTrigger != 20 {
		t.Errorf("feedback_trigger = %d, want 20", loaded.Lifecycle.FeedbackTrigger)
	}
	// Untouched sections keep defaults.
	if loaded.Federation.RemoteTimeoutMs != 30000 {
		t.Errorf("remote_timeout_ms = %d, want 30000", loaded.Federation.RemoteTimeoutMs)
	}
}

func TestPartialFileFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	partial := "store:\n  root_dir: /tmp/oracle\nresolver:\n  tau_pull: 0.88\n"
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte(partial), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.RootDir != "/tmp/oracle" {
		t.Errorf("root_dir = %q", cfg.Store.RootDir)
	}
	if cfg.Resolver.TauPull != 0.88 {
		t.Errorf("tau_pull = %.2f, want 0.88", cfg.Resolver.TauPull)
	}
	if cfg.Resolver.TauEvolve != 0.55 {
		t.Errorf("tau_evolve = %.2f, want default 0.55", cfg.Resolver.TauEvolve)
	}
	if cfg.Coherency.Weights.Correctness != 0.30 {
		t.Errorf("correctness weight = %.2f, want default 0.30", cfg.Coherency.Weights.Correctness)
	}
}

func TestLoadRejectsInvalidWeights(t *testing.T) {
	dir := t.TempDir()
	bad := "coherency:\n  weights:\n    correctness: 0.9\n    simplicity: 0.9\n"
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected weight validation error")
	}
}

func TestMigrateFromV1(t *testing.T) {
	cfg := Default()
	cfg.SchemaVersion = 1
	cfg.Federation.RemoteTimeoutMs = 0

	changed, changes := Migrate(cfg)
	if !changed {
		t.Fatal("expected migration to report a change")
	}
	if len(changes) == 0 {
		t.Fatal("expected migration change entries")
	}
	if cfg.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("schema version = %d, want %d", cfg.SchemaVersion, CurrentSchemaVersion)
	}
	if cfg.Federation.RemoteTimeoutMs != 30000 {
		t.Errorf("remote_timeout_ms = %d, want 30000", cfg.Federation.RemoteTimeoutMs)
	}
	if NeedsMigration(cfg) {
		t.Error("config should be current after migration")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := expandHome("~/" + DefaultRootDirName)
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(home, DefaultRootDirName) {
		t.Errorf("expandHome = %q", got)
	}
	got, err = expandHome("/abs/path")
	if err != nil || got != "/abs/path" {
		t.Errorf("absolute path changed: %q, %v", got, err)
	}
}

func TestValidateThresholdOrdering(t *testing.T) {
	cfg := Default()
	cfg.Resolver.TauEvolve = 0.9
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when tau_evolve >= tau_pull")
	}
}
