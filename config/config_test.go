package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.MaxConcurrentTasksPerSession != 3 {
		t.Errorf("session ceiling = %d, want 3", cfg.MaxConcurrentTasksPerSession)
	}
	if cfg.MaxParallelSiblings != 1 {
		t.Errorf("sibling ceiling = %d, want 1", cfg.MaxParallelSiblings)
	}
	if cfg.MaxConcurrentTasksPerAgent != 1 {
		t.Errorf("agent ceiling = %d, want 1", cfg.MaxConcurrentTasksPerAgent)
	}
	if cfg.DefaultTaskTimeout != 600*time.Second {
		t.Errorf("timeout = %s, want 600s", cfg.DefaultTaskTimeout)
	}
	if cfg.RetryBackoffBase != 60*time.Second {
		t.Errorf("backoff base = %s, want 60s", cfg.RetryBackoffBase)
	}
	if cfg.AssignmentCooldown != 3*time.Second {
		t.Errorf("cooldown = %s, want 3s", cfg.AssignmentCooldown)
	}
	if !cfg.SerializedScope("workspace") {
		t.Error("workspace should be serialized by default")
	}
	if cfg.SerializedScope("sandbox") {
		t.Error("sandbox should not be serialized")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_Partial(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatch.toml")
	content := `
max_concurrent_tasks_per_session = 5
require_strict_match = true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.MaxConcurrentTasksPerSession != 5 {
		t.Errorf("session ceiling = %d, want 5", cfg.MaxConcurrentTasksPerSession)
	}
	if !cfg.RequireStrictMatch {
		t.Error("strict match not loaded")
	}
	// Unset fields fall back to defaults.
	if cfg.DefaultMaxRetries != 2 {
		t.Errorf("retries = %d, want default 2", cfg.DefaultMaxRetries)
	}
	if cfg.EngineIdleEviction != 300*time.Second {
		t.Errorf("idle eviction = %s, want default 5m", cfg.EngineIdleEviction)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate_Rejects(t *testing.T) {
	cfg := Default()
	cfg.MaxParallelSiblings = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero sibling ceiling should be rejected")
	}

	cfg = Default()
	cfg.RetryBackoffBase = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("negative backoff base should be rejected")
	}
}
