// Package config provides unit tests for configuration loading.
package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadDefaults tests that a missing file yields defaults.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Addr != "localhost:8091" {
		t.Errorf("Addr = %q, want localhost:8091", cfg.Addr)
	}
	if cfg.SweepIntervalSec != 300 {
		t.Errorf("SweepIntervalSec = %d, want 300", cfg.SweepIntervalSec)
	}
	if cfg.InboxCapacity != 50 {
		t.Errorf("InboxCapacity = %d, want 50", cfg.InboxCapacity)
	}
}

// TestLoadFile tests reading values from a YAML file.
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
addr: "localhost:9000"
log_level: debug
sweep_interval_sec: 60
actor:
  id: user-1
  email: dev@example.com
  display_name: Dev One
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Addr != "localhost:9000" {
		t.Errorf("Addr = %q, want localhost:9000", cfg.Addr)
	}
	if cfg.SweepIntervalSec != 60 {
		t.Errorf("SweepIntervalSec = %d, want 60", cfg.SweepIntervalSec)
	}
	if cfg.Actor.ID != "user-1" || cfg.Actor.Email != "dev@example.com" {
		t.Errorf("Unexpected actor config: %+v", cfg.Actor)
	}

	// Unset keys keep their defaults.
	if cfg.FeedBuffer != 64 {
		t.Errorf("FeedBuffer = %d, want default 64", cfg.FeedBuffer)
	}
}

// TestLoadRejectsInvalid tests validation of nonsensical values.
func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("sweep_interval_sec: -5\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected error for negative sweep interval")
	}
}
