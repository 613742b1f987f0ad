package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandPath(t *testing.T) {
	t.Parallel()
	got := ExpandPath("~/graph.db")
	if got == "~/graph.db" {
		t.Fatalf("expected home-expanded path, got %q", got)
	}
	if !strings.Contains(got, "graph.db") {
		t.Fatalf("expected expanded path to contain file name, got %q", got)
	}
}

func TestDefaultValidates(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
}

func TestValidateRejectsBadDecay(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.DecayFactor = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for decay_factor > 1")
	}
}

func TestValidateRejectsBadBackend(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.GraphBackend = "dynamo"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown graph_backend")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerName != "memgraph-mcp" {
		t.Fatalf("expected default server name, got %q", cfg.ServerName)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	body := "server_name: test-mem\ndecay_factor: 0.5\ntemporal_window_seconds: 60\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerName != "test-mem" {
		t.Fatalf("server_name = %q, want test-mem", cfg.ServerName)
	}
	if cfg.DecayFactor != 0.5 {
		t.Fatalf("decay_factor = %v, want 0.5", cfg.DecayFactor)
	}
	if cfg.TemporalWindowSeconds != 60 {
		t.Fatalf("temporal_window_seconds = %d, want 60", cfg.TemporalWindowSeconds)
	}
	if cfg.DefaultLimit != 10 {
		t.Fatalf("default_limit = %d, want default 10", cfg.DefaultLimit)
	}
}
