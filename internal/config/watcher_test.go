package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestNewWatcher_EmptyPathIsOptional(t *testing.T) {
	t.Parallel()
	w, err := NewWatcher("", Default(), log.NewWithOptions(io.Discard, log.Options{}))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if w != nil {
		t.Fatal("expected nil watcher for empty path")
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "memgraph-mcp.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	initial := Default()
	w, err := NewWatcher(path, initial, log.NewWithOptions(io.Discard, log.Options{}))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	if got := w.Current().LogLevel; got != initial.LogLevel {
		t.Fatalf("expected initial log level %q, got %q", initial.LogLevel, got)
	}

	reloaded := make(chan Config, 1)
	w.OnChange(func(cfg Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.LogLevel != "debug" {
			t.Fatalf("expected reloaded log level debug, got %q", cfg.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload callback")
	}

	if got := w.Current().LogLevel; got != "debug" {
		t.Fatalf("Current() not updated after reload, got %q", got)
	}
}

func TestWatcher_KeepsPreviousConfigOnBadReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "memgraph-mcp.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	w, err := NewWatcher(path, Default(), log.NewWithOptions(io.Discard, log.Options{}))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	notified := make(chan struct{}, 1)
	w.OnChange(func(Config) {
		select {
		case notified <- struct{}{}:
		default:
		}
	})

	// Invalid YAML must not replace the last good config, and must not
	// fire callbacks.
	if err := os.WriteFile(path, []byte("log_level: [broken\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case <-notified:
		t.Fatal("callback fired for a failed reload")
	case <-time.After(1 * time.Second):
	}

	if got := w.Current().LogLevel; got != Default().LogLevel {
		t.Fatalf("bad reload replaced config, got log level %q", got)
	}
}
