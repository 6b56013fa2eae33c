package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxloop/voxloop/internal/config"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxloop.yaml")
	writeConfigFile(t, path, "log_level: info\n")

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if w.Current().LogLevel != config.LogInfo {
		t.Errorf("Current().LogLevel = %q; want info", w.Current().LogLevel)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxloop.yaml")
	writeConfigFile(t, path, "log_level: shouty\n")

	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("NewWatcher accepted an invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxloop.yaml")
	writeConfigFile(t, path, "log_level: info\n")

	changed := make(chan *config.Config, 1)
	w, err := config.NewWatcher(path, func(_, next *config.Config) {
		changed <- next
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Ensure the mtime moves even on coarse filesystem clocks.
	time.Sleep(20 * time.Millisecond)
	writeConfigFile(t, path, "log_level: debug\n")
	now := time.Now()
	os.Chtimes(path, now, now)

	select {
	case next := <-changed:
		if next.LogLevel != config.LogDebug {
			t.Errorf("reloaded LogLevel = %q; want debug", next.LogLevel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for onChange")
	}

	if w.Current().LogLevel != config.LogDebug {
		t.Errorf("Current() not updated after reload")
	}
}

func TestWatcher_KeepsOldConfigOnInvalidEdit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxloop.yaml")
	writeConfigFile(t, path, "log_level: info\n")

	w, err := config.NewWatcher(path, func(_, _ *config.Config) {
		t.Error("onChange fired for an invalid config")
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)
	writeConfigFile(t, path, "log_level: [broken\n")
	now := time.Now()
	os.Chtimes(path, now, now)

	time.Sleep(100 * time.Millisecond)
	if w.Current().LogLevel != config.LogInfo {
		t.Errorf("Current().LogLevel = %q; want the last valid value", w.Current().LogLevel)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxloop.yaml")
	writeConfigFile(t, path, "log_level: info\n")

	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Stop()
	w.Stop()
}
