package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port == 0 {
		t.Error("expected a default server port")
	}
	if cfg.Pool.Workers == 0 {
		t.Error("expected a default worker count")
	}
	if cfg.Retry.Attempts == 0 {
		t.Error("expected a default retry attempt count")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected info log level, got %s", cfg.Log.Level)
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := filepath.Join(tmpDir, "config.yaml")

		configContent := `
pool:
  workers: 4
documents:
  root: /srv/docs
`
		if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Pool.Workers != 4 {
			t.Errorf("expected 4 workers, got %d", cfg.Pool.Workers)
		}
		if cfg.Documents.Root != "/srv/docs" {
			t.Errorf("expected /srv/docs, got %s", cfg.Documents.Root)
		}
		// Unspecified sections keep their defaults.
		if cfg.Retry.Attempts != 3 {
			t.Errorf("expected default retry attempts, got %d", cfg.Retry.Attempts)
		}
	})
}

func TestManager_OnChange_Multiple(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configFile, []byte("pool:\n  workers: 2\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Register multiple callbacks
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configFile, []byte("pool:\n  workers: 2\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Call Get concurrently to verify no race conditions
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				cfg := mgr.Get()
				_ = cfg.Pool.Workers
			}
			done <- struct{}{}
		}()
	}

	// Wait for all goroutines
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configFile, []byte("pool:\n  workers: 2\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	cfg := mgr.Get()
	if cfg.Pool.Workers != 2 {
		t.Errorf("initial value mismatch: expected 2 workers, got %d", cfg.Pool.Workers)
	}

	// Track callback invocations
	var callbackCount atomic.Int32
	var lastWorkers atomic.Int32

	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastWorkers.Store(int32(cfg.Pool.Workers))
	})

	// Start watching
	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	// Update the config file
	if err := os.WriteFile(configFile, []byte("pool:\n  workers: 6\n"), 0644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	// Wait for the watcher to detect the change (fsnotify is async)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if callbackCount.Load() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Error("callback was not invoked after config file change")
	}

	// Verify the config was updated
	if got := mgr.Get().Pool.Workers; got != 6 {
		t.Errorf("config not updated: expected 6 workers, got %d", got)
	}

	// Verify callback received the updated value
	if v := lastWorkers.Load(); v != 6 {
		t.Errorf("callback received wrong value: expected 6, got %d", v)
	}
}

func TestWriteDefault(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("written default config does not load: %v", err)
	}
	if mgr.Get().Server.Port != DefaultConfig().Server.Port {
		t.Error("written config should round-trip the defaults")
	}
}
