package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewConfigWatcher_MissingFile(t *testing.T) {
	_, err := NewConfigWatcher(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil {
		t.Fatal("expected error watching nonexistent file")
	}
}

func TestIsBackupFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/home/u/.flowd/flowd.toml.back1", true},
		{"/home/u/.flowd/flowd.toml.back2", true},
		{"/home/u/.flowd/flowd.toml.back3", true},
		{"/home/u/.flowd/flowd.toml", false},
		{"/home/u/.flowd/backup.toml", false},
	}

	for _, tt := range tests {
		if got := isBackupFile(tt.path); got != tt.want {
			t.Errorf("isBackupFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestCheckOwnWrite_Clears(t *testing.T) {
	cw := &ConfigWatcher{}

	if cw.checkOwnWrite() {
		t.Error("own-write flag should start unset")
	}

	cw.MarkOwnWrite()
	if !cw.checkOwnWrite() {
		t.Error("expected own-write flag set after MarkOwnWrite")
	}
	if cw.checkOwnWrite() {
		t.Error("own-write flag should clear after one check")
	}
}

func TestConfigWatcher_ReloadOnChange(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping watcher test in short mode")
	}

	// Isolate Load() from the real user/system/project config files
	t.Setenv("HOME", t.TempDir())
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)
	Reset()
	t.Cleanup(Reset)

	configPath := filepath.Join(tmpDir, ConfigFileName)
	if err := os.WriteFile(configPath, []byte("environment = \"development\"\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cw, err := NewConfigWatcher(configPath)
	if err != nil {
		t.Fatalf("NewConfigWatcher() failed: %v", err)
	}
	defer cw.Stop()

	reloaded := make(chan *Config, 1)
	cw.OnReload(func(cfg *Config) error {
		select {
		case reloaded <- cfg:
		default:
		}
		return nil
	})
	cw.Start()

	// Give the watch loop a moment to begin consuming events
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configPath, []byte("environment = \"production\"\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Environment != "production" {
			t.Errorf("reloaded environment = %q, want %q", cfg.Environment, "production")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
}

func TestConfigWatcher_IgnoresOwnWrite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping watcher test in short mode")
	}

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ConfigFileName)
	if err := os.WriteFile(configPath, []byte("environment = \"development\"\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cw, err := NewConfigWatcher(configPath)
	if err != nil {
		t.Fatalf("NewConfigWatcher() failed: %v", err)
	}
	defer cw.Stop()

	reloaded := make(chan struct{}, 1)
	cw.OnReload(func(*Config) error {
		select {
		case reloaded <- struct{}{}:
		default:
		}
		return nil
	})
	cw.Start()

	time.Sleep(100 * time.Millisecond)

	cw.MarkOwnWrite()
	if err := os.WriteFile(configPath, []byte("environment = \"staging\"\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case <-reloaded:
		t.Fatal("reload fired for a write marked as our own")
	case <-time.After(1200 * time.Millisecond):
		// Debounce period passed with no callback
	}
}
