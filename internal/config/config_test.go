package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Version != Version {
		t.Errorf("expected version %d, got %d", Version, cfg.Version)
	}
	if !cfg.Watcher.Enabled {
		t.Error("watcher should be enabled by default")
	}
	if cfg.Watcher.DebounceMs != 500 {
		t.Errorf("expected debounce 500, got %d", cfg.Watcher.DebounceMs)
	}
	if cfg.Store.RecentFilesLimit != 20 {
		t.Errorf("expected recent files limit 20, got %d", cfg.Store.RecentFilesLimit)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Logging.Level)
	}

	if !strings.Contains(cfg.Store.Path, "mirrorshard") {
		t.Errorf("store path should contain mirrorshard: %s", cfg.Store.Path)
	}
	if cfg.IPC.SocketPath == "" {
		t.Error("default socket path should not be empty")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if path == "" {
		t.Error("ConfigPath returned empty string")
	}
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
}

func TestConfigPathOverride(t *testing.T) {
	t.Setenv("MIRRORSHARD_CONFIG", "/custom/mirrorshard.toml")
	if got := ConfigPath(); got != "/custom/mirrorshard.toml" {
		t.Errorf("expected override path, got %s", got)
	}
}

func TestDataDirOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MIRRORSHARD_DATA_DIR", tmpDir)

	if got := DataDir(); got != tmpDir {
		t.Errorf("expected data dir %s, got %s", tmpDir, got)
	}

	paths := GetDefaultPaths()
	if paths.DatabaseFile != filepath.Join(tmpDir, "session.db") {
		t.Errorf("database file should live under the override: %s", paths.DatabaseFile)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}

	if cfg.Watcher.DebounceMs != 500 {
		t.Errorf("expected default debounce 500, got %d", cfg.Watcher.DebounceMs)
	}
}

func TestLoadPartialTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
[watcher]
debounce_ms = 250

[store]
path = "/custom/path/session.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Watcher.DebounceMs != 250 {
		t.Errorf("expected debounce 250, got %d", cfg.Watcher.DebounceMs)
	}
	if cfg.Store.Path != "/custom/path/session.db" {
		t.Errorf("expected custom store path, got %s", cfg.Store.Path)
	}
	// Untouched sections keep their defaults.
	if cfg.IPC.MaxConnections != 32 {
		t.Errorf("expected default max connections 32, got %d", cfg.IPC.MaxConnections)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
}

func TestLoadJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	content := `{"watcher": {"enabled": true, "debounce_ms": 300}}`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Watcher.DebounceMs != 300 {
		t.Errorf("expected debounce 300, got %d", cfg.Watcher.DebounceMs)
	}
}

func TestLoadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := "watcher:\n  enabled: true\n  debounce_ms: 750\n"
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Watcher.DebounceMs != 750 {
		t.Errorf("expected debounce 750, got %d", cfg.Watcher.DebounceMs)
	}
}

func TestLoadUnknownExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.conf")

	content := `
[watcher]
debounce_ms = 950
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Watcher.DebounceMs != 950 {
		t.Errorf("auto-detect should have parsed TOML, got debounce %d", cfg.Watcher.DebounceMs)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
this is not valid toml {{{
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestLoadConfigWithComments(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
# This is a comment
[watcher]
debounce_ms = 700 # inline comment
# debounce_ms = 100
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Watcher.DebounceMs != 700 {
		t.Errorf("expected debounce 700, got %d", cfg.Watcher.DebounceMs)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MIRRORSHARD_LOG_LEVEL", "debug")
	t.Setenv("MIRRORSHARD_SOCKET_PATH", "/tmp/test-mirrorshard.sock")
	t.Setenv("MIRRORSHARD_WATCH_DEBOUNCE_MS", "200")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	if cfg.IPC.SocketPath != "/tmp/test-mirrorshard.sock" {
		t.Errorf("expected socket override, got %s", cfg.IPC.SocketPath)
	}
	if cfg.Watcher.DebounceMs != 200 {
		t.Errorf("expected debounce 200, got %d", cfg.Watcher.DebounceMs)
	}
}

func TestEnvOverridesIgnoreBadNumbers(t *testing.T) {
	t.Setenv("MIRRORSHARD_WATCH_DEBOUNCE_MS", "not-a-number")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Watcher.DebounceMs != 500 {
		t.Errorf("bad number should leave default, got %d", cfg.Watcher.DebounceMs)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watcher.DebounceMs = 5
	cfg.Store.Path = ""
	cfg.Logging.Level = "loud"
	cfg.IPC.Permissions = "rwxr--r--"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}

	msg := err.Error()
	for _, field := range []string{
		"watcher.debounce_ms",
		"store.path",
		"logging.level",
		"ipc.permissions",
	} {
		if !strings.Contains(msg, field) {
			t.Errorf("expected error to mention %s: %s", field, msg)
		}
	}
}

func TestValidateAcceptsDebounceFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watcher.DebounceMs = 100
	if err := cfg.Validate(); err != nil {
		t.Errorf("debounce of 100ms should validate: %v", err)
	}
}

func TestValidateVersionBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Version = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for version 0")
	}

	cfg.Version = Version + 1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for future version")
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MIRRORSHARD_DATA_DIR", filepath.Join(tmpDir, "data"))
	t.Setenv("MIRRORSHARD_CONFIG_DIR", filepath.Join(tmpDir, "conf"))

	cfg := DefaultConfig()
	cfg.Store.Path = filepath.Join(tmpDir, "a", "b", "session.db")
	cfg.Logging.FilePath = filepath.Join(tmpDir, "c", "mirrorshardd.log")
	cfg.IPC.SocketPath = filepath.Join(tmpDir, "run", "mirrorshardd.sock")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{
		filepath.Join(tmpDir, "data"),
		filepath.Join(tmpDir, "conf"),
		filepath.Join(tmpDir, "a", "b"),
		filepath.Join(tmpDir, "c"),
		filepath.Join(tmpDir, "run"),
	} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("directory was not created: %s", dir)
		}
	}
}

func TestSocketPermissions(t *testing.T) {
	cfg := DefaultConfig()

	cfg.IPC.Permissions = "0640"
	if got := cfg.SocketPermissions(); got != 0640 {
		t.Errorf("expected 0640, got %o", got)
	}

	cfg.IPC.Permissions = ""
	if got := cfg.SocketPermissions(); got != 0600 {
		t.Errorf("expected fallback 0600, got %o", got)
	}

	cfg.IPC.Permissions = "bogus"
	if got := cfg.SocketPermissions(); got != 0600 {
		t.Errorf("expected fallback 0600 for bad value, got %o", got)
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watcher.DebounceMs = 250
	cfg.IPC.TimeoutSec = 30
	cfg.Store.BusyTimeoutMs = 1500

	if got := cfg.DebounceInterval(); got != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", got)
	}
	if got := cfg.IPCTimeout(); got != 30*time.Second {
		t.Errorf("expected 30s, got %v", got)
	}
	if got := cfg.BusyTimeout(); got != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", got)
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()

	clone.Watcher.DebounceMs = 999
	clone.Store.Path = "/elsewhere/session.db"

	if cfg.Watcher.DebounceMs == 999 {
		t.Error("mutating the clone changed the original debounce")
	}
	if cfg.Store.Path == "/elsewhere/session.db" {
		t.Error("mutating the clone changed the original store path")
	}
}

func TestLoadOrCreate(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	cfg, created, err := LoadOrCreate(configPath)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created {
		t.Error("expected first call to create the file")
	}
	if cfg == nil {
		t.Fatal("LoadOrCreate returned nil config")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("default config file was not written: %v", err)
	}
	for _, section := range []string{"[documents]", "[watcher]", "[store]", "[ipc]", "[logging]"} {
		if !strings.Contains(string(data), section) {
			t.Errorf("generated config missing section %s", section)
		}
	}

	cfg2, created, err := LoadOrCreate(configPath)
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if created {
		t.Error("second call should not recreate the file")
	}
	if cfg2.Watcher.DebounceMs != cfg.Watcher.DebounceMs {
		t.Errorf("reloaded config differs: %d vs %d", cfg2.Watcher.DebounceMs, cfg.Watcher.DebounceMs)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	cfg := DefaultConfig()
	cfg.Watcher.DebounceMs = 1200
	cfg.Export.DefaultAuthor = "夏目漱石"

	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Watcher.DebounceMs != 1200 {
		t.Errorf("expected debounce 1200, got %d", loaded.Watcher.DebounceMs)
	}
	if loaded.Export.DefaultAuthor != "夏目漱石" {
		t.Errorf("expected author round trip, got %s", loaded.Export.DefaultAuthor)
	}
}

func TestLoaderReload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	write := func(debounce int) {
		t.Helper()
		content := "[watcher]\ndebounce_ms = " + strconv.Itoa(debounce) + "\n"
		if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write(400)

	loader := NewLoader(configPath)
	defer loader.Close()

	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	changed := make(chan *Config, 1)
	loader.OnChange(func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})

	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	write(800)

	select {
	case cfg := <-changed:
		if cfg.Watcher.DebounceMs != 800 {
			t.Errorf("expected reloaded debounce 800, got %d", cfg.Watcher.DebounceMs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if got := loader.Config().Watcher.DebounceMs; got != 800 {
		t.Errorf("Config() should return the reloaded value, got %d", got)
	}
}

func TestLoaderKeepsOldConfigOnInvalidEdit(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	if err := os.WriteFile(configPath, []byte("[watcher]\ndebounce_ms = 400\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loader := NewLoader(configPath)
	defer loader.Close()

	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	// Out-of-range debounce must not replace the live config.
	if err := os.WriteFile(configPath, []byte("[watcher]\ndebounce_ms = 1\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	select {
	case err := <-loader.Errors():
		if !strings.Contains(err.Error(), "validate") {
			t.Errorf("expected validation error, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for validation error")
	}

	if got := loader.Config().Watcher.DebounceMs; got != 400 {
		t.Errorf("invalid edit should keep old config, got debounce %d", got)
	}
}
