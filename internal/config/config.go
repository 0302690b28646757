// Package config handles configuration loading and validation for the
// mirrorshard daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config is the daemon configuration. Decoding starts from DefaultConfig,
// so a partial file is always complete after Load.
type Config struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	Documents DocumentsConfig `toml:"documents" json:"documents" yaml:"documents"`
	Watcher   WatcherConfig   `toml:"watcher" json:"watcher" yaml:"watcher"`
	Store     StoreConfig     `toml:"store" json:"store" yaml:"store"`
	Export    ExportConfig    `toml:"export" json:"export" yaml:"export"`
	IPC       IPCConfig       `toml:"ipc" json:"ipc" yaml:"ipc"`
	Logging   LoggingConfig   `toml:"logging" json:"logging" yaml:"logging"`
}

// DocumentsConfig bounds what the daemon will open on behalf of the editor.
type DocumentsConfig struct {
	// MaxFileSizeBytes is the largest file OpenDocument will read. A
	// document must also fit in one IPC frame, so this cannot exceed the
	// 64 MB frame cap.
	MaxFileSizeBytes int64 `toml:"max_file_size_bytes" json:"max_file_size_bytes" yaml:"max_file_size_bytes"`
}

// WatcherConfig controls the external-modification watcher.
type WatcherConfig struct {
	Enabled    bool `toml:"enabled" json:"enabled" yaml:"enabled"`
	DebounceMs int  `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`
}

// StoreConfig locates the session database.
type StoreConfig struct {
	Path             string `toml:"path" json:"path" yaml:"path"`
	BusyTimeoutMs    int    `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
	RecentFilesLimit int    `toml:"recent_files_limit" json:"recent_files_limit" yaml:"recent_files_limit"`
}

// ExportConfig holds book-export defaults.
type ExportConfig struct {
	// DefaultAuthor is used when an export request does not name one.
	DefaultAuthor string `toml:"default_author" json:"default_author" yaml:"default_author"`
}

// IPCConfig controls the daemon's socket surface.
type IPCConfig struct {
	SocketPath     string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`
	Permissions    string `toml:"permissions" json:"permissions" yaml:"permissions"`
	MaxConnections int    `toml:"max_connections" json:"max_connections" yaml:"max_connections"`
	TimeoutSec     int    `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// LoggingConfig controls the log surface.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	paths := GetDefaultPaths()

	return &Config{
		Version: Version,
		Documents: DocumentsConfig{
			MaxFileSizeBytes: 32 * 1024 * 1024,
		},
		Watcher: WatcherConfig{
			Enabled:    true,
			DebounceMs: 500,
		},
		Store: StoreConfig{
			Path:             paths.DatabaseFile,
			BusyTimeoutMs:    5000,
			RecentFilesLimit: 20,
		},
		Export: ExportConfig{},
		IPC: IPCConfig{
			SocketPath:     paths.SocketPath,
			Permissions:    "0600",
			MaxConnections: 32,
			TimeoutSec:     60,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(paths.LogDir, "mirrorshardd.log"),
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

// ConfigPath returns the path of the config file, honoring the
// MIRRORSHARD_CONFIG override.
func ConfigPath() string {
	if path := os.Getenv("MIRRORSHARD_CONFIG"); path != "" {
		return path
	}
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads the configuration from path, falling back to ConfigPath when
// path is empty. A missing file yields defaults. Environment overrides are
// applied after the file, and the result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for problems.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies MIRRORSHARD_* environment variables over the
// loaded values. Unparseable numbers are ignored.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MIRRORSHARD_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("MIRRORSHARD_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("MIRRORSHARD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MIRRORSHARD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("MIRRORSHARD_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
	if v := os.Getenv("MIRRORSHARD_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("MIRRORSHARD_WATCH_DEBOUNCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Watcher.DebounceMs = ms
		}
	}
	if v := os.Getenv("MIRRORSHARD_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Documents.MaxFileSizeBytes = n
		}
	}
	if v := os.Getenv("MIRRORSHARD_IPC_TIMEOUT_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			c.IPC.TimeoutSec = sec
		}
	}
	if v := os.Getenv("MIRRORSHARD_EXPORT_AUTHOR"); v != "" {
		c.Export.DefaultAuthor = v
	}
}

// EnsureDirectories creates the directories the configuration points at.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		DataDir(),
		ConfigDir(),
	}
	if c.Store.Path != "" {
		dirs = append(dirs, filepath.Dir(expandPath(c.Store.Path)))
	}
	if c.Logging.FilePath != "" {
		dirs = append(dirs, filepath.Dir(expandPath(c.Logging.FilePath)))
	}
	// Named pipes have no directory to create.
	if runtime.GOOS != "windows" && c.IPC.SocketPath != "" {
		dirs = append(dirs, filepath.Dir(c.IPC.SocketPath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// DebounceInterval returns the watcher debounce as a duration.
func (c *Config) DebounceInterval() time.Duration {
	return time.Duration(c.Watcher.DebounceMs) * time.Millisecond
}

// IPCTimeout returns the per-connection read timeout.
func (c *Config) IPCTimeout() time.Duration {
	return time.Duration(c.IPC.TimeoutSec) * time.Second
}

// BusyTimeout returns the SQLite busy timeout.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Store.BusyTimeoutMs) * time.Millisecond
}

// StorePath returns Store.Path with a leading ~ expanded.
func (c *Config) StorePath() string {
	return expandPath(c.Store.Path)
}

// LogFilePath returns Logging.FilePath with a leading ~ expanded.
func (c *Config) LogFilePath() string {
	return expandPath(c.Logging.FilePath)
}

// SocketPermissions parses IPC.Permissions as an octal mode, falling back
// to 0600.
func (c *Config) SocketPermissions() os.FileMode {
	if c.IPC.Permissions == "" {
		return 0600
	}
	mode, err := strconv.ParseUint(c.IPC.Permissions, 8, 32)
	if err != nil {
		return 0600
	}
	return os.FileMode(mode)
}
