// Package config handles configuration loading and validation for the
// mirrorshard daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// maxFrameBytes mirrors the IPC layer's frame cap. A document larger than
// this cannot be returned to the editor.
const maxFrameBytes = 64 * 1024 * 1024

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig checks every section of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateDocuments(&c.Documents)...)
	errs = append(errs, validateWatcher(&c.Watcher)...)
	errs = append(errs, validateStore(&c.Store)...)
	errs = append(errs, validateIPC(&c.IPC)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDocuments(d *DocumentsConfig) ValidationErrors {
	var errs ValidationErrors

	if d.MaxFileSizeBytes < 4096 {
		errs = append(errs, ValidationError{
			Field:   "documents.max_file_size_bytes",
			Message: "max file size must be at least 4096 bytes",
		})
	}
	if d.MaxFileSizeBytes > maxFrameBytes {
		errs = append(errs, ValidationError{
			Field:   "documents.max_file_size_bytes",
			Message: fmt.Sprintf("max file size cannot exceed the %d byte frame cap", maxFrameBytes),
		})
	}

	return errs
}

func validateWatcher(w *WatcherConfig) ValidationErrors {
	var errs ValidationErrors

	if w.DebounceMs < 100 {
		errs = append(errs, ValidationError{
			Field:   "watcher.debounce_ms",
			Message: "debounce must be at least 100ms",
		})
	}
	if w.DebounceMs > 60000 {
		errs = append(errs, ValidationError{
			Field:   "watcher.debounce_ms",
			Message: "debounce cannot exceed 60000ms (1 minute)",
		})
	}

	return errs
}

func validateStore(s *StoreConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "store.path",
			Message: "database path is required",
		})
	} else {
		// The parent may not exist yet; EnsureDirectories creates it.
		// A parent that exists but is a file is a real misconfiguration.
		dir := filepath.Dir(expandPath(s.Path))
		if dir != "" && dir != "." {
			if info, err := os.Stat(dir); err == nil && !info.IsDir() {
				errs = append(errs, ValidationError{
					Field:   "store.path",
					Message: fmt.Sprintf("parent path is not a directory: %s", dir),
				})
			}
		}
	}

	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "store.busy_timeout_ms",
			Message: "busy timeout cannot be negative",
		})
	}

	if s.RecentFilesLimit < 1 {
		errs = append(errs, ValidationError{
			Field:   "store.recent_files_limit",
			Message: "recent files limit must be at least 1",
		})
	}
	if s.RecentFilesLimit > 500 {
		errs = append(errs, ValidationError{
			Field:   "store.recent_files_limit",
			Message: "recent files limit cannot exceed 500",
		})
	}

	return errs
}

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if i.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "socket path is required",
		})
	}

	// Unix only; Windows named pipes ignore this.
	if i.Permissions != "" {
		if matched, _ := regexp.MatchString(`^0[0-7]{3}$`, i.Permissions); !matched {
			errs = append(errs, ValidationError{
				Field:   "ipc.permissions",
				Message: fmt.Sprintf("invalid permissions format: %s (expected octal like 0600)", i.Permissions),
			})
		}
	}

	if i.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_connections",
			Message: "max connections must be at least 1",
		})
	}

	if i.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.timeout_sec",
			Message: "timeout must be at least 1 second",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

// expandPath resolves a leading ~/ against the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
