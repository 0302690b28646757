// Package config handles configuration loading and validation for the
// mirrorshard daemon.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// DataDir returns the daemon's data directory, honoring the
// MIRRORSHARD_DATA_DIR override.
func DataDir() string {
	if dir := os.Getenv("MIRRORSHARD_DATA_DIR"); dir != "" {
		return dir
	}
	return PlatformDataDir()
}

// ConfigDir returns the daemon's config directory, honoring the
// MIRRORSHARD_CONFIG_DIR override.
func ConfigDir() string {
	if dir := os.Getenv("MIRRORSHARD_CONFIG_DIR"); dir != "" {
		return dir
	}
	return PlatformConfigDir()
}

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/mirrorshard/
//   - Linux:   ~/.local/share/mirrorshard/
//   - Windows: %APPDATA%\mirrorshard\
//
// Falls back to ~/.mirrorshard if platform detection fails.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "linux":
		return linuxDataDir()
	case "windows":
		return windowsDataDir()
	default:
		return fallbackDataDir()
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/mirrorshard/
//   - Linux:   ~/.config/mirrorshard/
//   - Windows: %APPDATA%\mirrorshard\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir() // macOS uses the same dir for config and data
	case "linux":
		return linuxConfigDir()
	case "windows":
		return windowsDataDir() // Windows uses the same dir for config and data
	default:
		return fallbackDataDir()
	}
}

// PlatformCacheDir returns the platform-specific cache directory.
//
// Platform paths:
//   - macOS:   ~/Library/Caches/mirrorshard/
//   - Linux:   ~/.cache/mirrorshard/
//   - Windows: %LOCALAPPDATA%\mirrorshard\cache\
func PlatformCacheDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSCacheDir()
	case "linux":
		return linuxCacheDir()
	case "windows":
		return windowsCacheDir()
	default:
		return filepath.Join(fallbackDataDir(), "cache")
	}
}

// PlatformLogDir returns the platform-specific log directory.
//
// Platform paths:
//   - macOS:   ~/Library/Logs/mirrorshard/
//   - Linux:   ~/.local/state/mirrorshard/
//   - Windows: %LOCALAPPDATA%\mirrorshard\logs\
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSLogDir()
	case "linux":
		return linuxStateDir()
	case "windows":
		return windowsLogDir()
	default:
		return filepath.Join(fallbackDataDir(), "logs")
	}
}

// PlatformRuntimeDir returns the platform-specific runtime directory for
// sockets and lock files.
//
// Platform paths:
//   - macOS:   /tmp/mirrorshard-$UID/
//   - Linux:   $XDG_RUNTIME_DIR/mirrorshard/ or /tmp/mirrorshard-$UID/
//   - Windows: (uses named pipes, not applicable)
func PlatformRuntimeDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join("/tmp", "mirrorshard-"+userID())
	case "linux":
		return linuxRuntimeDir()
	case "windows":
		return "" // Windows uses named pipes
	default:
		return filepath.Join("/tmp", "mirrorshard-"+userID())
	}
}

// macOS-specific paths

func macOSDataDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Application Support", "mirrorshard")
}

func macOSCacheDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Caches", "mirrorshard")
}

func macOSLogDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Logs", "mirrorshard")
}

// Linux-specific paths following the XDG Base Directory Specification

func linuxDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "mirrorshard")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "mirrorshard")
}

func linuxConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "mirrorshard")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "mirrorshard")
}

func linuxCacheDir() string {
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		return filepath.Join(xdgCache, "mirrorshard")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "mirrorshard")
}

func linuxStateDir() string {
	if xdgState := os.Getenv("XDG_STATE_HOME"); xdgState != "" {
		return filepath.Join(xdgState, "mirrorshard")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "mirrorshard")
}

func linuxRuntimeDir() string {
	if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
		return filepath.Join(xdgRuntime, "mirrorshard")
	}
	return filepath.Join("/tmp", "mirrorshard-"+userID())
}

// Windows-specific paths

func windowsDataDir() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "mirrorshard")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "AppData", "Roaming", "mirrorshard")
}

func windowsCacheDir() string {
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		return filepath.Join(localAppData, "mirrorshard", "cache")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "AppData", "Local", "mirrorshard", "cache")
}

func windowsLogDir() string {
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		return filepath.Join(localAppData, "mirrorshard", "logs")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "AppData", "Local", "mirrorshard", "logs")
}

// Fallback path for unrecognized platforms

func fallbackDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mirrorshard")
}

func userID() string {
	if uid := os.Getuid(); uid >= 0 {
		return strconv.Itoa(uid)
	}
	return "0"
}

// DefaultPaths collects every well-known path for the current platform.
type DefaultPaths struct {
	DataDir    string
	ConfigDir  string
	CacheDir   string
	LogDir     string
	RuntimeDir string

	ConfigFile   string
	DatabaseFile string
	SettingsFile string
	SocketPath   string
	LockFile     string
	PIDFile      string
}

// GetDefaultPaths returns all default paths for the current platform,
// honoring the MIRRORSHARD_DATA_DIR and MIRRORSHARD_CONFIG_DIR overrides.
func GetDefaultPaths() *DefaultPaths {
	dataDir := DataDir()
	configDir := ConfigDir()
	cacheDir := PlatformCacheDir()
	logDir := PlatformLogDir()
	runtimeDir := PlatformRuntimeDir()

	// Windows has no runtime dir, so lock and PID files live with the data.
	lockDir := runtimeDir
	if lockDir == "" {
		lockDir = dataDir
	}

	return &DefaultPaths{
		DataDir:    dataDir,
		ConfigDir:  configDir,
		CacheDir:   cacheDir,
		LogDir:     logDir,
		RuntimeDir: runtimeDir,

		ConfigFile:   filepath.Join(configDir, "config.toml"),
		DatabaseFile: filepath.Join(dataDir, "session.db"),
		SettingsFile: filepath.Join(configDir, "settings.json"),
		SocketPath:   defaultSocketPath(runtimeDir),
		LockFile:     filepath.Join(lockDir, "mirrorshardd.lock"),
		PIDFile:      filepath.Join(lockDir, "mirrorshardd.pid"),
	}
}

func defaultSocketPath(runtimeDir string) string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\mirrorshard`
	}
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "mirrorshardd.sock")
	}
	return "/tmp/mirrorshardd.sock"
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"json",
		"yaml",
		"yml",
	}
}

// FindConfigFile searches for a config file in standard locations and
// returns the first hit, or empty string if none is found.
func FindConfigFile() string {
	searchDirs := []string{
		".",
		ConfigDir(),
		DataDir(),
	}

	for _, dir := range searchDirs {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	return ""
}
