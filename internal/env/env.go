package env

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Prefix marks the variables imported from a .env file.
const Prefix = "ADBSTUDIO_"

// AppDirName is the directory under the user config dir used by default.
const AppDirName = "adb-studio"

// Environment variables understood by adbstudio.
const (
	// DotEnv names the .env file to load instead of searching for one.
	DotEnv = "ADBSTUDIO_DOTENV"
	// ADBPath overrides the adb binary path stored in settings.
	ADBPath = "ADBSTUDIO_ADB_PATH"
	// ConfigDir overrides the directory holding settings.yaml.
	ConfigDir = "ADBSTUDIO_CONFIG_DIR"
	// DBPath points to the SQLite history database.
	DBPath = "ADBSTUDIO_DB_PATH"
	// PollInterval is the device registry refresh interval, e.g. "2s".
	PollInterval = "ADBSTUDIO_POLL_INTERVAL"
	// LogMaxLines bounds the logcat buffer; 0 keeps every line.
	LogMaxLines = "ADBSTUDIO_LOG_MAX_LINES"
	// StagingDir is the remote directory artifacts are pushed to before install.
	StagingDir = "ADBSTUDIO_STAGING_DIR"
	// FetchModel enables per-device model lookup during refresh.
	FetchModel = "ADBSTUDIO_FETCH_MODEL"
	// History disables the SQLite history store when false.
	History = "ADBSTUDIO_HISTORY"
	// DeviceAllowlist restricts discovery to a serial list.
	DeviceAllowlist = "ADBSTUDIO_DEVICE_ALLOWLIST"
)

var ensureOnce sync.Once

func ensureEnvLoaded() {
	ensureOnce.Do(func() {
		_ = Ensure()
	})
}

// ConfigRoot returns ADBSTUDIO_CONFIG_DIR, or the adb-studio directory under
// the user config dir.
func ConfigRoot() (string, error) {
	ensureEnvLoaded()
	return configRoot()
}

func configRoot() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(ConfigDir)); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "locate user config dir failed")
	}
	return filepath.Join(base, AppDirName), nil
}

func invalid(key, val, kind string) {
	log.Warn().Str("key", key).Str("value", val).Msgf("adbstudio: invalid %s, using default", kind)
}

// String returns the trimmed environment variable or fallback when unset.
func String(key, fallback string) string {
	ensureEnvLoaded()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Duration parses a time duration from environment or returns fallback.
func Duration(key string, fallback time.Duration) time.Duration {
	ensureEnvLoaded()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil && parsed >= 0 {
			return parsed
		}
		invalid(key, val, "duration")
	}
	return fallback
}

// Int returns an integer environment variable or fallback when invalid.
func Int(key string, fallback int) int {
	ensureEnvLoaded()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
		invalid(key, val, "integer")
	}
	return fallback
}

// Bool parses a boolean environment variable.
func Bool(key string, fallback bool) bool {
	ensureEnvLoaded()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		lower := strings.ToLower(val)
		if lower == "1" || lower == "true" || lower == "yes" {
			return true
		}
		if lower == "0" || lower == "false" || lower == "no" {
			return false
		}
		invalid(key, val, "boolean")
	}
	return fallback
}
