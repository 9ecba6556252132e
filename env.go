package adbstudio

import (
	"time"

	"github.com/aeke/adb-studio/internal/env"
)

// Environment variables read by ConfigFromEnv and the CLI.
const (
	EnvADBPath      = env.ADBPath
	EnvConfigDir    = env.ConfigDir
	EnvDBPath       = env.DBPath
	EnvPollInterval = env.PollInterval
	EnvLogMaxLines  = env.LogMaxLines
	EnvStagingDir   = env.StagingDir
	EnvFetchModel   = env.FetchModel
	EnvHistory      = env.History
	EnvAllowlist    = env.DeviceAllowlist
)

// EnvString reads an environment variable with a fallback default, loading
// .env on first use.
func EnvString(key, defaultValue string) string {
	return env.String(key, defaultValue)
}

func EnvBool(key string, defaultValue bool) bool {
	return env.Bool(key, defaultValue)
}

func EnvInt(key string, defaultValue int) int {
	return env.Int(key, defaultValue)
}

func EnvDuration(key string, defaultValue time.Duration) time.Duration {
	return env.Duration(key, defaultValue)
}
