package env

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	loadOnce   sync.Once
	loadedPath string
	loadedKeys []string
	loadErr    error
)

// Ensure loads adbstudio variables from a .env file once. The file is the one
// named by ADBSTUDIO_DOTENV, else the first .env found from the working
// directory up to the filesystem root, else .env in the config directory.
// Only ADBSTUDIO_* keys are imported; variables already set in the process
// environment win over the file. Subsequent calls are no-ops.
func Ensure() error {
	// Keep unit tests hermetic: avoid picking up developer-local `.env` by default.
	// Opt-in with GOTEST_LOAD_DOTENV=1 when running `go test`.
	if runningUnderGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	loadOnce.Do(func() {
		loadErr = load()
	})
	return loadErr
}

// LoadedPath returns the resolved .env path if one was loaded, otherwise "".
func LoadedPath() string {
	return loadedPath
}

// LoadedKeys returns the variables taken from the loaded .env file.
func LoadedKeys() []string {
	return slices.Clone(loadedKeys)
}

func load() error {
	wd, err := os.Getwd()
	if err != nil {
		return errors.Wrap(err, "adbstudio: get working dir failed")
	}
	path, err := resolveDotEnv(wd)
	if err != nil {
		log.Warn().Err(err).Msg("adbstudio: locate .env failed")
		return err
	}
	if path == "" {
		return nil
	}
	keys, err := apply(path)
	if err != nil {
		log.Warn().Err(err).Str("dotenv", path).Msg("adbstudio: load .env failed")
		return err
	}
	loadedPath, loadedKeys = path, keys
	log.Debug().Str("dotenv", path).Strs("keys", keys).Msg("adbstudio: loaded .env")
	return nil
}

// resolveDotEnv picks the .env file to load, or "" when there is none.
// An explicit ADBSTUDIO_DOTENV that does not exist is an error.
func resolveDotEnv(wd string) (string, error) {
	if explicit := strings.TrimSpace(os.Getenv(DotEnv)); explicit != "" {
		info, err := os.Stat(explicit)
		if err != nil {
			return "", errors.Wrapf(err, "%s", DotEnv)
		}
		if info.IsDir() {
			return "", errors.Errorf("%s: %s is a directory", DotEnv, explicit)
		}
		return explicit, nil
	}
	path, err := findDotEnv(wd)
	if err != nil || path != "" {
		return path, err
	}
	root, err := configRoot()
	if err != nil {
		return "", nil
	}
	return regularFile(filepath.Join(root, ".env"))
}

// apply exports the ADBSTUDIO_* keys of path that are not already set and
// returns their names.
func apply(path string) ([]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s failed", path)
	}
	var keys []string
	for key, val := range values {
		if !strings.HasPrefix(key, Prefix) {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return keys, errors.Wrapf(err, "set %s failed", key)
		}
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys, nil
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

func findDotEnv(dir string) (string, error) {
	for {
		path, err := regularFile(filepath.Join(dir, ".env"))
		if err != nil || path != "" {
			return path, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func regularFile(path string) (string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "stat %s failed", path)
	}
	if info.IsDir() {
		return "", nil
	}
	return path, nil
}
