// Package settings persists the user-editable configuration record.
package settings

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/aeke/adb-studio/internal/env"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	fileName      = "settings.yaml"
	fileMode      = 0o644
	directoryMode = 0o755
)

// Settings is the persisted record.
type Settings struct {
	ADBPath  string `yaml:"adb_path"`
	DarkMode bool   `yaml:"dark_mode"`
}

// Store holds the loaded settings and writes every change back to disk.
type Store struct {
	path string

	mu       sync.RWMutex
	settings Settings
}

// DefaultPath returns settings.yaml under ADBSTUDIO_CONFIG_DIR or the user
// config directory.
func DefaultPath() (string, error) {
	root, err := env.ConfigRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, fileName), nil
}

// Load reads path. A missing file yields default settings.
func Load(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Debug().Str("path", path).Msg("settings file not found, using defaults")
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read settings %s failed", path)
	}
	if err := yaml.Unmarshal(data, &s.settings); err != nil {
		return nil, errors.Wrapf(err, "parse settings %s failed", path)
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Settings returns a copy of the stored record.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// ADBPath returns the adb binary path. ADBSTUDIO_ADB_PATH overrides the
// stored value for this process without being written back.
func (s *Store) ADBPath() string {
	if override := env.String(env.ADBPath, ""); override != "" {
		return override
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.ADBPath
}

func (s *Store) DarkMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.DarkMode
}

// SetADBPath stores path and saves the file.
func (s *Store) SetADBPath(path string) error {
	return s.update(func(st *Settings) { st.ADBPath = path })
}

// SetDarkMode stores enabled and saves the file.
func (s *Store) SetDarkMode(enabled bool) error {
	return s.update(func(st *Settings) { st.DarkMode = enabled })
}

func (s *Store) update(mutate func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.settings
	mutate(&next)
	if err := s.save(next); err != nil {
		return err
	}
	s.settings = next
	return nil
}

// save writes through a temp file so a crash never leaves a truncated file.
func (s *Store) save(st Settings) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "encode settings failed")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), directoryMode); err != nil {
		return errors.Wrapf(err, "create settings dir for %s failed", s.path)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return errors.Wrapf(err, "write settings %s failed", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrapf(err, "replace settings %s failed", s.path)
	}
	log.Debug().Str("path", s.path).Msg("settings saved")
	return nil
}
