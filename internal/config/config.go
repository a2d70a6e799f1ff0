// Package config provides the durable settings store for pkgtrack.
//
// Settings live in a single TOML snapshot. Every write serializes the full
// snapshot to a temp file and renames it over the previous one, so a reader
// never observes a half-written file and a crash mid-write leaves the prior
// snapshot intact.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

var (
	// ErrUnknownKey is returned by Get/Set for a key that is not a
	// recognized setting.
	ErrUnknownKey = errors.New("unknown configuration key")

	// ErrInvalidValue is returned by Set when the value does not parse as
	// the key's type or is out of range. The prior snapshot is untouched.
	ErrInvalidValue = errors.New("invalid configuration value")
)

// Config holds all recognized settings with their effective values.
type Config struct {
	AutoUpdateEnabled        bool `toml:"auto_update_enabled"`
	AutoInstallUpdates       bool `toml:"auto_install_updates"`
	UpdateCheckIntervalHours int  `toml:"update_check_interval_hours"`
	MaxConcurrentDownloads   int  `toml:"max_concurrent_downloads"`
}

// Default returns the configuration used before any snapshot exists.
func Default() Config {
	return Config{
		AutoUpdateEnabled:        false,
		AutoInstallUpdates:       false,
		UpdateCheckIntervalHours: 24,
		MaxConcurrentDownloads:   3,
	}
}

// Keys lists the recognized setting names in display order.
func Keys() []string {
	return []string{
		"auto_update_enabled",
		"auto_install_updates",
		"update_check_interval_hours",
		"max_concurrent_downloads",
	}
}

// Dir returns the pkgtrack state directory, creating it if needed.
// Defaults to ~/.pkgtrack; PKGTRACK_HOME overrides it.
func Dir() (string, error) {
	if dir := os.Getenv("PKGTRACK_HOME"); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create state directory %s: %w", dir, err)
		}
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	dir := filepath.Join(home, ".pkgtrack")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	return dir, nil
}

// Store reads and writes the configuration snapshot at a fixed path.
type Store struct {
	path string
}

// NewStore creates a store over the snapshot file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the snapshot file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the current snapshot. A missing file yields the defaults; a
// file that exists but does not parse is an error, never silently replaced.
func (s *Store) Load() (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config snapshot: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse config snapshot %s: %w", s.path, err)
	}

	if err := cfg.validate(); err != nil {
		return Default(), fmt.Errorf("config snapshot %s: %w", s.path, err)
	}
	return cfg, nil
}

// Get returns the effective value of key as a display string.
func (s *Store) Get(key string) (string, error) {
	cfg, err := s.Load()
	if err != nil {
		return "", err
	}

	switch key {
	case "auto_update_enabled":
		return strconv.FormatBool(cfg.AutoUpdateEnabled), nil
	case "auto_install_updates":
		return strconv.FormatBool(cfg.AutoInstallUpdates), nil
	case "update_check_interval_hours":
		return strconv.Itoa(cfg.UpdateCheckIntervalHours), nil
	case "max_concurrent_downloads":
		return strconv.Itoa(cfg.MaxConcurrentDownloads), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
}

// Set validates key/value and writes a full new snapshot atomically.
// Unknown keys and out-of-range values fail before any file is touched.
func (s *Store) Set(key, value string) error {
	cfg, err := s.Load()
	if err != nil {
		return err
	}

	switch key {
	case "auto_update_enabled":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		cfg.AutoUpdateEnabled = b
	case "auto_install_updates":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		cfg.AutoInstallUpdates = b
	case "update_check_interval_hours":
		n, err := parsePositiveInt(value)
		if err != nil {
			return err
		}
		cfg.UpdateCheckIntervalHours = n
	case "max_concurrent_downloads":
		n, err := parsePositiveInt(value)
		if err != nil {
			return err
		}
		cfg.MaxConcurrentDownloads = n
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	return s.write(cfg)
}

// List returns every recognized key with its effective value, in the order
// given by Keys.
func (s *Store) List() ([][2]string, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}

	return [][2]string{
		{"auto_update_enabled", strconv.FormatBool(cfg.AutoUpdateEnabled)},
		{"auto_install_updates", strconv.FormatBool(cfg.AutoInstallUpdates)},
		{"update_check_interval_hours", strconv.Itoa(cfg.UpdateCheckIntervalHours)},
		{"max_concurrent_downloads", strconv.Itoa(cfg.MaxConcurrentDownloads)},
	}, nil
}

// write serializes cfg to a temp file in the snapshot's directory and
// renames it into place.
func (s *Store) write(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmp.Name()

	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(cfg); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to encode config snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp config file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename config snapshot: %w", err)
	}
	return nil
}

func (c Config) validate() error {
	if c.UpdateCheckIntervalHours <= 0 {
		return fmt.Errorf("%w: update_check_interval_hours must be a positive integer", ErrInvalidValue)
	}
	if c.MaxConcurrentDownloads <= 0 {
		return fmt.Errorf("%w: max_concurrent_downloads must be a positive integer", ErrInvalidValue)
	}
	return nil
}

func parseBool(value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, value)
	}
	return b, nil
}

func parsePositiveInt(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, value)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d is not a positive integer", ErrInvalidValue, n)
	}
	return n, nil
}
