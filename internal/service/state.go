package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State is the service's durable run marker, written atomically so status
// readers in other processes never see a torn file.
type State struct {
	Running   bool       `json:"running"`
	PID       int        `json:"pid,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// LoadState reads the state marker at path. A missing file yields the zero
// state (never run, not running).
func LoadState(path string) (State, error) {
	var st State

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("failed to read service state: %w", err)
	}

	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("failed to parse service state %s: %w", path, err)
	}
	return st, nil
}

// SaveState writes st to path via temp-file rename.
func SaveState(path string, st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode service state: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".service-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename service state: %w", err)
	}
	return nil
}
