// Package track persists the set of packages under update management.
//
// The store is a single JSON snapshot holding an ordered package list.
// Writes follow the temp-file-then-rename discipline so concurrent readers
// (the service process and short-lived CLI invocations) never observe a
// partially written file. Cross-process write ordering is the service
// lock's job, not this package's.
package track

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blackwell-systems/pkgtrack/internal/backend"
)

// ErrNotFound is returned when the requested (source, name) pair is not
// tracked.
var ErrNotFound = errors.New("package not tracked")

// snapshot is the on-disk JSON shape. Packages stay in insertion order so
// CLI listings are stable across runs.
type snapshot struct {
	Packages []TrackedPackage `json:"packages"`
}

// Store reads and writes the tracked-package snapshot at a fixed path.
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

// Upsert adds pkg or, if (source, name) is already tracked, refreshes its
// version and install command while preserving the original tracking time
// and check history.
func (s *Store) Upsert(pkg TrackedPackage) error {
	if pkg.Name == "" {
		return fmt.Errorf("package name cannot be empty")
	}
	if !pkg.Source.IsValid() {
		return fmt.Errorf("unknown package source %q", pkg.Source)
	}

	snap, err := s.load()
	if err != nil {
		return err
	}

	for i := range snap.Packages {
		existing := &snap.Packages[i]
		if existing.Source == pkg.Source && existing.Name == pkg.Name {
			existing.InstalledVersion = pkg.InstalledVersion
			if pkg.InstallCommand != "" {
				existing.InstallCommand = pkg.InstallCommand
			}
			return s.write(snap)
		}
	}

	snap.Packages = append(snap.Packages, pkg)
	return s.write(snap)
}

// Remove deletes the tracked record for (source, name).
func (s *Store) Remove(source backend.Source, name string) error {
	snap, err := s.load()
	if err != nil {
		return err
	}

	for i := range snap.Packages {
		if snap.Packages[i].Source == source && snap.Packages[i].Name == name {
			snap.Packages = append(snap.Packages[:i], snap.Packages[i+1:]...)
			return s.write(snap)
		}
	}
	return fmt.Errorf("%w: %s/%s", ErrNotFound, source, name)
}

// Get returns the tracked record for (source, name).
func (s *Store) Get(source backend.Source, name string) (*TrackedPackage, error) {
	snap, err := s.load()
	if err != nil {
		return nil, err
	}

	for i := range snap.Packages {
		if snap.Packages[i].Source == source && snap.Packages[i].Name == name {
			pkg := snap.Packages[i]
			return &pkg, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, source, name)
}

// ListAll returns every tracked package in insertion order.
func (s *Store) ListAll() ([]TrackedPackage, error) {
	snap, err := s.load()
	if err != nil {
		return nil, err
	}
	return snap.Packages, nil
}

// RecordCheck updates the check fields for (source, name) after an update
// query. latest may be empty when the query failed; checkedAt is still
// recorded so the check history stays durable.
func (s *Store) RecordCheck(source backend.Source, name string, latest string, checkedAt time.Time) error {
	snap, err := s.load()
	if err != nil {
		return err
	}

	for i := range snap.Packages {
		pkg := &snap.Packages[i]
		if pkg.Source == source && pkg.Name == name {
			t := checkedAt
			pkg.LastCheckedAt = &t
			if latest != "" {
				pkg.LastKnownLatestVersion = latest
			}
			return s.write(snap)
		}
	}
	return fmt.Errorf("%w: %s/%s", ErrNotFound, source, name)
}

// RecordInstalled sets the installed version after a successful update.
func (s *Store) RecordInstalled(source backend.Source, name, version string) error {
	snap, err := s.load()
	if err != nil {
		return err
	}

	for i := range snap.Packages {
		pkg := &snap.Packages[i]
		if pkg.Source == source && pkg.Name == name {
			pkg.InstalledVersion = version
			return s.write(snap)
		}
	}
	return fmt.Errorf("%w: %s/%s", ErrNotFound, source, name)
}

func (s *Store) load() (*snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &snapshot{}, nil
		}
		return nil, fmt.Errorf("failed to read tracking snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse tracking snapshot %s: %w", s.path, err)
	}
	return &snap, nil
}

func (s *Store) write(snap *snapshot) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create tracking directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tracking snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tracked-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp tracking file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp tracking file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp tracking file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename tracking snapshot: %w", err)
	}
	return nil
}
