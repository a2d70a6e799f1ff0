// Package backend defines the capability interface that native package
// manager adapters implement. The core engine never shells out to a package
// manager directly; it asks the adapter for metadata and command strings and
// runs those commands only after safety validation.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable is returned when a backend cannot answer a query, either
// because the underlying package manager is not installed or because the
// query itself failed.
var ErrUnavailable = errors.New("backend unavailable")

// Source identifies a native package manager.
type Source string

// Supported package manager backends.
const (
	SourcePacman  Source = "pacman"
	SourceAUR     Source = "aur"
	SourceApt     Source = "apt"
	SourceDnf     Source = "dnf"
	SourceFlatpak Source = "flatpak"
	SourceSnap    Source = "snap"
)

// Sources returns all supported sources in a stable order.
func Sources() []Source {
	return []Source{SourcePacman, SourceAUR, SourceApt, SourceDnf, SourceFlatpak, SourceSnap}
}

// IsValid reports whether s is one of the supported sources.
func (s Source) IsValid() bool {
	switch s {
	case SourcePacman, SourceAUR, SourceApt, SourceDnf, SourceFlatpak, SourceSnap:
		return true
	}
	return false
}

// ParseSource converts a user-supplied string into a Source.
func ParseSource(s string) (Source, error) {
	src := Source(s)
	if !src.IsValid() {
		return "", fmt.Errorf("unknown package source %q", s)
	}
	return src, nil
}

// Candidate is a package as reported by a backend search or update query.
type Candidate struct {
	Name        string
	Version     string
	Source      Source
	Description string

	// DownloadURL points at the update artifact, if the backend exposes one.
	// Empty when the package manager handles fetching itself.
	DownloadURL string

	// Checksum is the backend-supplied sha256 hex digest of the artifact.
	// Empty means no integrity metadata is available; downloads of such
	// artifacts complete as unverified.
	Checksum string
}

// Backend is the per-package-manager adapter capability. One implementation
// exists per Source; the system detector resolves the set available on the
// host at startup and hands the engine a Registry.
type Backend interface {
	// Source returns the package manager this adapter speaks for.
	Source() Source

	// Search returns candidates matching name, best match first.
	Search(ctx context.Context, name string) ([]Candidate, error)

	// QueryLatestVersion returns the newest version the backend knows for
	// name, or ErrUnavailable if it cannot answer.
	QueryLatestVersion(ctx context.Context, name string) (string, error)

	// BuildInstallCommand returns the shell command that installs c.
	BuildInstallCommand(c Candidate) string

	// BuildRemoveCommand returns the shell command that removes c.
	BuildRemoveCommand(c Candidate) string
}

// Registry maps each available source to its adapter. It is populated once
// at startup and read-only afterwards, so no locking is needed.
type Registry map[Source]Backend

// NewRegistry builds a registry from the given adapters. Duplicate sources
// are an error: two adapters for one package manager would make update
// results nondeterministic.
func NewRegistry(backends ...Backend) (Registry, error) {
	r := make(Registry, len(backends))
	for _, b := range backends {
		src := b.Source()
		if !src.IsValid() {
			return nil, fmt.Errorf("adapter reports unknown source %q", src)
		}
		if _, dup := r[src]; dup {
			return nil, fmt.Errorf("duplicate adapter for source %q", src)
		}
		r[src] = b
	}
	return r, nil
}

// Lookup returns the adapter for src, or ErrUnavailable if none is
// registered (the package manager is absent on this host).
func (r Registry) Lookup(src Source) (Backend, error) {
	b, ok := r[src]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for source %q", ErrUnavailable, src)
	}
	return b, nil
}
