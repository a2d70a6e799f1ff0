package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/pkgtrack/internal/backend"
	"github.com/blackwell-systems/pkgtrack/internal/history"
	"github.com/blackwell-systems/pkgtrack/internal/service"
)

var (
	stateDir string

	// registry holds the backend adapters available on this host. It is
	// empty by default; the embedding distribution wires real adapters at
	// startup via SetRegistry. Packages whose source has no adapter fail
	// their checks with a backend-unavailable error, which is recorded
	// per package and never aborts a batch.
	registry = backend.Registry{}

	// RootCmd is the root command for pkgtrack
	RootCmd = &cobra.Command{
		Use:   "pkgtrack",
		Short: "Track installed packages and keep them updated",
		Long: `pkgtrack records packages installed from heterogeneous sources (pacman,
AUR, apt, dnf, flatpak, snap) and periodically checks those sources for
newer versions, applying updates safely when configured to.

Quick Start:
  1. pkgtrack track firefox --source apt --version 1.0
  2. pkgtrack service start       # background update checks
  3. pkgtrack update --check-only # or check manually any time

Features:
  • Durable tracked-package store, crash-safe across interruptions
  • Background update service with a single-instance lock
  • Resumable, checksum-verified artifact downloads
  • Every generated shell command validated before execution

Examples:
  # Track a package you installed
  pkgtrack track ripgrep --source pacman --version 14.1.0

  # See what is tracked and what has updates pending
  pkgtrack list
  pkgtrack update --check-only

  # Apply updates for specific packages
  pkgtrack update firefox ripgrep

  # Run checks in the background
  pkgtrack service start
  pkgtrack service status`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := appPaths()
			if err != nil {
				return err
			}
			if _, err := os.Stat(paths.TrackedFile); os.IsNotExist(err) {
				fmt.Println("pkgtrack: package tracking and auto-update")
				fmt.Println()
				fmt.Println("Run 'pkgtrack track <name> --source <s> --version <v>' to get started.")
				fmt.Println("Run 'pkgtrack --help' for the full reference.")
			} else {
				fmt.Println("pkgtrack: package tracking and auto-update")
				fmt.Println()
				fmt.Println("Tip: Run 'pkgtrack list' to see tracked packages.")
				fmt.Println("     Run 'pkgtrack update --check-only' to check for updates.")
				fmt.Println("     Run 'pkgtrack --help' for all commands.")
			}
			return nil
		},
	}
)

func init() {
	// Global flags
	RootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "state directory (default: ~/.pkgtrack)")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

// SetRegistry installs the backend adapters resolved for this host. Must be
// called before Execute.
func SetRegistry(r backend.Registry) {
	registry = r
}

// appPaths resolves the state directory from the flag or the default
// location and returns the full path set.
func appPaths() (service.Paths, error) {
	if stateDir != "" {
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return service.Paths{}, fmt.Errorf("failed to create state directory: %w", err)
		}
		return service.PathsIn(stateDir), nil
	}
	return service.DefaultPaths()
}

// openHistory opens the event log next to the other state files.
func openHistory(paths service.Paths) (*history.Log, error) {
	log, err := history.Open(paths.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return log, nil
}
