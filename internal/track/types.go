package track

import (
	"time"

	"github.com/blackwell-systems/pkgtrack/internal/backend"
)

// TrackedPackage is one package under update management. Packages are keyed
// by (Source, Name); the same name may be tracked under two sources.
type TrackedPackage struct {
	Name             string         `json:"name"`
	Source           backend.Source `json:"source"`
	InstalledVersion string         `json:"installed_version"`

	// InstallCommand is the exact command used at install time, reused as
	// the template for updates.
	InstallCommand string `json:"install_command,omitempty"`

	TrackedAt time.Time `json:"tracked_at"`

	// LastCheckedAt is nil until the first update check completes.
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`

	// LastKnownLatestVersion is set by the most recent successful check.
	LastKnownLatestVersion string `json:"last_known_latest_version,omitempty"`
}

// UpdatePending reports whether the most recent check saw a version newer
// than the installed one.
func (p *TrackedPackage) UpdatePending() bool {
	return p.LastKnownLatestVersion != "" && p.LastKnownLatestVersion != p.InstalledVersion
}
