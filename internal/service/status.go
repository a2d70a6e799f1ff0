package service

import (
	"fmt"

	"github.com/blackwell-systems/pkgtrack/internal/track"
)

// Status describes the observable state of the service for reporting.
type Status struct {
	Running        bool
	PID            int
	LastRunAt      *string
	NextRunAt      *string
	PendingUpdates []track.TrackedPackage
}

// CurrentStatus combines the lock file, persisted schedule state, and the
// tracking store into one report. The lock is authoritative for liveness;
// the state file can say Running=true after a crash, so it is only trusted
// when the lock holder is actually alive.
func CurrentStatus(paths Paths) (Status, error) {
	var status Status

	pid, alive := LockOwner(paths.LockFile)
	status.Running = alive
	if alive {
		status.PID = pid
	}

	st, err := LoadState(paths.StateFile)
	if err != nil {
		return status, fmt.Errorf("failed to load service state: %w", err)
	}
	if st.LastRunAt != nil {
		s := st.LastRunAt.Format("2006-01-02 15:04:05")
		status.LastRunAt = &s
	}
	if alive && st.NextRunAt != nil {
		s := st.NextRunAt.Format("2006-01-02 15:04:05")
		status.NextRunAt = &s
	}

	tracked := track.NewStore(paths.TrackedFile)
	pending, err := PendingUpdates(tracked)
	if err != nil {
		return status, fmt.Errorf("failed to load tracked packages: %w", err)
	}
	status.PendingUpdates = pending

	return status, nil
}
