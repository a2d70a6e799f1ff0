package service

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning is returned by AcquireLock when another live process
// holds the service lock.
var ErrAlreadyRunning = errors.New("service already running")

// Lock is the single-instance service lock: a PID file that at most one
// live scheduler process holds per user. A lock whose owner is dead is
// stale and gets reclaimed, never treated as running forever.
type Lock struct {
	path string
}

// AcquireLock takes the lock at path for the current process. It fails with
// ErrAlreadyRunning if a live process holds it and reclaims the file if the
// recorded owner is dead.
func AcquireLock(path string) (*Lock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			if _, werr := fmt.Fprintf(f, "%d\n", os.Getpid()); werr != nil {
				f.Close()
				os.Remove(path)
				return nil, fmt.Errorf("failed to write lock file: %w", werr)
			}
			if err := f.Close(); err != nil {
				os.Remove(path)
				return nil, fmt.Errorf("failed to close lock file: %w", err)
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		pid, ok := readLockPID(path)
		if ok && processAlive(pid) {
			return nil, fmt.Errorf("%w (pid %d, lock file %s)", ErrAlreadyRunning, pid, path)
		}

		// Owner is dead or the file is garbage: reclaim and retry once.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to reclaim stale lock file: %w", err)
		}
	}
	return nil, fmt.Errorf("%w (lock file %s contended)", ErrAlreadyRunning, path)
}

// Release removes the lock file. Safe to call once per acquired lock.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// LockOwner reports the PID holding the lock at path and whether that
// process is currently alive.
func LockOwner(path string) (pid int, alive bool) {
	pid, ok := readLockPID(path)
	if !ok {
		return 0, false
	}
	return pid, processAlive(pid)
}

func readLockPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}
