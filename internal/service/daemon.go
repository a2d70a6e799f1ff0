package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"
)

// StartDaemon launches the service as a detached background process by
// re-executing the current binary with an internal child flag. Output goes
// to the service log file. The child acquires the lock itself, so a second
// start fails there with ErrAlreadyRunning.
func StartDaemon(paths Paths) error {
	if pid, alive := LockOwner(paths.LockFile); alive {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}

	logF, err := os.OpenFile(paths.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open service log file: %w", err)
	}
	defer logF.Close()

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// The child re-resolves its paths from the flag, not the parent's
	// environment, so custom state directories survive the re-exec.
	cmd := exec.Command(executable, "service", "start", "--daemon-child", "--state-dir", paths.Dir)
	cmd.Stdout = logF
	cmd.Stderr = logF
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // new session, detached from the terminal
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start service process: %w", err)
	}
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("failed to release service process: %w", err)
	}
	return nil
}

// RunService is the service main loop entry point, called in the child
// process (or in the foreground for debugging). It acquires the single-
// instance lock, wires shutdown signals to a cooperative stop, and runs the
// scheduler until stopped.
func RunService(ctx context.Context, s *Scheduler, paths Paths) error {
	lock, err := AcquireLock(paths.LockFile)
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := os.MkdirAll(paths.DownloadDir, 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "service: received signal %v, finishing current package before exit\n", sig)
		s.RequestStop()
	}()

	return s.Run(ctx)
}

// StopDaemon signals a running service to stop and waits briefly for the
// lock to clear. The service finishes its in-flight package first, so the
// wait can legitimately take a while; we poll, not kill.
func StopDaemon(paths Paths, wait time.Duration) error {
	pid, alive := LockOwner(paths.LockFile)
	if !alive {
		return fmt.Errorf("service not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find service process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal service process %d: %w", pid, err)
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if _, alive := LockOwner(paths.LockFile); !alive {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("service (pid %d) did not stop within %s; it may be mid-update", pid, wait)
}
