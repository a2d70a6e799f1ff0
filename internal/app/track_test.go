package app

import (
	"strings"
	"testing"
)

func TestRunTrack_AndList(t *testing.T) {
	withStateDir(t)

	origSource, origVersion := trackSource, trackVersion
	trackSource, trackVersion = "apt", "128.0.2"
	defer func() { trackSource, trackVersion = origSource, origVersion }()

	out, err := captureStdout(t, func() error {
		return runTrack(nil, []string{"firefox"})
	})
	if err != nil {
		t.Fatalf("runTrack() error = %v", err)
	}
	if !strings.Contains(out, "Tracking firefox 128.0.2 (apt)") {
		t.Errorf("track output = %q", out)
	}

	out, err = captureStdout(t, func() error {
		return runList(nil, nil)
	})
	if err != nil {
		t.Fatalf("runList() error = %v", err)
	}
	if !strings.Contains(out, "firefox") || !strings.Contains(out, "apt") {
		t.Errorf("list output missing tracked package:\n%s", out)
	}
}

func TestRunTrack_InvalidSource(t *testing.T) {
	withStateDir(t)

	origSource, origVersion := trackSource, trackVersion
	trackSource, trackVersion = "homebrew", "1.0"
	defer func() { trackSource, trackVersion = origSource, origVersion }()

	_, err := captureStdout(t, func() error {
		return runTrack(nil, []string{"git"})
	})
	if err == nil {
		t.Fatal("runTrack() error = nil for unsupported source")
	}
}

func TestRunTrack_AURWarning(t *testing.T) {
	withStateDir(t)

	origSource, origVersion := trackSource, trackVersion
	trackSource, trackVersion = "aur", "12.3.5"
	defer func() { trackSource, trackVersion = origSource, origVersion }()

	out, err := captureStdout(t, func() error {
		return runTrack(nil, []string{"yay"})
	})
	if err != nil {
		t.Fatalf("runTrack() error = %v", err)
	}
	if !strings.Contains(out, "AUR") {
		t.Errorf("track output for AUR package carries no warning: %q", out)
	}
}

func TestRunUntrack(t *testing.T) {
	withStateDir(t)

	origSource, origVersion := trackSource, trackVersion
	trackSource, trackVersion = "pacman", "14.1.0"
	defer func() { trackSource, trackVersion = origSource, origVersion }()

	if _, err := captureStdout(t, func() error {
		return runTrack(nil, []string{"ripgrep"})
	}); err != nil {
		t.Fatalf("runTrack() error = %v", err)
	}

	origUntrack := untrackSource
	untrackSource = "pacman"
	defer func() { untrackSource = origUntrack }()

	if _, err := captureStdout(t, func() error {
		return runUntrack(nil, []string{"ripgrep"})
	}); err != nil {
		t.Fatalf("runUntrack() error = %v", err)
	}

	out, err := captureStdout(t, func() error {
		return runList(nil, nil)
	})
	if err != nil {
		t.Fatalf("runList() error = %v", err)
	}
	if !strings.Contains(out, "No packages tracked") {
		t.Errorf("list after untrack = %q, want empty message", out)
	}
}

func TestRunUntrack_NotTracked(t *testing.T) {
	withStateDir(t)

	origUntrack := untrackSource
	untrackSource = "apt"
	defer func() { untrackSource = origUntrack }()

	_, err := captureStdout(t, func() error {
		return runUntrack(nil, []string{"ghost"})
	})
	if err == nil {
		t.Fatal("runUntrack() error = nil for untracked package")
	}
}
