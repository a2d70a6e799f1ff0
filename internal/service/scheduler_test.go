package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/blackwell-systems/pkgtrack/internal/backend"
	"github.com/blackwell-systems/pkgtrack/internal/history"
	"github.com/blackwell-systems/pkgtrack/internal/safety"
	"github.com/blackwell-systems/pkgtrack/internal/track"
)

// fakeBackend is an in-memory adapter for scheduler tests.
type fakeBackend struct {
	source     backend.Source
	latest     map[string]string
	queryErr   map[string]error
	candidates map[string]backend.Candidate
	installCmd func(backend.Candidate) string
}

func (f *fakeBackend) Source() backend.Source { return f.source }

func (f *fakeBackend) Search(ctx context.Context, name string) ([]backend.Candidate, error) {
	if c, ok := f.candidates[name]; ok {
		return []backend.Candidate{c}, nil
	}
	return nil, nil
}

func (f *fakeBackend) QueryLatestVersion(ctx context.Context, name string) (string, error) {
	if err := f.queryErr[name]; err != nil {
		return "", err
	}
	return f.latest[name], nil
}

func (f *fakeBackend) BuildInstallCommand(c backend.Candidate) string {
	if f.installCmd != nil {
		return f.installCmd(c)
	}
	return fmt.Sprintf("apt-get install --only-upgrade %s", c.Name)
}

func (f *fakeBackend) BuildRemoveCommand(c backend.Candidate) string {
	return fmt.Sprintf("apt-get remove %s", c.Name)
}

// recordingRunner captures executed commands instead of running them.
type recordingRunner struct {
	mu       sync.Mutex
	commands []string
	err      error
}

func (r *recordingRunner) run(ctx context.Context, command string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command)
	return r.err
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commands)
}

func newTestScheduler(t *testing.T, fb *fakeBackend, runner *recordingRunner) (*Scheduler, Paths, *history.Log) {
	t.Helper()

	paths := PathsIn(t.TempDir())
	if err := os.MkdirAll(paths.DownloadDir, 0755); err != nil {
		t.Fatalf("failed to create download dir: %v", err)
	}

	registry, err := backend.NewRegistry(fb)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	log, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("history.Open() error = %v", err)
	}
	t.Cleanup(func() { log.Close() })

	s := New(paths, registry, log,
		WithRunner(runner.run),
		WithLogf(func(format string, args ...any) { t.Logf(format, args...) }),
	)
	return s, paths, log
}

func trackPackage(t *testing.T, paths Paths, pkg track.TrackedPackage) *track.Store {
	t.Helper()
	store := track.NewStore(paths.TrackedFile)
	if err := store.Upsert(pkg); err != nil {
		t.Fatalf("Upsert(%s) error = %v", pkg.Name, err)
	}
	return store
}

func TestRunCycle_CheckOnlyRecordsPendingUpdate(t *testing.T) {
	fb := &fakeBackend{
		source: backend.SourceApt,
		latest: map[string]string{"firefox": "1.2"},
	}
	runner := &recordingRunner{}
	s, paths, _ := newTestScheduler(t, fb, runner)
	store := trackPackage(t, paths, track.TrackedPackage{
		Name:             "firefox",
		Source:           backend.SourceApt,
		InstalledVersion: "1.0",
		TrackedAt:        time.Now(),
	})

	summary := s.RunCycle(context.Background(), nil, true, false)

	if summary.Checked != 1 || summary.UpdatesFound != 1 || summary.Applied != 0 {
		t.Errorf("summary = %+v, want 1 checked, 1 update found, 0 applied", summary)
	}
	res := summary.Results[0]
	if !res.UpdateFound || !res.Pending || res.Err != nil {
		t.Errorf("result = %+v, want pending update with no error", res)
	}
	if runner.count() != 0 {
		t.Errorf("runner executed %d commands in check-only mode, want 0", runner.count())
	}

	got, err := store.Get(backend.SourceApt, "firefox")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastKnownLatestVersion != "1.2" {
		t.Errorf("LastKnownLatestVersion = %q, want 1.2", got.LastKnownLatestVersion)
	}
	if got.LastCheckedAt == nil {
		t.Error("LastCheckedAt not set after check")
	}
	if !got.UpdatePending() {
		t.Error("UpdatePending() = false after check found a newer version")
	}
}

func TestRunCycle_UpToDatePackage(t *testing.T) {
	fb := &fakeBackend{
		source: backend.SourcePacman,
		latest: map[string]string{"vim": "9.1"},
	}
	runner := &recordingRunner{}
	s, paths, _ := newTestScheduler(t, fb, runner)
	trackPackage(t, paths, track.TrackedPackage{
		Name:             "vim",
		Source:           backend.SourcePacman,
		InstalledVersion: "9.1",
		TrackedAt:        time.Now(),
	})

	summary := s.RunCycle(context.Background(), nil, false, false)

	if summary.UpdatesFound != 0 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want no updates and no failures", summary)
	}
	if runner.count() != 0 {
		t.Errorf("runner executed %d commands for an up-to-date package, want 0", runner.count())
	}
}

func TestRunCycle_AppliesVerifiedUpdate(t *testing.T) {
	payload := []byte("artifact bytes for firefox 1.2")
	sum := sha256.Sum256(payload)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	fb := &fakeBackend{
		source: backend.SourceApt,
		latest: map[string]string{"firefox": "1.2"},
		candidates: map[string]backend.Candidate{
			"firefox": {
				Name:        "firefox",
				Source:      backend.SourceApt,
				DownloadURL: server.URL + "/firefox.deb",
				Checksum:    hex.EncodeToString(sum[:]),
			},
		},
	}
	runner := &recordingRunner{}
	s, paths, log := newTestScheduler(t, fb, runner)
	store := trackPackage(t, paths, track.TrackedPackage{
		Name:             "firefox",
		Source:           backend.SourceApt,
		InstalledVersion: "1.0",
		TrackedAt:        time.Now(),
	})

	summary := s.RunCycle(context.Background(), nil, false, false)

	if summary.Applied != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 1 applied, 0 failed", summary)
	}
	if runner.count() != 1 {
		t.Fatalf("runner executed %d commands, want 1", runner.count())
	}

	got, err := store.Get(backend.SourceApt, "firefox")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.InstalledVersion != "1.2" {
		t.Errorf("InstalledVersion = %q, want 1.2 after applied update", got.InstalledVersion)
	}
	if got.UpdatePending() {
		t.Error("UpdatePending() = true after update was applied")
	}

	// The artifact must not linger in the scratch directory.
	entries, err := os.ReadDir(paths.DownloadDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("download dir has %d leftover files after applied update, want 0", len(entries))
	}

	events, err := log.Recent("firefox", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	foundApplied := false
	for _, ev := range events {
		if ev.Type == history.EventUpdateApplied {
			foundApplied = true
		}
	}
	if !foundApplied {
		t.Error("no update_applied event recorded")
	}
}

func TestRunCycle_RefusesUnverifiedArtifact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("no checksum for this one"))
	}))
	defer server.Close()

	fb := &fakeBackend{
		source: backend.SourceApt,
		latest: map[string]string{"tor": "0.5"},
		candidates: map[string]backend.Candidate{
			"tor": {
				Name:        "tor",
				Source:      backend.SourceApt,
				DownloadURL: server.URL + "/tor.deb",
			},
		},
	}
	runner := &recordingRunner{}
	s, paths, _ := newTestScheduler(t, fb, runner)
	trackPackage(t, paths, track.TrackedPackage{
		Name:             "tor",
		Source:           backend.SourceApt,
		InstalledVersion: "0.4",
		TrackedAt:        time.Now(),
	})

	summary := s.RunCycle(context.Background(), nil, false, false)

	if summary.Failed != 1 || summary.Applied != 0 {
		t.Fatalf("summary = %+v, want unverified artifact refused", summary)
	}
	if !summary.Results[0].Pending {
		t.Error("result not marked pending after refusal")
	}
	if runner.count() != 0 {
		t.Errorf("runner executed %d commands for unverified artifact, want 0", runner.count())
	}

	// Explicit opt-in installs it.
	summary = s.RunCycle(context.Background(), nil, false, true)
	if summary.Applied != 1 {
		t.Fatalf("summary = %+v, want update applied with allowUnverified", summary)
	}
	if runner.count() != 1 {
		t.Errorf("runner executed %d commands, want 1", runner.count())
	}
}

func TestRunCycle_FailureIsolation(t *testing.T) {
	fb := &fakeBackend{
		source:   backend.SourceApt,
		latest:   map[string]string{"curl": "8.6"},
		queryErr: map[string]error{"broken": errors.New("mirror timeout")},
	}
	runner := &recordingRunner{}
	s, paths, _ := newTestScheduler(t, fb, runner)
	store := trackPackage(t, paths, track.TrackedPackage{
		Name:             "broken",
		Source:           backend.SourceApt,
		InstalledVersion: "1.0",
		TrackedAt:        time.Now(),
	})
	if err := store.Upsert(track.TrackedPackage{
		Name:             "curl",
		Source:           backend.SourceApt,
		InstalledVersion: "8.5",
		TrackedAt:        time.Now(),
	}); err != nil {
		t.Fatalf("Upsert(curl) error = %v", err)
	}

	summary := s.RunCycle(context.Background(), nil, false, false)

	if summary.Checked != 2 {
		t.Fatalf("Checked = %d, want 2 (failure must not abort the cycle)", summary.Checked)
	}
	if summary.Failed != 1 || summary.Applied != 1 {
		t.Errorf("summary = %+v, want 1 failed and 1 applied", summary)
	}
	if !errors.Is(summary.Results[0].Err, backend.ErrUnavailable) {
		t.Errorf("failed result error = %v, want ErrUnavailable", summary.Results[0].Err)
	}

	// The failed query still gets a durable check timestamp.
	got, err := store.Get(backend.SourceApt, "broken")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastCheckedAt == nil {
		t.Error("LastCheckedAt not recorded for failed check")
	}
}

func TestRunCycle_RejectsUnsafeInstallCommand(t *testing.T) {
	fb := &fakeBackend{
		source: backend.SourcePacman,
		latest: map[string]string{"evil": "2.0"},
		installCmd: func(c backend.Candidate) string {
			return "pacman -S evil; rm -rf /"
		},
	}
	runner := &recordingRunner{}
	s, paths, _ := newTestScheduler(t, fb, runner)
	trackPackage(t, paths, track.TrackedPackage{
		Name:             "evil",
		Source:           backend.SourcePacman,
		InstalledVersion: "1.0",
		TrackedAt:        time.Now(),
	})

	summary := s.RunCycle(context.Background(), nil, false, false)

	if summary.Failed != 1 {
		t.Fatalf("summary = %+v, want unsafe command rejected", summary)
	}
	if !errors.Is(summary.Results[0].Err, safety.ErrUnsafeCommand) {
		t.Errorf("error = %v, want ErrUnsafeCommand", summary.Results[0].Err)
	}
	if runner.count() != 0 {
		t.Errorf("runner executed %d commands, want 0 for rejected command", runner.count())
	}
}

func TestRunCycle_NameFilter(t *testing.T) {
	fb := &fakeBackend{
		source: backend.SourceApt,
		latest: map[string]string{"curl": "8.6", "vim": "9.2"},
	}
	runner := &recordingRunner{}
	s, paths, _ := newTestScheduler(t, fb, runner)
	store := trackPackage(t, paths, track.TrackedPackage{
		Name: "curl", Source: backend.SourceApt, InstalledVersion: "8.5", TrackedAt: time.Now(),
	})
	if err := store.Upsert(track.TrackedPackage{
		Name: "vim", Source: backend.SourceApt, InstalledVersion: "9.1", TrackedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Upsert(vim) error = %v", err)
	}

	summary := s.RunCycle(context.Background(), []string{"vim"}, true, false)

	if summary.Checked != 1 {
		t.Fatalf("Checked = %d, want 1 with name filter", summary.Checked)
	}
	if summary.Results[0].Name != "vim" {
		t.Errorf("checked package = %q, want vim", summary.Results[0].Name)
	}
}

func TestRunCycle_StopBeforeFirstPackage(t *testing.T) {
	fb := &fakeBackend{
		source: backend.SourceApt,
		latest: map[string]string{"curl": "8.6"},
	}
	runner := &recordingRunner{}
	s, paths, _ := newTestScheduler(t, fb, runner)
	trackPackage(t, paths, track.TrackedPackage{
		Name: "curl", Source: backend.SourceApt, InstalledVersion: "8.5", TrackedAt: time.Now(),
	})

	s.RequestStop()
	summary := s.RunCycle(context.Background(), nil, false, false)

	if !summary.Stopped {
		t.Error("Stopped = false, want true after RequestStop")
	}
	if summary.Checked != 0 {
		t.Errorf("Checked = %d, want 0 when stopped before the first package", summary.Checked)
	}
}

func TestRunCycle_AURWarning(t *testing.T) {
	fb := &fakeBackend{
		source: backend.SourceAUR,
		latest: map[string]string{"yay": "12.0"},
	}
	runner := &recordingRunner{}
	s, paths, _ := newTestScheduler(t, fb, runner)
	trackPackage(t, paths, track.TrackedPackage{
		Name: "yay", Source: backend.SourceAUR, InstalledVersion: "11.0", TrackedAt: time.Now(),
	})

	summary := s.RunCycle(context.Background(), nil, true, false)

	if summary.Results[0].Warning == "" {
		t.Error("AUR package result carries no warning")
	}
}

func TestRun_StopsAndPersistsState(t *testing.T) {
	fb := &fakeBackend{source: backend.SourceApt, latest: map[string]string{}}
	runner := &recordingRunner{}
	s, paths, _ := newTestScheduler(t, fb, runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Give the loop time to write its running marker, then stop it.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := LoadState(paths.StateFile)
		if err == nil && st.Running {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not stop after context cancellation")
	}

	st, err := LoadState(paths.StateFile)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if st.Running {
		t.Error("state still marked running after shutdown")
	}
}

func TestPendingUpdates(t *testing.T) {
	tmpDir := t.TempDir()
	paths := PathsIn(tmpDir)
	store := track.NewStore(paths.TrackedFile)

	now := time.Now()
	pkgs := []track.TrackedPackage{
		{Name: "curl", Source: backend.SourceApt, InstalledVersion: "8.5", LastKnownLatestVersion: "8.6", TrackedAt: now},
		{Name: "vim", Source: backend.SourceApt, InstalledVersion: "9.1", LastKnownLatestVersion: "9.1", TrackedAt: now},
		{Name: "jq", Source: backend.SourceApt, InstalledVersion: "1.7", TrackedAt: now},
	}
	for _, p := range pkgs {
		if err := store.Upsert(p); err != nil {
			t.Fatalf("Upsert(%s) error = %v", p.Name, err)
		}
	}

	pending, err := PendingUpdates(store)
	if err != nil {
		t.Fatalf("PendingUpdates() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "curl" {
		t.Errorf("PendingUpdates() = %+v, want only curl", pending)
	}
}
