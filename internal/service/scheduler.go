package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/blackwell-systems/pkgtrack/internal/backend"
	"github.com/blackwell-systems/pkgtrack/internal/config"
	"github.com/blackwell-systems/pkgtrack/internal/download"
	"github.com/blackwell-systems/pkgtrack/internal/history"
	"github.com/blackwell-systems/pkgtrack/internal/safety"
	"github.com/blackwell-systems/pkgtrack/internal/track"
)

// queryTimeout bounds a single backend version query; downloadTimeout
// bounds one artifact transfer. Both are per-package: a timeout fails that
// package only, never the cycle.
const (
	queryTimeout    = 30 * time.Second
	downloadTimeout = 15 * time.Minute
)

// staleArtifactAge is how long an abandoned file may sit in the download
// scratch directory before startup cleanup removes it.
const staleArtifactAge = 7 * 24 * time.Hour

// CommandRunner executes a validated shell command. Injected so tests never
// touch a real package manager.
type CommandRunner func(ctx context.Context, command string) error

// runShell is the default runner.
func runShell(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("command %q failed: %w (output: %s)", command, err, string(output))
	}
	return nil
}

// PackageResult is the per-package outcome of one check/update pass.
type PackageResult struct {
	Name          string
	Source        backend.Source
	Installed     string
	Latest        string
	UpdateFound   bool
	UpdateApplied bool
	// Pending means a newer version is known but not installed, either by
	// policy (auto-install off, check-only) or because this pass failed.
	Pending bool
	Warning string
	Err     error
}

// CycleSummary aggregates one full pass over the tracked set.
type CycleSummary struct {
	Checked      int
	UpdatesFound int
	Applied      int
	Failed       int
	Stopped      bool
	Results      []PackageResult
}

// Scheduler drives update checks over the tracked-package set. One instance
// runs the background cycle loop; manual update commands construct a
// Scheduler too and call RunCycle directly.
type Scheduler struct {
	paths    Paths
	cfgStore *config.Store
	tracked  *track.Store
	log      *history.Log
	registry backend.Registry

	runner   CommandRunner
	now      func() time.Time
	progress func(description string) func(downloaded, total int64)

	stopping atomic.Bool
	logf     func(format string, args ...any)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunner overrides the shell command runner.
func WithRunner(r CommandRunner) Option {
	return func(s *Scheduler) { s.runner = r }
}

// WithNowFunc overrides the clock.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogf overrides the diagnostic log sink.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(s *Scheduler) { s.logf = logf }
}

// WithProgress installs a per-artifact progress factory. The scheduler
// calls it once per download with a short description and wires the
// returned callback into the download job. The background loop runs
// without one; the interactive update command installs a progress bar.
func WithProgress(p func(description string) func(downloaded, total int64)) Option {
	return func(s *Scheduler) { s.progress = p }
}

// New creates a scheduler over the given state paths and backend registry.
func New(paths Paths, registry backend.Registry, log *history.Log, opts ...Option) *Scheduler {
	s := &Scheduler{
		paths:    paths,
		cfgStore: config.NewStore(paths.ConfigFile),
		tracked:  track.NewStore(paths.TrackedFile),
		log:      log,
		registry: registry,
		runner:   runShell,
		now:      time.Now,
		logf: func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestStop asks the running cycle loop to finish its current package and
// exit. Safe to call from a signal handler goroutine.
func (s *Scheduler) RequestStop() {
	s.stopping.Store(true)
}

// Run executes the background loop: sleep until the next scheduled run,
// execute a cycle, repeat. It returns after RequestStop, once any in-flight
// package has finished. Changes to the configuration file are picked up
// between cycles via a filesystem watcher.
func (s *Scheduler) Run(ctx context.Context) error {
	cfg, err := s.cfgStore.Load()
	if err != nil {
		return err
	}

	if err := download.CleanupStale(s.paths.DownloadDir, staleArtifactAge); err != nil {
		s.logf("service: scratch cleanup: %v", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()
	// Watch the directory: atomic renames replace the config file inode,
	// so watching the file itself would go quiet after the first write.
	if err := watcher.Add(s.paths.Dir); err != nil {
		return fmt.Errorf("failed to watch state directory: %w", err)
	}

	st, err := LoadState(s.paths.StateFile)
	if err != nil {
		s.logf("service: state marker unreadable, starting fresh: %v", err)
		st = State{}
	}

	next := s.nextRun(st.LastRunAt, cfg)
	st.Running = true
	st.PID = os.Getpid()
	st.NextRunAt = &next
	if err := SaveState(s.paths.StateFile, st); err != nil {
		return err
	}

	for {
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		fire := false
		for !fire {
			select {
			case <-timer.C:
				fire = true
			case ev := <-watcher.Events:
				if ev.Name == s.paths.ConfigFile && (ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0) {
					if reloaded, err := s.cfgStore.Load(); err != nil {
						s.logf("service: config reload failed: %v", err)
					} else if reloaded != cfg {
						cfg = reloaded
						next = s.nextRun(st.LastRunAt, cfg)
						st.NextRunAt = &next
						if err := SaveState(s.paths.StateFile, st); err != nil {
							s.logf("service: state save failed: %v", err)
						}
						s.logf("service: configuration reloaded, next run %s", next.Format(time.RFC3339))
						timer.Stop()
						timer = time.NewTimer(time.Until(next))
					}
				}
			case err := <-watcher.Errors:
				s.logf("service: config watcher error: %v", err)
			case <-ctx.Done():
				s.RequestStop()
			case <-time.After(time.Second):
				// Re-check the stop flag set by the signal handler.
			}
			if s.stopping.Load() {
				timer.Stop()
				return s.shutdown(st)
			}
		}
		timer.Stop()

		if cfg.AutoUpdateEnabled {
			summary := s.RunCycle(ctx, nil, !cfg.AutoInstallUpdates, false)
			s.logf("service: cycle done: %d checked, %d updates, %d applied, %d failed",
				summary.Checked, summary.UpdatesFound, summary.Applied, summary.Failed)
		}

		ranAt := s.now()
		st.LastRunAt = &ranAt
		cfg, err = s.cfgStore.Load()
		if err != nil {
			s.logf("service: config reload failed: %v", err)
		}
		next = s.nextRun(st.LastRunAt, cfg)
		st.NextRunAt = &next
		if err := SaveState(s.paths.StateFile, st); err != nil {
			s.logf("service: state save failed: %v", err)
		}

		if s.stopping.Load() {
			return s.shutdown(st)
		}
	}
}

func (s *Scheduler) shutdown(st State) error {
	st.Running = false
	st.PID = 0
	st.NextRunAt = nil
	return SaveState(s.paths.StateFile, st)
}

// nextRun computes when the next cycle should start: immediately if the
// service has never run, otherwise lastRun plus the configured interval.
func (s *Scheduler) nextRun(lastRun *time.Time, cfg config.Config) time.Time {
	if lastRun == nil {
		return s.now()
	}
	next := lastRun.Add(time.Duration(cfg.UpdateCheckIntervalHours) * time.Hour)
	if now := s.now(); next.Before(now) {
		return now
	}
	return next
}

// RunCycle checks every tracked package (or the named subset) and applies
// updates unless checkOnly is set. Per-package failures are recorded and
// the cycle continues; only the stop flag ends it early, and then only
// between packages. allowUnverified permits executing updates whose
// artifact had no checksum; manual invocations set it after explicit user
// confirmation, the background loop never does.
func (s *Scheduler) RunCycle(ctx context.Context, names []string, checkOnly, allowUnverified bool) CycleSummary {
	var summary CycleSummary

	cfg, err := s.cfgStore.Load()
	if err != nil {
		summary.Failed++
		summary.Results = append(summary.Results, PackageResult{Err: err})
		return summary
	}

	pkgs, err := s.tracked.ListAll()
	if err != nil {
		summary.Failed++
		summary.Results = append(summary.Results, PackageResult{Err: err})
		return summary
	}
	if len(names) > 0 {
		pkgs = filterByName(pkgs, names)
	}

	mgr := download.NewManager(cfg.MaxConcurrentDownloads)
	defer mgr.Close()

	for i := range pkgs {
		if s.stopping.Load() {
			summary.Stopped = true
			break
		}

		res := s.checkPackage(ctx, mgr, pkgs[i], checkOnly, allowUnverified)
		summary.Checked++
		if res.UpdateFound {
			summary.UpdatesFound++
		}
		if res.UpdateApplied {
			summary.Applied++
		}
		if res.Err != nil {
			summary.Failed++
		}
		summary.Results = append(summary.Results, res)
	}
	return summary
}

// checkPackage performs the check (and optionally the update) for a single
// package. Every error is local: it lands in the result, never aborts the
// caller's loop.
func (s *Scheduler) checkPackage(ctx context.Context, mgr *download.Manager, pkg track.TrackedPackage, checkOnly, allowUnverified bool) PackageResult {
	res := PackageResult{
		Name:      pkg.Name,
		Source:    pkg.Source,
		Installed: pkg.InstalledVersion,
	}
	if pkg.Source == backend.SourceAUR {
		res.Warning = "AUR packages are user-contributed; review updates before trusting them"
	}

	b, err := s.registry.Lookup(pkg.Source)
	if err != nil {
		res.Err = err
		s.recordCheckFailure(pkg, err)
		return res
	}

	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	latest, err := b.QueryLatestVersion(qctx, pkg.Name)
	cancel()
	checkedAt := s.now()

	// The check timestamp is durable even when the query failed.
	if rerr := s.tracked.RecordCheck(pkg.Source, pkg.Name, latest, checkedAt); rerr != nil {
		s.logf("service: failed to record check for %s/%s: %v", pkg.Source, pkg.Name, rerr)
	}

	if err != nil {
		res.Err = fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
		s.recordCheckFailure(pkg, err)
		return res
	}

	res.Latest = latest
	s.recordEvent(history.Event{
		Source:           pkg.Source,
		Package:          pkg.Name,
		Type:             history.EventCheck,
		InstalledVersion: pkg.InstalledVersion,
		LatestVersion:    latest,
		Timestamp:        checkedAt,
	})

	if latest == "" || latest == pkg.InstalledVersion {
		return res
	}
	res.UpdateFound = true

	if checkOnly {
		res.Pending = true
		return res
	}

	if err := s.applyUpdate(ctx, mgr, b, pkg, latest, allowUnverified); err != nil {
		res.Pending = true
		res.Err = err
		s.recordEvent(history.Event{
			Source:           pkg.Source,
			Package:          pkg.Name,
			Type:             history.EventFailure,
			InstalledVersion: pkg.InstalledVersion,
			LatestVersion:    latest,
			Detail:           err.Error(),
			Timestamp:        s.now(),
		})
		return res
	}

	res.UpdateApplied = true
	s.recordEvent(history.Event{
		Source:           pkg.Source,
		Package:          pkg.Name,
		Type:             history.EventUpdateApplied,
		InstalledVersion: latest,
		LatestVersion:    latest,
		Timestamp:        s.now(),
	})
	return res
}

// applyUpdate builds, validates and executes the update command for pkg,
// routing any artifact through the download manager first.
func (s *Scheduler) applyUpdate(ctx context.Context, mgr *download.Manager, b backend.Backend, pkg track.TrackedPackage, latest string, allowUnverified bool) error {
	candidate, err := s.resolveCandidate(ctx, b, pkg, latest)
	if err != nil {
		return err
	}

	command := b.BuildInstallCommand(candidate)
	if err := safety.Validate(command, pkg.Source); err != nil {
		return err
	}

	if candidate.DownloadURL != "" {
		artifact, err := s.fetchArtifact(ctx, mgr, candidate)
		if err != nil {
			return err
		}
		defer os.Remove(artifact.Path)

		if !artifact.Verified && !allowUnverified {
			return fmt.Errorf("artifact for %s is unverified (no checksum from backend); rerun with explicit confirmation to install it", pkg.Name)
		}
	}

	// The command itself is never interrupted: stop requests take effect
	// only between packages, so a half-applied system change cannot happen.
	if err := s.runner(context.WithoutCancel(ctx), command); err != nil {
		return err
	}

	if err := s.tracked.RecordInstalled(pkg.Source, pkg.Name, latest); err != nil {
		return fmt.Errorf("update applied but not recorded: %w", err)
	}
	return nil
}

// resolveCandidate finds the full candidate (artifact URL, checksum) for
// the new version, falling back to a bare candidate when the backend's
// search cannot locate it.
func (s *Scheduler) resolveCandidate(ctx context.Context, b backend.Backend, pkg track.TrackedPackage, latest string) (backend.Candidate, error) {
	sctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	candidates, err := b.Search(sctx, pkg.Name)
	if err == nil {
		for _, c := range candidates {
			if c.Name == pkg.Name {
				c.Version = latest
				return c, nil
			}
		}
	}
	return backend.Candidate{Name: pkg.Name, Version: latest, Source: pkg.Source}, nil
}

func (s *Scheduler) fetchArtifact(ctx context.Context, mgr *download.Manager, c backend.Candidate) (download.Result, error) {
	dctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	job := &download.Job{
		URL:              c.DownloadURL,
		DestinationPath:  artifactPath(s.paths.DownloadDir, c),
		ExpectedChecksum: c.Checksum,
	}
	if s.progress != nil {
		job.OnProgress = s.progress(fmt.Sprintf("%s %s", c.Name, c.Version))
	}
	return mgr.Download(dctx, job)
}

func artifactPath(dir string, c backend.Candidate) string {
	name := fmt.Sprintf("%s-%s-%s.artifact", c.Source, c.Name, c.Version)
	return filepath.Join(dir, name)
}

func (s *Scheduler) recordCheckFailure(pkg track.TrackedPackage, err error) {
	s.recordEvent(history.Event{
		Source:           pkg.Source,
		Package:          pkg.Name,
		Type:             history.EventFailure,
		InstalledVersion: pkg.InstalledVersion,
		Detail:           err.Error(),
		Timestamp:        s.now(),
	})
}

func (s *Scheduler) recordEvent(ev history.Event) {
	if s.log == nil {
		return
	}
	if err := s.log.Record(ev); err != nil {
		s.logf("service: failed to record history event: %v", err)
	}
}

func filterByName(pkgs []track.TrackedPackage, names []string) []track.TrackedPackage {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []track.TrackedPackage
	for _, p := range pkgs {
		if want[p.Name] {
			out = append(out, p)
		}
	}
	return out
}

// PendingUpdates returns the tracked packages whose last check saw a newer
// version than the installed one.
func PendingUpdates(tracked *track.Store) ([]track.TrackedPackage, error) {
	pkgs, err := tracked.ListAll()
	if err != nil {
		return nil, err
	}
	var pending []track.TrackedPackage
	for _, p := range pkgs {
		if p.UpdatePending() {
			pending = append(pending, p)
		}
	}
	return pending, nil
}
