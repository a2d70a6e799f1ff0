// Package download fetches update artifacts with bounded concurrency,
// resumable transfers and mandatory integrity checking.
//
// A fixed worker pool sized to the max_concurrent_downloads setting serves
// jobs in submission order; extra jobs queue until a slot frees. At most one
// job may target a given destination path at a time. A completed transfer is
// checksummed before the caller ever sees a path; mismatches delete the
// artifact. Transfers interrupted by context cancellation keep their partial
// bytes and resume from that offset on the next attempt when the server
// supports range requests.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	// ErrChecksumMismatch is returned when the downloaded artifact does not
	// match the job's expected checksum. The artifact is deleted first.
	ErrChecksumMismatch = errors.New("artifact checksum mismatch")

	// ErrDestinationBusy is returned when another job is already writing to
	// the same destination path.
	ErrDestinationBusy = errors.New("destination already has an active download")
)

// queueCapacity bounds how many jobs may wait for a worker before Download
// itself blocks on submission.
const queueCapacity = 256

type request struct {
	ctx  context.Context
	job  *Job
	done chan outcome
}

type outcome struct {
	result Result
	err    error
}

// Manager runs download jobs over a fixed-size worker pool.
type Manager struct {
	client  *retryClient
	queue   chan *request
	wg      sync.WaitGroup
	mu      sync.Mutex
	active  map[string]struct{}
	closing bool
}

// NewManager starts a manager with the given worker count, which bounds the
// number of jobs in flight simultaneously.
func NewManager(workers int) *Manager {
	return NewManagerWithConfig(workers, DefaultRetryConfig())
}

// NewManagerWithConfig starts a manager with a custom retry schedule.
func NewManagerWithConfig(workers int, rc RetryConfig) *Manager {
	if workers < 1 {
		workers = 1
	}
	m := &Manager{
		client: newRetryClient(rc),
		queue:  make(chan *request, queueCapacity),
		active: make(map[string]struct{}),
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// Close drains the queue and stops the workers. Pending jobs are still
// served; calling Download after Close is an error.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}
	m.closing = true
	m.mu.Unlock()

	close(m.queue)
	m.wg.Wait()
}

// Download runs job to completion and returns the artifact path. It blocks
// until a worker slot frees, the transfer and verification finish, or ctx is
// canceled. On cancellation mid-transfer the partial file is kept for
// resumption; on any other failure the destination file is removed.
func (m *Manager) Download(ctx context.Context, job *Job) (Result, error) {
	if job.URL == "" || job.DestinationPath == "" {
		return Result{}, fmt.Errorf("download job requires a URL and destination path")
	}

	if err := m.acquire(job.DestinationPath); err != nil {
		return Result{}, err
	}
	defer m.release(job.DestinationPath)

	req := &request{ctx: ctx, job: job, done: make(chan outcome, 1)}
	select {
	case m.queue <- req:
	case <-ctx.Done():
		job.setState(StateFailed)
		return Result{}, ctx.Err()
	}

	out := <-req.done
	return out.result, out.err
}

func (m *Manager) acquire(dest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return fmt.Errorf("download manager is closed")
	}
	if _, busy := m.active[dest]; busy {
		return fmt.Errorf("%w: %s", ErrDestinationBusy, dest)
	}
	m.active[dest] = struct{}{}
	return nil
}

func (m *Manager) release(dest string) {
	m.mu.Lock()
	delete(m.active, dest)
	m.mu.Unlock()
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for req := range m.queue {
		result, err := m.run(req.ctx, req.job)
		req.done <- outcome{result: result, err: err}
	}
}

// run performs the transfer and verification for one job.
func (m *Manager) run(ctx context.Context, job *Job) (Result, error) {
	if err := ctx.Err(); err != nil {
		job.setState(StateFailed)
		return Result{}, err
	}

	job.setState(StateInProgress)

	if err := os.MkdirAll(filepath.Dir(job.DestinationPath), 0755); err != nil {
		job.setState(StateFailed)
		return Result{}, fmt.Errorf("failed to create download directory: %w", err)
	}

	// Partial bytes from an interrupted transfer become the resume offset.
	var offset int64
	if info, err := os.Stat(job.DestinationPath); err == nil {
		offset = info.Size()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		job.setState(StateFailed)
		return Result{}, fmt.Errorf("failed to build download request: %w", err)
	}
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := m.client.do(ctx, httpReq)
	if err != nil {
		job.setState(StateFailed)
		m.removeArtifact(job)
		return Result{}, fmt.Errorf("download of %s failed: %w", job.URL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// Server honors the range; append to the partial file.
	case http.StatusOK:
		// No range support (or no partial file): restart from zero.
		offset = 0
	default:
		job.setState(StateFailed)
		m.removeArtifact(job)
		return Result{}, fmt.Errorf("download of %s failed: server returned status %d", job.URL, resp.StatusCode)
	}
	job.setBytes(offset)

	if resp.ContentLength >= 0 {
		job.setTotal(offset + resp.ContentLength)
	}

	if err := m.transfer(ctx, job, resp.Body, offset); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Cooperative interruption keeps the partial file so the next
			// attempt resumes instead of restarting.
			job.setState(StatePaused)
			return Result{}, err
		}
		job.setState(StateFailed)
		m.removeArtifact(job)
		return Result{}, err
	}

	return m.verify(job)
}

// transfer streams the response body into the destination file, appending
// from offset when resuming.
func (m *Manager) transfer(ctx context.Context, job *Job, body io.Reader, offset int64) error {
	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(job.DestinationPath, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open destination file: %w", err)
	}

	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			f.Close()
			return err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				f.Close()
				return fmt.Errorf("failed to write artifact: %w", err)
			}
			job.addBytes(int64(n))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("failed to read artifact body: %w", readErr)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close artifact file: %w", err)
	}
	return nil
}

// verify checksums the complete artifact. No caller ever receives a path to
// content that failed verification.
func (m *Manager) verify(job *Job) (Result, error) {
	job.setState(StateVerifying)

	if job.ExpectedChecksum == "" {
		// No integrity metadata from the backend: the artifact is usable
		// but tagged unverified, and the scheduler must not auto-execute it.
		job.setState(StateComplete)
		return Result{Path: job.DestinationPath, Verified: false}, nil
	}

	sum, err := fileChecksum(job.DestinationPath)
	if err != nil {
		job.setState(StateFailed)
		m.removeArtifact(job)
		return Result{}, fmt.Errorf("failed to checksum artifact: %w", err)
	}

	if !strings.EqualFold(sum, job.ExpectedChecksum) {
		job.setState(StateFailed)
		m.removeArtifact(job)
		return Result{}, fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, job.ExpectedChecksum, sum)
	}

	job.setState(StateComplete)
	return Result{Path: job.DestinationPath, Verified: true}, nil
}

func (m *Manager) removeArtifact(job *Job) {
	if err := os.Remove(job.DestinationPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "download: failed to remove artifact %s: %v\n", job.DestinationPath, err)
	}
}

// fileChecksum computes the sha256 hex digest of the file at path.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Checksum returns the sha256 hex digest of an arbitrary file. Exposed for
// callers that verify artifacts obtained outside the manager.
func Checksum(path string) (string, error) {
	return fileChecksum(path)
}

// CleanupStale removes files in dir older than maxAge. The service calls
// this at startup so abandoned partial artifacts do not accumulate in the
// scratch directory.
func CleanupStale(dir string, maxAge time.Duration) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read download directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
				return fmt.Errorf("failed to remove stale artifact %s: %w", entry.Name(), err)
			}
		}
	}
	return nil
}
