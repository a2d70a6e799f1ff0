package download

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func testArtifact(t *testing.T, size int) ([]byte, string) {
	t.Helper()
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("failed to generate artifact: %v", err)
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:])
}

// rangeServer serves content with range-request support and records the
// Range header of the most recent request.
func rangeServer(t *testing.T, content []byte) (*httptest.Server, *string) {
	t.Helper()
	var lastRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastRange = r.Header.Get("Range")
		http.ServeContent(w, r, "artifact.tar", time.Now(), bytes.NewReader(content))
	}))
	t.Cleanup(srv.Close)
	return srv, &lastRange
}

func fastManager(t *testing.T, workers int) *Manager {
	t.Helper()
	m := NewManagerWithConfig(workers, RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond})
	t.Cleanup(m.Close)
	return m
}

func TestDownload_FullTransfer_Verified(t *testing.T) {
	content, sum := testArtifact(t, 64*1024)
	srv, _ := rangeServer(t, content)
	m := fastManager(t, 1)

	dest := filepath.Join(t.TempDir(), "pkg.tar")
	job := &Job{URL: srv.URL, DestinationPath: dest, ExpectedChecksum: sum}

	result, err := m.Download(context.Background(), job)
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}
	if !result.Verified {
		t.Error("result.Verified = false; want true with matching checksum")
	}
	if result.Path != dest {
		t.Errorf("result.Path = %q; want %q", result.Path, dest)
	}
	if job.State() != StateComplete {
		t.Errorf("job.State() = %s; want %s", job.State(), StateComplete)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("failed to read artifact: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("downloaded artifact differs from served content")
	}
}

func TestDownload_ChecksumMismatch_RemovesArtifact(t *testing.T) {
	content, _ := testArtifact(t, 8*1024)
	srv, _ := rangeServer(t, content)
	m := fastManager(t, 1)

	dest := filepath.Join(t.TempDir(), "pkg.tar")
	job := &Job{
		URL:              srv.URL,
		DestinationPath:  dest,
		ExpectedChecksum: strings.Repeat("ab", 32),
	}

	_, err := m.Download(context.Background(), job)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Download() error = %v; want ErrChecksumMismatch", err)
	}
	if job.State() != StateFailed {
		t.Errorf("job.State() = %s; want %s", job.State(), StateFailed)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("corrupt artifact must be removed from the destination")
	}
}

func TestDownload_NoChecksum_CompletesUnverified(t *testing.T) {
	content, _ := testArtifact(t, 4*1024)
	srv, _ := rangeServer(t, content)
	m := fastManager(t, 1)

	job := &Job{URL: srv.URL, DestinationPath: filepath.Join(t.TempDir(), "pkg.tar")}

	result, err := m.Download(context.Background(), job)
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}
	if result.Verified {
		t.Error("result.Verified = true without a checksum; want unverified tag")
	}
	if job.State() != StateComplete {
		t.Errorf("job.State() = %s; want %s", job.State(), StateComplete)
	}
}

func TestDownload_ResumesFromPartialBytes(t *testing.T) {
	content, sum := testArtifact(t, 128*1024)
	srv, lastRange := rangeServer(t, content)
	m := fastManager(t, 1)

	// Simulate an interrupted transfer: the first 40000 bytes are already
	// on disk.
	const partial = 40000
	dest := filepath.Join(t.TempDir(), "pkg.tar")
	if err := os.WriteFile(dest, content[:partial], 0644); err != nil {
		t.Fatalf("failed to seed partial artifact: %v", err)
	}

	job := &Job{URL: srv.URL, DestinationPath: dest, ExpectedChecksum: sum}
	result, err := m.Download(context.Background(), job)
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}

	if *lastRange != "bytes=40000-" {
		t.Errorf("Range header = %q; want %q", *lastRange, "bytes=40000-")
	}
	if !result.Verified {
		t.Error("resumed artifact failed verification")
	}
	if got := job.BytesDownloaded(); got != int64(len(content)) {
		t.Errorf("BytesDownloaded() = %d; want %d (resume counts existing bytes)", got, len(content))
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("failed to read artifact: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("resumed artifact differs from a single-pass download")
	}
}

func TestDownload_ServerIgnoresRange_RestartsFromZero(t *testing.T) {
	content, sum := testArtifact(t, 16*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Plain 200 with the full body regardless of Range.
		w.Write(content)
	}))
	defer srv.Close()
	m := fastManager(t, 1)

	dest := filepath.Join(t.TempDir(), "pkg.tar")
	// Seed with garbage that must be discarded, not appended to.
	if err := os.WriteFile(dest, []byte("stale partial data"), 0644); err != nil {
		t.Fatalf("failed to seed partial artifact: %v", err)
	}

	job := &Job{URL: srv.URL, DestinationPath: dest, ExpectedChecksum: sum}
	result, err := m.Download(context.Background(), job)
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}
	if !result.Verified {
		t.Error("restarted artifact failed verification")
	}
}

func TestDownload_HTTPError_NoArtifactLeft(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	m := fastManager(t, 1)

	dest := filepath.Join(t.TempDir(), "pkg.tar")
	job := &Job{URL: srv.URL, DestinationPath: dest}

	if _, err := m.Download(context.Background(), job); err == nil {
		t.Fatal("Download() should fail on HTTP 404")
	}
	if job.State() != StateFailed {
		t.Errorf("job.State() = %s; want %s", job.State(), StateFailed)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("failed job must not leave a destination file behind")
	}
}

func TestDownload_RetriesTransientServerErrors(t *testing.T) {
	content, sum := testArtifact(t, 2*1024)
	var attempts int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n <= 2 {
			http.Error(w, "try again", http.StatusInternalServerError)
			return
		}
		w.Write(content)
	}))
	defer srv.Close()
	m := fastManager(t, 1)

	job := &Job{URL: srv.URL, DestinationPath: filepath.Join(t.TempDir(), "pkg.tar"), ExpectedChecksum: sum}
	result, err := m.Download(context.Background(), job)
	if err != nil {
		t.Fatalf("Download() failed after retries: %v", err)
	}
	if !result.Verified {
		t.Error("artifact failed verification after retried download")
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("server saw %d attempts; want 3 (two 500s then success)", attempts)
	}
}

func TestDownload_ConcurrencyBound(t *testing.T) {
	const workers = 2
	const jobs = 6

	var mu sync.Mutex
	inflight, maxInflight := 0, 0
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inflight++
		if inflight > maxInflight {
			maxInflight = inflight
		}
		mu.Unlock()

		<-release

		mu.Lock()
		inflight--
		mu.Unlock()
		w.Write([]byte("artifact"))
	}))
	defer srv.Close()

	m := fastManager(t, workers)
	dir := t.TempDir()

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job := &Job{
				URL:             srv.URL,
				DestinationPath: filepath.Join(dir, "pkg"+string(rune('a'+i))+".tar"),
			}
			if _, err := m.Download(context.Background(), job); err != nil {
				t.Errorf("Download() failed: %v", err)
			}
		}(i)
	}

	// Give the pool time to saturate before releasing the handlers.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxInflight > workers {
		t.Errorf("max simultaneous transfers = %d; want <= %d", maxInflight, workers)
	}
}

func TestDownload_DestinationBusy(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("artifact"))
	}))
	defer srv.Close()

	m := fastManager(t, 2)
	dest := filepath.Join(t.TempDir(), "pkg.tar")

	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(started)
		m.Download(context.Background(), &Job{URL: srv.URL, DestinationPath: dest})
	}()

	<-started
	time.Sleep(50 * time.Millisecond)

	_, err := m.Download(context.Background(), &Job{URL: srv.URL, DestinationPath: dest})
	if !errors.Is(err, ErrDestinationBusy) {
		t.Errorf("second Download() error = %v; want ErrDestinationBusy", err)
	}

	close(release)
	wg.Wait()
}

func TestCleanupStale(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "old.tar")
	fresh := filepath.Join(dir, "new.tar")
	if err := os.WriteFile(stale, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fresh, []byte("new"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-8 * 24 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	if err := CleanupStale(dir, 7*24*time.Hour); err != nil {
		t.Fatalf("CleanupStale() failed: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale artifact should have been removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh artifact should have been kept")
	}
}

func TestCleanupStale_MissingDirIsFine(t *testing.T) {
	if err := CleanupStale(filepath.Join(t.TempDir(), "nope"), time.Hour); err != nil {
		t.Errorf("CleanupStale() on missing dir = %v; want nil", err)
	}
}
