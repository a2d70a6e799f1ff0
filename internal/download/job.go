package download

import "sync"

// State is the lifecycle state of a download job.
type State string

// Job states. Transport states run Pending → InProgress → Verifying; the
// terminal states are Complete and Failed. Paused marks a cooperatively
// interrupted transfer whose partial bytes remain on disk for resumption.
const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StatePaused     State = "paused"
	StateVerifying  State = "verifying"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
)

// Job describes one artifact download. A Job is owned by the Manager from
// submission until Download returns; callers must not reuse a Job for a
// second download.
type Job struct {
	URL             string
	DestinationPath string

	// ExpectedChecksum is the sha256 hex digest the artifact must match.
	// Empty means no integrity metadata exists; the download completes but
	// the result is tagged unverified.
	ExpectedChecksum string

	// OnProgress, if set, is called as bytes arrive. total is -1 when the
	// server did not report a length.
	OnProgress func(downloaded, total int64)

	mu              sync.Mutex
	state           State
	bytesDownloaded int64
	totalBytes      int64
}

// State returns the job's current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == "" {
		return StatePending
	}
	return j.state
}

// BytesDownloaded returns the bytes written to the destination so far,
// including bytes carried over from a resumed transfer.
func (j *Job) BytesDownloaded() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.bytesDownloaded
}

// TotalBytes returns the expected artifact size, or -1 if unknown.
func (j *Job) TotalBytes() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.totalBytes == 0 {
		return -1
	}
	return j.totalBytes
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *Job) setTotal(n int64) {
	j.mu.Lock()
	j.totalBytes = n
	j.mu.Unlock()
}

func (j *Job) addBytes(n int64) {
	j.mu.Lock()
	j.bytesDownloaded += n
	downloaded, total := j.bytesDownloaded, j.totalBytes
	cb := j.OnProgress
	j.mu.Unlock()

	if cb != nil {
		if total == 0 {
			total = -1
		}
		cb(downloaded, total)
	}
}

func (j *Job) setBytes(n int64) {
	j.mu.Lock()
	j.bytesDownloaded = n
	j.mu.Unlock()
}

// Result is the outcome of a successful download.
type Result struct {
	// Path is the verified (or unverified) artifact location, identical to
	// the job's DestinationPath.
	Path string

	// Verified is true only when the artifact matched ExpectedChecksum.
	// Callers must never auto-execute an unverified artifact.
	Verified bool
}
