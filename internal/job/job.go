// Package job runs transcription jobs against a cloud provider adapter:
// upload, start, poll until done, fetch, normalize, clean up. Every job
// moves through a fixed set of states and ends in exactly one terminal
// state.
package job

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/speecher/stt-engine/internal/normalize"
	"github.com/speecher/stt-engine/internal/provider"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusUploading   Status = "uploading"
	StatusStarting    Status = "starting"
	StatusPolling     Status = "polling"
	StatusFetching    Status = "fetching"
	StatusNormalizing Status = "normalizing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether the status is final. A job in a terminal state
// never transitions again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Request describes a transcription to run.
type Request struct {
	Provider    string
	Language    string
	Diarization bool
	MaxSpeakers int

	Audio       []byte
	ContentType string
	Format      string

	// DurationEstimate is the guessed audio length in seconds, used for
	// cost estimation until the provider reports a real duration.
	DurationEstimate float64

	// RetainResources skips provider-side cleanup after the job ends,
	// leaving the uploaded audio and remote job for inspection.
	RetainResources bool
}

// Job is one transcription run. Mutable fields are guarded; read them
// through Snapshot.
type Job struct {
	ID      string
	Request Request

	cancelled atomic.Bool

	mu            sync.RWMutex
	status        Status
	errMsg        string
	errKind       provider.Kind
	providerJobID string
	resource      provider.Resource
	result        *normalize.Transcript
	createdAt     time.Time
	startedAt     time.Time
	completedAt   time.Time
}

// Snapshot is a consistent read-only view of a Job.
type Snapshot struct {
	ID            string                `json:"id"`
	Provider      string                `json:"provider"`
	Status        Status                `json:"status"`
	Language      string                `json:"language,omitempty"`
	Diarization   bool                  `json:"diarization"`
	Error         string                `json:"error,omitempty"`
	ErrorKind     provider.Kind         `json:"error_kind,omitempty"`
	ProviderJobID string                `json:"provider_job_id,omitempty"`
	Result        *normalize.Transcript `json:"result,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	StartedAt     *time.Time            `json:"started_at,omitempty"`
	CompletedAt   *time.Time            `json:"completed_at,omitempty"`
}

// Snapshot returns a copy of the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := Snapshot{
		ID:            j.ID,
		Provider:      j.Request.Provider,
		Status:        j.status,
		Language:      j.Request.Language,
		Diarization:   j.Request.Diarization,
		Error:         j.errMsg,
		ErrorKind:     j.errKind,
		ProviderJobID: j.providerJobID,
		Result:        j.result,
		CreatedAt:     j.createdAt,
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}
	if !j.completedAt.IsZero() {
		t := j.completedAt
		s.CompletedAt = &t
	}
	return s
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Cancel requests cooperative cancellation. The orchestrator checks the flag
// between steps and between polls; work already in flight finishes first.
// Returns false when the job is already terminal.
func (j *Job) Cancel() bool {
	j.mu.RLock()
	terminal := j.status.Terminal()
	j.mu.RUnlock()
	if terminal {
		return false
	}
	j.cancelled.Store(true)
	return true
}

func (j *Job) isCancelled() bool {
	return j.cancelled.Load()
}

func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

func (j *Job) setResource(res provider.Resource) {
	j.mu.Lock()
	j.resource = res
	j.mu.Unlock()
}

func (j *Job) setProviderJobID(id string) {
	j.mu.Lock()
	j.providerJobID = id
	j.mu.Unlock()
}
