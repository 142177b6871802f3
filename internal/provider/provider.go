package provider

import (
	"context"
	"encoding/json"
)

// Adapter is the interface for cloud speech-to-text backends. Each provider
// wraps its own upload/transcribe/cleanup protocol behind the same five
// operations; the orchestrator never branches on provider identity.
//
// Adapters are stateless and safe to call concurrently from multiple jobs.
type Adapter interface {
	// Upload stores audio where the provider can read it and returns an
	// opaque handle to the remote object(s).
	Upload(ctx context.Context, audio []byte, contentType string) (Resource, error)

	// Start begins the remote transcription job for a previously uploaded
	// resource and returns the provider's job identifier.
	Start(ctx context.Context, res Resource, opts StartOptions) (string, error)

	// Poll is a non-blocking status check. The caller owns interval
	// scheduling and backoff.
	Poll(ctx context.Context, jobID string) (Status, error)

	// Fetch retrieves the raw, provider-specific result. Calling it before
	// the job has succeeded is an ordering error.
	Fetch(ctx context.Context, jobID string) (json.RawMessage, error)

	// Cleanup deletes the remote audio object and transcription job.
	// Best-effort: callers log failures and never let them change a job's
	// outcome.
	Cleanup(ctx context.Context, res Resource, jobID string) error

	// Name returns the provider identifier ("aws", "azure", "gcp").
	Name() string
}

// Resource is the opaque handle returned by Upload. Bucket is the S3 bucket,
// blob container, or GCS bucket; Key is the object name within it.
type Resource struct {
	Bucket string
	Key    string
}

// StartOptions are per-job options passed to Start.
type StartOptions struct {
	Language    string // BCP-47 code, e.g. "en-US"
	Diarization bool
	MaxSpeakers int // 0 = provider default
}

// JobState is the provider-reported lifecycle state of a remote job.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
)

// Status is a poll snapshot. Progress is 0-100 where the provider reports it,
// -1 otherwise. Message carries the provider's failure reason when failed.
type Status struct {
	State    JobState
	Progress int
	Message  string
}
