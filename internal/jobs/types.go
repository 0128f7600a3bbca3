// Package jobs defines the asynchronous work contract of the worker:
// upload-processing jobs, the publisher/consumer abstraction and the
// stuck-upload watchdog.
package jobs

import (
	"context"
	"time"
)

// JobStatus tracks a job through its lifecycle.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// ProcessUploadJob asks the worker to resolve one upload.
type ProcessUploadJob struct {
	JobID    string `json:"job_id"`
	UploadID string `json:"upload_id"`
	UserID   string `json:"user_id"`

	// Resume marks a re-submission of an upload that a dead worker left
	// behind; the processor treats both the same way.
	Resume bool `json:"resume,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Publisher enqueues jobs. Implementations: inmemory.Queue; a Cloud
// Tasks or Pub/Sub publisher would satisfy the same interface.
type Publisher interface {
	PublishProcessUpload(ctx context.Context, job *ProcessUploadJob) error
	Close() error
}

// Consumer drains jobs and hands them to a handler.
type Consumer interface {
	// Start begins consuming; the handler is invoked concurrently, one
	// call per job.
	Start(ctx context.Context, handler JobHandler) error
	// Stop waits for in-flight jobs to finish.
	Stop(ctx context.Context) error
}

// JobHandler processes one job. A returned error marks the job failed
// and eligible for retry.
type JobHandler func(ctx context.Context, job *ProcessUploadJob) error

// JobStore persists job state so progress survives restarts.
type JobStore interface {
	SaveJob(ctx context.Context, job *ProcessUploadJob) error
	GetJob(ctx context.Context, jobID string) (*ProcessUploadJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*ProcessUploadJob, error)
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	UploadID string
	Status   JobStatus
	Limit    int
}
