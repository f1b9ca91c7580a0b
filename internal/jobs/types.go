package jobs

import (
	"context"
	"errors"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeRecognizeReceipt runs recognition and reconciliation for one record.
	JobTypeRecognizeReceipt JobType = "recognize_receipt"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the handler returned without error. The
	// record itself may still have ended up failed.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed and will not be retried.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries is how often a failed job is re-run unless the
// publisher asks for something else.
const DefaultMaxRetries = 3

// ErrJobNotFound is returned by JobStore lookups for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// RecognizeReceiptJob asks a worker to finish a record that was created in
// processing status.
type RecognizeReceiptJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id" firestore:"job_id"`

	// TenantID and HomeCurrency carry the tenant context into the worker.
	TenantID     string `json:"tenant_id" firestore:"tenant_id"`
	HomeCurrency string `json:"home_currency" firestore:"home_currency"`

	// RecordID is the expense record being recognized.
	RecordID string `json:"record_id" firestore:"record_id"`

	// ImageURI is the asset store URI of the normalized image.
	ImageURI string `json:"image_uri" firestore:"image_uri"`

	// MIMEType of the stored image.
	MIMEType string `json:"mime_type" firestore:"mime_type"`

	// Status is the current status of the job.
	Status JobStatus `json:"status" firestore:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at" firestore:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty" firestore:"started_at"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty" firestore:"completed_at"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty" firestore:"error"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count" firestore:"retry_count"`

	// MaxRetries is the maximum number of retries allowed. Zero runs the
	// job once.
	MaxRetries int `json:"max_retries" firestore:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *RecognizeReceiptJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *RecognizeReceiptJob) GetType() JobType {
	return JobTypeRecognizeReceipt
}

// GetStatus implements the Job interface.
func (j *RecognizeReceiptJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishRecognizeReceipt publishes a recognition job. It fills in the
	// job id, status and creation time when they are empty.
	PublishRecognizeReceipt(ctx context.Context, job *RecognizeReceiptJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
//
//go:generate mockgen -source=types.go -destination=store_mock.go -package=jobs
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *RecognizeReceiptJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*RecognizeReceiptJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*RecognizeReceiptJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// TenantID restricts the result to one tenant.
	TenantID string

	// RecordID filters jobs by record ID.
	RecordID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// Matches reports whether job passes the filter's equality conditions.
func (f JobFilter) Matches(job *RecognizeReceiptJob) bool {
	if f.TenantID != "" && job.TenantID != f.TenantID {
		return false
	}
	if f.RecordID != "" && job.RecordID != f.RecordID {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	return true
}
