package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a generation job
type JobStatus string

// Possible job status values
const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// Common validation errors for Job
var (
	ErrEmptyJobID           = errors.New("job ID cannot be empty")
	ErrEmptyJobUserKey      = errors.New("job user key cannot be empty")
	ErrInvalidJobStatus     = errors.New("invalid job status")
	ErrInvalidJobProgress   = errors.New("job progress must be between 0 and 100")
	ErrInvalidJobTransition = errors.New("invalid job status transition")
)

// Job is one user-requested unit of multi-stage book generation work.
// Status moves only forward through queued -> running -> done|failed; the
// single exception is the monitor-driven requeue edge running -> queued.
// UpdatedAt is the liveness heartbeat the job monitor reads.
type Job struct {
	ID             uuid.UUID `json:"id"`
	UserKey        string    `json:"user_key"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Spec           BookSpec  `json:"spec"`
	Status         JobStatus `json:"status"`
	Progress       int       `json:"progress"`
	CurrentStep    string    `json:"current_step"`
	ErrorCode      ErrorCode `json:"error_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	RetryCount     int       `json:"retry_count"`
	LastRetryAt    time.Time `json:"last_retry_at,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewJob creates a queued Job for the given owner. The spec is persisted
// with the job so a monitor requeue can re-run it from scratch. The
// idempotency key may be empty; when present the creation path uses it to
// dedupe requests.
func NewJob(userKey, idempotencyKey string, spec BookSpec) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:             uuid.New(),
		UserKey:        userKey,
		IdempotencyKey: idempotencyKey,
		Spec:           spec,
		Status:         JobStatusQueued,
		Progress:       0,
		CurrentStep:    "waiting",
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks if the Job has valid data.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}

	if j.UserKey == "" {
		return ErrEmptyJobUserKey
	}

	if !isValidJobStatus(j.Status) {
		return ErrInvalidJobStatus
	}

	if j.Progress < 0 || j.Progress > 100 {
		return ErrInvalidJobProgress
	}

	return nil
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusFailed
}

// CanTransitionTo reports whether moving to the given status is a legal
// edge of the job state machine. Terminal states accept nothing; the
// running -> queued edge exists for monitor requeues, and queued -> queued
// is a permitted no-op.
func (j *Job) CanTransitionTo(next JobStatus) bool {
	if !isValidJobStatus(next) {
		return false
	}

	switch j.Status {
	case JobStatusQueued:
		return next == JobStatusQueued || next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusRunning || next == JobStatusQueued ||
			next == JobStatusDone || next == JobStatusFailed
	default:
		// done and failed are terminal
		return false
	}
}

// isValidJobStatus checks if the given status is a valid JobStatus.
func isValidJobStatus(status JobStatus) bool {
	switch status {
	case JobStatusQueued, JobStatusRunning, JobStatusDone, JobStatusFailed:
		return true
	default:
		return false
	}
}
