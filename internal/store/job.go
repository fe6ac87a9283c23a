package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
)

// JobStore defines the interface for persisting generation jobs.
//
// Implementations must enforce the job state machine at the storage layer:
// every mutation is a conditional single-row update that refuses to touch a
// job in a terminal state, so a late writer cannot resurrect a done or
// failed job.
type JobStore interface {
	// Create persists a new job.
	Create(ctx context.Context, job *domain.Job) error

	// GetByID retrieves a job by its unique ID.
	// Returns ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// GetByIdempotencyKey retrieves the most recent job created by userKey
	// with the given idempotency key.
	// Returns ErrJobNotFound if no such job exists.
	GetByIdempotencyKey(ctx context.Context, userKey, key string) (*domain.Job, error)

	// UpdateProgress sets current_step and progress, moves the job to
	// running, and refreshes updated_at (the liveness heartbeat).
	// Returns ErrInvalidTransition if the job is terminal.
	UpdateProgress(ctx context.Context, id uuid.UUID, step string, progress int) error

	// MarkDone moves the job to done with progress 100.
	// Returns ErrInvalidTransition if the job is terminal.
	MarkDone(ctx context.Context, id uuid.UUID) error

	// MarkFailed moves the job to failed and records the error code and
	// message. Returns ErrInvalidTransition if the job is already terminal.
	MarkFailed(ctx context.Context, id uuid.UUID, code domain.ErrorCode, message string) error

	// Requeue moves a non-terminal job back to queued, increments its retry
	// count, stamps last_retry_at, and sets the given step label. Used only
	// by the job monitor.
	Requeue(ctx context.Context, id uuid.UUID, step string) error

	// FindStale returns jobs in the given status whose updated_at is older
	// than the threshold.
	FindStale(ctx context.Context, status domain.JobStatus, olderThan time.Time) ([]*domain.Job, error)

	// FindCreatedBefore returns jobs in any of the given statuses created
	// before the threshold. Used for SLA breach detection.
	FindCreatedBefore(ctx context.Context, threshold time.Time, statuses []domain.JobStatus) ([]*domain.Job, error)

	// FindByStatus returns up to limit jobs in the given status, oldest
	// first. Used by the task runner to pick up queued work.
	FindByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.Job, error)

	// CountByStatus returns the number of jobs in the given status.
	CountByStatus(ctx context.Context, status domain.JobStatus) (int, error)

	// CountStale returns the number of jobs in the given status whose
	// updated_at is older than the threshold.
	CountStale(ctx context.Context, status domain.JobStatus, olderThan time.Time) (int, error)

	// CountFinishedSince returns the number of jobs that reached the given
	// terminal status after the threshold.
	CountFinishedSince(ctx context.Context, status domain.JobStatus, since time.Time) (int, error)

	// WithTx returns a new JobStore instance that uses the provided
	// transaction. The transaction is created and managed by the caller.
	WithTx(tx *sql.Tx) JobStore
}
