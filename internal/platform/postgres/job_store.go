package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/platform/logger"
	"github.com/fablehouse/fable-api/internal/store"
)

// jobColumns is the canonical select list for job rows.
const jobColumns = `id, user_key, idempotency_key, spec, status, progress,
	current_step, error_code, error_message, retry_count, last_retry_at,
	created_at, updated_at`

// PostgresJobStore implements the store.JobStore interface using PostgreSQL.
type PostgresJobStore struct {
	db store.DBTX
}

// NewPostgresJobStore creates a new PostgresJobStore.
func NewPostgresJobStore(db store.DBTX) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

// WithTx implements store.JobStore.
func (s *PostgresJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return &PostgresJobStore{db: tx}
}

// Create implements store.JobStore.
func (s *PostgresJobStore) Create(ctx context.Context, job *domain.Job) error {
	log := logger.FromContext(ctx)

	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	specJSON, err := json.Marshal(job.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal job spec: %w", err)
	}

	query := `
		INSERT INTO jobs (id, user_key, idempotency_key, spec, status, progress,
			current_step, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.UserKey,
		nullString(job.IdempotencyKey),
		specJSON,
		job.Status,
		job.Progress,
		job.CurrentStep,
		job.RetryCount,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create job",
			"job_id", job.ID,
			"error", err)
		return MapError(err)
	}
	return nil
}

// GetByID implements store.JobStore.
func (s *PostgresJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", MapError(err))
	}
	return job, nil
}

// GetByIdempotencyKey implements store.JobStore.
func (s *PostgresJobStore) GetByIdempotencyKey(ctx context.Context, userKey, key string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE user_key = $1 AND idempotency_key = $2
		ORDER BY created_at DESC
		LIMIT 1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, userKey, key))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job by idempotency key: %w", MapError(err))
	}
	return job, nil
}

// UpdateProgress implements store.JobStore. The status guard in the WHERE
// clause is what enforces terminal-state protection: a done or failed job
// matches zero rows and the write is refused.
func (s *PostgresJobStore) UpdateProgress(ctx context.Context, id uuid.UUID, step string, progress int) error {
	query := `
		UPDATE jobs
		SET status = $2, current_step = $3, progress = $4, updated_at = $5
		WHERE id = $1 AND status IN ($6, $7)
	`
	result, err := s.db.ExecContext(ctx, query,
		id,
		domain.JobStatusRunning,
		step,
		progress,
		time.Now().UTC(),
		domain.JobStatusQueued,
		domain.JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", MapError(err))
	}
	return s.checkConditionalUpdate(ctx, result, id)
}

// MarkDone implements store.JobStore. Only a running job can complete.
func (s *PostgresJobStore) MarkDone(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE jobs
		SET status = $2, progress = 100, current_step = 'done', updated_at = $3
		WHERE id = $1 AND status = $4
	`
	result, err := s.db.ExecContext(ctx, query,
		id,
		domain.JobStatusDone,
		time.Now().UTC(),
		domain.JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job done: %w", MapError(err))
	}
	return s.checkConditionalUpdate(ctx, result, id)
}

// MarkFailed implements store.JobStore.
func (s *PostgresJobStore) MarkFailed(ctx context.Context, id uuid.UUID, code domain.ErrorCode, message string) error {
	query := `
		UPDATE jobs
		SET status = $2, error_code = $3, error_message = $4, updated_at = $5
		WHERE id = $1 AND status IN ($6, $7)
	`
	result, err := s.db.ExecContext(ctx, query,
		id,
		domain.JobStatusFailed,
		string(code),
		message,
		time.Now().UTC(),
		domain.JobStatusQueued,
		domain.JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", MapError(err))
	}
	return s.checkConditionalUpdate(ctx, result, id)
}

// Requeue implements store.JobStore.
func (s *PostgresJobStore) Requeue(ctx context.Context, id uuid.UUID, step string) error {
	query := `
		UPDATE jobs
		SET status = $2, current_step = $3, retry_count = retry_count + 1,
			last_retry_at = $4, updated_at = $4
		WHERE id = $1 AND status IN ($5, $6)
	`
	result, err := s.db.ExecContext(ctx, query,
		id,
		domain.JobStatusQueued,
		step,
		time.Now().UTC(),
		domain.JobStatusQueued,
		domain.JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", MapError(err))
	}
	return s.checkConditionalUpdate(ctx, result, id)
}

// FindStale implements store.JobStore.
func (s *PostgresJobStore) FindStale(ctx context.Context, status domain.JobStatus, olderThan time.Time) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC`
	return s.queryJobs(ctx, query, status, olderThan)
}

// FindCreatedBefore implements store.JobStore.
func (s *PostgresJobStore) FindCreatedBefore(ctx context.Context, threshold time.Time, statuses []domain.JobStatus) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE created_at < $1 AND status = ANY($2)
		ORDER BY created_at ASC`

	// The pgx stdlib driver encodes []string as a text array for ANY().
	list := make([]string, len(statuses))
	for i, st := range statuses {
		list[i] = string(st)
	}
	return s.queryJobs(ctx, query, threshold, list)
}

// FindByStatus implements store.JobStore.
func (s *PostgresJobStore) FindByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`
	return s.queryJobs(ctx, query, status, limit)
}

// CountByStatus implements store.JobStore.
func (s *PostgresJobStore) CountByStatus(ctx context.Context, status domain.JobStatus) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = $1`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs by status: %w", MapError(err))
	}
	return count, nil
}

// CountStale implements store.JobStore.
func (s *PostgresJobStore) CountStale(ctx context.Context, status domain.JobStatus, olderThan time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = $1 AND updated_at < $2`,
		status, olderThan).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count stale jobs: %w", MapError(err))
	}
	return count, nil
}

// CountFinishedSince implements store.JobStore.
func (s *PostgresJobStore) CountFinishedSince(ctx context.Context, status domain.JobStatus, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = $1 AND updated_at >= $2`,
		status, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count finished jobs: %w", MapError(err))
	}
	return count, nil
}

// checkConditionalUpdate distinguishes "job does not exist" from "job is
// terminal" when a guarded update matched zero rows.
func (s *PostgresJobStore) checkConditionalUpdate(ctx context.Context, result sql.Result, id uuid.UUID) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check job existence: %w", MapError(err))
	}
	if !exists {
		return store.ErrJobNotFound
	}
	return store.ErrInvalidTransition
}

func (s *PostgresJobStore) queryJobs(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	log := logger.FromContext(ctx)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query jobs", "error", err)
		return nil, fmt.Errorf("failed to query jobs: %w", MapError(err))
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Warn("failed to close rows", "error", closeErr)
		}
	}()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job            domain.Job
		idempotencyKey sql.NullString
		specJSON       []byte
		errorCode      sql.NullString
		errorMessage   sql.NullString
		lastRetryAt    sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&job.UserKey,
		&idempotencyKey,
		&specJSON,
		&job.Status,
		&job.Progress,
		&job.CurrentStep,
		&errorCode,
		&errorMessage,
		&job.RetryCount,
		&lastRetryAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(specJSON) > 0 {
		if err := json.Unmarshal(specJSON, &job.Spec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job spec: %w", err)
		}
	}
	job.IdempotencyKey = idempotencyKey.String
	job.ErrorCode = domain.ErrorCode(errorCode.String)
	job.ErrorMessage = errorMessage.String
	if lastRetryAt.Valid {
		job.LastRetryAt = lastRetryAt.Time
	}
	return &job, nil
}

// nullString maps "" onto NULL so partial unique indexes on the column
// behave.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
