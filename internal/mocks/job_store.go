package mocks

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/store"
)

// MemoryJobStore implements store.JobStore in memory. Mutations enforce the
// job state machine the way the postgres implementation does: conditional
// updates that refuse to touch terminal jobs.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job

	// UpdateProgressFn, when set, intercepts UpdateProgress calls.
	UpdateProgressFn func(ctx context.Context, id uuid.UUID, step string, progress int) error
}

// NewMemoryJobStore creates an empty MemoryJobStore.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[uuid.UUID]*domain.Job)}
}

// WithTx implements store.JobStore; transactions are a no-op in memory.
func (s *MemoryJobStore) WithTx(_ *sql.Tx) store.JobStore { return s }

// Create implements store.JobStore.
func (s *MemoryJobStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return store.ErrDuplicate
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

// GetByID implements store.JobStore.
func (s *MemoryJobStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

// GetByIdempotencyKey implements store.JobStore.
func (s *MemoryJobStore) GetByIdempotencyKey(_ context.Context, userKey, key string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *domain.Job
	for _, job := range s.jobs {
		if job.UserKey != userKey || job.IdempotencyKey != key {
			continue
		}
		if newest == nil || job.CreatedAt.After(newest.CreatedAt) {
			newest = job
		}
	}
	if newest == nil {
		return nil, store.ErrJobNotFound
	}
	cp := *newest
	return &cp, nil
}

// UpdateProgress implements store.JobStore.
func (s *MemoryJobStore) UpdateProgress(ctx context.Context, id uuid.UUID, step string, progress int) error {
	if s.UpdateProgressFn != nil {
		return s.UpdateProgressFn(ctx, id, step, progress)
	}
	return s.mutate(id, func(job *domain.Job) error {
		job.Status = domain.JobStatusRunning
		job.CurrentStep = step
		job.Progress = progress
		return nil
	})
}

// MarkDone implements store.JobStore.
func (s *MemoryJobStore) MarkDone(_ context.Context, id uuid.UUID) error {
	return s.mutate(id, func(job *domain.Job) error {
		if job.Status != domain.JobStatusRunning {
			return store.ErrInvalidTransition
		}
		job.Status = domain.JobStatusDone
		job.Progress = 100
		job.CurrentStep = "done"
		return nil
	})
}

// MarkFailed implements store.JobStore.
func (s *MemoryJobStore) MarkFailed(_ context.Context, id uuid.UUID, code domain.ErrorCode, message string) error {
	return s.mutate(id, func(job *domain.Job) error {
		job.Status = domain.JobStatusFailed
		job.ErrorCode = code
		job.ErrorMessage = message
		return nil
	})
}

// Requeue implements store.JobStore.
func (s *MemoryJobStore) Requeue(_ context.Context, id uuid.UUID, step string) error {
	return s.mutate(id, func(job *domain.Job) error {
		job.Status = domain.JobStatusQueued
		job.CurrentStep = step
		job.RetryCount++
		job.LastRetryAt = time.Now().UTC()
		return nil
	})
}

// FindStale implements store.JobStore.
func (s *MemoryJobStore) FindStale(_ context.Context, status domain.JobStatus, olderThan time.Time) ([]*domain.Job, error) {
	return s.filter(func(job *domain.Job) bool {
		return job.Status == status && job.UpdatedAt.Before(olderThan)
	}), nil
}

// FindCreatedBefore implements store.JobStore.
func (s *MemoryJobStore) FindCreatedBefore(_ context.Context, threshold time.Time, statuses []domain.JobStatus) ([]*domain.Job, error) {
	want := make(map[domain.JobStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	return s.filter(func(job *domain.Job) bool {
		return want[job.Status] && job.CreatedAt.Before(threshold)
	}), nil
}

// FindByStatus implements store.JobStore.
func (s *MemoryJobStore) FindByStatus(_ context.Context, status domain.JobStatus, limit int) ([]*domain.Job, error) {
	jobs := s.filter(func(job *domain.Job) bool {
		return job.Status == status
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// CountByStatus implements store.JobStore.
func (s *MemoryJobStore) CountByStatus(_ context.Context, status domain.JobStatus) (int, error) {
	return len(s.filter(func(job *domain.Job) bool {
		return job.Status == status
	})), nil
}

// CountStale implements store.JobStore.
func (s *MemoryJobStore) CountStale(_ context.Context, status domain.JobStatus, olderThan time.Time) (int, error) {
	return len(s.filter(func(job *domain.Job) bool {
		return job.Status == status && job.UpdatedAt.Before(olderThan)
	})), nil
}

// CountFinishedSince implements store.JobStore.
func (s *MemoryJobStore) CountFinishedSince(_ context.Context, status domain.JobStatus, since time.Time) (int, error) {
	return len(s.filter(func(job *domain.Job) bool {
		return job.Status == status && !job.UpdatedAt.Before(since)
	})), nil
}

// Touch overwrites a job's timestamps, letting tests age a job into the
// monitor's staleness windows.
func (s *MemoryJobStore) Touch(id uuid.UUID, createdAt, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.CreatedAt = createdAt
		job.UpdatedAt = updatedAt
	}
}

func (s *MemoryJobStore) mutate(id uuid.UUID, fn func(job *domain.Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if job.IsTerminal() {
		return store.ErrInvalidTransition
	}
	if err := fn(job); err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryJobStore) filter(keep func(job *domain.Job) bool) []*domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Job
	for _, job := range s.jobs {
		if keep(job) {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out
}
