// Package service holds the application services behind the HTTP handlers:
// the creation path that charges credits and schedules jobs, and the read
// paths that enforce ownership.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/store"
)

// BookGenerationCost is the credit price of one generation job.
const BookGenerationCost = 1

// JobSubmitter schedules a persisted job for background execution.
// Satisfied by task.Runner.
type JobSubmitter interface {
	Submit(job *domain.Job)
}

// BookService implements the book creation and read paths.
type BookService struct {
	jobs    store.JobStore
	credits store.CreditStore
	books   store.BookStore
	runner  JobSubmitter
	logger  *slog.Logger
}

// NewBookService creates a BookService.
func NewBookService(
	jobs store.JobStore,
	credits store.CreditStore,
	books store.BookStore,
	runner JobSubmitter,
	logger *slog.Logger,
) *BookService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookService{
		jobs:    jobs,
		credits: credits,
		books:   books,
		runner:  runner,
		logger:  logger.With(slog.String("component", "book_service")),
	}
}

// CreateBook validates the request, charges one credit, persists a queued
// job and schedules it. The returned bool is false when an idempotency key
// matched an earlier job and that job was returned instead of a new one.
//
// Ordering matters: the debit happens before the job row exists, so a
// crash between the two can cost a credit without a job. The refund on
// create failure covers the failure path we can see; the crash window is
// accepted and reconciled from the ledger.
func (s *BookService) CreateBook(ctx context.Context, userKey, idempotencyKey string, spec domain.BookSpec) (*domain.Job, bool, error) {
	if userKey == "" {
		return nil, false, domain.ErrEmptyJobUserKey
	}

	normalized, err := spec.Normalize()
	if err != nil {
		return nil, false, err
	}

	if idempotencyKey != "" {
		existing, err := s.jobs.GetByIdempotencyKey(ctx, userKey, idempotencyKey)
		if err == nil {
			s.logger.Info("idempotent replay, returning existing job",
				slog.String("job_id", existing.ID.String()),
				slog.String("user_key", userKey))
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrJobNotFound) {
			return nil, false, fmt.Errorf("idempotency lookup failed: %w", err)
		}
	}

	// Ensure the balance row exists so first-time users get their signup
	// bonus before the debit.
	if _, err := s.credits.GetOrCreate(ctx, userKey); err != nil {
		return nil, false, fmt.Errorf("failed to load credit balance: %w", err)
	}

	job, err := domain.NewJob(userKey, idempotencyKey, normalized)
	if err != nil {
		return nil, false, err
	}

	charged, err := s.credits.Debit(ctx, userKey, BookGenerationCost,
		"book generation", job.ID.String())
	if err != nil {
		return nil, false, fmt.Errorf("credit debit failed: %w", err)
	}
	if !charged {
		return nil, false, domain.ErrInsufficientCredits
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		if _, refundErr := s.credits.Credit(ctx, userKey, BookGenerationCost,
			domain.CreditTxRefund, "refund for failed job creation", job.ID.String()); refundErr != nil {
			s.logger.Error("failed to refund credit after job create failure",
				slog.String("user_key", userKey),
				slog.String("job_id", job.ID.String()),
				slog.String("error", refundErr.Error()))
		}
		return nil, false, fmt.Errorf("failed to persist job: %w", err)
	}

	s.runner.Submit(job)

	s.logger.Info("book generation job created",
		slog.String("job_id", job.ID.String()),
		slog.String("user_key", userKey),
		slog.String("topic", normalized.Topic))
	return job, true, nil
}

// GetJob returns the job if it belongs to userKey. A job owned by someone
// else reads as not found; ids are not secrets.
func (s *BookService) GetJob(ctx context.Context, userKey string, jobID uuid.UUID) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserKey != userKey {
		return nil, store.ErrJobNotFound
	}
	return job, nil
}

// GetBookByJobID returns the packaged book for the job, with the same
// ownership rule as GetJob.
func (s *BookService) GetBookByJobID(ctx context.Context, userKey string, jobID uuid.UUID) (*domain.Book, error) {
	book, err := s.books.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if book.UserKey != userKey {
		return nil, store.ErrBookNotFound
	}
	return book, nil
}

// GetBook returns a book by its public id, enforcing ownership.
func (s *BookService) GetBook(ctx context.Context, userKey, bookID string) (*domain.Book, error) {
	book, err := s.books.GetByID(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.UserKey != userKey {
		return nil, store.ErrBookNotFound
	}
	return book, nil
}

// GetCredits returns the user's balance, creating it with the signup bonus
// on first sight.
func (s *BookService) GetCredits(ctx context.Context, userKey string) (*domain.CreditBalance, error) {
	return s.credits.GetOrCreate(ctx, userKey)
}

// GetCreditHistory returns the most recent ledger entries for the user.
func (s *BookService) GetCreditHistory(ctx context.Context, userKey string, limit, offset int) ([]*domain.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.credits.Transactions(ctx, userKey, limit, offset)
}
