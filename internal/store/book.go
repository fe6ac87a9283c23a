package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
)

// BookStore persists packaged books and their pages.
type BookStore interface {
	// Create persists a book and all of its pages atomically.
	Create(ctx context.Context, book *domain.Book) error

	// GetByID retrieves a book with its pages.
	// Returns ErrBookNotFound if the book does not exist.
	GetByID(ctx context.Context, id string) (*domain.Book, error)

	// GetByJobID retrieves the book produced by the given job.
	// Returns ErrBookNotFound if the job has not packaged a book.
	GetByJobID(ctx context.Context, jobID uuid.UUID) (*domain.Book, error)
}
