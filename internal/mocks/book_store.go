package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/store"
)

// MemoryBookStore implements store.BookStore in memory.
type MemoryBookStore struct {
	mu    sync.Mutex
	books map[string]*domain.Book

	// CreateFn, when set, intercepts Create calls.
	CreateFn func(ctx context.Context, book *domain.Book) error
}

// NewMemoryBookStore creates an empty MemoryBookStore.
func NewMemoryBookStore() *MemoryBookStore {
	return &MemoryBookStore{books: make(map[string]*domain.Book)}
}

// Create implements store.BookStore.
func (s *MemoryBookStore) Create(ctx context.Context, book *domain.Book) error {
	if s.CreateFn != nil {
		return s.CreateFn(ctx, book)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.books[book.ID]; exists {
		return store.ErrDuplicate
	}
	cp := *book
	s.books[book.ID] = &cp
	return nil
}

// GetByID implements store.BookStore.
func (s *MemoryBookStore) GetByID(_ context.Context, id string) (*domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.books[id]
	if !ok {
		return nil, store.ErrBookNotFound
	}
	cp := *book
	return &cp, nil
}

// GetByJobID implements store.BookStore.
func (s *MemoryBookStore) GetByJobID(_ context.Context, jobID uuid.UUID) (*domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, book := range s.books {
		if book.JobID == jobID {
			cp := *book
			return &cp, nil
		}
	}
	return nil, store.ErrBookNotFound
}
