package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/platform/logger"
	"github.com/fablehouse/fable-api/internal/store"
)

// PostgresBookStore implements the store.BookStore interface using
// PostgreSQL.
type PostgresBookStore struct {
	db store.DBTX
}

// NewPostgresBookStore creates a new PostgresBookStore.
func NewPostgresBookStore(db store.DBTX) *PostgresBookStore {
	return &PostgresBookStore{db: db}
}

// Create implements store.BookStore. The book row and its pages are written
// in one transaction so a half-written book is never visible.
func (s *PostgresBookStore) Create(ctx context.Context, book *domain.Book) error {
	log := logger.FromContext(ctx)

	write := func(db store.DBTX) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO books (id, job_id, user_key, title, language, target_age,
				style, theme, cover_image_url, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, book.ID, book.JobID, book.UserKey, book.Title, book.Language,
			book.TargetAge, book.Style, nullString(book.Theme),
			book.CoverImageURL, book.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert book: %w", MapError(err))
		}

		for _, page := range book.Pages {
			_, err := db.ExecContext(ctx, `
				INSERT INTO book_pages (book_id, page_number, text, image_url, image_prompt)
				VALUES ($1, $2, $3, $4, $5)
			`, book.ID, page.PageNumber, page.Text, page.ImageURL, page.ImagePrompt)
			if err != nil {
				return fmt.Errorf("failed to insert book page %d: %w",
					page.PageNumber, MapError(err))
			}
		}
		return nil
	}

	var err error
	if db, ok := s.db.(*sql.DB); ok {
		err = store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
			return write(tx)
		})
	} else {
		err = write(s.db)
	}
	if err != nil {
		log.Error("failed to create book",
			"book_id", book.ID,
			"job_id", book.JobID,
			"error", err)
		return err
	}
	return nil
}

// GetByID implements store.BookStore.
func (s *PostgresBookStore) GetByID(ctx context.Context, id string) (*domain.Book, error) {
	return s.getBook(ctx, `WHERE id = $1`, id)
}

// GetByJobID implements store.BookStore.
func (s *PostgresBookStore) GetByJobID(ctx context.Context, jobID uuid.UUID) (*domain.Book, error) {
	return s.getBook(ctx, `WHERE job_id = $1`, jobID)
}

func (s *PostgresBookStore) getBook(ctx context.Context, where string, arg any) (*domain.Book, error) {
	var (
		book  domain.Book
		theme sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, user_key, title, language, target_age, style, theme,
			cover_image_url, created_at
		FROM books `+where, arg).Scan(
		&book.ID,
		&book.JobID,
		&book.UserKey,
		&book.Title,
		&book.Language,
		&book.TargetAge,
		&book.Style,
		&theme,
		&book.CoverImageURL,
		&book.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrBookNotFound
		}
		return nil, fmt.Errorf("failed to get book: %w", MapError(err))
	}
	book.Theme = theme.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT page_number, text, image_url, image_prompt
		FROM book_pages
		WHERE book_id = $1
		ORDER BY page_number ASC
	`, book.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query book pages: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var page domain.Page
		if err := rows.Scan(&page.PageNumber, &page.Text, &page.ImageURL, &page.ImagePrompt); err != nil {
			return nil, fmt.Errorf("failed to scan book page: %w", err)
		}
		book.Pages = append(book.Pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating book pages: %w", err)
	}

	return &book, nil
}
