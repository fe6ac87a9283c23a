package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/store"
)

// Artifact kinds stored in the job_artifacts table.
const (
	artifactKindStoryDraft     = "story_draft"
	artifactKindCharacterSheet = "character_sheet"
	artifactKindImagePrompts   = "image_prompts"
)

// PostgresArtifactStore implements the store.ArtifactStore interface using
// PostgreSQL. All artifact kinds share one table of (job_id, kind) keyed
// JSONB payloads; a re-run of the same job upserts over its earlier
// artifacts.
type PostgresArtifactStore struct {
	db store.DBTX
}

// NewPostgresArtifactStore creates a new PostgresArtifactStore.
func NewPostgresArtifactStore(db store.DBTX) *PostgresArtifactStore {
	return &PostgresArtifactStore{db: db}
}

// SaveStoryDraft implements store.ArtifactStore.
func (s *PostgresArtifactStore) SaveStoryDraft(ctx context.Context, jobID uuid.UUID, draft *domain.StoryDraft) error {
	return s.save(ctx, jobID, artifactKindStoryDraft, draft)
}

// GetStoryDraft implements store.ArtifactStore.
func (s *PostgresArtifactStore) GetStoryDraft(ctx context.Context, jobID uuid.UUID) (*domain.StoryDraft, error) {
	var draft domain.StoryDraft
	if err := s.get(ctx, jobID, artifactKindStoryDraft, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

// SaveCharacterSheet implements store.ArtifactStore.
func (s *PostgresArtifactStore) SaveCharacterSheet(ctx context.Context, jobID uuid.UUID, sheet *domain.CharacterSheet) error {
	return s.save(ctx, jobID, artifactKindCharacterSheet, sheet)
}

// GetCharacterSheet implements store.ArtifactStore.
func (s *PostgresArtifactStore) GetCharacterSheet(ctx context.Context, jobID uuid.UUID) (*domain.CharacterSheet, error) {
	var sheet domain.CharacterSheet
	if err := s.get(ctx, jobID, artifactKindCharacterSheet, &sheet); err != nil {
		return nil, err
	}
	return &sheet, nil
}

// SaveImagePrompts implements store.ArtifactStore.
func (s *PostgresArtifactStore) SaveImagePrompts(ctx context.Context, jobID uuid.UUID, prompts *domain.ImagePrompts) error {
	return s.save(ctx, jobID, artifactKindImagePrompts, prompts)
}

// GetImagePrompts implements store.ArtifactStore.
func (s *PostgresArtifactStore) GetImagePrompts(ctx context.Context, jobID uuid.UUID) (*domain.ImagePrompts, error) {
	var prompts domain.ImagePrompts
	if err := s.get(ctx, jobID, artifactKindImagePrompts, &prompts); err != nil {
		return nil, err
	}
	return &prompts, nil
}

func (s *PostgresArtifactStore) save(ctx context.Context, jobID uuid.UUID, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s artifact: %w", kind, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_artifacts (job_id, kind, payload, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id, kind) DO UPDATE
		SET payload = EXCLUDED.payload, created_at = EXCLUDED.created_at
	`, jobID, kind, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save %s artifact: %w", kind, MapError(err))
	}
	return nil
}

func (s *PostgresArtifactStore) get(ctx context.Context, jobID uuid.UUID, kind string, out any) error {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM job_artifacts WHERE job_id = $1 AND kind = $2
	`, jobID, kind).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrArtifactNotFound
		}
		return fmt.Errorf("failed to get %s artifact: %w", kind, MapError(err))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s artifact: %w", kind, err)
	}
	return nil
}
