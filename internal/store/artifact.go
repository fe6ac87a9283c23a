package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
)

// ArtifactStore persists the intermediate pipeline artifacts keyed by job
// id. Artifacts are write-once per job and exist for auditability and for
// feeding regeneration; they have no lifecycle of their own.
type ArtifactStore interface {
	// SaveStoryDraft persists the stage-C story draft for the job,
	// replacing any draft left behind by an earlier run of the same job.
	SaveStoryDraft(ctx context.Context, jobID uuid.UUID, draft *domain.StoryDraft) error

	// GetStoryDraft retrieves the story draft for the job.
	// Returns ErrArtifactNotFound if none was saved.
	GetStoryDraft(ctx context.Context, jobID uuid.UUID) (*domain.StoryDraft, error)

	// SaveCharacterSheet persists the stage-D character sheet for the job.
	SaveCharacterSheet(ctx context.Context, jobID uuid.UUID, sheet *domain.CharacterSheet) error

	// GetCharacterSheet retrieves the character sheet for the job.
	// Returns ErrArtifactNotFound if none was saved.
	GetCharacterSheet(ctx context.Context, jobID uuid.UUID) (*domain.CharacterSheet, error)

	// SaveImagePrompts persists the stage-E image prompt set for the job.
	SaveImagePrompts(ctx context.Context, jobID uuid.UUID, prompts *domain.ImagePrompts) error

	// GetImagePrompts retrieves the image prompt set for the job.
	// Returns ErrArtifactNotFound if none was saved.
	GetImagePrompts(ctx context.Context, jobID uuid.UUID) (*domain.ImagePrompts, error)
}
