package generation

import (
	"context"

	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
)

// Moderator checks content against the child-safety policy.
type Moderator interface {
	// ModerateInput inspects a normalized book request before any
	// generation happens. An unsafe verdict is a policy decision, not an
	// error; the call fails only when the check itself could not run.
	ModerateInput(ctx context.Context, spec domain.BookSpec) (*domain.ModerationResult, error)
}

// StoryGenerator produces a story draft from a normalized book request.
type StoryGenerator interface {
	GenerateStory(ctx context.Context, spec domain.BookSpec) (*domain.StoryDraft, error)
}

// CharacterSheetGenerator derives a reusable character sheet from a story.
type CharacterSheetGenerator interface {
	GenerateCharacterSheet(ctx context.Context, spec domain.BookSpec, draft *domain.StoryDraft) (*domain.CharacterSheet, error)
}

// ImagePromptGenerator turns a story and character sheet into one rendering
// prompt per image slot (cover plus pages).
type ImagePromptGenerator interface {
	GenerateImagePrompts(ctx context.Context, spec domain.BookSpec, draft *domain.StoryDraft, sheet *domain.CharacterSheet) (*domain.ImagePrompts, error)
}

// ImageGenerator renders a single image slot and returns a public URL for
// the stored artifact. The job id keys the stored object so re-renders of
// the same slot overwrite rather than accumulate.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, jobID uuid.UUID, prompt domain.ImagePrompt) (string, error)
}
