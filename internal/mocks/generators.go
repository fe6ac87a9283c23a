package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
)

// StubGenerators implements every generation interface with overridable
// functions and sensible defaults, so one value can back a whole pipeline
// in tests.
type StubGenerators struct {
	ModerateFn func(ctx context.Context, spec domain.BookSpec) (*domain.ModerationResult, error)
	StoryFn    func(ctx context.Context, spec domain.BookSpec) (*domain.StoryDraft, error)
	SheetFn    func(ctx context.Context, spec domain.BookSpec, draft *domain.StoryDraft) (*domain.CharacterSheet, error)
	PromptsFn  func(ctx context.Context, spec domain.BookSpec, draft *domain.StoryDraft, sheet *domain.CharacterSheet) (*domain.ImagePrompts, error)
	ImageFn    func(ctx context.Context, jobID uuid.UUID, prompt domain.ImagePrompt) (string, error)

	mu         sync.Mutex
	imageCalls int
}

// ModerateInput implements generation.Moderator.
func (g *StubGenerators) ModerateInput(ctx context.Context, spec domain.BookSpec) (*domain.ModerationResult, error) {
	if g.ModerateFn != nil {
		return g.ModerateFn(ctx, spec)
	}
	return &domain.ModerationResult{IsSafe: true}, nil
}

// GenerateStory implements generation.StoryGenerator.
func (g *StubGenerators) GenerateStory(ctx context.Context, spec domain.BookSpec) (*domain.StoryDraft, error) {
	if g.StoryFn != nil {
		return g.StoryFn(ctx, spec)
	}
	return SampleDraft(spec), nil
}

// GenerateCharacterSheet implements generation.CharacterSheetGenerator.
func (g *StubGenerators) GenerateCharacterSheet(ctx context.Context, spec domain.BookSpec, draft *domain.StoryDraft) (*domain.CharacterSheet, error) {
	if g.SheetFn != nil {
		return g.SheetFn(ctx, spec, draft)
	}
	return &domain.CharacterSheet{
		CharacterID:       "char-1",
		Name:              "Pip",
		MasterDescription: "a small orange fox with a blue scarf",
	}, nil
}

// GenerateImagePrompts implements generation.ImagePromptGenerator.
func (g *StubGenerators) GenerateImagePrompts(ctx context.Context, spec domain.BookSpec, draft *domain.StoryDraft, sheet *domain.CharacterSheet) (*domain.ImagePrompts, error) {
	if g.PromptsFn != nil {
		return g.PromptsFn(ctx, spec, draft, sheet)
	}
	return SamplePrompts(draft), nil
}

// GenerateImage implements generation.ImageGenerator.
func (g *StubGenerators) GenerateImage(ctx context.Context, jobID uuid.UUID, prompt domain.ImagePrompt) (string, error) {
	g.mu.Lock()
	g.imageCalls++
	g.mu.Unlock()

	if g.ImageFn != nil {
		return g.ImageFn(ctx, jobID, prompt)
	}
	return fmt.Sprintf("/static/jobs/%s/slot_%d.png", jobID, prompt.Page), nil
}

// ImageCalls returns how many image renders were attempted.
func (g *StubGenerators) ImageCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.imageCalls
}

// SampleSpec returns a valid normalized book request.
func SampleSpec() domain.BookSpec {
	return domain.BookSpec{
		Topic:     "a fox who learns to share",
		Language:  "en",
		TargetAge: "4-6",
		Style:     "watercolor",
		PageCount: 4,
	}
}

// SampleDraft returns a story draft with one page per requested page.
func SampleDraft(spec domain.BookSpec) *domain.StoryDraft {
	pages := spec.PageCount
	if pages == 0 {
		pages = 4
	}
	draft := &domain.StoryDraft{
		Title:     "Pip Learns to Share",
		Language:  spec.Language,
		TargetAge: spec.TargetAge,
		Moral:     "sharing makes everything better",
	}
	for i := 1; i <= pages; i++ {
		draft.Pages = append(draft.Pages, domain.StoryPage{
			Page:  i,
			Text:  fmt.Sprintf("Page %d of Pip's adventure.", i),
			Scene: fmt.Sprintf("Pip in the meadow, scene %d", i),
		})
	}
	return draft
}

// SamplePrompts returns an image prompt set matching the draft's pages.
func SamplePrompts(draft *domain.StoryDraft) *domain.ImagePrompts {
	prompts := &domain.ImagePrompts{
		Style: "watercolor",
		Cover: domain.ImagePrompt{Page: 0, PositivePrompt: "cover: Pip the fox"},
	}
	for _, p := range draft.Pages {
		prompts.Pages = append(prompts.Pages, domain.ImagePrompt{
			Page:           p.Page,
			PositivePrompt: p.Scene,
		})
	}
	return prompts
}
