package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/fablehouse/fable-api/internal/config"
	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/generation"
)

// TextGenerator implements the text-stage generation interfaces
// (generation.Moderator, StoryGenerator, CharacterSheetGenerator and
// ImagePromptGenerator) on top of a Gemini text model in JSON mode.
type TextGenerator struct {
	logger *slog.Logger
	client *genai.Client
	model  string
}

// NewTextGenerator creates a TextGenerator from the LLM configuration.
func NewTextGenerator(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*TextGenerator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	return &TextGenerator{
		logger: logger.With(slog.String("component", "gemini_text")),
		client: client,
		model:  cfg.ModelName,
	}, nil
}

// ModerateInput implements generation.Moderator.
func (g *TextGenerator) ModerateInput(ctx context.Context, spec domain.BookSpec) (*domain.ModerationResult, error) {
	var verdict domain.ModerationResult
	if err := g.generateJSON(ctx, "input moderation", moderationPrompt(spec), &verdict); err != nil {
		// A moderation request the model itself refuses is an unsafe
		// verdict, not a broken call.
		var pipeErr *domain.PipelineError
		if errors.As(err, &pipeErr) && pipeErr.Code == domain.ErrorCodeSafetyOutput {
			return &domain.ModerationResult{
				IsSafe:  false,
				Reasons: []string{"request rejected by model safety filters"},
			}, nil
		}
		return nil, err
	}
	return &verdict, nil
}

// GenerateStory implements generation.StoryGenerator.
func (g *TextGenerator) GenerateStory(ctx context.Context, spec domain.BookSpec) (*domain.StoryDraft, error) {
	var draft domain.StoryDraft
	if err := g.generateJSON(ctx, "story generation", storyPrompt(spec), &draft); err != nil {
		return nil, err
	}
	if draft.Language == "" {
		draft.Language = spec.Language
	}
	if draft.TargetAge == "" {
		draft.TargetAge = spec.TargetAge
	}
	return &draft, nil
}

// GenerateCharacterSheet implements generation.CharacterSheetGenerator.
func (g *TextGenerator) GenerateCharacterSheet(ctx context.Context, spec domain.BookSpec, draft *domain.StoryDraft) (*domain.CharacterSheet, error) {
	var sheet domain.CharacterSheet
	if err := g.generateJSON(ctx, "character sheet generation", characterSheetPrompt(spec, draft), &sheet); err != nil {
		return nil, err
	}
	if sheet.MasterDescription == "" {
		return nil, invalidResponseError("character sheet generation",
			errors.New("missing master description"))
	}
	return &sheet, nil
}

// GenerateImagePrompts implements generation.ImagePromptGenerator.
func (g *TextGenerator) GenerateImagePrompts(ctx context.Context, spec domain.BookSpec, draft *domain.StoryDraft, sheet *domain.CharacterSheet) (*domain.ImagePrompts, error) {
	var prompts domain.ImagePrompts
	if err := g.generateJSON(ctx, "image prompt generation", imagePromptsPrompt(spec, draft, sheet), &prompts); err != nil {
		return nil, err
	}
	if prompts.Style == "" {
		prompts.Style = spec.Style
	}
	return &prompts, nil
}

// generateJSON runs one JSON-mode completion and unmarshals the reply into
// out. The call is single-attempt; retrying is the step runner's job.
func (g *TextGenerator) generateJSON(ctx context.Context, op, prompt string, out any) error {
	g.logger.DebugContext(ctx, "calling gemini",
		slog.String("op", op),
		slog.String("model", g.model),
		slog.Int("prompt_length", len(prompt)))

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		})
	if err != nil {
		return mapAPIError(op, err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return invalidResponseError(op, errors.New("empty response"))
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return blockedError(op)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return invalidResponseError(op, errors.New("no text in response"))
	}
	// Some models wrap JSON in fences even in JSON mode.
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), out); err != nil {
		return invalidResponseError(op, err)
	}

	g.logger.DebugContext(ctx, "gemini call succeeded",
		slog.String("op", op),
		slog.Int("response_length", len(text)))
	return nil
}
