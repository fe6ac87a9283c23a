package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/generation"
	"github.com/fablehouse/fable-api/internal/store"
)

// defaultForbiddenTerms are scanned out of generated story text regardless
// of the per-request forbidden elements. The list is deliberately short;
// the model-side safety filters are the first line of defense and this scan
// is the last.
var defaultForbiddenTerms = []string{
	"kill", "blood", "weapon", "gun", "knife",
	"death", "corpse", "suicide", "drug",
}

// Orchestrator drives one job through the full generation pipeline, stages
// A through H. All durable state lives in the stores; the orchestrator
// itself is stateless and safe to run from many workers at once as long as
// each job is driven by a single worker.
type Orchestrator struct {
	steps     *StepRunner
	jobs      store.JobStore
	artifacts store.ArtifactStore
	books     store.BookStore

	moderator generation.Moderator
	stories   generation.StoryGenerator
	sheets    generation.CharacterSheetGenerator
	prompts   generation.ImagePromptGenerator
	fanout    *ImageFanOut

	llmTimeout time.Duration
	logger     *slog.Logger
}

// OrchestratorParams collects the dependencies of an Orchestrator.
type OrchestratorParams struct {
	Steps     *StepRunner
	Jobs      store.JobStore
	Artifacts store.ArtifactStore
	Books     store.BookStore

	Moderator generation.Moderator
	Stories   generation.StoryGenerator
	Sheets    generation.CharacterSheetGenerator
	Prompts   generation.ImagePromptGenerator
	FanOut    *ImageFanOut

	LLMTimeout time.Duration
	Logger     *slog.Logger
}

// NewOrchestrator validates the parameter set and creates an Orchestrator.
func NewOrchestrator(p OrchestratorParams) (*Orchestrator, error) {
	switch {
	case p.Steps == nil:
		return nil, errors.New("orchestrator requires a step runner")
	case p.Jobs == nil:
		return nil, errors.New("orchestrator requires a job store")
	case p.Artifacts == nil:
		return nil, errors.New("orchestrator requires an artifact store")
	case p.Books == nil:
		return nil, errors.New("orchestrator requires a book store")
	case p.Moderator == nil || p.Stories == nil || p.Sheets == nil || p.Prompts == nil:
		return nil, errors.New("orchestrator requires all generation adapters")
	case p.FanOut == nil:
		return nil, errors.New("orchestrator requires an image fan-out")
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		steps:      p.Steps,
		jobs:       p.Jobs,
		artifacts:  p.Artifacts,
		books:      p.Books,
		moderator:  p.Moderator,
		stories:    p.Stories,
		sheets:     p.Sheets,
		prompts:    p.Prompts,
		fanout:     p.FanOut,
		llmTimeout: p.LLMTimeout,
		logger:     logger.With(slog.String("component", "orchestrator")),
	}, nil
}

// Run executes the whole pipeline for a job. On any failure the job is
// marked failed with its error code before the error is returned; a panic
// in any stage is converted to an UNKNOWN failure instead of taking down
// the worker.
func (o *Orchestrator) Run(ctx context.Context, job *domain.Job) (err error) {
	log := o.logger.With(slog.String("job_id", job.ID.String()))

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", slog.Any("panic", r))
			err = domain.NewPipelineError(domain.ErrorCodeUnknown,
				fmt.Sprintf("pipeline panic: %v", r), nil)
			o.failJob(ctx, job.ID, err)
		}
	}()

	log.Info("pipeline started", slog.String("topic", job.Spec.Topic))

	if err := o.runStages(ctx, job); err != nil {
		// Shutdown cancellation is not a job failure. The job keeps its
		// running status and stale heartbeat; the monitor requeues it.
		if errors.Is(err, context.Canceled) {
			log.Info("pipeline interrupted by shutdown")
			return err
		}
		o.failJob(ctx, job.ID, err)
		return err
	}

	if err := o.jobs.MarkDone(ctx, job.ID); err != nil {
		log.Error("failed to mark job done", slog.String("error", err.Error()))
		return fmt.Errorf("failed to mark job %s done: %w", job.ID, err)
	}

	log.Info("pipeline completed")
	return nil
}

func (o *Orchestrator) runStages(ctx context.Context, job *domain.Job) error {
	// Stage A: request normalization. Local work, no retries. Runs first so
	// every later stage, moderation included, sees the normalized request.
	spec, err := RunStep(ctx, o.steps, job.ID, StepPreparing, progressPreparing,
		func(context.Context) (domain.BookSpec, error) {
			normalized, err := job.Spec.Normalize()
			if err != nil {
				return normalized, domain.NewPipelineError(
					domain.ErrorCodeGenerationInvalidOutput,
					"book request failed normalization", err)
			}
			return normalized, nil
		},
		StepOptions{Retries: 0})
	if err != nil {
		return err
	}

	// Stage B: input moderation. One attempt; an unsafe verdict is a policy
	// decision, not a transient failure.
	verdict, err := RunStep(ctx, o.steps, job.ID, StepModeration, progressModeration,
		func(ctx context.Context) (*domain.ModerationResult, error) {
			return o.moderator.ModerateInput(ctx, spec)
		},
		StepOptions{Retries: 0, Timeout: o.llmTimeout})
	if err != nil {
		return err
	}
	if !verdict.IsSafe {
		return domain.NewPipelineError(domain.ErrorCodeSafetyInput,
			moderationMessage(verdict), nil)
	}

	// Stage C: story generation.
	draft, err := RunStep(ctx, o.steps, job.ID, StepStory, progressStory,
		func(ctx context.Context) (*domain.StoryDraft, error) {
			d, err := o.stories.GenerateStory(ctx, spec)
			if err != nil {
				return nil, err
			}
			if err := d.Validate(); err != nil {
				return nil, domain.NewPipelineError(
					domain.ErrorCodeGenerationInvalidOutput,
					"story draft failed validation", err)
			}
			return d, nil
		},
		StepOptions{Retries: 2, Timeout: o.llmTimeout})
	if err != nil {
		return err
	}
	if err := o.artifacts.SaveStoryDraft(ctx, job.ID, draft); err != nil {
		return domain.NewPipelineError(domain.ErrorCodeStorageWriteFailed,
			"failed to persist story draft", err)
	}

	// Stage D: character sheet.
	sheet, err := RunStep(ctx, o.steps, job.ID, StepCharacterSheet, progressCharacterSheet,
		func(ctx context.Context) (*domain.CharacterSheet, error) {
			return o.sheets.GenerateCharacterSheet(ctx, spec, draft)
		},
		StepOptions{Retries: 1, Timeout: o.llmTimeout})
	if err != nil {
		return err
	}
	if err := o.artifacts.SaveCharacterSheet(ctx, job.ID, sheet); err != nil {
		return domain.NewPipelineError(domain.ErrorCodeStorageWriteFailed,
			"failed to persist character sheet", err)
	}

	// Stage E: image prompts, one per slot.
	prompts, err := RunStep(ctx, o.steps, job.ID, StepImagePrompts, progressImagePrompts,
		func(ctx context.Context) (*domain.ImagePrompts, error) {
			p, err := o.prompts.GenerateImagePrompts(ctx, spec, draft, sheet)
			if err != nil {
				return nil, err
			}
			if err := p.Validate(); err != nil {
				return nil, domain.NewPipelineError(
					domain.ErrorCodeGenerationInvalidOutput,
					"image prompt set failed validation", err)
			}
			if len(p.Pages) != len(draft.Pages) {
				return nil, domain.NewPipelineError(
					domain.ErrorCodeGenerationInvalidOutput,
					fmt.Sprintf("expected %d page prompts, got %d",
						len(draft.Pages), len(p.Pages)), nil)
			}
			return p, nil
		},
		StepOptions{Retries: 1, Timeout: o.llmTimeout})
	if err != nil {
		return err
	}
	if err := o.artifacts.SaveImagePrompts(ctx, job.ID, prompts); err != nil {
		return domain.NewPipelineError(domain.ErrorCodeStorageWriteFailed,
			"failed to persist image prompts", err)
	}

	// Stage F: bounded-concurrency image fan-out. Slot failures degrade to
	// placeholders inside the fan-out; only cancellation surfaces here.
	slots, err := o.fanout.Generate(ctx, job.ID, prompts)
	if err != nil {
		return err
	}

	// Stage G: output safety scan over the final story text.
	if _, err := RunStep(ctx, o.steps, job.ID, StepSafetyScan, progressSafetyScan,
		func(context.Context) (struct{}, error) {
			if term := scanForbiddenTerms(draft, spec.ForbiddenElements); term != "" {
				return struct{}{}, domain.NewPipelineError(
					domain.ErrorCodeSafetyOutput,
					fmt.Sprintf("generated story contains forbidden term %q", term), nil)
			}
			return struct{}{}, nil
		},
		StepOptions{Retries: 0}); err != nil {
		return err
	}

	// Stage H: package and persist the book.
	if _, err := RunStep(ctx, o.steps, job.ID, StepPackaging, progressPackaging,
		func(ctx context.Context) (*domain.Book, error) {
			book := assembleBook(job, spec, draft, prompts, slots)
			if err := o.books.Create(ctx, book); err != nil {
				return nil, domain.NewPipelineError(
					domain.ErrorCodeStorageWriteFailed,
					"failed to persist packaged book", err)
			}
			return book, nil
		},
		StepOptions{Retries: 1}); err != nil {
		return err
	}

	return nil
}

// failJob records the failure on the job row. A job the monitor already
// finalized refuses the transition, which is fine.
func (o *Orchestrator) failJob(ctx context.Context, jobID uuid.UUID, cause error) {
	code := domain.ErrorCodeUnknown
	message := cause.Error()

	var pipeErr *domain.PipelineError
	if errors.As(cause, &pipeErr) {
		code = pipeErr.Code
		message = pipeErr.Message
		if pipeErr.Err != nil {
			message = fmt.Sprintf("%s: %v", pipeErr.Message, pipeErr.Err)
		}
	}

	if err := o.jobs.MarkFailed(ctx, jobID, code, message); err != nil {
		if !errors.Is(err, store.ErrInvalidTransition) {
			o.logger.Error("failed to record job failure",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()))
		}
	}
}

// assembleBook builds the final Book from the job's artifacts. The book id
// embeds a timestamp and a short random suffix so ids sort roughly by
// creation time while staying unguessable.
func assembleBook(job *domain.Job, spec domain.BookSpec, draft *domain.StoryDraft, prompts *domain.ImagePrompts, slots []SlotResult) *domain.Book {
	now := time.Now().UTC()
	id := fmt.Sprintf("book_%s_%s",
		now.Format("20060102150405"),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:8])

	// Page prompts line up with draft pages by index; the counts were
	// validated equal when the prompt set was generated.
	pages := make([]domain.Page, len(draft.Pages))
	for i, p := range draft.Pages {
		url := PlaceholderImageURL
		if i+1 < len(slots) {
			url = slots[i+1].URL
		}
		prompt := ""
		if i < len(prompts.Pages) {
			prompt = prompts.Pages[i].PositivePrompt
		}
		pages[i] = domain.Page{
			PageNumber:  p.Page,
			Text:        p.Text,
			ImageURL:    url,
			ImagePrompt: prompt,
		}
	}

	cover := PlaceholderImageURL
	if len(slots) > 0 {
		cover = slots[0].URL
	}

	return &domain.Book{
		ID:            id,
		JobID:         job.ID,
		Title:         draft.Title,
		Language:      spec.Language,
		TargetAge:     spec.TargetAge,
		Style:         spec.Style,
		Theme:         spec.Theme,
		CoverImageURL: cover,
		UserKey:       job.UserKey,
		Pages:         pages,
		CreatedAt:     now,
	}
}

// moderationMessage flattens a moderation verdict into the persisted
// error message.
func moderationMessage(verdict *domain.ModerationResult) string {
	if len(verdict.Reasons) == 0 {
		return "request rejected by content safety check"
	}
	return "request rejected by content safety check: " +
		strings.Join(verdict.Reasons, "; ")
}

// scanForbiddenTerms returns the first forbidden term found in the story
// text, or "" when the story is clean. Matching is case-insensitive
// substring matching over title and page text.
func scanForbiddenTerms(draft *domain.StoryDraft, extra []string) string {
	terms := make([]string, 0, len(defaultForbiddenTerms)+len(extra))
	terms = append(terms, defaultForbiddenTerms...)
	for _, t := range extra {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}

	var b strings.Builder
	b.WriteString(draft.Title)
	for _, p := range draft.Pages {
		b.WriteByte(' ')
		b.WriteString(p.Text)
	}
	haystack := strings.ToLower(b.String())

	for _, term := range terms {
		if strings.Contains(haystack, strings.ToLower(term)) {
			return term
		}
	}
	return ""
}
