package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/mocks"
)

type testPipeline struct {
	jobs      *mocks.MemoryJobStore
	artifacts *mocks.MemoryArtifactStore
	books     *mocks.MemoryBookStore
	gens      *mocks.StubGenerators
	orch      *Orchestrator
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()

	jobs := mocks.NewMemoryJobStore()
	artifacts := mocks.NewMemoryArtifactStore()
	books := mocks.NewMemoryBookStore()
	gens := &mocks.StubGenerators{}

	steps := NewStepRunner(jobs, testLogger())
	steps.sleep = func(context.Context, time.Duration) error { return nil }

	fanout := NewImageFanOut(gens, jobs, 2, 1, 0, testLogger())
	fanout.sleep = func(context.Context, time.Duration) error { return nil }

	orch, err := NewOrchestrator(OrchestratorParams{
		Steps:     steps,
		Jobs:      jobs,
		Artifacts: artifacts,
		Books:     books,
		Moderator: gens,
		Stories:   gens,
		Sheets:    gens,
		Prompts:   gens,
		FanOut:    fanout,
		Logger:    testLogger(),
	})
	require.NoError(t, err)

	return &testPipeline{
		jobs:      jobs,
		artifacts: artifacts,
		books:     books,
		gens:      gens,
		orch:      orch,
	}
}

func TestOrchestrator_HappyPath(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t)
	job := newQueuedJob(t, p.jobs)

	require.NoError(t, p.orch.Run(context.Background(), job))

	stored, err := p.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDone, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	assert.Empty(t, stored.ErrorCode)

	// All three intermediate artifacts were persisted.
	draft, err := p.artifacts.GetStoryDraft(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, draft.Pages, job.Spec.PageCount)
	_, err = p.artifacts.GetCharacterSheet(context.Background(), job.ID)
	require.NoError(t, err)
	prompts, err := p.artifacts.GetImagePrompts(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Spec.PageCount+1, prompts.TotalSlots())

	// The packaged book has a page per story page and real image URLs.
	book, err := p.books.GetByJobID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, draft.Title, book.Title)
	assert.Equal(t, job.UserKey, book.UserKey)
	assert.NotEqual(t, PlaceholderImageURL, book.CoverImageURL)
	require.Len(t, book.Pages, job.Spec.PageCount)
	for i, page := range book.Pages {
		assert.NotEqual(t, PlaceholderImageURL, page.ImageURL)
		assert.Equal(t, prompts.Pages[i].PositivePrompt, page.ImagePrompt)
	}
	assert.Regexp(t, `^book_\d{14}_[0-9a-f]{8}$`, book.ID)
}

func TestOrchestrator_UnsafeInputFailsWithoutGenerating(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t)
	job := newQueuedJob(t, p.jobs)

	storyCalls := 0
	p.gens.ModerateFn = func(context.Context, domain.BookSpec) (*domain.ModerationResult, error) {
		return &domain.ModerationResult{
			IsSafe:  false,
			Reasons: []string{"topic not suitable for children"},
		}, nil
	}
	p.gens.StoryFn = func(context.Context, domain.BookSpec) (*domain.StoryDraft, error) {
		storyCalls++
		return mocks.SampleDraft(mocks.SampleSpec()), nil
	}

	err := p.orch.Run(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, 0, storyCalls)

	stored, getErr := p.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, domain.ErrorCodeSafetyInput, stored.ErrorCode)
	assert.Contains(t, stored.ErrorMessage, "topic not suitable for children")
}

func TestOrchestrator_ModerationSeesNormalizedRequest(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t)

	spec := mocks.SampleSpec()
	spec.Language = ""
	spec.Style = ""
	job, err := domain.NewJob("user-1", "", spec)
	require.NoError(t, err)
	require.NoError(t, p.jobs.Create(context.Background(), job))

	var moderated domain.BookSpec
	p.gens.ModerateFn = func(_ context.Context, s domain.BookSpec) (*domain.ModerationResult, error) {
		moderated = s
		return &domain.ModerationResult{IsSafe: true}, nil
	}

	require.NoError(t, p.orch.Run(context.Background(), job))

	// Normalization runs first, so the moderator sees the defaults filled in.
	assert.Equal(t, "en", moderated.Language)
	assert.Equal(t, "watercolor", moderated.Style)
}

func TestOrchestrator_UnsafeInputStopsAtModerationStep(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t)
	job := newQueuedJob(t, p.jobs)

	p.gens.ModerateFn = func(context.Context, domain.BookSpec) (*domain.ModerationResult, error) {
		return &domain.ModerationResult{IsSafe: false}, nil
	}

	require.Error(t, p.orch.Run(context.Background(), job))

	stored, err := p.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StepModeration, stored.CurrentStep)
	assert.Equal(t, progressModeration, stored.Progress)
}

func TestOrchestrator_StoryFailureExhaustsRetriesAndFailsJob(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t)
	job := newQueuedJob(t, p.jobs)

	calls := 0
	p.gens.StoryFn = func(context.Context, domain.BookSpec) (*domain.StoryDraft, error) {
		calls++
		return nil, domain.NewPipelineError(domain.ErrorCodeGenerationFailed,
			"provider down", nil)
	}

	err := p.orch.Run(context.Background(), job)
	require.Error(t, err)
	// Story stage runs one initial attempt plus two retries.
	assert.Equal(t, 3, calls)

	stored, getErr := p.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, domain.ErrorCodeGenerationFailed, stored.ErrorCode)
}

func TestOrchestrator_ForbiddenTermFailsSafetyScan(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t)
	job := newQueuedJob(t, p.jobs)

	p.gens.StoryFn = func(_ context.Context, spec domain.BookSpec) (*domain.StoryDraft, error) {
		draft := mocks.SampleDraft(spec)
		draft.Pages[1].Text = "The fox found a sharp knife in the grass."
		return draft, nil
	}

	err := p.orch.Run(context.Background(), job)
	require.Error(t, err)

	stored, getErr := p.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, domain.ErrorCodeSafetyOutput, stored.ErrorCode)

	// No book for a story that failed the output scan.
	_, bookErr := p.books.GetByJobID(context.Background(), job.ID)
	require.Error(t, bookErr)
}

func TestOrchestrator_RequestForbiddenElementsAreScanned(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t)

	spec := mocks.SampleSpec()
	spec.ForbiddenElements = []string{"thunderstorm"}
	job, err := domain.NewJob("user-1", "", spec)
	require.NoError(t, err)
	require.NoError(t, p.jobs.Create(context.Background(), job))

	p.gens.StoryFn = func(_ context.Context, s domain.BookSpec) (*domain.StoryDraft, error) {
		draft := mocks.SampleDraft(s)
		draft.Pages[0].Text = "A big thunderstorm rolled over the meadow."
		return draft, nil
	}

	require.Error(t, p.orch.Run(context.Background(), job))

	stored, getErr := p.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.ErrorCodeSafetyOutput, stored.ErrorCode)
}

func TestOrchestrator_ShutdownLeavesJobRunningForMonitor(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t)
	job := newQueuedJob(t, p.jobs)

	ctx, cancel := context.WithCancel(context.Background())
	p.gens.StoryFn = func(ctx context.Context, _ domain.BookSpec) (*domain.StoryDraft, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}

	err := p.orch.Run(ctx, job)
	require.ErrorIs(t, err, context.Canceled)

	// The job is not failed: it keeps its running status and stale
	// heartbeat, and the monitor requeues it on a later sweep.
	stored, getErr := p.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusRunning, stored.Status)
	assert.Empty(t, stored.ErrorCode)
}

func TestOrchestrator_PanicBecomesUnknownFailure(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t)
	job := newQueuedJob(t, p.jobs)

	p.gens.SheetFn = func(context.Context, domain.BookSpec, *domain.StoryDraft) (*domain.CharacterSheet, error) {
		panic("boom")
	}

	err := p.orch.Run(context.Background(), job)
	require.Error(t, err)

	var pipeErr *domain.PipelineError
	require.ErrorAs(t, err, &pipeErr)
	assert.Equal(t, domain.ErrorCodeUnknown, pipeErr.Code)

	stored, getErr := p.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, domain.ErrorCodeUnknown, stored.ErrorCode)
}

func TestOrchestrator_PromptPageMismatchIsInvalidOutput(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t)
	job := newQueuedJob(t, p.jobs)

	p.gens.PromptsFn = func(_ context.Context, _ domain.BookSpec, draft *domain.StoryDraft, _ *domain.CharacterSheet) (*domain.ImagePrompts, error) {
		prompts := mocks.SamplePrompts(draft)
		prompts.Pages = prompts.Pages[:1]
		return prompts, nil
	}

	err := p.orch.Run(context.Background(), job)
	require.Error(t, err)

	stored, getErr := p.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.ErrorCodeGenerationInvalidOutput, stored.ErrorCode)
}
