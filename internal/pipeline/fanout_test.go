package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/mocks"
)

// concurrencyGauge tracks the high-water mark of concurrent calls.
type concurrencyGauge struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (g *concurrencyGauge) enter() {
	g.mu.Lock()
	g.current++
	if g.current > g.peak {
		g.peak = g.current
	}
	g.mu.Unlock()
}

func (g *concurrencyGauge) exit() {
	g.mu.Lock()
	g.current--
	g.mu.Unlock()
}

func (g *concurrencyGauge) max() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

func TestImageFanOut_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	jobs := mocks.NewMemoryJobStore()
	job := newQueuedJob(t, jobs)
	gens := &mocks.StubGenerators{}

	gauge := &concurrencyGauge{}
	gens.ImageFn = func(_ context.Context, jobID uuid.UUID, prompt domain.ImagePrompt) (string, error) {
		gauge.enter()
		defer gauge.exit()
		time.Sleep(5 * time.Millisecond)
		return "/static/img.png", nil
	}

	fanout := NewImageFanOut(gens, jobs, 2, 0, 0, testLogger())
	prompts := mocks.SamplePrompts(mocks.SampleDraft(mocks.SampleSpec()))

	results, err := fanout.Generate(context.Background(), job.ID, prompts)
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.LessOrEqual(t, gauge.max(), 2)
	for _, r := range results {
		assert.False(t, r.Placeholder)
	}
}

func TestImageFanOut_DeadSlotDegradesToPlaceholder(t *testing.T) {
	t.Parallel()

	jobs := mocks.NewMemoryJobStore()
	job := newQueuedJob(t, jobs)
	gens := &mocks.StubGenerators{}

	attemptsBySlot := make(map[int]int)
	var mu sync.Mutex
	gens.ImageFn = func(_ context.Context, _ uuid.UUID, prompt domain.ImagePrompt) (string, error) {
		mu.Lock()
		attemptsBySlot[prompt.Page]++
		mu.Unlock()
		if prompt.Page == 3 {
			return "", domain.NewPipelineError(domain.ErrorCodeGenerationFailed,
				"slot permanently broken", nil)
		}
		return "/static/ok.png", nil
	}

	fanout := NewImageFanOut(gens, jobs, 2, 2, 0, testLogger())
	fanout.sleep = func(context.Context, time.Duration) error { return nil }
	prompts := mocks.SamplePrompts(mocks.SampleDraft(mocks.SampleSpec()))

	results, err := fanout.Generate(context.Background(), job.ID, prompts)
	require.NoError(t, err)
	require.Len(t, results, 5)

	// Slot 3 exhausted its retries and degraded; the rest rendered.
	assert.True(t, results[3].Placeholder)
	assert.Equal(t, PlaceholderImageURL, results[3].URL)
	for slot, r := range results {
		if slot == 3 {
			continue
		}
		assert.False(t, r.Placeholder, "slot %d", slot)
		assert.Equal(t, "/static/ok.png", r.URL)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attemptsBySlot[3])
	assert.Equal(t, 1, attemptsBySlot[1])
}

func TestImageFanOut_FatalSlotErrorSkipsRetries(t *testing.T) {
	t.Parallel()

	jobs := mocks.NewMemoryJobStore()
	job := newQueuedJob(t, jobs)
	gens := &mocks.StubGenerators{}

	var mu sync.Mutex
	attempts := 0
	gens.ImageFn = func(_ context.Context, _ uuid.UUID, prompt domain.ImagePrompt) (string, error) {
		if prompt.Page == 0 {
			mu.Lock()
			attempts++
			mu.Unlock()
			return "", domain.NewPipelineError(domain.ErrorCodeSafetyOutput,
				"image blocked", nil)
		}
		return "/static/ok.png", nil
	}

	fanout := NewImageFanOut(gens, jobs, 2, 3, 0, testLogger())
	fanout.sleep = func(context.Context, time.Duration) error { return nil }
	prompts := mocks.SamplePrompts(mocks.SampleDraft(mocks.SampleSpec()))

	results, err := fanout.Generate(context.Background(), job.ID, prompts)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts)
	assert.True(t, results[0].Placeholder)
}

func TestImageFanOut_ProgressReachesImagesDone(t *testing.T) {
	t.Parallel()

	jobs := mocks.NewMemoryJobStore()
	job := newQueuedJob(t, jobs)
	gens := &mocks.StubGenerators{}

	fanout := NewImageFanOut(gens, jobs, 3, 0, 0, testLogger())
	prompts := mocks.SamplePrompts(mocks.SampleDraft(mocks.SampleSpec()))

	_, err := fanout.Generate(context.Background(), job.ID, prompts)
	require.NoError(t, err)

	stored, err := jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, progressImagesDone, stored.Progress)
	assert.Equal(t, StepImages, stored.CurrentStep)
}

func TestImageFanOut_PersistedProgressNeverMovesBackwards(t *testing.T) {
	t.Parallel()

	jobs := mocks.NewMemoryJobStore()
	job := newQueuedJob(t, jobs)
	gens := &mocks.StubGenerators{}

	var mu sync.Mutex
	var persisted []int
	jobs.UpdateProgressFn = func(_ context.Context, _ uuid.UUID, _ string, progress int) error {
		mu.Lock()
		persisted = append(persisted, progress)
		mu.Unlock()
		return nil
	}

	// Uneven slot durations so slots finish out of submission order.
	gens.ImageFn = func(_ context.Context, _ uuid.UUID, prompt domain.ImagePrompt) (string, error) {
		time.Sleep(time.Duration(5-prompt.Page) * time.Millisecond)
		return "/static/img.png", nil
	}

	fanout := NewImageFanOut(gens, jobs, 3, 0, 0, testLogger())
	prompts := mocks.SamplePrompts(mocks.SampleDraft(mocks.SampleSpec()))

	_, err := fanout.Generate(context.Background(), job.ID, prompts)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, persisted, 5)
	for i := 1; i < len(persisted); i++ {
		assert.GreaterOrEqual(t, persisted[i], persisted[i-1])
	}
	assert.Equal(t, progressImagesDone, persisted[len(persisted)-1])
}

func TestImageFanOut_CancellationAborts(t *testing.T) {
	t.Parallel()

	jobs := mocks.NewMemoryJobStore()
	job := newQueuedJob(t, jobs)
	gens := &mocks.StubGenerators{}

	ctx, cancel := context.WithCancel(context.Background())
	gens.ImageFn = func(ctx context.Context, _ uuid.UUID, _ domain.ImagePrompt) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}

	fanout := NewImageFanOut(gens, jobs, 1, 0, 0, testLogger())
	prompts := mocks.SamplePrompts(mocks.SampleDraft(mocks.SampleSpec()))

	_, err := fanout.Generate(ctx, job.ID, prompts)
	require.Error(t, err)
}
