package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/mocks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// newTestStepRunner builds a StepRunner whose backoff waits are recorded
// instead of slept.
func newTestStepRunner(jobs *mocks.MemoryJobStore) (*StepRunner, *[]time.Duration) {
	r := NewStepRunner(jobs, testLogger())
	waits := &[]time.Duration{}
	r.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return r, waits
}

func newQueuedJob(t *testing.T, jobs *mocks.MemoryJobStore) *domain.Job {
	t.Helper()
	job, err := domain.NewJob("user-1", "", mocks.SampleSpec())
	require.NoError(t, err)
	require.NoError(t, jobs.Create(context.Background(), job))
	return job
}

func TestRunStep_SuccessFirstAttempt(t *testing.T) {
	t.Parallel()

	jobs := mocks.NewMemoryJobStore()
	runner, waits := newTestStepRunner(jobs)
	job := newQueuedJob(t, jobs)

	calls := 0
	result, err := RunStep(context.Background(), runner, job.ID, "story", 30,
		func(context.Context) (string, error) {
			calls++
			return "draft", nil
		},
		StepOptions{Retries: 2})

	require.NoError(t, err)
	assert.Equal(t, "draft", result)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)

	stored, err := jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, stored.Status)
	assert.Equal(t, "story", stored.CurrentStep)
	assert.Equal(t, 30, stored.Progress)
}

func TestRunStep_RetryableFailureThenSuccess(t *testing.T) {
	t.Parallel()

	jobs := mocks.NewMemoryJobStore()
	runner, waits := newTestStepRunner(jobs)
	job := newQueuedJob(t, jobs)

	calls := 0
	result, err := RunStep(context.Background(), runner, job.ID, "story", 30,
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", domain.NewPipelineError(domain.ErrorCodeGenerationFailed,
					"flaky provider", nil)
			}
			return "draft", nil
		},
		StepOptions{Retries: 2})

	require.NoError(t, err)
	assert.Equal(t, "draft", result)
	assert.Equal(t, 3, calls)
	// GENERATION_FAILED backoff curve: 2s then 5s.
	assert.Equal(t, []time.Duration{2 * time.Second, 5 * time.Second}, *waits)
}

func TestRunStep_FatalFailureDoesNotRetry(t *testing.T) {
	t.Parallel()

	jobs := mocks.NewMemoryJobStore()
	runner, waits := newTestStepRunner(jobs)
	job := newQueuedJob(t, jobs)

	calls := 0
	_, err := RunStep(context.Background(), runner, job.ID, "moderation", 5,
		func(context.Context) (struct{}, error) {
			calls++
			return struct{}{}, domain.NewPipelineError(domain.ErrorCodeSafetyInput,
				"unsafe request", nil)
		},
		StepOptions{Retries: 3})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)

	var pipeErr *domain.PipelineError
	require.ErrorAs(t, err, &pipeErr)
	assert.Equal(t, domain.ErrorCodeSafetyInput, pipeErr.Code)
}

func TestRunStep_ExhaustedRetriesReturnsLastClassification(t *testing.T) {
	t.Parallel()

	jobs := mocks.NewMemoryJobStore()
	runner, waits := newTestStepRunner(jobs)
	job := newQueuedJob(t, jobs)

	calls := 0
	_, err := RunStep(context.Background(), runner, job.ID, "story", 30,
		func(context.Context) (string, error) {
			calls++
			return "", domain.NewPipelineError(domain.ErrorCodeGenerationRateLimited,
				"quota exceeded", nil)
		},
		StepOptions{Retries: 2})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	// RATE_LIMITED backoff curve: 5s then 10s.
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, *waits)

	var pipeErr *domain.PipelineError
	require.ErrorAs(t, err, &pipeErr)
	assert.Equal(t, domain.ErrorCodeGenerationRateLimited, pipeErr.Code)
}

func TestRunStep_TimeoutIsRetryable(t *testing.T) {
	t.Parallel()

	jobs := mocks.NewMemoryJobStore()
	runner, _ := newTestStepRunner(jobs)
	job := newQueuedJob(t, jobs)

	calls := 0
	result, err := RunStep(context.Background(), runner, job.ID, "story", 30,
		func(ctx context.Context) (string, error) {
			calls++
			if calls == 1 {
				<-ctx.Done()
				return "", ctx.Err()
			}
			return "draft", nil
		},
		StepOptions{Retries: 1, Timeout: 10 * time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, "draft", result)
	assert.Equal(t, 2, calls)
}

func TestRunStep_ShutdownCancellationPassesThrough(t *testing.T) {
	t.Parallel()

	jobs := mocks.NewMemoryJobStore()
	runner, _ := newTestStepRunner(jobs)
	job := newQueuedJob(t, jobs)

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := RunStep(ctx, runner, job.ID, "story", 30,
		func(ctx context.Context) (string, error) {
			calls++
			cancel()
			return "", ctx.Err()
		},
		StepOptions{Retries: 3, Timeout: time.Second})

	// The raw cancellation surfaces untouched so the caller can tell a
	// shutdown apart from a failed step. No retries are burned on it.
	require.ErrorIs(t, err, context.Canceled)
	var pipeErr *domain.PipelineError
	assert.False(t, errors.As(err, &pipeErr))
	assert.Equal(t, 1, calls)
}

func TestRunStep_CancellationDuringBackoffPassesThrough(t *testing.T) {
	t.Parallel()

	jobs := mocks.NewMemoryJobStore()
	runner, _ := newTestStepRunner(jobs)
	job := newQueuedJob(t, jobs)

	runner.sleep = func(context.Context, time.Duration) error {
		return context.Canceled
	}

	_, err := RunStep(context.Background(), runner, job.ID, "story", 30,
		func(context.Context) (string, error) {
			return "", domain.NewPipelineError(domain.ErrorCodeGenerationFailed,
				"flaky provider", nil)
		},
		StepOptions{Retries: 2})

	require.ErrorIs(t, err, context.Canceled)
	var pipeErr *domain.PipelineError
	assert.False(t, errors.As(err, &pipeErr))
}

func TestRunStep_UnclassifiedErrorIsFatal(t *testing.T) {
	t.Parallel()

	jobs := mocks.NewMemoryJobStore()
	runner, _ := newTestStepRunner(jobs)
	job := newQueuedJob(t, jobs)

	calls := 0
	_, err := RunStep(context.Background(), runner, job.ID, "story", 30,
		func(context.Context) (string, error) {
			calls++
			return "", errors.New("something unexpected")
		},
		StepOptions{Retries: 3})

	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var pipeErr *domain.PipelineError
	require.ErrorAs(t, err, &pipeErr)
	assert.Equal(t, domain.ErrorCodeUnknown, pipeErr.Code)
}

func TestRunStep_CustomBackoffScheduleClamps(t *testing.T) {
	t.Parallel()

	jobs := mocks.NewMemoryJobStore()
	runner, waits := newTestStepRunner(jobs)
	job := newQueuedJob(t, jobs)

	_, err := RunStep(context.Background(), runner, job.ID, "packaging", 98,
		func(context.Context) (struct{}, error) {
			return struct{}{}, domain.NewPipelineError(domain.ErrorCodeStorageWriteFailed,
				"db unavailable", nil)
		},
		StepOptions{Retries: 3, Backoff: []time.Duration{time.Second, 3 * time.Second}})

	require.Error(t, err)
	// Index clamps to the last schedule entry once exhausted.
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second, 3 * time.Second}, *waits)
}

func TestRunStep_TerminalJobAborts(t *testing.T) {
	t.Parallel()

	jobs := mocks.NewMemoryJobStore()
	runner, _ := newTestStepRunner(jobs)
	job := newQueuedJob(t, jobs)

	require.NoError(t, jobs.MarkFailed(context.Background(), job.ID,
		domain.ErrorCodeSLABreach, "too slow"))

	calls := 0
	_, err := RunStep(context.Background(), runner, job.ID, "story", 30,
		func(context.Context) (string, error) {
			calls++
			return "draft", nil
		},
		StepOptions{})

	require.Error(t, err)
	assert.Equal(t, 0, calls)

	stored, getErr := jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, domain.ErrorCodeSLABreach, stored.ErrorCode)
}
