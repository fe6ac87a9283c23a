package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/store"
)

// StepFn is the unit of work a pipeline stage performs. It runs under the
// step's deadline and returns a typed result or an error.
type StepFn[T any] func(ctx context.Context) (T, error)

// StepOptions configures how one stage invocation is retried.
type StepOptions struct {
	// Retries is the number of additional attempts after the first one.
	// A stage function is invoked at most Retries+1 times.
	Retries int

	// Timeout is the hard deadline for a single attempt. Exceeding it is a
	// retryable condition, not a hang.
	Timeout time.Duration

	// Backoff is the ordered list of waits between attempts. The index is
	// clamped to the last entry once the schedule is exhausted. When empty,
	// the failure code's own backoff curve is used.
	Backoff []time.Duration
}

// stepOutcome classifies one attempt's failure as an explicit value, so the
// retry/fatal decision is data rather than control flow.
type stepOutcome struct {
	code      domain.ErrorCode
	retryable bool
}

// classifyStepError maps an attempt error onto the error code taxonomy.
// A deadline hit is a retryable timeout; a PipelineError carries its own
// code; anything unclassified is fatal.
func classifyStepError(err error) stepOutcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return stepOutcome{code: domain.ErrorCodeGenerationTimeout, retryable: true}
	}

	var pipeErr *domain.PipelineError
	if errors.As(err, &pipeErr) {
		return stepOutcome{code: pipeErr.Code, retryable: pipeErr.Code.IsRetryable()}
	}

	return stepOutcome{code: domain.ErrorCodeUnknown, retryable: false}
}

// StepRunner executes single pipeline stages with timeout, bounded retries
// and a backoff schedule. It writes the job's durable progress once per
// step invocation, before the first attempt; retries are invisible to
// progress observers except as elapsed time.
type StepRunner struct {
	jobs   store.JobStore
	logger *slog.Logger

	// sleep waits for the backoff duration or until the context is
	// cancelled. Swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewStepRunner creates a StepRunner persisting progress through the given
// job store.
func NewStepRunner(jobs store.JobStore, logger *slog.Logger) *StepRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepRunner{
		jobs:   jobs,
		logger: logger.With(slog.String("component", "step_runner")),
		sleep:  sleepContext,
	}
}

// sleepContext blocks for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunStep executes one named pipeline stage for a job. Before the first
// attempt it persists current_step, progress and the running status. Each
// attempt runs under opts.Timeout. Retryable failures consume attempts and
// backoff waits; fatal failures propagate immediately without consuming
// retries. When attempts are exhausted the last cause is wrapped in a
// PipelineError carrying its classification.
func RunStep[T any](
	ctx context.Context,
	r *StepRunner,
	jobID uuid.UUID,
	stepName string,
	progress int,
	fn StepFn[T],
	opts StepOptions,
) (T, error) {
	var zero T

	log := r.logger.With(
		slog.String("job_id", jobID.String()),
		slog.String("step", stepName),
	)

	// One durable progress write per step invocation, not per attempt.
	if err := r.jobs.UpdateProgress(ctx, jobID, stepName, progress); err != nil {
		// A terminal job means the monitor already failed it out from under
		// us; stop driving it.
		if errors.Is(err, store.ErrInvalidTransition) {
			log.Warn("job is terminal, aborting step")
			return zero, domain.NewPipelineError(domain.ErrorCodeUnknown,
				fmt.Sprintf("step %q aborted: job already terminal", stepName), err)
		}
		log.Error("failed to persist step progress", slog.String("error", err.Error()))
		return zero, domain.NewPipelineError(domain.ErrorCodeStorageWriteFailed,
			fmt.Sprintf("failed to persist progress for step %q", stepName), err)
	}

	var lastErr error
	var lastOutcome stepOutcome

	for attempt := 0; attempt <= opts.Retries; attempt++ {
		result, err := runAttempt(ctx, fn, opts.Timeout)
		if err == nil {
			log.Info("step completed", slog.Int("attempt", attempt+1))
			return result, nil
		}

		// A cancelled parent context means the process is shutting down, not
		// that the step failed. Surface the raw cancellation so the caller
		// leaves the job as-is for the monitor to pick up later.
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			log.Info("step interrupted by shutdown", slog.Int("attempt", attempt+1))
			return zero, ctx.Err()
		}

		outcome := classifyStepError(err)
		lastErr = err
		lastOutcome = outcome

		if !outcome.retryable {
			log.Warn("step failed with non-retryable error",
				slog.Int("attempt", attempt+1),
				slog.String("code", string(outcome.code)),
				slog.String("error", err.Error()))
			return zero, wrapStepError(stepName, outcome.code, err)
		}

		log.Warn("step attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("code", string(outcome.code)),
			slog.String("error", err.Error()))

		if attempt < opts.Retries {
			wait := backoffWait(opts, outcome.code, attempt)
			log.Info("waiting before retry", slog.Duration("wait", wait))
			if err := r.sleep(ctx, wait); err != nil {
				if errors.Is(err, context.Canceled) {
					log.Info("backoff interrupted by shutdown")
					return zero, err
				}
				return zero, wrapStepError(stepName, outcome.code, err)
			}
		}
	}

	log.Error("step failed after exhausting retries",
		slog.Int("attempts", opts.Retries+1),
		slog.String("code", string(lastOutcome.code)))
	return zero, wrapStepError(stepName, lastOutcome.code, lastErr)
}

// runAttempt invokes fn under the attempt deadline. A zero timeout means
// the attempt inherits the caller's deadline unchanged.
func runAttempt[T any](ctx context.Context, fn StepFn[T], timeout time.Duration) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// backoffWait picks the wait before the next attempt: the step's own
// schedule with a clamped index, falling back to the failure code's curve.
func backoffWait(opts StepOptions, code domain.ErrorCode, attempt int) time.Duration {
	if len(opts.Backoff) == 0 {
		return code.Backoff(attempt)
	}
	idx := attempt
	if idx >= len(opts.Backoff) {
		idx = len(opts.Backoff) - 1
	}
	return opts.Backoff[idx]
}

// wrapStepError normalizes a step failure into a PipelineError carrying the
// step name and the original cause.
func wrapStepError(stepName string, code domain.ErrorCode, err error) error {
	var pipeErr *domain.PipelineError
	if errors.As(err, &pipeErr) && pipeErr.Code == code {
		return pipeErr
	}
	return domain.NewPipelineError(code, fmt.Sprintf("step %q failed", stepName), err)
}
