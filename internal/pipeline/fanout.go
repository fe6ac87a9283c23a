package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/generation"
	"github.com/fablehouse/fable-api/internal/store"
)

// PlaceholderImageURL is the sentinel URL recorded for a slot whose image
// could not be produced. The book still packages; the client renders a
// stock illustration for these slots.
const PlaceholderImageURL = "/static/placeholder.png"

// SlotResult is the outcome of one image slot. Slot 0 is the cover.
type SlotResult struct {
	Slot        int
	URL         string
	Placeholder bool
}

// ImageFanOut renders every image slot of a book concurrently, bounded by a
// weighted semaphore. A slot that exhausts its retries degrades to the
// placeholder URL instead of failing the job; only context cancellation
// aborts the whole fan-out.
type ImageFanOut struct {
	generator     generation.ImageGenerator
	jobs          store.JobStore
	logger        *slog.Logger
	maxConcurrent int64
	maxRetries    int
	slotTimeout   time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewImageFanOut creates a fan-out bounded to maxConcurrent in-flight
// renders, with maxRetries additional attempts per slot and slotTimeout as
// the deadline of a single attempt.
func NewImageFanOut(
	generator generation.ImageGenerator,
	jobs store.JobStore,
	maxConcurrent int,
	maxRetries int,
	slotTimeout time.Duration,
	logger *slog.Logger,
) *ImageFanOut {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ImageFanOut{
		generator:     generator,
		jobs:          jobs,
		logger:        logger.With(slog.String("component", "image_fanout")),
		maxConcurrent: int64(maxConcurrent),
		maxRetries:    maxRetries,
		slotTimeout:   slotTimeout,
		sleep:         sleepContext,
	}
}

// Generate renders all slots of the prompt set and returns one result per
// slot, indexed by slot number. Job progress is advanced from 55 to 95 as
// slots finish, in completion order.
func (f *ImageFanOut) Generate(ctx context.Context, jobID uuid.UUID, prompts *domain.ImagePrompts) ([]SlotResult, error) {
	total := prompts.TotalSlots()
	results := make([]SlotResult, total)

	sem := semaphore.NewWeighted(f.maxConcurrent)
	var wg sync.WaitGroup

	var mu sync.Mutex
	completed := 0

	log := f.logger.With(slog.String("job_id", jobID.String()))
	log.Info("starting image fan-out",
		slog.Int("slots", total),
		slog.Int64("max_concurrent", f.maxConcurrent))

	for slot := 0; slot < total; slot++ {
		prompt := prompts.Cover
		if slot > 0 {
			prompt = prompts.Pages[slot-1]
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled while waiting for a permit. Workers already running
			// will observe the same cancellation.
			wg.Wait()
			return nil, fmt.Errorf("image fan-out cancelled: %w", err)
		}

		wg.Add(1)
		go func(slot int, prompt domain.ImagePrompt) {
			defer wg.Done()
			defer sem.Release(1)

			results[slot] = f.renderSlot(ctx, jobID, slot, prompt)

			// The write stays under the lock so persisted progress lands in
			// completion order and never moves backwards.
			mu.Lock()
			completed++
			progress := progressImages +
				(progressImagesDone-progressImages)*completed/total
			if err := f.jobs.UpdateProgress(ctx, jobID, StepImages, progress); err != nil {
				log.Warn("failed to advance image progress",
					slog.Int("slot", slot),
					slog.String("error", err.Error()))
			}
			mu.Unlock()
		}(slot, prompt)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("image fan-out cancelled: %w", err)
	}

	placeholders := 0
	for _, r := range results {
		if r.Placeholder {
			placeholders++
		}
	}
	log.Info("image fan-out finished",
		slog.Int("slots", total),
		slog.Int("placeholders", placeholders))

	return results, nil
}

// renderSlot runs one slot with retries. Retryable failures back off on the
// failure code's curve; fatal failures and exhausted retries both degrade
// to the placeholder.
func (f *ImageFanOut) renderSlot(ctx context.Context, jobID uuid.UUID, slot int, prompt domain.ImagePrompt) SlotResult {
	log := f.logger.With(
		slog.String("job_id", jobID.String()),
		slog.Int("slot", slot),
	)

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		url, err := f.renderAttempt(ctx, jobID, prompt)
		if err == nil {
			return SlotResult{Slot: slot, URL: url}
		}

		outcome := classifyStepError(err)
		log.Warn("image slot attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("code", string(outcome.code)),
			slog.String("error", err.Error()))

		if !outcome.retryable || attempt == f.maxRetries {
			break
		}
		if err := f.sleep(ctx, outcome.code.Backoff(attempt)); err != nil {
			break
		}
	}

	log.Warn("image slot degraded to placeholder")
	return SlotResult{Slot: slot, URL: PlaceholderImageURL, Placeholder: true}
}

func (f *ImageFanOut) renderAttempt(ctx context.Context, jobID uuid.UUID, prompt domain.ImagePrompt) (string, error) {
	if f.slotTimeout <= 0 {
		return f.generator.GenerateImage(ctx, jobID, prompt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, f.slotTimeout)
	defer cancel()
	return f.generator.GenerateImage(attemptCtx, jobID, prompt)
}
