package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/store"
)

// RunnerConfig holds configuration for the background runner.
type RunnerConfig struct {
	// WorkerCount determines how many concurrent workers process jobs.
	WorkerCount int

	// QueueSize determines the buffer size of the in-memory queue.
	QueueSize int

	// PollInterval is how often the runner scans the job table for queued
	// jobs that are not already in flight.
	PollInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:  2,
		QueueSize:    100,
		PollInterval: 15 * time.Second,
	}
}

// Runner manages the background worker pool. Submissions go straight onto
// the in-memory queue; the poll loop is the safety net that picks up
// requeued and recovered jobs from the database.
type Runner struct {
	jobs       store.JobStore
	pipeline   PipelineRunner
	taskChan   chan Task
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	config     RunnerConfig
	logger     *slog.Logger

	// inflight tracks job ids that are queued in memory or executing, so a
	// poll cycle never double-schedules a job a worker already holds.
	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

// NewRunner creates a Runner.
func NewRunner(jobs store.JobStore, pipeline PipelineRunner, config RunnerConfig, logger *slog.Logger) *Runner {
	if config.PollInterval <= 0 {
		config.PollInterval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		jobs:       jobs,
		pipeline:   pipeline,
		taskChan:   make(chan Task, config.QueueSize),
		ctx:        ctx,
		cancelFunc: cancel,
		config:     config,
		logger:     logger.With(slog.String("component", "task_runner")),
		inflight:   make(map[uuid.UUID]struct{}),
	}
}

// Submit schedules a job for execution. The job row must already be
// persisted; Submit only touches the in-memory queue. A full queue is not
// an error for the caller: the poll loop will pick the job up later.
func (r *Runner) Submit(job *domain.Job) {
	if !r.track(job.ID) {
		return
	}

	t := NewBookGenerationTask(job, r.pipeline, r.logger)
	select {
	case r.taskChan <- t:
	default:
		r.untrack(job.ID)
		r.logger.Warn("task queue full, job deferred to poll loop",
			slog.String("job_id", job.ID.String()))
	}
}

// Start launches the worker pool and the poll loop, after requeueing any
// jobs a previous process left behind.
func (r *Runner) Start() error {
	if err := r.recover(); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.wg.Add(1)
	go r.pollLoop()

	r.logger.Info("task runner started",
		slog.Int("workers", r.config.WorkerCount),
		slog.Duration("poll_interval", r.config.PollInterval))
	return nil
}

// Stop shuts the runner down and waits for in-flight jobs to finish their
// current pipeline run.
func (r *Runner) Stop() {
	r.cancelFunc()
	r.wg.Wait()
	close(r.taskChan)
	r.logger.Info("task runner stopped")
}

// recover reloads queued jobs from the database into the in-memory queue.
// Jobs stranded in running state are left to the job monitor, which will
// requeue them once their heartbeat goes stale.
func (r *Runner) recover() error {
	ctx := context.Background()

	queued, err := r.jobs.FindByStatus(ctx, domain.JobStatusQueued, r.config.QueueSize)
	if err != nil {
		return fmt.Errorf("failed to load queued jobs: %w", err)
	}

	r.logger.Info("recovering queued jobs", slog.Int("count", len(queued)))
	for _, job := range queued {
		r.Submit(job)
	}
	return nil
}

// pollLoop periodically scans for queued jobs that are not in flight. This
// is how monitor requeues and deferred submissions get picked up.
func (r *Runner) pollLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			queued, err := r.jobs.FindByStatus(r.ctx, domain.JobStatusQueued, r.config.QueueSize)
			if err != nil {
				r.logger.Error("poll for queued jobs failed", slog.String("error", err.Error()))
				continue
			}
			for _, job := range queued {
				r.Submit(job)
			}
		}
	}
}

// worker processes tasks from the queue.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("starting worker", slog.Int("worker_id", id))

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("stopping worker", slog.Int("worker_id", id))
			return

		case t, ok := <-r.taskChan:
			if !ok {
				return
			}
			r.processTask(t, id)
		}
	}
}

// processTask executes one task. Status transitions are owned by the
// pipeline; the runner only logs the outcome and releases the inflight
// slot.
func (r *Runner) processTask(t Task, workerID int) {
	defer r.untrack(t.ID())

	logger := r.logger.With(
		slog.String("task_id", t.ID().String()),
		slog.String("task_type", t.Type()),
		slog.Int("worker_id", workerID),
	)

	logger.Info("processing task")

	if err := t.Execute(r.ctx); err != nil {
		logger.Error("task execution failed", slog.String("error", err.Error()))
		return
	}

	logger.Info("task completed successfully")
}

// track claims the inflight slot for a job id. Returns false when the job
// is already queued or executing.
func (r *Runner) track(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inflight[id]; ok {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Runner) untrack(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
}
