// Package task runs generation jobs on a background worker pool. The pool
// consumes an in-memory queue fed by the API's creation path; a poll loop
// against the job table picks up work the queue missed, including jobs the
// monitor requeued and jobs left queued by a previous process.
package task

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
)

// Task is one schedulable unit of background work.
type Task interface {
	// ID returns the unique identifier of the task.
	ID() uuid.UUID

	// Type returns the task's type label for logging.
	Type() string

	// Execute performs the task.
	Execute(ctx context.Context) error
}

// PipelineRunner drives a job through the generation pipeline. Satisfied by
// pipeline.Orchestrator.
type PipelineRunner interface {
	Run(ctx context.Context, job *domain.Job) error
}

// TaskTypeBookGeneration labels book generation tasks.
const TaskTypeBookGeneration = "book_generation"

// BookGenerationTask wraps one job for execution on the worker pool.
type BookGenerationTask struct {
	job      *domain.Job
	pipeline PipelineRunner
	logger   *slog.Logger
}

// NewBookGenerationTask creates a task that runs the given job through the
// pipeline.
func NewBookGenerationTask(job *domain.Job, pipeline PipelineRunner, logger *slog.Logger) *BookGenerationTask {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookGenerationTask{
		job:      job,
		pipeline: pipeline,
		logger:   logger,
	}
}

// ID returns the wrapped job's id; the task has no identity of its own.
func (t *BookGenerationTask) ID() uuid.UUID {
	return t.job.ID
}

// Type returns the task type label.
func (t *BookGenerationTask) Type() string {
	return TaskTypeBookGeneration
}

// Execute runs the pipeline. The orchestrator owns all job status writes,
// including recording failures, so the error here is for logging only.
func (t *BookGenerationTask) Execute(ctx context.Context) error {
	return t.pipeline.Run(ctx, t.job)
}
