package domain

import (
	"fmt"
	"time"
)

// ErrorCode identifies why a pipeline stage or the job monitor failed a job.
// The set is closed: every persisted error_code comes from this list.
type ErrorCode string

// Possible error code values
const (
	// Content policy violations. Never retried.
	ErrorCodeSafetyInput  ErrorCode = "SAFETY_INPUT"
	ErrorCodeSafetyOutput ErrorCode = "SAFETY_OUTPUT"

	// Generation failures. Retryable, each with its own backoff curve.
	ErrorCodeGenerationTimeout       ErrorCode = "GENERATION_TIMEOUT"
	ErrorCodeGenerationInvalidOutput ErrorCode = "GENERATION_INVALID_OUTPUT"
	ErrorCodeGenerationRateLimited   ErrorCode = "GENERATION_RATE_LIMITED"
	ErrorCodeGenerationFailed        ErrorCode = "GENERATION_FAILED"

	// Persistence failure during packaging. Retried a small bounded number
	// of times, then fatal.
	ErrorCodeStorageWriteFailed ErrorCode = "STORAGE_WRITE_FAILED"

	// Assigned by the job monitor only, never by the orchestrator.
	ErrorCodeStuckRunning ErrorCode = "STUCK_RUNNING"
	ErrorCodeStuckQueued  ErrorCode = "STUCK_QUEUED"
	ErrorCodeSLABreach    ErrorCode = "SLA_BREACH"

	// Catch-all for unclassified failures. Always fatal.
	ErrorCodeUnknown ErrorCode = "UNKNOWN"
)

// retryableCodes holds the codes the step runner is allowed to retry.
var retryableCodes = map[ErrorCode]bool{
	ErrorCodeGenerationTimeout:       true,
	ErrorCodeGenerationInvalidOutput: true,
	ErrorCodeGenerationRateLimited:   true,
	ErrorCodeGenerationFailed:        true,
	ErrorCodeStorageWriteFailed:      true,
}

// backoffSchedules maps retryable codes to their wait schedules. Once a
// schedule is exhausted its last value is reused for any further attempt.
var backoffSchedules = map[ErrorCode][]time.Duration{
	ErrorCodeGenerationTimeout:       {2 * time.Second, 5 * time.Second},
	ErrorCodeGenerationInvalidOutput: {2 * time.Second, 5 * time.Second},
	ErrorCodeGenerationRateLimited:   {5 * time.Second, 10 * time.Second, 20 * time.Second},
	ErrorCodeGenerationFailed:        {2 * time.Second, 5 * time.Second, 12 * time.Second},
	ErrorCodeStorageWriteFailed:      {2 * time.Second, 5 * time.Second},
}

// IsRetryable reports whether a stage failure with this code may be retried
// by the step runner. Safety and monitor codes are never retryable.
func (c ErrorCode) IsRetryable() bool {
	return retryableCodes[c]
}

// Backoff returns the wait before retrying after the given zero-based
// attempt. The schedule index is clamped to the last entry, which caps wait
// growth without exponential formulas.
func (c ErrorCode) Backoff(attempt int) time.Duration {
	schedule, ok := backoffSchedules[c]
	if !ok || len(schedule) == 0 {
		return 2 * time.Second
	}
	if attempt >= len(schedule) {
		attempt = len(schedule) - 1
	}
	if attempt < 0 {
		attempt = 0
	}
	return schedule[attempt]
}

// PipelineError is the typed failure surfaced by pipeline stages and
// adapters. The retry/fatal distinction is carried as data (the code) rather
// than being implicit in the error's concrete type.
type PipelineError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause to support errors.Is/errors.As.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a PipelineError with the given code, message and
// optional cause.
func NewPipelineError(code ErrorCode, message string, err error) *PipelineError {
	return &PipelineError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
