package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSpec() BookSpec {
	return BookSpec{
		Topic:     "a turtle who wants to fly",
		Language:  "en",
		TargetAge: "4-6",
		Style:     "watercolor",
		PageCount: 6,
	}
}

func TestNewJob(t *testing.T) {
	t.Parallel()

	t.Run("creates queued job", func(t *testing.T) {
		t.Parallel()
		job, err := NewJob("user-1", "idem-1", sampleSpec())
		require.NoError(t, err)
		assert.Equal(t, JobStatusQueued, job.Status)
		assert.Equal(t, 0, job.Progress)
		assert.Equal(t, "waiting", job.CurrentStep)
		assert.Equal(t, "idem-1", job.IdempotencyKey)
		assert.Equal(t, sampleSpec().Topic, job.Spec.Topic)
		assert.False(t, job.IsTerminal())
	})

	t.Run("rejects empty user key", func(t *testing.T) {
		t.Parallel()
		_, err := NewJob("", "", sampleSpec())
		assert.ErrorIs(t, err, ErrEmptyJobUserKey)
	})
}

func TestJob_CanTransitionTo(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		allowed bool
	}{
		{"queued to running", JobStatusQueued, JobStatusRunning, true},
		{"queued to queued", JobStatusQueued, JobStatusQueued, true},
		{"queued to failed", JobStatusQueued, JobStatusFailed, true},
		{"queued to done", JobStatusQueued, JobStatusDone, false},
		{"running to done", JobStatusRunning, JobStatusDone, true},
		{"running to failed", JobStatusRunning, JobStatusFailed, true},
		{"running to queued for requeue", JobStatusRunning, JobStatusQueued, true},
		{"running to running", JobStatusRunning, JobStatusRunning, true},
		{"done to running", JobStatusDone, JobStatusRunning, false},
		{"done to failed", JobStatusDone, JobStatusFailed, false},
		{"failed to queued", JobStatusFailed, JobStatusQueued, false},
		{"failed to done", JobStatusFailed, JobStatusDone, false},
		{"bogus target", JobStatusQueued, JobStatus("bogus"), false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			job := &Job{Status: tc.from}
			assert.Equal(t, tc.allowed, job.CanTransitionTo(tc.to))
		})
	}
}

func TestJob_IsTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, (&Job{Status: JobStatusQueued}).IsTerminal())
	assert.False(t, (&Job{Status: JobStatusRunning}).IsTerminal())
	assert.True(t, (&Job{Status: JobStatusDone}).IsTerminal())
	assert.True(t, (&Job{Status: JobStatusFailed}).IsTerminal())
}

func TestJob_Validate(t *testing.T) {
	t.Parallel()

	job, err := NewJob("user-1", "", sampleSpec())
	require.NoError(t, err)

	job.Progress = 101
	assert.ErrorIs(t, job.Validate(), ErrInvalidJobProgress)

	job.Progress = 50
	job.Status = JobStatus("weird")
	assert.ErrorIs(t, job.Validate(), ErrInvalidJobStatus)
}
