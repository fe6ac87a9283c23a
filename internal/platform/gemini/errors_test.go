package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/generation"
)

func pipelineCode(t *testing.T, err error) domain.ErrorCode {
	t.Helper()
	var pipeErr *domain.PipelineError
	require.ErrorAs(t, err, &pipeErr)
	return pipeErr.Code
}

func TestMapAPIError(t *testing.T) {
	t.Parallel()

	t.Run("nil passes through", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, mapAPIError("story generation", nil))
	})

	t.Run("deadline passes through for the step runner", func(t *testing.T) {
		t.Parallel()
		err := mapAPIError("story generation",
			fmt.Errorf("call failed: %w", context.DeadlineExceeded))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		var pipeErr *domain.PipelineError
		assert.False(t, errors.As(err, &pipeErr))
	})

	t.Run("cancellation passes through", func(t *testing.T) {
		t.Parallel()
		err := mapAPIError("story generation", context.Canceled)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("429 maps to rate limited", func(t *testing.T) {
		t.Parallel()
		err := mapAPIError("story generation",
			genai.APIError{Code: http.StatusTooManyRequests, Message: "quota exceeded"})
		assert.Equal(t, domain.ErrorCodeGenerationRateLimited, pipelineCode(t, err))
		assert.ErrorIs(t, err, generation.ErrRateLimited)
	})

	t.Run("other provider status maps to generation failed", func(t *testing.T) {
		t.Parallel()
		err := mapAPIError("story generation",
			genai.APIError{Code: http.StatusInternalServerError, Message: "backend error"})
		assert.Equal(t, domain.ErrorCodeGenerationFailed, pipelineCode(t, err))
		assert.ErrorIs(t, err, generation.ErrGenerationFailed)
		assert.Contains(t, err.Error(), "500")
	})

	t.Run("unrecognized error maps to generation failed", func(t *testing.T) {
		t.Parallel()
		err := mapAPIError("story generation", errors.New("connection reset"))
		assert.Equal(t, domain.ErrorCodeGenerationFailed, pipelineCode(t, err))
	})
}

func TestBlockedError(t *testing.T) {
	t.Parallel()

	err := blockedError("image prompt generation")
	assert.Equal(t, domain.ErrorCodeSafetyOutput, pipelineCode(t, err))
	assert.ErrorIs(t, err, generation.ErrContentBlocked)
	assert.False(t, domain.ErrorCodeSafetyOutput.IsRetryable())
}

func TestInvalidResponseError(t *testing.T) {
	t.Parallel()

	err := invalidResponseError("story generation", errors.New("unexpected end of JSON input"))
	assert.Equal(t, domain.ErrorCodeGenerationInvalidOutput, pipelineCode(t, err))
	assert.ErrorIs(t, err, generation.ErrInvalidResponse)

	// A nil cause still carries the sentinel.
	err = invalidResponseError("story generation", nil)
	assert.ErrorIs(t, err, generation.ErrInvalidResponse)
}
