package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/generation"
)

// mapAPIError translates a raw Gemini call failure into a PipelineError.
// Deadline errors pass through untouched so the step runner can classify
// them as timeouts itself.
func mapAPIError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests {
			return domain.NewPipelineError(domain.ErrorCodeGenerationRateLimited,
				fmt.Sprintf("%s rejected by provider rate limit", op),
				fmt.Errorf("%w: %s", generation.ErrRateLimited, apiErr.Message))
		}
		return domain.NewPipelineError(domain.ErrorCodeGenerationFailed,
			fmt.Sprintf("%s failed with provider status %d", op, apiErr.Code),
			fmt.Errorf("%w: %s", generation.ErrGenerationFailed, apiErr.Message))
	}

	return domain.NewPipelineError(domain.ErrorCodeGenerationFailed,
		fmt.Sprintf("%s failed", op),
		fmt.Errorf("%w: %v", generation.ErrGenerationFailed, err))
}

// blockedError builds the failure for content the model refused to produce.
func blockedError(op string) error {
	return domain.NewPipelineError(domain.ErrorCodeSafetyOutput,
		fmt.Sprintf("%s blocked by model safety filters", op),
		generation.ErrContentBlocked)
}

// invalidResponseError builds the failure for a malformed model response.
func invalidResponseError(op string, cause error) error {
	if cause == nil {
		cause = generation.ErrInvalidResponse
	} else {
		cause = fmt.Errorf("%w: %v", generation.ErrInvalidResponse, cause)
	}
	return domain.NewPipelineError(domain.ErrorCodeGenerationInvalidOutput,
		fmt.Sprintf("%s returned an unusable response", op), cause)
}
