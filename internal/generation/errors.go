package generation

import "errors"

// Common errors returned by generation adapters. Adapters wrap these into
// domain.PipelineError values carrying the persisted error code; the
// sentinels exist so adapter internals and tests can classify without
// string matching.
var (
	// ErrGenerationFailed is returned when a generation call fails for any
	// general reason.
	ErrGenerationFailed = errors.New("generation call failed")

	// ErrInvalidResponse is returned when the model response cannot be
	// parsed or is malformed.
	ErrInvalidResponse = errors.New("invalid response from model")

	// ErrContentBlocked is returned when the model blocks the content due
	// to safety filters.
	ErrContentBlocked = errors.New("content blocked by model safety filters")

	// ErrRateLimited is returned when the provider rejects the call for
	// quota or rate reasons.
	ErrRateLimited = errors.New("generation call rate limited")

	// ErrInvalidConfig is returned when an adapter's configuration is
	// invalid.
	ErrInvalidConfig = errors.New("invalid generator configuration")
)
