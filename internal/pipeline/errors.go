package pipeline

import "errors"

// Pipeline error taxonomy. Callers classify failures with errors.Is.
var (
	// ErrValidation means the input was rejected before any strategy ran.
	ErrValidation = errors.New("validation error")
	// ErrExtractionTimeout means a single strategy exceeded its deadline.
	ErrExtractionTimeout = errors.New("extraction timed out")
	// ErrExtractionFailure means all strategies ran and produced zero
	// usable elements.
	ErrExtractionFailure = errors.New("extraction failed")
	// ErrUsageLimitExceeded means the Usage Governor denied a required
	// AI-backed step and no fallback elements existed.
	ErrUsageLimitExceeded = errors.New("usage limit exceeded")
	// ErrExternalService means a collaborator call failed for reasons
	// other than a timeout.
	ErrExternalService = errors.New("external service error")
)
