package analysis

import "errors"

var (
	// ErrInvalidRequest marks a malformed AnalysisRequest, rejected before
	// orchestration begins.
	ErrInvalidRequest = errors.New("invalid analysis request")

	// ErrConfiguration marks an invalid task registry or engine setup.
	// Fatal at startup, never raised at request time.
	ErrConfiguration = errors.New("invalid engine configuration")
)
