package domain

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Collaborator wrappers and the orchestrator wrap
// these with context via fmt.Errorf("...: %w", ...) so callers can match
// with errors.Is while logs keep the detail.
var (
	// ErrConfig means prompt or weighting configuration is missing or
	// invalid. It is fatal for the run and raised before any
	// collaborator call.
	ErrConfig = errors.New("invalid configuration")

	// ErrStoryNotFound means the issue tracker has no story for the key.
	ErrStoryNotFound = errors.New("story not found")

	// ErrRefinement means the prompt refiner failed (network, auth,
	// rate limit or model error).
	ErrRefinement = errors.New("prompt refinement failed")

	// ErrRefinementTimeout means the refiner did not answer in time.
	ErrRefinementTimeout = errors.New("prompt refinement timed out")

	// ErrSubmission means branch or merge-request creation failed,
	// including branch-name conflicts the hosting side would not resolve.
	ErrSubmission = errors.New("submission failed")

	// ErrPermission means the hosting platform rejected the credentials
	// for the attempted operation.
	ErrPermission = errors.New("permission denied")

	// ErrParse means a persisted description region was malformed. It is
	// recovered by treating progress as unknown, never by aborting.
	ErrParse = errors.New("malformed progress region")

	// ErrProgressNotFound means a description carries no progress region
	// at all (for example a hand-written MR body).
	ErrProgressNotFound = errors.New("progress region not found")
)

// ConfigErrorf wraps ErrConfig with detail about which setting is bad.
func ConfigErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
