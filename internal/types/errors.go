package types

import "errors"

// Sentinel errors shared across the kernel packages. Using sentinels lets
// callers match with errors.Is instead of string-comparing messages.
var (
	// ErrNotFound is returned when a task, project, or worker id doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned for business-rule violations that leave state
	// untouched: dependencies unmet, wrong status for the requested action,
	// worker not idle, lease mismatch.
	ErrConflict = errors.New("conflict")

	// ErrValidation is returned for malformed input that never reaches a
	// mutation (bad task type, non-git repo_path, duplicate name).
	ErrValidation = errors.New("validation")

	// ErrLeaseMismatch is returned when a completion/failure callback's lease
	// id does not match the task's current attempt (P6: silent no-op at the
	// call site, but callers that want to log the cause can match this).
	ErrLeaseMismatch = errors.New("lease mismatch")
)
