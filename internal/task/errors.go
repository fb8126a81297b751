package task

import "errors"

// Sentinel errors for the task state machine.
var (
	// ErrNotPending is returned when an operation requires pending status
	// and the task is in a different one.
	ErrNotPending = errors.New("task not in pending status")

	// ErrNotPlanReview is returned when a plan approval/rejection is
	// attempted on a task that isn't awaiting plan review.
	ErrNotPlanReview = errors.New("task not in plan_review status")

	// ErrNotFailed is returned when a manual retry targets a task that
	// isn't in the failed status.
	ErrNotFailed = errors.New("task not in failed status")

	// ErrDependencyUnmet is returned when a decomposition or creation
	// would reference a dependency id absent from the project document
	// (invariant I5).
	ErrDependencyUnmet = errors.New("depends_on references an id outside this project")
)
