package task

import (
	"time"

	"github.com/agentkanban/orchestrator/internal/types"
)

// DependenciesSatisfied reports whether t's prerequisites are met. A
// non-review task needs every dependency completed; a review task only
// needs its dependency (the reviewed parent) to be reviewing or completed,
// since reviews run against in-progress output of their parent.
func DependenciesSatisfied(doc *types.Document, t *types.Task) bool {
	for _, depID := range t.DependsOn {
		dep := doc.FindTask(depID)
		if dep == nil {
			return false
		}
		if t.IsReviewTask() {
			if dep.Status != types.StatusReviewing && dep.Status != types.StatusCompleted {
				return false
			}
			continue
		}
		if dep.Status != types.StatusCompleted {
			return false
		}
	}
	return true
}

// IsReady reports whether t is a dispatch candidate this cycle: pending,
// unassigned, dependencies satisfied, and not gated by a future
// retry_after.
func IsReady(doc *types.Document, t *types.Task, now time.Time) bool {
	if t.Status != types.StatusPending {
		return false
	}
	if t.AssignedWorker != "" {
		return false
	}
	if t.RetryAfter != nil && t.RetryAfter.After(now) {
		return false
	}
	return DependenciesSatisfied(doc, t)
}

// ValidateDependsOn checks invariant I5: every id in depends_on must exist
// in the same project document.
func ValidateDependsOn(doc *types.Document, depends []string) error {
	for _, id := range depends {
		if doc.FindTask(id) == nil {
			return ErrDependencyUnmet
		}
	}
	return nil
}
