package task

import (
	"strings"
	"time"

	"github.com/agentkanban/orchestrator/internal/types"
)

// RetryPolicy holds the two auto-retry backoff durations the dispatch loop
// is configured with.
type RetryPolicy struct {
	AutoRetryDelay      time.Duration
	RateLimitRetryDelay time.Duration
}

var rateLimitSignatures = []string{"rate_limit", "rate limit", "429", "too many requests"}

// isRateLimited reports whether errLog carries a rate-limit signature.
func isRateLimited(errLog string) bool {
	lower := strings.ToLower(errLog)
	for _, sig := range rateLimitSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

func appendTimeline(t *types.Task, now time.Time, event string, detail map[string]any) {
	t.Timeline = append(t.Timeline, types.TimelineEntry{At: now, Event: event, Detail: detail})
}

// Dispatch transitions t from pending to in_progress: assigns the worker
// and engine, allocates a fresh attempt, and clears review feedback into
// the prompt (the caller reads t.ReviewFeedback before calling Dispatch to
// build the prompt, then Dispatch clears it).
func Dispatch(t *types.Task, workerID string, engine types.Engine, leaseID string, now time.Time) {
	t.Status = types.StatusInProgress
	t.AssignedWorker = workerID
	t.StartedAt = &now
	t.ReviewFeedback = ""

	t.Attempts = append(t.Attempts, types.Attempt{
		Number:    len(t.Attempts) + 1,
		WorkerID:  workerID,
		Engine:    engine,
		LeaseID:   leaseID,
		StartedAt: now,
		Status:    "running",
	})
	appendTimeline(t, now, "dispatched", map[string]any{"worker_id": workerID, "engine": string(engine)})
}

func currentAttempt(t *types.Task) *types.Attempt {
	if len(t.Attempts) == 0 {
		return nil
	}
	return &t.Attempts[len(t.Attempts)-1]
}

// leaseMatches implements the P6 lease-check gate shared by Complete and
// Fail: the task's own binding and the current attempt's lease id must
// both match what the caller presents.
func leaseMatches(t *types.Task, workerID, leaseID string) bool {
	if t.AssignedWorker != workerID {
		return false
	}
	attempt := currentAttempt(t)
	if attempt == nil || attempt.LeaseID != leaseID {
		return false
	}
	return true
}

// Complete applies a successful worker completion to t. Returns ok=false
// (a pure no-op, per P6) if workerID/leaseID don't match the task's
// current attempt. On success it records the attempt, merges commit ids,
// and returns the events the caller should emit; spawning an adversarial
// review (or applying a review verdict to the parent, when t is itself a
// review task) is the caller's responsibility via SpawnReviewIfEligible /
// ApplyReviewVerdict, since those need sibling document context Complete
// doesn't have.
func Complete(t *types.Task, workerID, leaseID string, commitIDs []string, stdoutTail string, now time.Time) (ok bool, events []types.Event) {
	if !leaseMatches(t, workerID, leaseID) {
		return false, nil
	}

	attempt := currentAttempt(t)
	attempt.CompletedAt = &now
	attempt.Status = "completed"
	zero := 0
	attempt.ExitCode = &zero
	attempt.CommitIDs = commitIDs

	t.Status = types.StatusCompleted
	t.CompletedAt = &now
	t.AssignedWorker = ""
	t.AddCommits(commitIDs)
	if stdoutTail != "" {
		t.ErrorLog = ""
	}
	appendTimeline(t, now, "completed", map[string]any{"commit_ids": commitIDs})

	events = append(events, types.Event{
		Type: "task_completed", Level: types.LevelInfo, TaskID: t.ID, WorkerID: workerID,
		Message: "task completed", CreatedAt: now,
	})
	return true, events
}

// CapturePlan applies a successful plan-generation run: it stores the
// worker's stdout as t.PlanContent and moves t to plan_review for human
// approval, instead of completing the task outright the way a normal task
// or review run does. No commits or merge are expected from a plan run.
func CapturePlan(t *types.Task, workerID, leaseID, planContent string, now time.Time) (ok bool, events []types.Event) {
	if !leaseMatches(t, workerID, leaseID) {
		return false, nil
	}

	attempt := currentAttempt(t)
	attempt.CompletedAt = &now
	attempt.Status = "completed"
	zero := 0
	attempt.ExitCode = &zero

	t.PlanContent = planContent
	t.Status = types.StatusPlanReview
	t.AssignedWorker = ""
	appendTimeline(t, now, "plan_generated", nil)

	events = append(events, types.Event{
		Type: "plan_generated", Level: types.LevelInfo, TaskID: t.ID, WorkerID: workerID,
		Message: "plan generated, awaiting approval", CreatedAt: now,
	})
	return true, events
}

// Fail applies a failed worker completion to t, scheduling auto-retry
// under the cap or moving to failed once it's exhausted. Returns ok=false
// (a no-op, per P6) if workerID/leaseID don't match the task's current
// attempt.
func Fail(t *types.Task, workerID, leaseID, errLog string, exitCode int, now time.Time, policy RetryPolicy) (ok bool, events []types.Event) {
	if !leaseMatches(t, workerID, leaseID) {
		return false, nil
	}

	attempt := currentAttempt(t)
	attempt.CompletedAt = &now
	attempt.Status = "failed"
	attempt.ExitCode = &exitCode
	attempt.ErrorTail = errLog

	t.AssignedWorker = ""
	t.LastExitCode = &exitCode
	t.ErrorLog = errLog

	if t.RetryCount+1 < t.MaxRetries {
		t.RetryCount++
		t.Status = types.StatusPending
		t.StartedAt = nil
		delay := policy.AutoRetryDelay
		reason := "transient failure"
		if isRateLimited(errLog) {
			delay = policy.RateLimitRetryDelay
			reason = "rate limited"
		}
		retryAfter := now.Add(delay)
		t.RetryAfter = &retryAfter
		appendTimeline(t, now, "retry_scheduled", map[string]any{"reason": reason, "retry_after": retryAfter})
		events = append(events, types.Event{
			Type: "task_retry_scheduled", Level: types.LevelWarning, TaskID: t.ID, WorkerID: workerID,
			Message: "task failed, scheduled for retry: " + reason, CreatedAt: now,
		})
	} else {
		t.Status = types.StatusFailed
		appendTimeline(t, now, "failed", map[string]any{"exit_code": exitCode})
		events = append(events, types.Event{
			Type: "task_failed", Level: types.LevelError, TaskID: t.ID, WorkerID: workerID,
			Message: "task failed, retry cap exhausted", CreatedAt: now,
		})
	}
	return true, events
}

// ManualRetry moves a failed task back to pending, resetting retry_count
// to zero (an open design question the source resolves this way — see
// DESIGN.md). It bypasses the auto-retry cap entirely.
func ManualRetry(t *types.Task, now time.Time) error {
	if t.Status != types.StatusFailed {
		return ErrNotFailed
	}
	t.Status = types.StatusPending
	t.RetryCount = 0
	t.RetryAfter = nil
	t.ErrorLog = ""
	appendTimeline(t, now, "manual_retry", nil)
	return nil
}

// RecordWorkerOutcome updates a worker's consecutive-failure counter and
// returns a critical alert event the instant the count reaches 3 (the
// task-level quality alert, distinct from the health probe's failure
// ceiling of 5 used to gate auto-recovery).
func RecordWorkerOutcome(w *types.Worker, succeeded bool, now time.Time) *types.Event {
	if succeeded {
		w.Health.ConsecutiveFailures = 0
		return nil
	}
	w.Health.ConsecutiveFailures++
	if w.Health.ConsecutiveFailures == 3 {
		return &types.Event{
			Type: "alert_triggered", Level: types.LevelCritical, WorkerID: w.ID,
			Message: "worker has failed 3 consecutive tasks", CreatedAt: now,
		}
	}
	return nil
}

// RecordTaskDuration folds a just-finished task's wall-clock duration into
// the worker's running average: first sample seeds it outright, every
// sample after is an 80/20 exponentially weighted average of the prior
// value and the new one.
func RecordTaskDuration(w *types.Worker, duration time.Duration) {
	ms := duration.Milliseconds()
	if w.Health.AvgTaskDurationMS == 0 {
		w.Health.AvgTaskDurationMS = ms
		return
	}
	w.Health.AvgTaskDurationMS = int64(float64(w.Health.AvgTaskDurationMS)*0.8 + float64(ms)*0.2)
}
