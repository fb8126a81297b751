// Package dispatch implements the scheduler proper (C6): one cycle per
// project, per tick, that rolls up completed decompositions, builds a
// ready queue, sorts it by SLA/priority/age, assigns leases to idle
// workers, and launches the worker runner in the background. It is the
// kernel's one caller that ties C1 (store), C2 (worktree), C3 (runner),
// C5 (router), C7 (task) and C8 (events) together; it owns no state of
// its own beyond the worker pool slice handed to it by internal/kernel.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/agentkanban/orchestrator/internal/events"
	"github.com/agentkanban/orchestrator/internal/idgen"
	"github.com/agentkanban/orchestrator/internal/router"
	"github.com/agentkanban/orchestrator/internal/runner"
	"github.com/agentkanban/orchestrator/internal/store"
	"github.com/agentkanban/orchestrator/internal/task"
	"github.com/agentkanban/orchestrator/internal/types"
	"github.com/agentkanban/orchestrator/internal/worktree"
)

// slaRank and priorityRank give the dispatch sort its total order (lower
// rank dispatches first); task id is the final tiebreaker (P7).
var slaRank = map[types.SLATier]int{
	types.SLAUrgent:   0,
	types.SLAExpedite: 1,
	types.SLAStandard: 2,
}

var priorityRank = map[types.Priority]int{
	types.PriorityHigh:   0,
	types.PriorityMedium: 1,
	types.PriorityLow:    2,
}

func sortKeyLess(a, b *types.Task) bool {
	as, bs := slaRank[a.SLATier], slaRank[b.SLATier]
	if as != bs {
		return as < bs
	}
	ap, bp := priorityRank[a.Priority], priorityRank[b.Priority]
	if ap != bp {
		return ap < bp
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Loop owns one dispatch cycle across every project in the store, plus the
// fixed worker pool's assignment bookkeeping. Workers live only in
// process memory (see DESIGN.md) — Loop is the sole writer of their
// Status/CurrentTaskID/LeaseID fields.
type Loop struct {
	Store    *store.Store
	Bus      *events.Bus
	Provider worktree.Provider
	Runner   *runner.Runner

	HeartbeatTimeout time.Duration
	RetryPolicy      task.RetryPolicy
	PlanTimeout      time.Duration

	mu      sync.Mutex
	workers []*types.Worker
}

// SetWorkers installs the fixed worker pool. Called once at boot by
// internal/kernel after loading workers.yaml.
func (l *Loop) SetWorkers(workers []*types.Worker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.workers = workers
}

// Workers returns the live worker slice for read-only inspection (e.g. by
// the gateway or the health probe, which share the same backing slice so
// a status flip is visible everywhere without a second copy).
func (l *Loop) Workers() []*types.Worker {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.workers
}

// Run sleep-drives the dispatch cycle at interval until ctx is cancelled.
// Plain sleep, not a timer wheel, per spec §9's design notes.
func (l *Loop) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				slog.Error("dispatch cycle failed", "error", err)
			}
		}
	}
}

// Tick runs one dispatch cycle over every known project. Errors from one
// project's cycle are logged and do not abort the others (§10: background
// loops catch and log, never die).
func (l *Loop) Tick(ctx context.Context) error {
	ids, err := l.Store.ListProjectIDs()
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	for _, pid := range ids {
		if err := l.tickProject(ctx, pid); err != nil {
			slog.Error("project dispatch cycle failed", "project_id", pid, "error", err)
		}
	}
	return nil
}

// tickProject implements the 8-step cycle from spec §4.4: roll-up, idle
// worker collection (+critical alert if every engine is down), candidate
// build, sort, assignment with no-fallback-for-review, lease issuance,
// async runner launch bounded to one per worker, batched persist.
func (l *Loop) tickProject(ctx context.Context, projectID string) error {
	now := time.Now().UTC()

	idle := l.idleWorkers()
	if len(idle) == 0 && l.allEnginesDown() {
		return l.Store.MutateTasks(projectID, func(doc *types.Document) error {
			ev := events.NewEvent("alert_triggered", types.LevelCritical, "", "",
				"all engines unavailable, dispatch cycle skipped", nil)
			events.Append(doc, ev)
			l.Bus.Broadcast(events.Envelope{Type: ev.Type, ProjectID: projectID, Event: &ev})
			return nil
		})
	}

	var toLaunch []launch

	err := l.Store.MutateTasks(projectID, func(doc *types.Document) error {
		for _, ev := range task.RollUp(doc, now) {
			events.Append(doc, ev)
			l.Bus.Broadcast(events.Envelope{Type: ev.Type, ProjectID: projectID, Event: &ev})
		}

		candidates := l.readyCandidates(doc, now)
		sort.SliceStable(candidates, func(i, j int) bool { return sortKeyLess(candidates[i], candidates[j]) })

		for _, t := range candidates {
			w, reason := router.SelectWorker(t, l.workers)
			if w == nil {
				continue
			}

			lease := idgen.NewLeaseID()
			prompt := l.buildPrompt(doc, t)
			engine := t.RoutedEngine
			if engine == "" {
				engine = w.Engine
			}
			t.RoutedEngine = engine
			t.FallbackReason = reason

			task.Dispatch(t, w.ID, w.Engine, lease, now)
			l.claimWorker(w, t, lease, now)

			if reason != "" {
				fallbackEv := events.NewEvent("engine_fallback", types.LevelWarning, t.ID, w.ID, reason, nil)
				events.Append(doc, fallbackEv)
				l.Bus.Broadcast(events.Envelope{Type: fallbackEv.Type, ProjectID: projectID, Task: t, Event: &fallbackEv})
			}

			dispatchedEv := events.NewEvent("task_dispatched", types.LevelInfo, t.ID, w.ID,
				"dispatched to worker "+w.ID, nil)
			events.Append(doc, dispatchedEv)
			l.Bus.Broadcast(events.Envelope{Type: dispatchedEv.Type, ProjectID: projectID, Task: t, Event: &dispatchedEv})

			claimedEv := events.NewEvent("worker_claimed", types.LevelInfo, t.ID, w.ID, "task claimed", nil)
			events.Append(doc, claimedEv)
			l.Bus.Broadcast(events.Envelope{Type: claimedEv.Type, ProjectID: projectID, Task: t, Event: &claimedEv})

			toLaunch = append(toLaunch, launch{task: *t, worker: w, leaseID: lease, prompt: prompt})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, lc := range toLaunch {
		go l.execute(ctx, projectID, lc)
	}
	return nil
}

type launch struct {
	task    types.Task
	worker  *types.Worker
	leaseID string
	prompt  string
}

func (l *Loop) readyCandidates(doc *types.Document, now time.Time) []*types.Task {
	var out []*types.Task
	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		if task.IsReady(doc, t, now) {
			out = append(out, t)
		}
	}
	return out
}

func (l *Loop) buildPrompt(doc *types.Document, t *types.Task) string {
	switch t.TaskType {
	case types.TaskReview:
		parent := doc.FindTask(t.ParentTaskID)
		return runner.BuildReviewPrompt(t, parent)
	default:
		if t.PlanMode && t.PlanContent == "" {
			return runner.BuildPlanPrompt(t)
		}
		return runner.BuildTaskPrompt(t)
	}
}

func (l *Loop) idleWorkers() []*types.Worker {
	l.mu.Lock()
	defer l.mu.Unlock()
	var idle []*types.Worker
	for _, w := range l.workers {
		if w.IsIdleAndHealthy() {
			idle = append(idle, w)
		}
	}
	return idle
}

func (l *Loop) anyEngineDown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.workers {
		if !w.CLIAvailable {
			return true
		}
	}
	return false
}

// allEnginesDown reports whether the pool has workers and none of them has
// a usable engine CLI, i.e. every engine is unhealthy.
func (l *Loop) allEnginesDown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.workers {
		if w.CLIAvailable {
			return false
		}
	}
	return len(l.workers) > 0
}

func (l *Loop) claimWorker(w *types.Worker, t *types.Task, leaseID string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w.Status = types.WorkerBusy
	w.CurrentTaskID = t.ID
	w.CurrentProjectID = t.ProjectID
	w.LeaseID = leaseID
	w.LastSeenAt = now
	w.Health.LastHeartbeat = now
}

func (l *Loop) releaseWorker(w *types.Worker, now time.Time, succeeded bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w.Status = types.WorkerIdle
	w.CurrentTaskID = ""
	w.CurrentProjectID = ""
	w.LeaseID = ""
	w.LastSeenAt = now
	if succeeded {
		w.TotalCompleted++
	}
}

// FindWorker returns the pool worker with the given id, or nil.
// internal/kernel uses this to resolve the worker protocol's Claim/
// Heartbeat/Complete/Fail requests against the live pool it shares with
// this Loop.
func (l *Loop) FindWorker(workerID string) *types.Worker {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.workers {
		if w.ID == workerID {
			return w
		}
	}
	return nil
}

// ClaimWorker marks w busy on t under lease, for a caller outside the
// dispatch cycle (the worker-protocol Claim RPC). Exported so
// internal/kernel's external-claim path shares the same bookkeeping the
// cycle's own claimWorker applies.
func (l *Loop) ClaimWorker(w *types.Worker, t *types.Task, leaseID string, now time.Time) {
	l.claimWorker(w, t, leaseID, now)
}

// ReleaseWorker returns w to idle, for the worker-protocol Complete/Fail
// RPCs to call after applying their task-state transition.
func (l *Loop) ReleaseWorker(w *types.Worker, now time.Time, succeeded bool) {
	l.releaseWorker(w, now, succeeded)
}

// Heartbeat refreshes w's liveness stamps for the worker-protocol
// Heartbeat RPC, matching what claimWorker stamps at assignment time.
func (l *Loop) Heartbeat(w *types.Worker, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w.LastSeenAt = now
	w.Health.LastHeartbeat = now
}

// execute runs one launched task's worktree prepare → runner spawn →
// completion callback, entirely off the dispatch cycle's own goroutine so
// a slow CLI invocation never blocks other workers' assignment.
func (l *Loop) execute(ctx context.Context, projectID string, lc launch) {
	t, w, leaseID := lc.task, lc.worker, lc.leaseID
	dispatchedAt := time.Now().UTC()

	worktreePath, branch, err := l.Provider.Prepare(ctx, w.WorktreePath, w.ID, t.ID)
	if err != nil {
		l.completeFail(projectID, t.ID, w, leaseID, "worktree prepare failed: "+err.Error(), 1)
		return
	}

	mode := runner.ModeNormal
	timeout := l.HeartbeatTimeout
	isPlanRun := t.PlanMode && t.PlanContent == ""
	switch {
	case t.TaskType == types.TaskReview:
		mode = runner.ModeReview
	case isPlanRun:
		mode = runner.ModePlan
		timeout = l.PlanTimeout
	}

	res, err := l.Runner.Run(ctx, w.ID, string(w.Engine), mode, lc.prompt, worktreePath, timeout)
	if err != nil {
		l.completeFail(projectID, t.ID, w, leaseID, err.Error(), res.ExitCode)
		return
	}

	if res.ExitCode != 0 {
		l.completeFail(projectID, t.ID, w, leaseID, res.StdoutTail, res.ExitCode)
		return
	}

	now := time.Now().UTC()

	// A plan run only drafts a plan for human approval; it makes no code
	// changes, so there is nothing to merge and the task does not complete
	// here (per §12: a generated plan moves the task to plan_review, not
	// completed).
	if isPlanRun {
		l.completePlan(projectID, t.ID, w, leaseID, res.StdoutTail, now, now.Sub(dispatchedAt))
		return
	}

	if mergeErr := l.Provider.Merge(ctx, w.WorktreePath, branch); mergeErr != nil {
		l.recordMergeConflict(projectID, t.ID, mergeErr)
	}

	l.completeSuccess(projectID, t.ID, w, leaseID, res.CommitIDs, res.StdoutTail, now, now.Sub(dispatchedAt))
}

func (l *Loop) completePlan(projectID, taskID string, w *types.Worker, leaseID, planContent string, now time.Time, duration time.Duration) {
	var outEvents []types.Event
	_ = l.Store.MutateTasks(projectID, func(doc *types.Document) error {
		t := doc.FindTask(taskID)
		if t == nil {
			return nil
		}
		ok, evs := task.CapturePlan(t, w.ID, leaseID, planContent, now)
		if !ok {
			return nil
		}
		outEvents = append(outEvents, evs...)
		task.RecordTaskDuration(w, duration)
		if alert := task.RecordWorkerOutcome(w, true, now); alert != nil {
			outEvents = append(outEvents, *alert)
		}
		for _, ev := range outEvents {
			events.Append(doc, ev)
		}
		return nil
	})
	l.releaseWorker(w, now, true)
	for _, ev := range outEvents {
		l.Bus.Broadcast(events.Envelope{Type: ev.Type, ProjectID: projectID, Event: &ev})
	}
}

func (l *Loop) completeSuccess(projectID, taskID string, w *types.Worker, leaseID string, commitIDs []string, stdoutTail string, now time.Time, duration time.Duration) {
	var outEvents []types.Event
	_ = l.Store.MutateTasks(projectID, func(doc *types.Document) error {
		t := doc.FindTask(taskID)
		if t == nil {
			return nil
		}
		ok, evs := task.Complete(t, w.ID, leaseID, commitIDs, stdoutTail, now)
		if !ok {
			return nil
		}
		outEvents = append(outEvents, evs...)

		task.RecordTaskDuration(w, duration)
		if alert := task.RecordWorkerOutcome(w, true, now); alert != nil {
			outEvents = append(outEvents, *alert)
		}

		if t.TaskType == types.TaskReview {
			if parent := doc.FindTask(t.ParentTaskID); parent != nil {
				outEvents = append(outEvents, task.ApplyReviewVerdict(parent, stdoutTail, now)...)
			}
		} else if child, ev := task.SpawnReviewIfEligible(doc, t, now); child != nil {
			outEvents = append(outEvents, *ev)
		}

		for _, ev := range outEvents {
			events.Append(doc, ev)
		}
		return nil
	})
	l.releaseWorker(w, now, true)
	for _, ev := range outEvents {
		l.Bus.Broadcast(events.Envelope{Type: ev.Type, ProjectID: projectID, Event: &ev})
	}
}

func (l *Loop) completeFail(projectID, taskID string, w *types.Worker, leaseID, errLog string, exitCode int) {
	now := time.Now().UTC()
	var outEvents []types.Event
	_ = l.Store.MutateTasks(projectID, func(doc *types.Document) error {
		t := doc.FindTask(taskID)
		if t == nil {
			return nil
		}
		ok, evs := task.Fail(t, w.ID, leaseID, errLog, exitCode, now, l.RetryPolicy)
		if !ok {
			return nil
		}
		outEvents = append(outEvents, evs...)
		if alert := task.RecordWorkerOutcome(w, false, now); alert != nil {
			outEvents = append(outEvents, *alert)
		}
		for _, ev := range outEvents {
			events.Append(doc, ev)
		}
		return nil
	})
	l.releaseWorker(w, now, false)
	for _, ev := range outEvents {
		l.Bus.Broadcast(events.Envelope{Type: ev.Type, ProjectID: projectID, Event: &ev})
	}
}

// recordMergeConflict logs a merge_conflict warning but does not fail the
// task: completion is semantically achieved even though the merge needs
// manual resolution (spec §4.5/§7, DESIGN.md Open Question).
func (l *Loop) recordMergeConflict(projectID, taskID string, mergeErr error) {
	_ = l.Store.MutateTasks(projectID, func(doc *types.Document) error {
		t := doc.FindTask(taskID)
		if t == nil {
			return nil
		}
		ev := events.NewEvent("merge_conflict", types.LevelWarning, taskID, "",
			"merge conflict, manual resolution required: "+mergeErr.Error(), nil)
		events.Append(doc, ev)
		l.Bus.Broadcast(events.Envelope{Type: ev.Type, ProjectID: projectID, Task: t, Event: &ev})
		return nil
	})
}
