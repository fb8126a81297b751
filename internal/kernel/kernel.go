// Package kernel assembles C1-C9 into a single runnable orchestrator: it
// owns the store, event bus, worktree provider, worker runner, the
// dispatch and health background loops, and the two thin collaborators
// (intake, notify). It is the one place in the module that constructs
// every component and wires them together; internal/gateway and cmd/orc
// are both thin callers of the methods here, never reimplementations of
// kernel logic.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"gopkg.in/yaml.v3"

	"github.com/agentkanban/orchestrator/internal/config"
	"github.com/agentkanban/orchestrator/internal/dispatch"
	"github.com/agentkanban/orchestrator/internal/events"
	"github.com/agentkanban/orchestrator/internal/health"
	"github.com/agentkanban/orchestrator/internal/idgen"
	"github.com/agentkanban/orchestrator/internal/intake"
	"github.com/agentkanban/orchestrator/internal/migrate"
	"github.com/agentkanban/orchestrator/internal/notify"
	"github.com/agentkanban/orchestrator/internal/runner"
	"github.com/agentkanban/orchestrator/internal/store"
	"github.com/agentkanban/orchestrator/internal/task"
	"github.com/agentkanban/orchestrator/internal/types"
	"github.com/agentkanban/orchestrator/internal/worktree"
)

// Sentinel errors for the worker protocol (§6.3), mirrored from the
// original source's claim/heartbeat/complete/fail HTTP error conditions
// so internal/gateway can map them to the same status codes.
var (
	ErrWorkerNotFound     = errors.New("worker not found")
	ErrWorkerNotClaimable = errors.New("worker not claimable")
	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskNotClaimable   = errors.New("task not claimable")
	ErrDependenciesUnmet  = errors.New("dependencies not completed")
	ErrLeaseMismatch      = errors.New("worker not assigned to task, or lease mismatch")
)

// Kernel holds every component the dispatch/health loops and the worker
// protocol need.
type Kernel struct {
	Config    *config.Config
	Store     *store.Store
	Bus       *events.Bus
	Dispatch  *dispatch.Loop
	Health    *health.Probe
	Intake    *intake.Generator
	Notifiers []notify.Notifier

	engineCommands map[types.Engine]string
}

// New constructs a Kernel from cfg, migrating any legacy tasks.json
// first. An ANTHROPIC_API_KEY in the environment wires a real
// anthropic-sdk-go client into the intake generator; without one,
// Generate always falls through to the deterministic rule engine.
func New(cfg *config.Config) (*Kernel, error) {
	if err := migrate.ToProjects(cfg.DataRoot); err != nil {
		return nil, fmt.Errorf("migrate legacy data: %w", err)
	}

	provider, err := worktree.NewProvider(cfg.Worktree.Provider, cfg.Worktree.CommandTemplate, 0)
	if err != nil {
		return nil, fmt.Errorf("construct worktree provider: %w", err)
	}

	st := store.New(cfg.DataRoot)
	bus := events.NewBus()

	dispatchLoop := &dispatch.Loop{
		Store:    st,
		Bus:      bus,
		Provider: provider,
		Runner: &runner.Runner{
			EngineACommand: cfg.EngineACommand,
			EngineBCommand: cfg.EngineBCommand,
			ExecMode:       cfg.ExecMode,
		},
		HeartbeatTimeout: cfg.HeartbeatTimeout(),
		PlanTimeout:      45 * time.Second,
		RetryPolicy: task.RetryPolicy{
			AutoRetryDelay:      cfg.AutoRetryDelay(),
			RateLimitRetryDelay: cfg.RateLimitRetryDelay(),
		},
	}

	probe := &health.Probe{
		HeartbeatTimeout:       cfg.HeartbeatTimeout(),
		Cooldown:               cfg.Cooldown(),
		MaxConsecutiveFailures: cfg.Worker.MaxConsecutiveFailures,
	}

	return &Kernel{
		Config:    cfg,
		Store:     st,
		Bus:       bus,
		Dispatch:  dispatchLoop,
		Health:    probe,
		Intake:    intake.NewGenerator(anthropicClientFromEnv(), cfg.Intake.Model, time.Duration(cfg.Intake.TimeoutSec)*time.Second),
		Notifiers: []notify.Notifier{notify.LogNotifier{}},
		engineCommands: map[types.Engine]string{
			types.EngineA: cfg.EngineACommand,
			types.EngineB: cfg.EngineBCommand,
		},
	}, nil
}

// anthropicClientFromEnv builds a client if ANTHROPIC_API_KEY is set,
// otherwise returns nil so intake.Generator falls back to the
// deterministic rule engine.
func anthropicClientFromEnv() *anthropic.Client {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		return nil
	}
	client := anthropic.NewClient(option.WithAPIKey(key))
	return &client
}

// workerManifest is the workers.yaml shape: a fixed pool definition
// loaded once at boot. Runtime fields (Status, CurrentTaskID, Health,
// ...) are left at their zero value and owned thereafter by the
// dispatch loop and health probe, never re-read from this file.
type workerManifest struct {
	Workers []struct {
		ID           string   `yaml:"id"`
		Engine       string   `yaml:"engine"`
		Port         int      `yaml:"port"`
		Capabilities []string `yaml:"capabilities"`
		WorktreePath string   `yaml:"worktree_path"`
	} `yaml:"workers"`
}

// LoadWorkers reads a workers.yaml manifest and installs the resulting
// fixed pool into the dispatch loop, every worker starting idle.
func (k *Kernel) LoadWorkers(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read worker manifest: %w", err)
	}
	var manifest workerManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("decode worker manifest: %w", err)
	}

	now := time.Now().UTC()
	workers := make([]*types.Worker, 0, len(manifest.Workers))
	for _, w := range manifest.Workers {
		workers = append(workers, &types.Worker{
			ID:           w.ID,
			Engine:       types.Engine(w.Engine),
			Port:         w.Port,
			Capabilities: w.Capabilities,
			WorktreePath: w.WorktreePath,
			Status:       types.WorkerIdle,
			LastSeenAt:   now,
		})
	}
	k.Dispatch.SetWorkers(workers)
	return nil
}

// Run starts the dispatch and health background loops and blocks until
// ctx is cancelled — the single supervisor context spec §5 requires for
// coordinated shutdown. Both loops log-and-continue on their own cycle
// errors (§10); only ctx cancellation stops them.
func (k *Kernel) Run(ctx context.Context) {
	done := make(chan struct{}, 2)
	go func() {
		k.Dispatch.Run(ctx, k.Config.DispatchInterval())
		done <- struct{}{}
	}()
	go func() {
		k.runHealthLoop(ctx)
		done <- struct{}{}
	}()
	<-ctx.Done()
	<-done
	<-done
}

func (k *Kernel) runHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(k.Config.HealthInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.tickHealth()
		}
	}
}

// tickHealth runs one health-probe cycle and persists/broadcasts/
// notifies every resulting event. Worker health isn't project-scoped, so
// its events land in the default project's ring, matching the
// single-project shape the original source never needed to generalize.
func (k *Kernel) tickHealth() {
	avail := health.CheckEngines(k.engineCommands)
	workers := k.Dispatch.Workers()
	now := time.Now().UTC()

	for _, e := range k.Health.Tick(now, workers, avail) {
		ev := events.NewEvent(e.Type, e.Level, e.TaskID, e.WorkerID, e.Message, nil)
		_ = k.Store.MutateTasks(types.DefaultProjectID, func(doc *types.Document) error {
			events.Append(doc, ev)
			return nil
		})
		k.Bus.Broadcast(events.Envelope{Type: ev.Type, ProjectID: types.DefaultProjectID, Event: &ev})
		notify.FanOut(context.Background(), k.Notifiers, ev)
	}
}

// Claim implements the worker-protocol Claim RPC (§6.3): an external
// worker process asks for a specific task by id, presenting its own
// worker id. It is a thin wrapper over task.Dispatch plus the dispatch
// loop's own worker bookkeeping — the same path the dispatch cycle's
// automatic assignment uses, just driven by an external caller instead
// of router.SelectWorker.
func (k *Kernel) Claim(projectID, taskID, workerID string, now time.Time) (*types.Task, string, error) {
	w := k.Dispatch.FindWorker(workerID)
	if w == nil {
		return nil, "", ErrWorkerNotFound
	}
	if w.Status != types.WorkerIdle && w.Status != types.WorkerBusy {
		return nil, "", ErrWorkerNotClaimable
	}

	leaseID := idgen.NewLeaseID()
	var claimed *types.Task
	err := k.Store.MutateTasks(projectID, func(doc *types.Document) error {
		t := doc.FindTask(taskID)
		if t == nil {
			return ErrTaskNotFound
		}
		if t.Status != types.StatusPending && t.Status != types.StatusInProgress {
			return ErrTaskNotClaimable
		}
		if t.Status == types.StatusPending && !task.DependenciesSatisfied(doc, t) {
			return ErrDependenciesUnmet
		}

		engine := t.RoutedEngine
		if engine == "" {
			engine = w.Engine
		}
		t.RoutedEngine = engine
		task.Dispatch(t, w.ID, w.Engine, leaseID, now)

		ev := events.NewEvent("worker_claimed", types.LevelInfo, t.ID, w.ID, "task claimed", nil)
		events.Append(doc, ev)
		k.Bus.Broadcast(events.Envelope{Type: ev.Type, ProjectID: projectID, Task: t, Event: &ev})
		claimed = t
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	k.Dispatch.ClaimWorker(w, claimed, leaseID, now)
	return claimed, leaseID, nil
}

// Heartbeat implements the worker-protocol Heartbeat RPC: refreshes the
// assigned worker's liveness stamps, after checking it is actually the
// worker (and, if leaseID is presented, lease) assigned to taskID.
func (k *Kernel) Heartbeat(taskID, workerID, leaseID string, now time.Time) error {
	w := k.Dispatch.FindWorker(workerID)
	if w == nil {
		return ErrWorkerNotFound
	}
	if w.CurrentTaskID != taskID {
		return ErrLeaseMismatch
	}
	if leaseID != "" && w.LeaseID != "" && w.LeaseID != leaseID {
		return ErrLeaseMismatch
	}
	k.Dispatch.Heartbeat(w, now)
	return nil
}

// Complete implements the worker-protocol Complete RPC: applies
// task.Complete under the caller-presented lease, runs the same
// completion side effects internal/dispatch's own completeSuccess path
// does (duration EWMA, worker-outcome counter, adversarial review spawn
// or parent verdict application), and releases the worker.
func (k *Kernel) Complete(projectID, taskID, workerID, leaseID string, commitIDs []string, summary string, now time.Time) (*types.Task, error) {
	w := k.Dispatch.FindWorker(workerID)
	if w == nil {
		return nil, ErrWorkerNotFound
	}

	var result *types.Task
	var outEvents []types.Event
	err := k.Store.MutateTasks(projectID, func(doc *types.Document) error {
		t := doc.FindTask(taskID)
		if t == nil {
			return ErrTaskNotFound
		}
		var started time.Time
		if n := len(t.Attempts); n > 0 {
			started = t.Attempts[n-1].StartedAt
		}

		ok, evs := task.Complete(t, workerID, leaseID, commitIDs, summary, now)
		if !ok {
			return ErrLeaseMismatch
		}
		outEvents = append(outEvents, evs...)

		if !started.IsZero() {
			task.RecordTaskDuration(w, now.Sub(started))
		}
		if alert := task.RecordWorkerOutcome(w, true, now); alert != nil {
			outEvents = append(outEvents, *alert)
		}

		if t.TaskType == types.TaskReview {
			if parent := doc.FindTask(t.ParentTaskID); parent != nil {
				outEvents = append(outEvents, task.ApplyReviewVerdict(parent, summary, now)...)
			}
		} else if child, ev := task.SpawnReviewIfEligible(doc, t, now); child != nil {
			outEvents = append(outEvents, *ev)
		}

		for _, ev := range outEvents {
			events.Append(doc, ev)
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	k.Dispatch.ReleaseWorker(w, now, true)
	for _, ev := range outEvents {
		k.Bus.Broadcast(events.Envelope{Type: ev.Type, ProjectID: projectID, Event: &ev})
	}
	return result, nil
}

// Fail implements the worker-protocol Fail RPC, mirroring
// internal/dispatch's completeFail path.
func (k *Kernel) Fail(projectID, taskID, workerID, leaseID, errLog string, exitCode int, now time.Time) (*types.Task, error) {
	w := k.Dispatch.FindWorker(workerID)
	if w == nil {
		return nil, ErrWorkerNotFound
	}

	var result *types.Task
	var outEvents []types.Event
	err := k.Store.MutateTasks(projectID, func(doc *types.Document) error {
		t := doc.FindTask(taskID)
		if t == nil {
			return ErrTaskNotFound
		}
		ok, evs := task.Fail(t, workerID, leaseID, errLog, exitCode, now, k.Dispatch.RetryPolicy)
		if !ok {
			return ErrLeaseMismatch
		}
		outEvents = append(outEvents, evs...)
		if alert := task.RecordWorkerOutcome(w, false, now); alert != nil {
			outEvents = append(outEvents, *alert)
		}
		for _, ev := range outEvents {
			events.Append(doc, ev)
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	k.Dispatch.ReleaseWorker(w, now, false)
	for _, ev := range outEvents {
		k.Bus.Broadcast(events.Envelope{Type: ev.Type, ProjectID: projectID, Event: &ev})
	}
	return result, nil
}
