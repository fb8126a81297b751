package health

import (
	"testing"
	"time"

	"github.com/agentkanban/orchestrator/internal/types"
)

func TestTickMarksStalledBusyWorker(t *testing.T) {
	probe := &Probe{HeartbeatTimeout: 120 * time.Second, Cooldown: 60 * time.Second, MaxConsecutiveFailures: 5}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := &types.Worker{
		ID: "w-a", Engine: types.EngineA, Status: types.WorkerBusy, CurrentTaskID: "task-001",
		Health: types.WorkerHealth{LastHeartbeat: now.Add(-121 * time.Second)},
	}

	events := probe.Tick(now, []*types.Worker{w}, EngineAvailability{types.EngineA: true})

	if w.Status != types.WorkerError {
		t.Fatalf("expected worker to move to error, got %s", w.Status)
	}
	if w.CurrentTaskID != "" || w.LeaseID != "" {
		t.Fatalf("expected task binding and lease cleared, got task=%q lease=%q", w.CurrentTaskID, w.LeaseID)
	}
	if len(events) != 1 || events[0].Type != "worker_stalled" {
		t.Fatalf("expected one worker_stalled event, got %+v", events)
	}
}

func TestTickAlertsAtFailureCeiling(t *testing.T) {
	probe := &Probe{HeartbeatTimeout: 120 * time.Second, Cooldown: 60 * time.Second, MaxConsecutiveFailures: 5}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := &types.Worker{
		ID: "w-a", Engine: types.EngineA, Status: types.WorkerBusy,
		Health: types.WorkerHealth{LastHeartbeat: now.Add(-200 * time.Second), ConsecutiveFailures: 4},
	}

	events := probe.Tick(now, []*types.Worker{w}, EngineAvailability{types.EngineA: true})

	var sawAlert bool
	for _, e := range events {
		if e.Type == "alert_triggered" {
			sawAlert = true
		}
	}
	if !sawAlert {
		t.Fatalf("expected alert_triggered once consecutive failures hits ceiling, got %+v", events)
	}
}

func TestTickRecoversAfterCooldown(t *testing.T) {
	probe := &Probe{HeartbeatTimeout: 120 * time.Second, Cooldown: 60 * time.Second, MaxConsecutiveFailures: 5}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	errorAt := now.Add(-61 * time.Second)
	w := &types.Worker{
		ID: "w-a", Engine: types.EngineA, Status: types.WorkerError,
		Health: types.WorkerHealth{ConsecutiveFailures: 1}, ErrorAt: &errorAt,
	}

	events := probe.Tick(now, []*types.Worker{w}, EngineAvailability{types.EngineA: true})

	if w.Status != types.WorkerIdle {
		t.Fatalf("expected worker to recover to idle, got %s", w.Status)
	}
	if len(events) != 1 || events[0].Type != "worker_recovered" {
		t.Fatalf("expected one worker_recovered event, got %+v", events)
	}
}

func TestTickDoesNotRecoverAtFailureCeiling(t *testing.T) {
	probe := &Probe{HeartbeatTimeout: 120 * time.Second, Cooldown: 60 * time.Second, MaxConsecutiveFailures: 5}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	errorAt := now.Add(-500 * time.Second)
	w := &types.Worker{
		ID: "w-a", Engine: types.EngineA, Status: types.WorkerError,
		Health: types.WorkerHealth{ConsecutiveFailures: 5}, ErrorAt: &errorAt,
	}

	events := probe.Tick(now, []*types.Worker{w}, EngineAvailability{types.EngineA: true})

	if w.Status != types.WorkerError {
		t.Fatalf("expected worker to remain disabled at failure ceiling, got %s", w.Status)
	}
	if len(events) != 0 {
		t.Fatalf("expected no recovery event at ceiling, got %+v", events)
	}
}

func TestCheckEnginesReportsAvailability(t *testing.T) {
	avail := CheckEngines(map[types.Engine]string{
		types.EngineA: "sh",
		types.EngineB: "definitely-not-a-real-binary-xyz",
	})
	if !avail[types.EngineA] {
		t.Fatal("expected sh to resolve on PATH")
	}
	if avail[types.EngineB] {
		t.Fatal("expected nonexistent binary to be unavailable")
	}
}
