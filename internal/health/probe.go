// Package health runs the engine health probe (C4): CLI availability
// checks per engine, busy-worker heartbeat-timeout detection, and
// cooldown-gated auto-recovery. Grounded on the original Python
// health_loop's detection/recovery rules, executed here with the
// teacher-style generic worker pool for the parallel PATH lookups.
package health

import (
	"os/exec"
	"time"

	"github.com/agentkanban/orchestrator/internal/concurrency"
	"github.com/agentkanban/orchestrator/internal/types"
)

// Probe holds the timing knobs the health loop enforces.
type Probe struct {
	HeartbeatTimeout       time.Duration
	Cooldown               time.Duration
	MaxConsecutiveFailures int
}

// EngineAvailability reports whether each engine's CLI resolves on PATH.
type EngineAvailability map[types.Engine]bool

// CheckEngines resolves engineCommands (engine -> CLI name) on PATH in
// parallel and returns per-engine availability.
func CheckEngines(engineCommands map[types.Engine]string) EngineAvailability {
	engines := make([]types.Engine, 0, len(engineCommands))
	commands := make([]string, 0, len(engineCommands))
	for e, cmd := range engineCommands {
		engines = append(engines, e)
		commands = append(commands, cmd)
	}

	pool := concurrency.NewPool[bool](len(commands))
	results := pool.Process(commands, func(cmd string) (bool, error) {
		_, err := exec.LookPath(cmd)
		return err == nil, nil
	})

	avail := make(EngineAvailability, len(engines))
	for i, e := range engines {
		avail[e] = results[i].Value
	}
	return avail
}

// Tick runs one health-probe cycle over the live worker pool, mutating
// workers in place. now is passed in rather than read from time.Now() so
// the cycle is deterministic and testable.
func (p *Probe) Tick(now time.Time, workers []*types.Worker, availability EngineAvailability) []Event {
	var events []Event

	for _, w := range workers {
		w.CLIAvailable = availability[w.Engine]

		switch w.Status {
		case types.WorkerBusy:
			if !w.Health.LastHeartbeat.IsZero() && now.Sub(w.Health.LastHeartbeat) > p.HeartbeatTimeout {
				events = append(events, p.markStalled(now, w)...)
			}
		case types.WorkerError:
			if w.Health.ConsecutiveFailures < p.maxFailures() && w.ErrorAt != nil && now.Sub(*w.ErrorAt) >= p.Cooldown {
				events = append(events, p.recover(now, w))
			}
		}
	}

	return events
}

func (p *Probe) maxFailures() int {
	if p.MaxConsecutiveFailures <= 0 {
		return 5
	}
	return p.MaxConsecutiveFailures
}

// markStalled transitions a heartbeat-timed-out busy worker to error,
// clearing its task binding and lease.
func (p *Probe) markStalled(now time.Time, w *types.Worker) []Event {
	taskID := w.CurrentTaskID
	w.Status = types.WorkerError
	w.CurrentTaskID = ""
	w.CurrentProjectID = ""
	w.LeaseID = ""
	w.Health.ConsecutiveFailures++
	errorAt := now
	w.ErrorAt = &errorAt

	events := []Event{{Type: "worker_stalled", Level: types.LevelWarning, WorkerID: w.ID, TaskID: taskID, Message: "worker missed heartbeat deadline"}}
	if w.Health.ConsecutiveFailures >= p.maxFailures() {
		events = append(events, Event{Type: "alert_triggered", Level: types.LevelCritical, WorkerID: w.ID, Message: "worker exceeded consecutive failure ceiling, disabled pending operator action"})
	}
	return events
}

// recover restores a cooled-down, non-ceiling-hit error worker to idle.
func (p *Probe) recover(now time.Time, w *types.Worker) Event {
	w.Status = types.WorkerIdle
	w.Health.LastHeartbeat = now
	w.LastSeenAt = now
	w.ErrorAt = nil
	return Event{Type: "worker_recovered", Level: types.LevelInfo, WorkerID: w.ID, Message: "worker recovered after cooldown"}
}

// Event is the subset of types.Event fields the health probe can produce
// without access to the store (ids/timestamps are stamped by the caller
// when persisting through the event bus).
type Event struct {
	Type     string
	Level    types.EventLevel
	WorkerID string
	TaskID   string
	Message  string
}
