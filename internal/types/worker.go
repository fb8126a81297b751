package types

import "time"

// WorkerStatus is a worker's slot state in the fixed pool.
type WorkerStatus string

const (
	WorkerIdle  WorkerStatus = "idle"
	WorkerBusy  WorkerStatus = "busy"
	WorkerError WorkerStatus = "error"
)

// WorkerHealth tracks the signals the health probe (C4) uses to detect
// stalls and gate auto-recovery.
type WorkerHealth struct {
	LastHeartbeat       time.Time `json:"last_heartbeat"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	AvgTaskDurationMS   int64     `json:"avg_task_duration_ms"`
}

// Worker is one slot in the fixed pool loaded from configuration.
type Worker struct {
	ID               string       `json:"id"`
	Engine           Engine       `json:"engine"`
	Port             int          `json:"port,omitempty"`
	Capabilities     []string     `json:"capabilities,omitempty"`
	WorktreePath     string       `json:"worktree_path"`
	Status           WorkerStatus `json:"status"`
	CurrentTaskID    string       `json:"current_task_id,omitempty"`
	CurrentProjectID string       `json:"current_project_id,omitempty"`
	LeaseID          string       `json:"lease_id,omitempty"`
	PID              int          `json:"pid,omitempty"`
	StartedAt        *time.Time   `json:"started_at,omitempty"`
	LastSeenAt       time.Time    `json:"last_seen_at"`
	TotalCompleted   int          `json:"total_tasks_completed"`
	CLIAvailable     bool         `json:"cli_available"`
	Health           WorkerHealth `json:"health"`

	// ErrorAt stamps when the worker entered WorkerError, for the health
	// probe's cooldown timing. It is runtime bookkeeping; it still appears in
	// the worker's JSON, under the underscore-prefixed _error_at key.
	ErrorAt *time.Time `json:"_error_at,omitempty"`
}

// IsIdleAndHealthy reports whether the worker can accept a new lease.
func (w *Worker) IsIdleAndHealthy() bool {
	return w.Status == WorkerIdle && w.CLIAvailable
}
