package task

import (
	"time"

	"github.com/agentkanban/orchestrator/internal/types"
)

// RollUp scans doc for blocked_by_subtasks parents whose children have all
// completed, transitioning each to completed and returning the events to
// emit. Called once per dispatch cycle (C6), before candidate selection,
// so a roll-up this tick can unblock dependents this same tick.
func RollUp(doc *types.Document, now time.Time) []types.Event {
	var events []types.Event
	for i := range doc.Tasks {
		parent := &doc.Tasks[i]
		if parent.Status != types.StatusBlockedBySubtasks || len(parent.SubTasks) == 0 {
			continue
		}
		if !allSubTasksCompleted(doc, parent) {
			continue
		}

		parent.Status = types.StatusCompleted
		parent.CompletedAt = &now
		appendTimeline(parent, now, "subtasks_all_completed", map[string]any{"sub_task_count": len(parent.SubTasks)})
		events = append(events, types.Event{
			Type: "task_completed", Level: types.LevelInfo, TaskID: parent.ID,
			Message: "all sub-tasks completed, parent rolled up", CreatedAt: now,
		})
	}
	return events
}

func allSubTasksCompleted(doc *types.Document, parent *types.Task) bool {
	for _, childID := range parent.SubTasks {
		child := doc.FindTask(childID)
		if child == nil || child.Status != types.StatusCompleted {
			return false
		}
	}
	return true
}
