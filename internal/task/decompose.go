package task

import (
	"regexp"
	"strings"
	"time"

	"github.com/agentkanban/orchestrator/internal/router"
	"github.com/agentkanban/orchestrator/internal/types"
)

// maxSubTasks caps decomposition at 8 surviving lines, per spec.
const maxSubTasks = 8

// leadingMarker strips a bullet ("-", "*") or ordinal ("1.", "2)") prefix
// from a plan line before it's judged non-trivial.
var leadingMarker = regexp.MustCompile(`^\s*(?:[-*]|\d+[.)])\s*`)

func stripMarker(line string) string {
	return strings.TrimSpace(leadingMarker.ReplaceAllString(line, ""))
}

// ApprovePlan line-scans t.PlanContent and synthesizes up to 8 sub-tasks
// from the surviving non-trivial lines, each re-classified from its own
// text. t moves to blocked_by_subtasks. Each sub-task takes its id from
// NextID and is appended to doc here; the returned slice holds copies of
// the appended tasks.
func ApprovePlan(doc *types.Document, t *types.Task, now time.Time) ([]types.Task, error) {
	if t.Status != types.StatusPlanReview {
		return nil, ErrNotPlanReview
	}

	lines := strings.Split(t.PlanContent, "\n")
	var subTasks []types.Task
	for _, raw := range lines {
		if len(subTasks) >= maxSubTasks {
			break
		}
		line := stripMarker(raw)
		if line == "" {
			continue
		}

		taskType := router.Classify(line, "")
		child := types.Task{
			ID:           NextID(doc),
			ProjectID:    t.ProjectID,
			ParentTaskID: t.ID,
			Title:        line,
			Description:  line,
			TaskType:     taskType,
			Priority:     t.Priority,
			SLATier:      t.SLATier,
			RiskLevel:    t.RiskLevel,
			Engine:       types.EngineAuto,
			Status:       types.StatusPending,
			MaxRetries:   types.DefaultMaxRetries,
			SubTasks:     []string{},
			DependsOn:    []string{},
			CommitIDs:    []string{},
			Attempts:     []types.Attempt{},
			Timeline:     []types.TimelineEntry{},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		doc.Tasks = append(doc.Tasks, child)
		subTasks = append(subTasks, child)
		t.SubTasks = append(t.SubTasks, child.ID)
	}

	if len(subTasks) == 0 {
		// No surviving non-trivial lines: nothing to block on, so fall back
		// to direct execution rather than blocking_by_subtasks forever (I2).
		t.Status = types.StatusPending
	} else {
		t.Status = types.StatusBlockedBySubtasks
	}
	t.PlanMode = false
	appendTimeline(t, now, "plan_approved", map[string]any{"sub_task_count": len(subTasks)})

	// Appending sub-tasks may have moved doc.Tasks, leaving t pointing into
	// the old backing array; copy t's state onto the document's own element.
	if p := doc.FindTask(t.ID); p != nil && p != t {
		*p = *t
	}
	return subTasks, nil
}

// RejectPlan appends feedback to t.PlanContent and returns it to pending
// so an engine worker can revise the plan on its next attempt.
func RejectPlan(t *types.Task, feedback string, now time.Time) error {
	if t.Status != types.StatusPlanReview {
		return ErrNotPlanReview
	}
	t.PlanContent = strings.TrimSpace(t.PlanContent + "\n\n--- rejection feedback ---\n" + feedback)
	t.Status = types.StatusPending
	appendTimeline(t, now, "plan_rejected", map[string]any{"feedback": feedback})
	return nil
}
