package task

import (
	"strings"
	"testing"
	"time"

	"github.com/agentkanban/orchestrator/internal/types"
)

func TestApprovePlanSynthesizesSubTasksFromLines(t *testing.T) {
	now := time.Now().UTC()
	doc := &types.Document{}
	plan := "1. Fix the login bug\n2. Refactor the session cache\n\n3. Write an analysis report\n"
	parent := types.Task{ID: "task-001", ProjectID: "proj-default", Status: types.StatusPlanReview, PlanContent: plan, PlanMode: true}
	doc.Tasks = append(doc.Tasks, parent)
	p := &doc.Tasks[0]

	children, err := ApprovePlan(doc, p, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("expected 3 sub-tasks, got %d", len(children))
	}
	if children[0].TaskType != types.TaskBugfix {
		t.Fatalf("expected first line classified bugfix, got %s", children[0].TaskType)
	}
	if children[1].TaskType != types.TaskRefactor {
		t.Fatalf("expected second line classified refactor, got %s", children[1].TaskType)
	}
	if children[2].TaskType != types.TaskAnalysis {
		t.Fatalf("expected third line classified analysis, got %s", children[2].TaskType)
	}
	if p.Status != types.StatusBlockedBySubtasks {
		t.Fatalf("expected parent blocked_by_subtasks, got %s", p.Status)
	}
	if len(p.SubTasks) != 3 {
		t.Fatalf("expected 3 sub_tasks ids recorded, got %v", p.SubTasks)
	}
	if len(doc.Tasks) != 4 {
		t.Fatalf("expected parent + 3 children in document, got %d", len(doc.Tasks))
	}
}

// TestApprovePlanWithNoSurvivingLinesFallsBackToPending covers I2: a plan
// that strips down to zero non-trivial lines must not leave the parent
// stuck in blocked_by_subtasks with nothing to roll it up.
func TestApprovePlanWithNoSurvivingLinesFallsBackToPending(t *testing.T) {
	now := time.Now().UTC()
	doc := &types.Document{}
	parent := types.Task{ID: "task-001", Status: types.StatusPlanReview, PlanContent: "\n\n   \n"}
	doc.Tasks = append(doc.Tasks, parent)
	p := &doc.Tasks[0]

	children, err := ApprovePlan(doc, p, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("expected 0 sub-tasks, got %d", len(children))
	}
	if p.Status != types.StatusPending {
		t.Fatalf("expected parent to fall back to pending, got %s", p.Status)
	}
	if len(p.SubTasks) != 0 {
		t.Fatalf("expected no sub_tasks recorded, got %v", p.SubTasks)
	}
}

func TestApprovePlanCapsAtEightSubTasks(t *testing.T) {
	now := time.Now().UTC()
	doc := &types.Document{}
	plan := ""
	for i := 0; i < 12; i++ {
		plan += "- do step\n"
	}
	parent := types.Task{ID: "task-001", Status: types.StatusPlanReview, PlanContent: plan}
	doc.Tasks = append(doc.Tasks, parent)

	children, err := ApprovePlan(doc, &doc.Tasks[0], now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(children) != maxSubTasks {
		t.Fatalf("expected cap of %d sub-tasks, got %d", maxSubTasks, len(children))
	}
}

func TestApprovePlanRejectsNonPlanReviewTask(t *testing.T) {
	doc := &types.Document{}
	tk := types.Task{ID: "task-001", Status: types.StatusPending}
	doc.Tasks = append(doc.Tasks, tk)

	if _, err := ApprovePlan(doc, &doc.Tasks[0], time.Now().UTC()); err != ErrNotPlanReview {
		t.Fatalf("expected ErrNotPlanReview, got %v", err)
	}
}

func TestRejectPlanAppendsFeedbackAndReturnsToPending(t *testing.T) {
	now := time.Now().UTC()
	tk := &types.Task{ID: "task-001", Status: types.StatusPlanReview, PlanContent: "1. do a thing"}

	if err := RejectPlan(tk, "too vague, add rollback steps", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tk.Status != types.StatusPending {
		t.Fatalf("expected pending, got %s", tk.Status)
	}
	if !strings.Contains(tk.PlanContent, "too vague, add rollback steps") {
		t.Fatalf("expected feedback appended, got %q", tk.PlanContent)
	}
}
