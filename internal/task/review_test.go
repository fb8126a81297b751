package task

import (
	"strings"
	"testing"
	"time"

	"github.com/agentkanban/orchestrator/internal/types"
)

func TestSpawnReviewIfEligibleCreatesChildWithOppositeEngine(t *testing.T) {
	now := time.Now().UTC()
	doc := &types.Document{}
	parent := types.Task{ID: "task-001", ProjectID: "proj-default", TaskType: types.TaskFeature, RoutedEngine: types.EngineA}
	doc.Tasks = append(doc.Tasks, parent)
	p := &doc.Tasks[0]

	child, ev := SpawnReviewIfEligible(doc, p, now)
	if child == nil {
		t.Fatal("expected a review child to be spawned")
	}
	if child.RoutedEngine != types.EngineB {
		t.Fatalf("expected review routed to opposite engine B, got %s", child.RoutedEngine)
	}
	if child.DependsOn[0] != "task-001" {
		t.Fatalf("expected review to depend on parent, got %v", child.DependsOn)
	}
	if p.Status != types.StatusReviewing {
		t.Fatalf("expected parent reviewing, got %s", p.Status)
	}
	if ev == nil || ev.Type != "review_spawned" {
		t.Fatalf("expected review_spawned event, got %+v", ev)
	}
	if len(doc.Tasks) != 2 {
		t.Fatalf("expected child appended to document, got %d tasks", len(doc.Tasks))
	}
}

func TestSpawnReviewIfEligibleSkipsReviewTasksAndIneligibleTypes(t *testing.T) {
	doc := &types.Document{}
	now := time.Now().UTC()

	review := &types.Task{ID: "task-002", TaskType: types.TaskReview}
	if child, ev := SpawnReviewIfEligible(doc, review, now); child != nil || ev != nil {
		t.Fatal("expected no review spawned for a review task")
	}

	analysis := &types.Task{ID: "task-003", TaskType: types.TaskAnalysis}
	if child, ev := SpawnReviewIfEligible(doc, analysis, now); child != nil || ev != nil {
		t.Fatal("expected no review spawned for an ineligible task type")
	}
}

func TestApplyReviewVerdictApprovesWhenNoBlockingIssue(t *testing.T) {
	now := time.Now().UTC()
	parent := &types.Task{ID: "task-001", Status: types.StatusReviewing}
	stdout := "Looks fine overall.\n```json\n{\"issues\":[],\"summary\":\"all good\"}\n```\n"

	events := ApplyReviewVerdict(parent, stdout, now)

	if parent.Status != types.StatusCompleted || parent.ReviewStatus != types.ReviewApproved {
		t.Fatalf("expected approved+completed, got status=%s review_status=%s", parent.Status, parent.ReviewStatus)
	}
	if len(events) != 1 || events[0].Type != "review_approved" {
		t.Fatalf("expected review_approved event, got %+v", events)
	}
}

func TestApplyReviewVerdictRequestsChangesOnBlockingIssue(t *testing.T) {
	now := time.Now().UTC()
	parent := &types.Task{ID: "task-001", Status: types.StatusReviewing}
	stdout := "```json\n{\"issues\":[{\"severity\":\"high\",\"file\":\"a.go\",\"line\":10,\"description\":\"missing nil check\"}]}\n```"

	events := ApplyReviewVerdict(parent, stdout, now)

	if parent.Status != types.StatusPending {
		t.Fatalf("expected pending for fix cycle, got %s", parent.Status)
	}
	if parent.ReviewRound != 1 {
		t.Fatalf("expected review_round=1, got %d", parent.ReviewRound)
	}
	if !strings.Contains(parent.ReviewFeedback, "missing nil check") {
		t.Fatalf("expected feedback to mention the issue, got %q", parent.ReviewFeedback)
	}
	if len(events) != 1 || events[0].Type != "review_changes_requested" {
		t.Fatalf("expected review_changes_requested event, got %+v", events)
	}
}

func TestApplyReviewVerdictEscalatesOnUnparseableOutput(t *testing.T) {
	now := time.Now().UTC()
	parent := &types.Task{ID: "task-001", Status: types.StatusReviewing}

	events := ApplyReviewVerdict(parent, "no fenced block here", now)

	if parent.Status != types.StatusPlanReview || parent.BlockedReason != "review_parse_failed" {
		t.Fatalf("expected plan_review/review_parse_failed, got status=%s reason=%s", parent.Status, parent.BlockedReason)
	}
	if len(events) != 1 || events[0].Level != types.LevelError {
		t.Fatalf("expected an error-level event, got %+v", events)
	}
}

// TestApplyReviewVerdictRunsFullLoopThenEscalates drives scenario 5 end to
// end: a first verdict takes review_round to 1, two more change-requested
// verdicts take it to 2 and 3, and only the fourth verdict — which would
// push it past the 3-round cap — escalates to human plan_review.
func TestApplyReviewVerdictRunsFullLoopThenEscalates(t *testing.T) {
	now := time.Now().UTC()
	parent := &types.Task{ID: "task-001", Status: types.StatusReviewing}
	stdout := "```json\n{\"issues\":[{\"severity\":\"critical\",\"file\":\"a.go\",\"line\":1,\"description\":\"bug\"}]}\n```"

	for round := 1; round <= types.MaxReviewRounds; round++ {
		events := ApplyReviewVerdict(parent, stdout, now)
		if parent.Status != types.StatusPending {
			t.Fatalf("round %d: expected pending for fix cycle, got %s", round, parent.Status)
		}
		if parent.ReviewRound != round {
			t.Fatalf("round %d: expected review_round=%d, got %d", round, round, parent.ReviewRound)
		}
		if len(events) != 1 || events[0].Type != "review_changes_requested" {
			t.Fatalf("round %d: expected review_changes_requested event, got %+v", round, events)
		}
		parent.Status = types.StatusReviewing
	}

	events := ApplyReviewVerdict(parent, stdout, now)

	if parent.Status != types.StatusPlanReview || parent.BlockedReason != "max_review_rounds_exceeded" {
		t.Fatalf("expected plan_review/max_review_rounds_exceeded, got status=%s reason=%s", parent.Status, parent.BlockedReason)
	}
	if parent.ReviewRound != types.MaxReviewRounds {
		t.Fatalf("expected review_round to stay at the cap, got %d", parent.ReviewRound)
	}
	if len(events) != 1 || events[0].Type != "review_rounds_exhausted" {
		t.Fatalf("expected review_rounds_exhausted event, got %+v", events)
	}
}

func TestApplyReviewVerdictTakesLastFencedBlock(t *testing.T) {
	now := time.Now().UTC()
	parent := &types.Task{ID: "task-001", Status: types.StatusReviewing}
	stdout := "reasoning...\n```json\n{\"issues\":[{\"severity\":\"high\",\"file\":\"x\",\"line\":1,\"description\":\"draft\"}]}\n```\n" +
		"on reflection...\n```json\n{\"issues\":[],\"summary\":\"actually fine\"}\n```"

	events := ApplyReviewVerdict(parent, stdout, now)

	if parent.Status != types.StatusCompleted {
		t.Fatalf("expected the last fenced block (approval) to win, got %s", parent.Status)
	}
	if len(events) != 1 || events[0].Type != "review_approved" {
		t.Fatalf("expected review_approved, got %+v", events)
	}
}
