package task

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/agentkanban/orchestrator/internal/idgen"
	"github.com/agentkanban/orchestrator/internal/types"
)

// fencedJSONBlock matches ```json ... ``` fenced blocks; (?s) lets . span
// newlines since a review's fenced payload is always multi-line.
var fencedJSONBlock = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// reviewEligibleTypes lists the task types that spawn an adversarial review
// child on completion.
var reviewEligibleTypes = map[types.TaskType]bool{
	types.TaskFeature:  true,
	types.TaskBugfix:   true,
	types.TaskRefactor: true,
}

// NextID scans doc for the highest existing task-NNN suffix and returns
// the next one, so ids stay monotonic across the whole project regardless
// of deletions. Used both internally (review/decompose children) and by
// cmd/orc when creating a new top-level task.
func NextID(doc *types.Document) string {
	max := 0
	for _, t := range doc.Tasks {
		var n int
		if _, err := fmt.Sscanf(t.ID, "task-%d", &n); err == nil && n > max {
			max = n
		}
	}
	return idgen.TaskID(max + 1)
}

// SpawnReviewIfEligible creates and appends an adversarial review child for
// a just-completed parent, when its task type qualifies (I4/P3: review
// tasks are never themselves re-reviewed). The parent moves to reviewing
// and gains a dependency edge from the new child back to itself.
func SpawnReviewIfEligible(doc *types.Document, parent *types.Task, now time.Time) (*types.Task, *types.Event) {
	if parent.IsReviewTask() || !reviewEligibleTypes[parent.TaskType] {
		return nil, nil
	}

	executionEngine := parent.RoutedEngine
	if executionEngine == "" {
		executionEngine = parent.Engine
	}

	child := types.Task{
		ID:           NextID(doc),
		ProjectID:    parent.ProjectID,
		ParentTaskID: parent.ID,
		DependsOn:    []string{parent.ID},
		SubTasks:     []string{},
		Title:        "Review: " + parent.Title,
		Description:  "Adversarial review of " + parent.ID + "'s changes.",
		TaskType:     types.TaskReview,
		Priority:     parent.Priority,
		SLATier:      parent.SLATier,
		RiskLevel:    parent.RiskLevel,
		Engine:       types.EngineAuto,
		RoutedEngine: executionEngine.Opposite(),
		Status:       types.StatusPending,
		MaxRetries:   types.DefaultMaxRetries,
		CommitIDs:    []string{},
		Attempts:     []types.Attempt{},
		Timeline:     []types.TimelineEntry{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	parent.Status = types.StatusReviewing
	parent.ReviewStatus = types.ReviewPending
	parent.ReviewEngine = child.RoutedEngine
	appendTimeline(parent, now, "review_spawned", map[string]any{"review_task_id": child.ID})

	// Appended only after the parent is updated: the append may move
	// doc.Tasks, and parent may point into the old backing array.
	doc.Tasks = append(doc.Tasks, child)

	ev := &types.Event{
		Type: "review_spawned", Level: types.LevelInfo, TaskID: parent.ID, WorkerID: "",
		Message: "spawned adversarial review " + child.ID, CreatedAt: now,
	}
	return &child, ev
}

// parseReviewVerdict extracts the LAST fenced ```json block from stdout, per
// spec: a reviewer may reason in prose before settling on its verdict, so
// only the final block is authoritative.
func parseReviewVerdict(stdout string) (types.ReviewResult, error) {
	matches := fencedJSONBlock.FindAllStringSubmatch(stdout, -1)
	if len(matches) == 0 {
		return types.ReviewResult{}, fmt.Errorf("no fenced json block found in review output")
	}
	last := matches[len(matches)-1][1]
	var result types.ReviewResult
	if err := json.Unmarshal([]byte(last), &result); err != nil {
		return types.ReviewResult{}, fmt.Errorf("malformed review verdict json: %w", err)
	}
	return result, nil
}

// ApplyReviewVerdict parses a completed review task's stdout and applies
// its verdict to the parent it reviewed: approve, request changes (looping
// the parent back to pending with feedback folded into the next attempt's
// prompt), or escalate to human plan_review when parsing fails or the
// fix-verify loop is exhausted (invariant I3).
func ApplyReviewVerdict(parent *types.Task, reviewerStdout string, now time.Time) []types.Event {
	result, err := parseReviewVerdict(reviewerStdout)
	if err != nil {
		parent.Status = types.StatusPlanReview
		parent.BlockedReason = "review_parse_failed"
		appendTimeline(parent, now, "review_parse_failed", map[string]any{"error": err.Error()})
		return []types.Event{{
			Type: "review_parse_failed", Level: types.LevelError, TaskID: parent.ID,
			Message: "could not parse review verdict: " + err.Error(), CreatedAt: now,
		}}
	}

	parent.ReviewResult = &result

	if !result.HasBlockingIssue() {
		parent.Status = types.StatusCompleted
		parent.ReviewStatus = types.ReviewApproved
		parent.CompletedAt = &now
		appendTimeline(parent, now, "review_approved", map[string]any{"summary": result.Summary})
		return []types.Event{{
			Type: "review_approved", Level: types.LevelInfo, TaskID: parent.ID,
			Message: "review approved: " + result.Summary, CreatedAt: now,
		}}
	}

	if parent.ReviewRound+1 > types.MaxReviewRounds {
		parent.Status = types.StatusPlanReview
		parent.BlockedReason = "max_review_rounds_exceeded"
		parent.ReviewStatus = types.ReviewChangesRequested
		appendTimeline(parent, now, "review_rounds_exhausted", map[string]any{"round": parent.ReviewRound + 1})
		return []types.Event{{
			Type: "review_rounds_exhausted", Level: types.LevelWarning, TaskID: parent.ID,
			Message: "review fix-verify loop exhausted after 3 rounds, escalating to human review", CreatedAt: now,
		}}
	}

	parent.ReviewRound++
	parent.ReviewStatus = types.ReviewChangesRequested
	parent.Status = types.StatusPending
	parent.ReviewFeedback = formatReviewFeedback(result)
	appendTimeline(parent, now, "review_changes_requested", map[string]any{"round": parent.ReviewRound, "issue_count": len(result.Issues)})
	return []types.Event{{
		Type: "review_changes_requested", Level: types.LevelWarning, TaskID: parent.ID,
		Message: fmt.Sprintf("review round %d requested changes (%d issues)", parent.ReviewRound, len(result.Issues)), CreatedAt: now,
	}}
}

// formatReviewFeedback renders a ReviewResult into the prose a follow-up
// attempt's prompt folds in (see runner.BuildTaskPrompt).
func formatReviewFeedback(result types.ReviewResult) string {
	var b strings.Builder
	if result.Summary != "" {
		b.WriteString(result.Summary)
		b.WriteString("\n\n")
	}
	for _, iss := range result.Issues {
		fmt.Fprintf(&b, "- [%s] %s:%d %s", iss.Severity, iss.File, iss.Line, iss.Description)
		if iss.Suggestion != "" {
			fmt.Fprintf(&b, " (suggestion: %s)", iss.Suggestion)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
