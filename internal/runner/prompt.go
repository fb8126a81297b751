package runner

import (
	"fmt"
	"strings"

	"github.com/agentkanban/orchestrator/internal/types"
)

// BuildTaskPrompt constructs the normal execution prompt for task, folding
// in any pending review feedback from a prior fix-verify cycle.
func BuildTaskPrompt(task *types.Task) string {
	var b strings.Builder
	b.WriteString("You are an autonomous software engineering worker operating on a task queue.\n")
	fmt.Fprintf(&b, "Task ID: %s\n", task.ID)
	fmt.Fprintf(&b, "Title: %s\n", task.Title)
	fmt.Fprintf(&b, "Description: %s\n", task.Description)
	fmt.Fprintf(&b, "Type: %s\n", task.TaskType)
	fmt.Fprintf(&b, "Priority: %s\n", task.Priority)
	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if task.ReviewFeedback != "" {
		b.WriteString("\nA prior review of your work requested changes:\n")
		b.WriteString(task.ReviewFeedback)
		b.WriteString("\n")
	}
	b.WriteString("\nComplete this task in the current repository working directory. ")
	b.WriteString("When finished, summarize your changes and report the commit hash(es) you created.\n")
	return b.String()
}

// BuildReviewPrompt constructs the adversarial-review prompt for a review
// child task. The reviewer is told to inspect the parent's diff and is
// required to end its output with the fenced JSON verdict block the task
// state machine parses.
func BuildReviewPrompt(reviewTask *types.Task, parent *types.Task) string {
	var b strings.Builder
	b.WriteString("You are an adversarial code reviewer. Your job is to find real defects, not to rubber-stamp.\n")
	fmt.Fprintf(&b, "Review task ID: %s\n", reviewTask.ID)
	fmt.Fprintf(&b, "Reviewing parent task: %s - %s\n", parent.ID, parent.Title)
	fmt.Fprintf(&b, "Parent description: %s\n", parent.Description)
	if len(parent.CommitIDs) > 0 {
		fmt.Fprintf(&b, "Commits to review: %s\n", strings.Join(parent.CommitIDs, ", "))
	}
	b.WriteString("\nInspect the working tree's recent changes for correctness, safety, and adherence to the acceptance criteria.\n")
	b.WriteString("End your output with exactly one fenced JSON block of the form:\n")
	b.WriteString("```json\n{\"issues\":[{\"severity\":\"critical|high|medium|low\",\"file\":\"...\",\"line\":0,\"description\":\"...\",\"suggestion\":\"...\"}],\"summary\":\"...\"}\n```\n")
	b.WriteString("If you find nothing wrong, emit an empty issues array with a brief summary.\n")
	return b.String()
}

// BuildPlanPrompt constructs the read-only plan-generation prompt.
func BuildPlanPrompt(task *types.Task) string {
	var b strings.Builder
	b.WriteString("You are a planning assistant operating in read-only mode.\n")
	fmt.Fprintf(&b, "Task ID: %s\n", task.ID)
	fmt.Fprintf(&b, "Title: %s\n", task.Title)
	fmt.Fprintf(&b, "Description: %s\n", task.Description)
	fmt.Fprintf(&b, "Type: %s\n\n", task.TaskType)
	b.WriteString("Explore the repository to understand the relevant context, then output a detailed, numbered implementation plan.\n")
	b.WriteString("Requirements:\n")
	b.WriteString("- Each step starts with a number and a period (e.g. \"1. Do something\")\n")
	b.WriteString("- Steps must be concrete and code-focused\n")
	b.WriteString("- At most 8 steps\n")
	b.WriteString("- Do not output any code, only the plan steps\n")
	b.WriteString("Output only the plan, with no preamble or trailing commentary.\n")
	return b.String()
}
