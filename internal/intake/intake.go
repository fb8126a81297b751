// Package intake implements the AI-assisted project-intake collaborator
// (C9): given a free-text project description, it asks engine-A
// (Claude, via anthropic-sdk-go) to produce a structured intake payload —
// project identity plus a starter task breakdown — validates the result,
// and falls back to a deterministic rule engine (reusing
// internal/router's classifier) if the call fails, times out, or the
// response doesn't validate. Per SPEC_FULL.md §9 this is a thin
// kernel-calling collaborator: it never mutates the store directly, it
// only produces a payload the caller hands to internal/project and
// internal/task.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/go-playground/validator/v10"

	"github.com/agentkanban/orchestrator/internal/router"
	"github.com/agentkanban/orchestrator/internal/types"
)

var fencedJSONBlock = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

var validate = validator.New()

// SuggestedTask is one starter task the intake payload proposes.
type SuggestedTask struct {
	Title       string         `json:"title" validate:"required"`
	Description string         `json:"description"`
	TaskType    types.TaskType `json:"task_type" validate:"required,oneof=feature bugfix review refactor analysis plan audit"`
	Priority    types.Priority `json:"priority" validate:"required,oneof=high medium low"`
	SLATier     types.SLATier  `json:"sla_tier" validate:"required,oneof=urgent expedite standard"`
}

// Result is the structured project-intake payload, produced either by
// engine-A or by the deterministic fallback.
type Result struct {
	Name           string          `json:"name" validate:"required"`
	Description    string          `json:"description"`
	SuggestedTasks []SuggestedTask `json:"suggested_tasks" validate:"required,min=1,dive"`
	Source         string          `json:"-"`
}

// Generator produces a Result from a free-text project brief.
type Generator struct {
	Client  *anthropic.Client
	Model   string
	Timeout time.Duration
}

// NewGenerator builds a Generator. client may be nil — Generate then
// skips straight to the deterministic fallback, which is the expected
// configuration wherever ANTHROPIC_API_KEY isn't set.
func NewGenerator(client *anthropic.Client, model string, timeout time.Duration) *Generator {
	return &Generator{Client: client, Model: model, Timeout: timeout}
}

// Generate asks engine-A for a structured intake payload and validates
// it; on any failure (no client configured, call error, timeout,
// unparseable or invalid output) it falls back to RuleEngineFallback so
// intake always returns a usable payload.
func (g *Generator) Generate(ctx context.Context, brief string) (*Result, error) {
	if g.Client == nil {
		return RuleEngineFallback(brief), nil
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := g.callEngine(cctx, brief)
	if err != nil {
		return RuleEngineFallback(brief), nil
	}
	if err := validate.Struct(result); err != nil {
		return RuleEngineFallback(brief), nil
	}
	result.Source = "engine_a"
	return result, nil
}

func (g *Generator) callEngine(ctx context.Context, brief string) (*Result, error) {
	model := g.Model
	if model == "" {
		model = "claude-sonnet-4-5"
	}

	msg, err := g.Client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 2048,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildIntakePrompt(brief))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("engine-a intake call: %w", err)
	}

	var stdout strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			stdout.WriteString(block.Text)
		}
	}

	matches := fencedJSONBlock.FindAllStringSubmatch(stdout.String(), -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no fenced json block in intake response")
	}
	last := matches[len(matches)-1][1]

	var result Result
	if err := json.Unmarshal([]byte(last), &result); err != nil {
		return nil, fmt.Errorf("malformed intake payload json: %w", err)
	}
	return &result, nil
}

func buildIntakePrompt(brief string) string {
	var b strings.Builder
	b.WriteString("A human wants a new project set up in an autonomous task orchestrator. ")
	b.WriteString("Read their project brief and propose a project name and a starter breakdown ")
	b.WriteString("of 2-6 tasks. Respond with exactly one fenced json code block shaped like:\n\n")
	b.WriteString("```json\n")
	b.WriteString(`{"name": "...", "description": "...", "suggested_tasks": [` +
		`{"title": "...", "description": "...", "task_type": "feature|bugfix|review|refactor|analysis|plan|audit", ` +
		`"priority": "high|medium|low", "sla_tier": "urgent|expedite|standard"}]}`)
	b.WriteString("\n```\n\nProject brief:\n")
	b.WriteString(brief)
	return b.String()
}

// RuleEngineFallback builds a deterministic Result when engine-A is
// unavailable or its output can't be trusted: the brief becomes the
// project description, its first line (or a truncated prefix) becomes
// the name, and it is split into candidate task lines classified with
// internal/router.Classify the same way manual task creation is.
func RuleEngineFallback(brief string) *Result {
	brief = strings.TrimSpace(brief)
	name := briefToName(brief)

	var tasks []SuggestedTask
	for _, line := range strings.Split(brief, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		taskType := router.Classify(line, "")
		tasks = append(tasks, SuggestedTask{
			Title:       line,
			Description: line,
			TaskType:    taskType,
			Priority:    types.PriorityMedium,
			SLATier:     types.SLAStandard,
		})
		if len(tasks) >= 6 {
			break
		}
	}
	if len(tasks) == 0 {
		tasks = append(tasks, SuggestedTask{
			Title:       name,
			Description: brief,
			TaskType:    types.TaskFeature,
			Priority:    types.PriorityMedium,
			SLATier:     types.SLAStandard,
		})
	}

	return &Result{
		Name:           name,
		Description:    brief,
		SuggestedTasks: tasks,
		Source:         "rule_engine",
	}
}

func briefToName(brief string) string {
	firstLine := brief
	if idx := strings.IndexByte(brief, '\n'); idx >= 0 {
		firstLine = brief[:idx]
	}
	firstLine = strings.TrimSpace(firstLine)
	if firstLine == "" {
		return "Untitled Project"
	}
	const maxLen = 60
	if len(firstLine) > maxLen {
		return strings.TrimSpace(firstLine[:maxLen])
	}
	return firstLine
}
