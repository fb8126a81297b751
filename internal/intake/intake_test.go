package intake

import (
	"context"
	"strings"
	"testing"

	"github.com/agentkanban/orchestrator/internal/types"
)

func TestRuleEngineFallbackClassifiesTaskLines(t *testing.T) {
	brief := "Set up onboarding flow\nFix the broken login redirect\nRefactor the billing module"

	result := RuleEngineFallback(brief)

	if result.Source != "rule_engine" {
		t.Fatalf("expected rule_engine source, got %s", result.Source)
	}
	if len(result.SuggestedTasks) != 3 {
		t.Fatalf("expected 3 suggested tasks, got %d: %+v", len(result.SuggestedTasks), result.SuggestedTasks)
	}
	if result.SuggestedTasks[1].TaskType != types.TaskBugfix {
		t.Fatalf("expected the login-fix line classified as bugfix, got %s", result.SuggestedTasks[1].TaskType)
	}
	if result.SuggestedTasks[2].TaskType != types.TaskRefactor {
		t.Fatalf("expected the billing line classified as refactor, got %s", result.SuggestedTasks[2].TaskType)
	}
}

func TestRuleEngineFallbackNameFromFirstLine(t *testing.T) {
	result := RuleEngineFallback("Build a notifications service\nwith email and SMS channels")
	if result.Name != "Build a notifications service" {
		t.Fatalf("expected name from first line, got %q", result.Name)
	}
}

func TestRuleEngineFallbackHandlesEmptyBrief(t *testing.T) {
	result := RuleEngineFallback("   ")
	if result.Name != "Untitled Project" {
		t.Fatalf("expected default name for an empty brief, got %q", result.Name)
	}
	if len(result.SuggestedTasks) != 1 {
		t.Fatalf("expected a single fallback task for an empty brief, got %+v", result.SuggestedTasks)
	}
}

func TestGenerateWithoutClientUsesFallback(t *testing.T) {
	g := NewGenerator(nil, "", 0)
	result, err := g.Generate(context.Background(), "Add search to the dashboard")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Source != "rule_engine" {
		t.Fatalf("expected rule_engine fallback when no client is configured, got %s", result.Source)
	}
}

func TestBuildIntakePromptIncludesBriefAndSchema(t *testing.T) {
	prompt := buildIntakePrompt("Ship a billing export feature")
	if !strings.Contains(prompt, "Ship a billing export feature") {
		t.Fatal("expected prompt to include the brief text")
	}
	if !strings.Contains(prompt, "```json") {
		t.Fatal("expected prompt to request a fenced json block")
	}
}
