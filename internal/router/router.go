// Package router classifies tasks from free text and picks the worker
// pool's idle member for an engine, honoring the review no-fallback rule.
package router

import (
	"strings"

	"github.com/agentkanban/orchestrator/internal/types"
)

// classifyRule is one keyword-matched classification rule, checked in
// order; the first whose keyword set intersects the text wins.
type classifyRule struct {
	taskType types.TaskType
	keywords []string
}

var classifyRules = []classifyRule{
	{types.TaskReview, []string{"review", "audit the change", "code review"}},
	{types.TaskBugfix, []string{"bug", "fix", "broken", "regression", "crash"}},
	{types.TaskRefactor, []string{"refactor", "cleanup", "clean up", "restructure"}},
	{types.TaskAnalysis, []string{"analy", "investigate", "research", "report"}},
	{types.TaskAudit, []string{"audit", "compliance", "security review"}},
	{types.TaskPlan, []string{"plan", "design doc", "proposal"}},
}

// Classify derives a task type from title+description, defaulting to
// feature when no rule matches.
func Classify(title, description string) types.TaskType {
	text := strings.ToLower(title + " " + description)
	for _, rule := range classifyRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.taskType
			}
		}
	}
	return types.TaskFeature
}

// preferredEngine maps a task type to the engine it prefers.
var preferredEngine = map[types.TaskType]types.Engine{
	types.TaskFeature:  types.EngineA,
	types.TaskBugfix:   types.EngineA,
	types.TaskRefactor: types.EngineB,
	types.TaskAnalysis: types.EngineB,
	types.TaskAudit:    types.EngineB,
	types.TaskPlan:     types.EngineA,
	types.TaskReview:   types.EngineA,
}

// PreferredEngine returns the routing preference for a task type.
func PreferredEngine(t types.TaskType) types.Engine {
	if e, ok := preferredEngine[t]; ok {
		return e
	}
	return types.EngineA
}

// FallbackEngine returns the engine a task type falls back to when its
// preferred engine's pool is empty or unhealthy.
func FallbackEngine(t types.TaskType) types.Engine {
	return PreferredEngine(t).Opposite()
}

// SelectWorker picks an idle, CLI-available worker for the given task from
// the pool, honoring the review no-fallback rule (invariant I4/P3): a
// review task is only ever assigned to a worker of its exact routed
// engine, never the opposite via fallback. fallbackReason is non-empty
// only when a non-review task actually fell back to its opposite engine.
func SelectWorker(task *types.Task, workers []*types.Worker) (worker *types.Worker, fallbackReason string) {
	preferred := task.RoutedEngine
	if preferred == "" || preferred == types.EngineAuto {
		preferred = PreferredEngine(task.TaskType)
	}

	if w := firstIdleOfEngine(workers, preferred); w != nil {
		return w, ""
	}

	if task.IsReviewTask() {
		return nil, ""
	}

	fallback := preferred.Opposite()
	if w := firstIdleOfEngine(workers, fallback); w != nil {
		return w, "preferred engine " + string(preferred) + " unavailable, fell back to " + string(fallback)
	}

	return nil, ""
}

func firstIdleOfEngine(workers []*types.Worker, engine types.Engine) *types.Worker {
	for _, w := range workers {
		if w.Engine == engine && w.IsIdleAndHealthy() {
			return w
		}
	}
	return nil
}
