package router

import (
	"testing"

	"github.com/agentkanban/orchestrator/internal/types"
)

func TestClassifyKeywordRules(t *testing.T) {
	cases := []struct {
		title, desc string
		want        types.TaskType
	}{
		{"Fix login crash", "", types.TaskBugfix},
		{"Refactor the auth module", "", types.TaskRefactor},
		{"Add code review for PR 42", "", types.TaskReview},
		{"Investigate slow queries", "", types.TaskAnalysis},
		{"Add dark mode toggle", "", types.TaskFeature},
	}
	for _, c := range cases {
		if got := Classify(c.title, c.desc); got != c.want {
			t.Errorf("Classify(%q) = %q, want %q", c.title, got, c.want)
		}
	}
}

func TestSelectWorkerPrefersMatchingEngine(t *testing.T) {
	workers := []*types.Worker{
		{ID: "w-a", Engine: types.EngineA, Status: types.WorkerIdle, CLIAvailable: true},
		{ID: "w-b", Engine: types.EngineB, Status: types.WorkerIdle, CLIAvailable: true},
	}
	task := &types.Task{TaskType: types.TaskFeature, RoutedEngine: types.EngineA}

	w, reason := SelectWorker(task, workers)
	if w == nil || w.ID != "w-a" {
		t.Fatalf("expected worker w-a, got %+v", w)
	}
	if reason != "" {
		t.Fatalf("expected no fallback reason, got %q", reason)
	}
}

func TestSelectWorkerFallsBackForNonReview(t *testing.T) {
	workers := []*types.Worker{
		{ID: "w-b", Engine: types.EngineB, Status: types.WorkerIdle, CLIAvailable: true},
	}
	task := &types.Task{TaskType: types.TaskFeature, RoutedEngine: types.EngineA}

	w, reason := SelectWorker(task, workers)
	if w == nil || w.ID != "w-b" {
		t.Fatalf("expected fallback to worker w-b, got %+v", w)
	}
	if reason == "" {
		t.Fatal("expected a fallback reason to be recorded")
	}
}

func TestSelectWorkerReviewNeverFallsBack(t *testing.T) {
	workers := []*types.Worker{
		{ID: "w-a", Engine: types.EngineA, Status: types.WorkerIdle, CLIAvailable: true},
	}
	task := &types.Task{TaskType: types.TaskReview, RoutedEngine: types.EngineB}

	w, reason := SelectWorker(task, workers)
	if w != nil {
		t.Fatalf("expected review task to never fall back, got worker %+v", w)
	}
	if reason != "" {
		t.Fatalf("expected no fallback reason, got %q", reason)
	}
}

func TestSelectWorkerNoneIdle(t *testing.T) {
	workers := []*types.Worker{
		{ID: "w-a", Engine: types.EngineA, Status: types.WorkerBusy, CLIAvailable: true},
	}
	task := &types.Task{TaskType: types.TaskFeature, RoutedEngine: types.EngineA}

	w, _ := SelectWorker(task, workers)
	if w != nil {
		t.Fatalf("expected no worker available, got %+v", w)
	}
}
