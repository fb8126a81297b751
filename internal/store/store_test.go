package store

import (
	"fmt"
	"testing"

	"github.com/agentkanban/orchestrator/internal/types"
)

func TestReadRegistrySeedsDefaultProject(t *testing.T) {
	s := New(t.TempDir())

	reg, err := s.ReadRegistry()
	if err != nil {
		t.Fatalf("ReadRegistry: %v", err)
	}
	if len(reg.Projects) != 1 {
		t.Fatalf("expected 1 seeded project, got %d", len(reg.Projects))
	}
	if reg.Projects[0].ID != types.DefaultProjectID {
		t.Fatalf("expected default project id %q, got %q", types.DefaultProjectID, reg.Projects[0].ID)
	}
}

func TestMutateRegistryPersistsAcrossOpens(t *testing.T) {
	s := New(t.TempDir())

	err := s.MutateRegistry(func(reg *types.Registry) error {
		reg.Projects = append(reg.Projects, types.Project{ID: "proj-abc", Name: "Widgets", Status: types.ProjectDraft})
		return nil
	})
	if err != nil {
		t.Fatalf("MutateRegistry: %v", err)
	}

	reg, err := s.ReadRegistry()
	if err != nil {
		t.Fatalf("ReadRegistry: %v", err)
	}
	if got := reg.FindProject("proj-abc"); got == nil || got.Name != "Widgets" {
		t.Fatalf("expected proj-abc to persist, got %+v", reg.Projects)
	}
}

// TestMutateTasksRecomputesMeta exercises §3's success_rate formula,
// completed / max(completed+failed, 1): 8 pending tasks in the mix must not
// dilute the rate the way dividing by len(Tasks) would.
func TestMutateTasksRecomputesMeta(t *testing.T) {
	s := New(t.TempDir())

	err := s.MutateTasks("proj-default", func(doc *types.Document) error {
		doc.Tasks = append(doc.Tasks,
			types.Task{ID: "task-001", Status: types.StatusCompleted, RoutedEngine: types.EngineA},
			types.Task{ID: "task-002", Status: types.StatusFailed, RoutedEngine: types.EngineB},
		)
		for i := 0; i < 8; i++ {
			doc.Tasks = append(doc.Tasks, types.Task{ID: fmt.Sprintf("task-%03d", i+3), Status: types.StatusPending})
		}
		return nil
	})
	if err != nil {
		t.Fatalf("MutateTasks: %v", err)
	}

	doc, err := s.ReadTasks("proj-default")
	if err != nil {
		t.Fatalf("ReadTasks: %v", err)
	}
	if doc.Meta.TotalCompleted != 1 {
		t.Fatalf("expected TotalCompleted=1, got %d", doc.Meta.TotalCompleted)
	}
	if doc.Meta.SuccessRate != 0.5 {
		t.Fatalf("expected SuccessRate=0.5 (1 completed / (1 completed + 1 failed)), got %v", doc.Meta.SuccessRate)
	}
	if doc.Meta.ATasks != 1 || doc.Meta.BTasks != 1 {
		t.Fatalf("expected 1 A task and 1 B task, got a=%d b=%d", doc.Meta.ATasks, doc.Meta.BTasks)
	}
}

// TestMutateTasksSuccessRateWithNoCompletedOrFailed ensures the denominator
// floor of 1 avoids a divide-by-zero when only pending/in-progress tasks exist.
func TestMutateTasksSuccessRateWithNoCompletedOrFailed(t *testing.T) {
	s := New(t.TempDir())

	err := s.MutateTasks("proj-default", func(doc *types.Document) error {
		doc.Tasks = append(doc.Tasks, types.Task{ID: "task-001", Status: types.StatusPending})
		return nil
	})
	if err != nil {
		t.Fatalf("MutateTasks: %v", err)
	}

	doc, err := s.ReadTasks("proj-default")
	if err != nil {
		t.Fatalf("ReadTasks: %v", err)
	}
	if doc.Meta.SuccessRate != 0 {
		t.Fatalf("expected SuccessRate=0 with no completed/failed tasks, got %v", doc.Meta.SuccessRate)
	}
}

func TestMutateTasksAbortsOnError(t *testing.T) {
	s := New(t.TempDir())
	boom := errFixture("boom")

	err := s.MutateTasks("proj-default", func(doc *types.Document) error {
		doc.Tasks = append(doc.Tasks, types.Task{ID: "task-001"})
		return boom
	})
	if err == nil {
		t.Fatal("expected error to propagate")
	}

	doc, err := s.ReadTasks("proj-default")
	if err != nil {
		t.Fatalf("ReadTasks: %v", err)
	}
	if len(doc.Tasks) != 0 {
		t.Fatalf("expected no tasks written after aborted mutation, got %d", len(doc.Tasks))
	}
}

func TestEventsRingIsCapped(t *testing.T) {
	s := New(t.TempDir())

	err := s.MutateTasks("proj-default", func(doc *types.Document) error {
		for i := 0; i < types.EventsCap+10; i++ {
			doc.Events = append(doc.Events, types.Event{ID: idFor(i)})
		}
		return nil
	})
	if err != nil {
		t.Fatalf("MutateTasks: %v", err)
	}

	doc, err := s.ReadTasks("proj-default")
	if err != nil {
		t.Fatalf("ReadTasks: %v", err)
	}
	if len(doc.Events) != types.EventsCap {
		t.Fatalf("expected events ring capped at %d, got %d", types.EventsCap, len(doc.Events))
	}
	if doc.Events[0].ID != idFor(10) {
		t.Fatalf("expected oldest events evicted first, got first id %q", doc.Events[0].ID)
	}
}

func TestListProjectIDsSortedAndEmpty(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	ids, err := s.ListProjectIDs()
	if err != nil {
		t.Fatalf("ListProjectIDs on empty root: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no projects yet, got %v", ids)
	}

	for _, id := range []string{"proj-b", "proj-a"} {
		if err := s.MutateTasks(id, func(*types.Document) error { return nil }); err != nil {
			t.Fatalf("MutateTasks(%s): %v", id, err)
		}
	}

	ids, err = s.ListProjectIDs()
	if err != nil {
		t.Fatalf("ListProjectIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "proj-a" || ids[1] != "proj-b" {
		t.Fatalf("expected sorted [proj-a proj-b], got %v", ids)
	}
}

func idFor(i int) string {
	return fmt.Sprintf("evt-%04d", i)
}

type errFixture string

func (e errFixture) Error() string { return string(e) }
