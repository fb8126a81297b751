package migrate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentkanban/orchestrator/internal/types"
)

func TestToProjectsMigratesLegacyTasksFile(t *testing.T) {
	dir := t.TempDir()
	legacy := types.Document{
		SchemaVersion: 0,
		Tasks:         []types.Task{{ID: "task-001", Title: "legacy task"}},
	}
	b, err := json.Marshal(&legacy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tasks.json"), b, 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ToProjects(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	destPath := filepath.Join(dir, "projects", types.DefaultProjectID, "tasks.json")
	out, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("expected migrated file to exist: %v", err)
	}
	var doc types.Document
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unexpected error decoding migrated doc: %v", err)
	}
	if len(doc.Tasks) != 1 || doc.Tasks[0].ID != "task-001" {
		t.Fatalf("expected legacy task preserved, got %+v", doc.Tasks)
	}
	if doc.SchemaVersion != 2 {
		t.Fatalf("expected schema_version normalized to 2, got %d", doc.SchemaVersion)
	}
	if doc.Events == nil {
		t.Fatal("expected events initialized to an empty slice, not nil")
	}
}

func TestToProjectsNoOpWithoutLegacyFile(t *testing.T) {
	dir := t.TempDir()

	if err := ToProjects(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "projects", types.DefaultProjectID, "tasks.json")); !os.IsNotExist(err) {
		t.Fatalf("expected no migrated file without a legacy tasks.json, got err=%v", err)
	}
}

func TestToProjectsSkipsIfRegistryAlreadyExists(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "projects.json"), []byte(`{"schema_version":1,"projects":[]}`), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tasks.json"), []byte(`{"tasks":[{"id":"task-001"}]}`), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ToProjects(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "projects", types.DefaultProjectID, "tasks.json")); !os.IsNotExist(err) {
		t.Fatalf("expected migration to be skipped once projects.json exists, got err=%v", err)
	}
}
