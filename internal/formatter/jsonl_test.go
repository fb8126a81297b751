package formatter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/agentkanban/orchestrator/internal/types"
)

func TestNewTaskJSONLFormatter(t *testing.T) {
	f := NewTaskJSONLFormatter()
	if f == nil {
		t.Fatal("NewTaskJSONLFormatter returned nil")
	}
	if f.Pretty {
		t.Error("Pretty should be false by default")
	}
}

func TestTaskJSONLFormatter_Extension(t *testing.T) {
	f := NewTaskJSONLFormatter()
	if ext := f.Extension(); ext != ".jsonl" {
		t.Errorf("Extension() = %q, want .jsonl", ext)
	}
}

func TestTaskJSONLFormatter_Format(t *testing.T) {
	f := NewTaskJSONLFormatter()
	task := &types.Task{
		ID:        "task-001",
		ProjectID: types.DefaultProjectID,
		Title:     "Fix the thing",
		TaskType:  types.TaskBugfix,
		Status:    types.StatusPending,
		CreatedAt: time.Date(2026, 1, 25, 10, 0, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	if err := f.Format(&buf, task); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse output: %v\noutput: %s", err, buf.String())
	}
	if out["id"] != "task-001" {
		t.Errorf("id = %v, want task-001", out["id"])
	}
	if out["title"] != "Fix the thing" {
		t.Errorf("title = %v, want %q", out["title"], "Fix the thing")
	}
}

func TestTaskJSONLFormatter_FormatAll(t *testing.T) {
	f := NewTaskJSONLFormatter()
	tasks := []types.Task{
		{ID: "task-001", Title: "First"},
		{ID: "task-002", Title: "Second"},
	}

	var buf bytes.Buffer
	if err := f.FormatAll(&buf, tasks); err != nil {
		t.Fatalf("FormatAll() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	for i, line := range lines {
		var out map[string]interface{}
		if err := json.Unmarshal([]byte(line), &out); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
	}
}

func TestTaskJSONLFormatter_Pretty(t *testing.T) {
	f := NewTaskJSONLFormatter()
	f.Pretty = true

	var buf bytes.Buffer
	if err := f.Format(&buf, &types.Task{ID: "task-001", Title: "Pretty formatted"}); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("\n  ")) {
		t.Errorf("pretty output should contain indentation:\n%s", buf.String())
	}
}

func TestTaskJSONLFormatter_SpecialCharacters(t *testing.T) {
	f := NewTaskJSONLFormatter()
	task := &types.Task{
		ID:          "task-001",
		Title:       "Fix <script> & \"quotes\" and unicode: 日本語",
		Description: "Path: /usr/local/<name>",
	}

	var buf bytes.Buffer
	if err := f.Format(&buf, task); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse output with special chars: %v", err)
	}
	if out["title"] != task.Title {
		t.Errorf("title not preserved: got %q, want %q", out["title"], task.Title)
	}
}
