package formatter

import (
	"encoding/json"
	"io"

	"github.com/agentkanban/orchestrator/internal/types"
)

// TaskJSONLFormatter writes tasks as JSON Lines: one task per line, for
// piping `orc task list -o jsonl` output into jq or another task queue.
type TaskJSONLFormatter struct {
	// Pretty enables indented JSON. Not recommended for JSONL, since it
	// breaks the one-line-per-record invariant downstream tools rely on,
	// but kept as an escape hatch for interactive debugging.
	Pretty bool
}

// NewTaskJSONLFormatter creates a new JSONL formatter.
func NewTaskJSONLFormatter() *TaskJSONLFormatter {
	return &TaskJSONLFormatter{Pretty: false}
}

// Format writes one task as a JSON line.
func (jf *TaskJSONLFormatter) Format(w io.Writer, t *types.Task) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false) // don't escape < > & in titles/descriptions
	if jf.Pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(t)
}

// FormatAll writes each task as its own JSON line, in order.
func (jf *TaskJSONLFormatter) FormatAll(w io.Writer, tasks []types.Task) error {
	for i := range tasks {
		if err := jf.Format(w, &tasks[i]); err != nil {
			return err
		}
	}
	return nil
}

// Extension returns the file extension for JSONL output.
func (jf *TaskJSONLFormatter) Extension() string {
	return ".jsonl"
}
