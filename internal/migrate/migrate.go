// Package migrate handles the one-time upgrade from the legacy
// single-project layout (a flat tasks.json at the data root) to the
// multi-project layout (projects.json registry plus one
// projects/<id>/tasks.json per project). Grounded on
// original_source/backend/main.py's _migrate_to_projects, which runs this
// check unconditionally at boot before anything else touches the data
// root.
package migrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentkanban/orchestrator/internal/types"
)

// legacyTasksFile is the pre-multi-project flat document name.
const legacyTasksFile = "tasks.json"

// ToProjects migrates a legacy flat tasks.json at dataRoot into
// proj-default's document, if one exists and the multi-project registry
// (projects.json) hasn't been created yet. It is a no-op once
// projects.json exists, matching the source's "if PROJECTS_FILE.exists():
// return" short-circuit, so it is always safe to call at boot.
//
// It does not write projects.json itself: internal/store seeds that
// lazily on first read with the same proj-default identity, so this
// function's only job is making sure the legacy task history lands in
// the right place before that first read happens.
func ToProjects(dataRoot string) error {
	registryPath := filepath.Join(dataRoot, "projects.json")
	if _, err := os.Stat(registryPath); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat registry: %w", err)
	}

	legacyPath := filepath.Join(dataRoot, legacyTasksFile)
	legacyBytes, err := os.ReadFile(legacyPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read legacy tasks file: %w", err)
	}

	var doc types.Document
	if err := json.Unmarshal(legacyBytes, &doc); err != nil {
		return fmt.Errorf("decode legacy tasks file: %w", err)
	}
	normalizeLegacyDocument(&doc)

	destDir := filepath.Join(dataRoot, "projects", types.DefaultProjectID)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create default project directory: %w", err)
	}

	destPath := filepath.Join(destDir, legacyTasksFile)
	out, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode migrated tasks document: %w", err)
	}
	if err := os.WriteFile(destPath, out, 0644); err != nil {
		return fmt.Errorf("write migrated tasks document: %w", err)
	}
	return nil
}

// normalizeLegacyDocument fills in fields the legacy single-project
// format didn't carry (schema_version, and the events ring, which is new
// in the multi-project document shape).
func normalizeLegacyDocument(doc *types.Document) {
	if doc.SchemaVersion == 0 {
		doc.SchemaVersion = 2
	}
	if doc.Events == nil {
		doc.Events = []types.Event{}
	}
}
