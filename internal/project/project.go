// Package project implements the project CRUD service (SPEC_FULL.md §9
// Supplemented Features): create/update validation, name/repo_path
// uniqueness, status-transition constraints, and default-project delete
// protection. Grounded on
// original_source/backend/project_service.py, ported from its Python
// validation-helper style into small pure functions over
// *types.Registry/*types.Document, matching internal/task's shape.
package project

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentkanban/orchestrator/internal/idgen"
	"github.com/agentkanban/orchestrator/internal/types"
)

// Sentinel errors for project validation and lifecycle operations.
var (
	ErrNameRequired         = errors.New("project name is required")
	ErrRepoPathRequired     = errors.New("repo_path is required")
	ErrRepoPathNotAbs       = errors.New("repo_path must be absolute")
	ErrNotGitRepo           = errors.New("repo_path is not a git repository")
	ErrNameTaken            = errors.New("project name already exists")
	ErrRepoPathTaken        = errors.New("repo_path already bound to another project")
	ErrTransitionNotAllowed = errors.New("project status transition not allowed")
	ErrActivateNeedsTasks   = errors.New("cannot activate project without tasks")
	ErrActiveTasksRemain    = errors.New("cannot transition project while tasks are active")
	ErrDefaultProtected     = errors.New("the default project cannot be deleted")
	ErrHasActiveTasks       = errors.New("cannot delete project with active tasks")
	ErrNotFound             = errors.New("project not found")
)

// activeTaskStatuses mirrors ACTIVE_PROJECT_TASK_STATUSES: a task counts
// against "zero active tasks" gates (activation, completion, archival,
// deletion) while it's in any of these.
var activeTaskStatuses = map[types.TaskStatus]bool{
	types.StatusPending:           true,
	types.StatusInProgress:        true,
	types.StatusPlanReview:        true,
	types.StatusBlockedBySubtasks: true,
	types.StatusReviewing:         true,
}

// TaskSummary counts a project's tasks by status, mirroring
// summarize_project_tasks.
type TaskSummary struct {
	Total             int
	Active            int
	Pending           int
	InProgress        int
	PlanReview        int
	BlockedBySubtasks int
	Reviewing         int
	Completed         int
	Failed            int
}

// Summarize builds a TaskSummary from a project's task document.
func Summarize(doc *types.Document) TaskSummary {
	var s TaskSummary
	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		s.Total++
		switch t.Status {
		case types.StatusPending:
			s.Pending++
		case types.StatusInProgress:
			s.InProgress++
		case types.StatusPlanReview:
			s.PlanReview++
		case types.StatusBlockedBySubtasks:
			s.BlockedBySubtasks++
		case types.StatusReviewing:
			s.Reviewing++
		case types.StatusCompleted:
			s.Completed++
		case types.StatusFailed:
			s.Failed++
		}
		if activeTaskStatuses[t.Status] {
			s.Active++
		}
	}
	return s
}

// NormalizeText trims name/description/repo_path and rejects an empty
// name or repo_path.
func NormalizeText(name, description, repoPath string) (string, string, string, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	repoPath = strings.TrimSpace(repoPath)

	if name == "" {
		return "", "", "", ErrNameRequired
	}
	if repoPath == "" {
		return "", "", "", ErrRepoPathRequired
	}
	return name, description, repoPath, nil
}

// ValidateGitRepo resolves repoPath to an absolute path and confirms it is
// a git working tree by shelling out to `git -C <repo> rev-parse
// --git-dir`, mirroring the Python validator's subprocess check.
func ValidateGitRepo(repoPath string) (string, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrRepoPathNotAbs, err)
	}
	if !filepath.IsAbs(abs) {
		return "", ErrRepoPathNotAbs
	}

	cmd := exec.Command("git", "-C", abs, "rev-parse", "--git-dir")
	if err := cmd.Run(); err != nil {
		return "", ErrNotGitRepo
	}
	return abs, nil
}

// EnsureUnique rejects a name or repo_path already bound to another
// project in the registry (case-insensitive name match, resolved-path
// repo match). ignoreProjectID excludes a project from the check, for
// updates that don't change those fields.
func EnsureUnique(reg *types.Registry, name, repoPath, ignoreProjectID string) error {
	nameKey := strings.ToLower(name)
	repoKey, err := filepath.Abs(repoPath)
	if err != nil {
		repoKey = repoPath
	}

	for i := range reg.Projects {
		p := &reg.Projects[i]
		if p.ID == ignoreProjectID {
			continue
		}
		if strings.ToLower(p.Name) == nameKey {
			return ErrNameTaken
		}
		existingRepo, err := filepath.Abs(p.RepoPath)
		if err != nil {
			existingRepo = p.RepoPath
		}
		if existingRepo == repoKey {
			return ErrRepoPathTaken
		}
	}
	return nil
}

// allowedTransitions mirrors the Python service's transition table.
var allowedTransitions = map[types.ProjectStatus]map[types.ProjectStatus]bool{
	types.ProjectDraft:     {types.ProjectActive: true, types.ProjectArchived: true},
	types.ProjectActive:    {types.ProjectOnHold: true, types.ProjectCompleted: true, types.ProjectArchived: true},
	types.ProjectOnHold:    {types.ProjectActive: true, types.ProjectArchived: true},
	types.ProjectCompleted: {types.ProjectArchived: true},
	types.ProjectArchived:  {},
}

// EnsureCanTransition validates a status change against the fixed
// transition graph plus the task-count gates: activation requires at
// least one task, completion and archival both require zero active
// tasks. A same-status "transition" is always a no-op success.
func EnsureCanTransition(current, next types.ProjectStatus, summary TaskSummary) error {
	if current == next {
		return nil
	}
	if !allowedTransitions[current][next] {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, current, next)
	}
	if next == types.ProjectActive && summary.Total == 0 {
		return ErrActivateNeedsTasks
	}
	if (next == types.ProjectCompleted || next == types.ProjectArchived) && summary.Active > 0 {
		return ErrActiveTasksRemain
	}
	return nil
}

// New constructs a draft Project after running NormalizeText and
// EnsureUnique. Callers resolve repo_path validity (ValidateGitRepo)
// themselves, since that requires a live git binary and shouldn't block
// pure in-memory registry tests.
func New(reg *types.Registry, name, description, repoPath string, now time.Time) (*types.Project, error) {
	name, description, repoPath, err := NormalizeText(name, description, repoPath)
	if err != nil {
		return nil, err
	}
	if err := EnsureUnique(reg, name, repoPath, ""); err != nil {
		return nil, err
	}
	p := types.Project{
		ID:          idgen.NewProjectID(),
		Name:        name,
		Description: description,
		RepoPath:    repoPath,
		Status:      types.ProjectDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	reg.Projects = append(reg.Projects, p)
	return reg.FindProject(p.ID), nil
}

// UpdateText applies a name/description/repo_path edit in place, after the
// same normalization and uniqueness checks New uses.
func UpdateText(reg *types.Registry, p *types.Project, name, description, repoPath string, now time.Time) error {
	name, description, repoPath, err := NormalizeText(name, description, repoPath)
	if err != nil {
		return err
	}
	if err := EnsureUnique(reg, name, repoPath, p.ID); err != nil {
		return err
	}
	p.Name = name
	p.Description = description
	p.RepoPath = repoPath
	p.UpdatedAt = now
	return nil
}

// Transition moves p to next, validating against the transition graph and
// task-count gates computed from doc.
func Transition(p *types.Project, next types.ProjectStatus, doc *types.Document, now time.Time) error {
	summary := Summarize(doc)
	if err := EnsureCanTransition(p.Status, next, summary); err != nil {
		return err
	}
	p.Status = next
	p.UpdatedAt = now
	return nil
}

// CanDelete reports whether p may be deleted: never the default project,
// and only with zero active tasks.
func CanDelete(p *types.Project, doc *types.Document) error {
	if p.ID == types.DefaultProjectID {
		return ErrDefaultProtected
	}
	summary := Summarize(doc)
	if summary.Active > 0 {
		return ErrHasActiveTasks
	}
	return nil
}

// Delete removes p from the registry, returning ErrNotFound if absent.
// The caller is responsible for wiping the project's on-disk document
// directory (internal/store owns path layout; this package only edits
// the in-memory registry slice).
func Delete(reg *types.Registry, projectID string) error {
	for i := range reg.Projects {
		if reg.Projects[i].ID == projectID {
			reg.Projects = append(reg.Projects[:i], reg.Projects[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
