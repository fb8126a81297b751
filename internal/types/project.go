package types

import "time"

// ProjectStatus constrains the project lifecycle (see internal/project).
type ProjectStatus string

const (
	ProjectDraft     ProjectStatus = "draft"
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on_hold"
	ProjectCompleted ProjectStatus = "completed"
	ProjectArchived  ProjectStatus = "archived"
)

// DefaultProjectID is the project seeded on first boot (and by legacy
// migration); it can never be deleted.
const DefaultProjectID = "proj-default"

// Project is a git working tree under orchestration.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	RepoPath    string        `json:"repo_path"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Registry is the top-level projects.json document.
type Registry struct {
	SchemaVersion int       `json:"schema_version"`
	Projects      []Project `json:"projects"`
}

// FindProject returns the project with the given id, or nil.
func (r *Registry) FindProject(id string) *Project {
	for i := range r.Projects {
		if r.Projects[i].ID == id {
			return &r.Projects[i]
		}
	}
	return nil
}
