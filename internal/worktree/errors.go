package worktree

import "errors"

// Sentinel errors for the worktree package. Using sentinels instead of
// ad-hoc fmt.Errorf allows callers to match with errors.Is.
var (
	// ErrNotGitRepo is returned when RepoPath does not resolve to a git
	// repository root.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrMergeConflict is returned when a task branch cannot be fast-merged
	// or no-ff merged into the mainline without manual resolution.
	ErrMergeConflict = errors.New("merge conflict")

	// ErrInvalidTemplate is returned when an external worktree command
	// template is missing one of the required placeholders.
	ErrInvalidTemplate = errors.New("worktree command template missing required placeholder")

	// ErrUnsafeRemove is returned when RemoveWorktree's path validation
	// fails, refusing to delete a directory outside the expected shape.
	ErrUnsafeRemove = errors.New("refusing to remove worktree: path validation failed")
)
