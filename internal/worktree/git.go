// Package worktree gives each worker a persistent, isolated git working
// tree that gets reset onto a fresh task branch before every task and
// merged back into the project's mainline branch on completion. It is
// modeled on the teacher codebase's ephemeral per-run worktree helper
// (internal/rpi/worktree.go), generalized from "one worktree per ao rpi
// invocation" to "one worktree per long-lived worker, reused across many
// tasks."
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Provider resets, merges, and tears down a worker's isolated checkout.
// The git-native implementation and the external-command implementation
// both satisfy this so the dispatch loop never needs to know which one
// is configured.
type Provider interface {
	// Prepare resets the worker's worktree for taskID, branched from the
	// project's current mainline HEAD, and returns the absolute path the
	// runner should execute the task's CLI inside along with the branch
	// name that was checked out.
	Prepare(ctx context.Context, repoPath, workerID, taskID string) (worktreePath, branch string, err error)

	// Merge merges branch into the mainline branch with --no-ff. On
	// conflict it aborts the merge and returns ErrMergeConflict.
	Merge(ctx context.Context, repoPath, branch string) error

	// Remove tears down the worker's worktree entirely (worker shutdown).
	Remove(ctx context.Context, repoPath, workerID string) error
}

// GitProvider manages worktrees with the native git CLI: `git worktree add`
// once per worker, then a branch reset in place before each task. Per spec
// §5, fetch and merge get a longer window than the local reset/checkout/
// clean sequence, which never touches the network.
type GitProvider struct {
	FetchTimeout         time.Duration
	ResetCheckoutTimeout time.Duration
	MergeTimeout         time.Duration
}

// NewGitProvider returns a GitProvider with spec §5's default timeouts:
// fetch 30s, reset/checkout 15s, merge 30s.
func NewGitProvider() *GitProvider {
	return &GitProvider{
		FetchTimeout:         30 * time.Second,
		ResetCheckoutTimeout: 15 * time.Second,
		MergeTimeout:         30 * time.Second,
	}
}

func (g *GitProvider) fetchTimeout() time.Duration {
	if g.FetchTimeout <= 0 {
		return 30 * time.Second
	}
	return g.FetchTimeout
}

func (g *GitProvider) resetCheckoutTimeout() time.Duration {
	if g.ResetCheckoutTimeout <= 0 {
		return 15 * time.Second
	}
	return g.ResetCheckoutTimeout
}

func (g *GitProvider) mergeTimeout() time.Duration {
	if g.MergeTimeout <= 0 {
		return 30 * time.Second
	}
	return g.MergeTimeout
}

func (g *GitProvider) worktreeDir(repoPath, workerID string) string {
	return filepath.Join(repoPath, ".agent-worktrees", workerID)
}

func (g *GitProvider) workerBranch(workerID string) string {
	return "worker/" + workerID
}

// Prepare ensures a worktree exists for workerID (creating it on first use,
// on its own worker/<workerID> branch) and resets it onto a fresh
// task/<taskID> branch cut from the mainline's current HEAD, discarding any
// leftover state from a prior task.
func (g *GitProvider) Prepare(ctx context.Context, repoPath, workerID, taskID string) (string, string, error) {
	root, err := g.repoRoot(ctx, repoPath)
	if err != nil {
		return "", "", err
	}

	mainlineHead, err := g.runWithTimeout(ctx, g.resetCheckoutTimeout(), root, "rev-parse", "HEAD")
	if err != nil {
		return "", "", fmt.Errorf("resolve mainline HEAD: %w", err)
	}
	mainlineHead = strings.TrimSpace(mainlineHead)

	worktreePath := g.worktreeDir(root, workerID)
	branch := "task/" + taskID

	if _, err := os.Stat(worktreePath); os.IsNotExist(err) {
		if _, err := g.runWithTimeout(ctx, g.resetCheckoutTimeout(), root, "worktree", "add", "-B", g.workerBranch(workerID), worktreePath, mainlineHead); err != nil {
			return "", "", fmt.Errorf("create worker worktree: %w", err)
		}
	}

	// best-effort: refresh remote-tracking refs. The task branch below is
	// cut from mainlineHead, the repository's local HEAD resolved at the
	// start of this call; the fetch does not move it.
	_, _ = g.runWithTimeout(ctx, g.fetchTimeout(), root, "fetch", "--all", "--prune")

	if _, err := g.runWithTimeout(ctx, g.resetCheckoutTimeout(), worktreePath, "checkout", "-B", branch, mainlineHead); err != nil {
		return "", "", fmt.Errorf("checkout task branch %s: %w", branch, err)
	}
	if _, err := g.runWithTimeout(ctx, g.resetCheckoutTimeout(), worktreePath, "reset", "--hard", mainlineHead); err != nil {
		return "", "", fmt.Errorf("reset task branch %s: %w", branch, err)
	}
	if _, err := g.runWithTimeout(ctx, g.resetCheckoutTimeout(), worktreePath, "clean", "-fd"); err != nil {
		return "", "", fmt.Errorf("clean task worktree %s: %w", branch, err)
	}

	return worktreePath, branch, nil
}

// Merge merges branch into the mainline's currently checked-out branch
// with --no-ff, aborting on conflict.
func (g *GitProvider) Merge(ctx context.Context, repoPath, branch string) error {
	root, err := g.repoRoot(ctx, repoPath)
	if err != nil {
		return err
	}

	msg := fmt.Sprintf("Merge %s", branch)
	if _, err := g.runWithTimeout(ctx, g.mergeTimeout(), root, "merge", "--no-ff", "-m", msg, branch); err != nil {
		conflicts, _ := g.runWithTimeout(ctx, g.resetCheckoutTimeout(), root, "diff", "--name-only", "--diff-filter=U")
		_, _ = g.runWithTimeout(ctx, g.mergeTimeout(), root, "merge", "--abort")
		if strings.TrimSpace(conflicts) != "" {
			return fmt.Errorf("%w in %s: %s", ErrMergeConflict, branch, strings.TrimSpace(conflicts))
		}
		return fmt.Errorf("merge %s: %w", branch, err)
	}
	return nil
}

// Remove removes the worker's worktree directory, validating the path
// shape first so a misconfigured workerID can never delete something
// outside the expected sibling directory.
func (g *GitProvider) Remove(ctx context.Context, repoPath, workerID string) error {
	root, err := g.repoRoot(ctx, repoPath)
	if err != nil {
		return err
	}
	worktreePath := g.worktreeDir(root, workerID)
	expectedPrefix := filepath.Join(root, ".agent-worktrees") + string(filepath.Separator)
	if !strings.HasPrefix(worktreePath+string(filepath.Separator), expectedPrefix) {
		return ErrUnsafeRemove
	}

	if _, err := g.runWithTimeout(ctx, g.resetCheckoutTimeout(), root, "worktree", "remove", worktreePath, "--force"); err != nil {
		_ = os.RemoveAll(worktreePath) //nolint:errcheck
	}
	return nil
}

func (g *GitProvider) repoRoot(ctx context.Context, path string) (string, error) {
	out, err := g.runWithTimeout(ctx, g.resetCheckoutTimeout(), path, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", ErrNotGitRepo
	}
	return strings.TrimSpace(out), nil
}

func (g *GitProvider) runWithTimeout(ctx context.Context, timeout time.Duration, dir string, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return string(out), fmt.Errorf("git %s timed out after %s", strings.Join(args, " "), timeout)
		}
		return string(out), fmt.Errorf("git %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
