package worktree

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// requiredPlaceholders are the substitution tokens an external worktree
// command template must contain, mirroring the Python implementation's
// REQUIRED_PLACEHOLDERS contract so operators porting a template need no
// translation.
var requiredPlaceholders = []string{"{repo}", "{path}", "{branch}"}

// ExternalProvider shells out to an operator-supplied command template to
// prepare a worktree, instead of driving git directly. This supports
// environments that provision worktrees through something other than
// plain git (a remote sandbox, a container snapshot, and so on).
type ExternalProvider struct {
	// Template is a shell-style command line containing the placeholders
	// {repo}, {path}, and {branch}. Example:
	//   "my-worktree-tool prepare --repo {repo} --path {path} --branch {branch}"
	Template string
	Timeout  time.Duration

	// git is the fallback provider used for Merge and Remove, which the
	// external contract does not cover, and for Prepare if the external
	// command fails.
	git *GitProvider
}

// NewExternalProvider returns an ExternalProvider backed by template,
// validating that all required placeholders are present.
func NewExternalProvider(template string, timeout time.Duration) (*ExternalProvider, error) {
	for _, ph := range requiredPlaceholders {
		if !strings.Contains(template, ph) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidTemplate, ph)
		}
	}
	return &ExternalProvider{Template: template, Timeout: timeout, git: gitProviderWithTimeout(timeout)}, nil
}

// Prepare renders the template for this worker/task and runs it. On any
// failure it falls back to the native git provider and returns that
// provider's result; the external command's error is not returned or
// logged.
func (p *ExternalProvider) Prepare(ctx context.Context, repoPath, workerID, taskID string) (string, string, error) {
	branch := "task/" + taskID
	worktreePath, err := p.renderAndRun(ctx, repoPath, workerID, branch)
	if err == nil {
		return worktreePath, branch, nil
	}
	return p.git.Prepare(ctx, repoPath, workerID, taskID)
}

func (p *ExternalProvider) renderAndRun(ctx context.Context, repoPath, workerID, branch string) (string, error) {
	worktreePath := p.git.worktreeDir(repoPath, workerID)
	rendered := strings.NewReplacer(
		"{repo}", repoPath,
		"{path}", worktreePath,
		"{branch}", branch,
	).Replace(p.Template)

	args, err := splitShellWords(rendered)
	if err != nil || len(args) == 0 {
		return "", fmt.Errorf("render worktree command template: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()
	cmd := exec.CommandContext(cctx, args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("external worktree command failed: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return worktreePath, nil
}

func (p *ExternalProvider) timeout() time.Duration {
	if p.Timeout <= 0 {
		return 30 * time.Second
	}
	return p.Timeout
}

// Merge is not covered by the external contract (the template only
// provisions a worktree), so it always delegates to the native git merge.
func (p *ExternalProvider) Merge(ctx context.Context, repoPath, branch string) error {
	return p.git.Merge(ctx, repoPath, branch)
}

// Remove delegates to the native git provider for the same reason.
func (p *ExternalProvider) Remove(ctx context.Context, repoPath, workerID string) error {
	return p.git.Remove(ctx, repoPath, workerID)
}

// splitShellWords is a minimal shell-word tokenizer supporting single and
// double quoting, enough for command templates operators write by hand.
// The pack carries no shlex-equivalent library, so this is hand-rolled;
// see DESIGN.md.
func splitShellWords(s string) ([]string, error) {
	var words []string
	var cur strings.Builder
	inWord := false
	var quote rune

	flush := func() {
		if inWord {
			words = append(words, cur.String())
			cur.Reset()
			inWord = false
		}
	}

	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			flush()
		default:
			inWord = true
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in command template")
	}
	flush()
	return words, nil
}

// NewProvider resolves the configured provider mode ("git", "external",
// or "auto") into a concrete Provider. "auto" prefers the external
// template when one is configured and falls back to git.
func NewProvider(mode, externalTemplate string, timeout time.Duration) (Provider, error) {
	switch mode {
	case "", "git":
		return gitProviderWithTimeout(timeout), nil
	case "external":
		return NewExternalProvider(externalTemplate, timeout)
	case "auto":
		if externalTemplate == "" {
			return gitProviderWithTimeout(timeout), nil
		}
		return NewExternalProvider(externalTemplate, timeout)
	default:
		return nil, fmt.Errorf("unknown worktree provider mode %q", mode)
	}
}

// gitProviderWithTimeout builds a GitProvider from a single legacy timeout
// value, used where a caller (external provider fallback, "auto" mode) only
// has one duration to offer. NewGitProvider's per-operation defaults are the
// preferred construction path; this exists only for those callers.
func gitProviderWithTimeout(timeout time.Duration) *GitProvider {
	if timeout <= 0 {
		return NewGitProvider()
	}
	return &GitProvider{FetchTimeout: timeout, ResetCheckoutTimeout: timeout, MergeTimeout: timeout}
}
