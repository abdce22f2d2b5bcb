package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds every git invocation.
const DefaultTimeout = 2 * time.Minute

// ExecRunner implements Runner using exec.Command.
type ExecRunner struct {
	repoPath string
	timeout  time.Duration
}

// NewRunner creates a new git runner for the repository at the given path.
func NewRunner(repoPath string) *ExecRunner {
	return &ExecRunner{repoPath: repoPath, timeout: DefaultTimeout}
}

// SetTimeout overrides the per-command timeout.
func (r *ExecRunner) SetTimeout(d time.Duration) {
	r.timeout = d
}

// run executes a git command and returns its trimmed output.
func (r *ExecRunner) run(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// runSilent executes a git command and discards output.
func (r *ExecRunner) runSilent(args ...string) error {
	_, err := r.run(args...)
	return err
}

// Run executes an arbitrary git command with the given arguments.
func (r *ExecRunner) Run(args ...string) (string, error) {
	return r.run(args...)
}

// WorktreeAdd creates a worktree at the given path checked out at startPoint.
func (r *ExecRunner) WorktreeAdd(path, startPoint string) error {
	return r.runSilent("worktree", "add", path, startPoint)
}

// WorktreeAddNewBranch creates a worktree with a new branch cut from startPoint.
func (r *ExecRunner) WorktreeAddNewBranch(path, branch, startPoint string) error {
	return r.runSilent("worktree", "add", "-b", branch, path, startPoint)
}

// WorktreeRemove removes the worktree at the given path.
func (r *ExecRunner) WorktreeRemove(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	return r.runSilent(args...)
}

// WorktreeListPorcelain returns the raw porcelain output for parsing.
func (r *ExecRunner) WorktreeListPorcelain() (string, error) {
	return r.run("worktree", "list", "--porcelain")
}

// WorktreePrune removes stale worktree entries immediately.
func (r *ExecRunner) WorktreePrune() error {
	return r.runSilent("worktree", "prune", "--expire", "now")
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch() (string, error) {
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// BranchExists returns true if the local branch exists.
func (r *ExecRunner) BranchExists(name string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	cmd.Dir = r.repoPath
	err := cmd.Run()
	if err != nil {
		// Exit code 1 means the branch doesn't exist (not an error)
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("check branch exists: %w", err)
	}
	return true, nil
}

// CreateBranchFrom creates a branch at the given start point without switching.
func (r *ExecRunner) CreateBranchFrom(name, startPoint string) error {
	return r.runSilent("branch", name, startPoint)
}

// DeleteBranch force-deletes the specified branch.
func (r *ExecRunner) DeleteBranch(name string) error {
	return r.runSilent("branch", "-D", name)
}

// Push pushes the branch to the origin remote.
func (r *ExecRunner) Push(branch string) error {
	return r.runSilent("push", "-u", "origin", branch)
}

// Fetch updates remote-tracking refs from origin.
// Returns nil when no remote is configured.
func (r *ExecRunner) Fetch() error {
	remotes, err := r.run("remote")
	if err != nil {
		return err
	}
	if remotes == "" {
		return nil
	}
	return r.runSilent("fetch", "origin", "--prune")
}

// TrunkRef returns the ref new branches are cut from. With a remote this is
// the remote HEAD (e.g. origin/main); without one it falls back to local HEAD.
func (r *ExecRunner) TrunkRef() (string, error) {
	ref, err := r.run("symbolic-ref", "refs/remotes/origin/HEAD", "--short")
	if err == nil && ref != "" {
		return ref, nil
	}
	branch, err := r.CurrentBranch()
	if err != nil {
		return "", fmt.Errorf("resolve trunk: %w", err)
	}
	return branch, nil
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
