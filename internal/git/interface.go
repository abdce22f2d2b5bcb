// Package git provides an interface for the git operations the workspace
// manager needs: worktrees, branches, and remote refresh.
package git

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAdd creates a worktree at the given path checked out at startPoint.
	WorktreeAdd(path, startPoint string) error
	// WorktreeAddNewBranch creates a worktree with a new branch cut from startPoint.
	WorktreeAddNewBranch(path, branch, startPoint string) error
	// WorktreeRemove removes the worktree at the given path, forcing if asked.
	WorktreeRemove(path string, force bool) error
	// WorktreeListPorcelain returns the raw porcelain output for parsing.
	WorktreeListPorcelain() (string, error)
	// WorktreePrune removes stale worktree entries immediately.
	WorktreePrune() error
}

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// BranchExists returns true if the local branch exists.
	BranchExists(name string) (bool, error)
	// CreateBranchFrom creates a branch at the given start point without switching.
	CreateBranchFrom(name, startPoint string) error
	// DeleteBranch force-deletes the specified branch.
	DeleteBranch(name string) error
	// Push pushes the branch to the origin remote.
	Push(branch string) error
}

// RemoteOperations defines the interface for remote state refresh.
type RemoteOperations interface {
	// Fetch updates remote-tracking refs from origin. Returns nil when no
	// remote is configured.
	Fetch() error
	// TrunkRef returns the ref to cut new branches from: the remote trunk
	// tip when a remote exists, the local HEAD otherwise.
	TrunkRef() (string, error)
}

// Runner defines the complete interface for git operations used by the core.
type Runner interface {
	WorktreeOperations
	BranchOperations
	RemoteOperations
	// Run executes an arbitrary git command with the given arguments.
	Run(args ...string) (string, error)
}
