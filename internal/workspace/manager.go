// Package workspace manages per-agent isolated checkouts. Each agent owns
// exactly one worktree, reused across tasks; sub-agents share their parent's
// workspace and never get their own.
package workspace

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/ShayCichocki/overseer/internal/git"
	"github.com/ShayCichocki/overseer/pkg/models"
)

// Manager handles git worktree operations for agent isolation.
type Manager struct {
	baseDir     string // sibling isolation directory the worktrees live in
	projectRoot string // path to the main git repository
	git         git.Runner
	gitFor      func(dir string) git.Runner
	mu          sync.Mutex
}

// DefaultBaseDir returns the sibling isolation directory for a project:
// a directory next to the project root named <project>-workspaces.
func DefaultBaseDir(projectRoot string) string {
	parent := filepath.Dir(projectRoot)
	return filepath.Join(parent, filepath.Base(projectRoot)+"-workspaces")
}

// NewManager creates a Manager for the repository at projectRoot. If baseDir
// is empty the sibling isolation directory is used.
func NewManager(baseDir, projectRoot string) (*Manager, error) {
	if baseDir == "" {
		baseDir = DefaultBaseDir(projectRoot)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace base directory: %w", err)
	}
	return &Manager{
		baseDir:     baseDir,
		projectRoot: projectRoot,
		git:         git.NewRunner(projectRoot),
		gitFor:      func(dir string) git.Runner { return git.NewRunner(dir) },
	}, nil
}

// NewManagerWithRunner creates a Manager with custom git runners (for testing).
func NewManagerWithRunner(baseDir, projectRoot string, runner git.Runner, gitFor func(dir string) git.Runner) (*Manager, error) {
	if baseDir == "" {
		baseDir = DefaultBaseDir(projectRoot)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace base directory: %w", err)
	}
	return &Manager{baseDir: baseDir, projectRoot: projectRoot, git: runner, gitFor: gitFor}, nil
}

// BaseDir returns the isolation directory the workspaces live in.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// AcquireWorkspace returns the agent's isolated workspace, creating it from
// the project trunk if it doesn't exist yet. An existing workspace is reused
// across tasks; its remote state is refreshed instead of recreating it.
func (m *Manager) AcquireWorkspace(agent *models.Agent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := filepath.Join(m.baseDir, SanitizeName(agent.Name))

	if _, err := os.Stat(path); err == nil {
		if err := m.git.Fetch(); err != nil {
			return "", fmt.Errorf("refresh workspace %s: %w", path, err)
		}
		return path, nil
	}

	trunk, err := m.git.TrunkRef()
	if err != nil {
		return "", fmt.Errorf("acquire workspace: %w", err)
	}
	if err := m.git.WorktreeAdd(path, trunk); err != nil {
		return "", fmt.Errorf("create workspace for agent %s: %w", agent.ID, err)
	}
	return path, nil
}

// CreateBranch cuts a task branch from the trunk's remote tip and checks it
// out in the agent's workspace. The branch name encodes the sanitized agent
// name and the task's short id.
func (m *Manager) CreateBranch(agent *models.Agent, task *models.Task, workspace string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	branch := fmt.Sprintf("%s/%s", SanitizeName(agent.Name), task.ShortID())

	trunk, err := m.git.TrunkRef()
	if err != nil {
		return "", fmt.Errorf("create branch: %w", err)
	}

	wsGit := m.gitFor(workspace)
	if _, err := wsGit.Run("checkout", "-B", branch, trunk); err != nil {
		return "", fmt.Errorf("checkout branch %s: %w", branch, err)
	}
	return branch, nil
}

// ReleaseWorkspace removes an isolated workspace. Called on terminal task
// failure and after a produced change is merged or abandoned. Failure to
// remove is logged, not fatal — the workspace may already be gone.
func (m *Manager) ReleaseWorkspace(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.WorktreeRemove(path, true); err != nil {
		if rmErr := os.RemoveAll(path); rmErr != nil {
			log.Printf("[workspace] release %s: %v", path, err)
			return
		}
	}
	_ = m.git.WorktreePrune()
}

// CleanupOrphans removes workspaces in the isolation directory that do not
// belong to any live agent. Returns the number of workspaces removed.
// Called at startup to recover from crashes.
func (m *Manager) CleanupOrphans(liveAgents []*models.Agent) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := make(map[string]bool, len(liveAgents))
	for _, a := range liveAgents {
		live[SanitizeName(a.Name)] = true
	}

	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read workspace base directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || live[entry.Name()] {
			continue
		}
		path := filepath.Join(m.baseDir, entry.Name())
		if err := m.git.WorktreeRemove(path, true); err != nil {
			if err := os.RemoveAll(path); err != nil {
				continue
			}
		}
		removed++
	}

	_ = m.git.WorktreePrune()
	return removed, nil
}

// ListWorkspaces parses `git worktree list --porcelain` and returns the
// worktree paths under the isolation directory.
func (m *Manager) ListWorkspaces() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}

	var paths []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "worktree ") {
			continue
		}
		path := strings.TrimPrefix(line, "worktree ")
		if strings.HasPrefix(path, m.baseDir+string(filepath.Separator)) {
			paths = append(paths, path)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}
	return paths, nil
}

// SanitizeName converts an agent name into a path- and branch-safe token:
// lowercase, with every run of non-alphanumeric characters collapsed to '-'.
func SanitizeName(name string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash && b.Len() > 0 {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
