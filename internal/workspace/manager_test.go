package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ShayCichocki/overseer/internal/git"
	"github.com/ShayCichocki/overseer/pkg/models"
)

// fakeGit records git calls and simulates worktree creation on disk.
type fakeGit struct {
	trunk       string
	fetchCalls  int
	added       []string
	removed     []string
	runCalls    [][]string
	failAdd     bool
	failRemove  bool
	porcelain   string
}

func (f *fakeGit) WorktreeAdd(path, startPoint string) error {
	if f.failAdd {
		return fmt.Errorf("worktree add failed")
	}
	f.added = append(f.added, path)
	return os.MkdirAll(path, 0755)
}

func (f *fakeGit) WorktreeAddNewBranch(path, branch, startPoint string) error {
	return f.WorktreeAdd(path, startPoint)
}

func (f *fakeGit) WorktreeRemove(path string, force bool) error {
	if f.failRemove {
		return fmt.Errorf("worktree remove failed")
	}
	f.removed = append(f.removed, path)
	return os.RemoveAll(path)
}

func (f *fakeGit) WorktreeListPorcelain() (string, error) { return f.porcelain, nil }
func (f *fakeGit) WorktreePrune() error                   { return nil }

func (f *fakeGit) CurrentBranch() (string, error)             { return "main", nil }
func (f *fakeGit) BranchExists(name string) (bool, error)     { return false, nil }
func (f *fakeGit) CreateBranchFrom(name, start string) error  { return nil }
func (f *fakeGit) DeleteBranch(name string) error             { return nil }
func (f *fakeGit) Push(branch string) error                   { return nil }
func (f *fakeGit) Fetch() error                               { f.fetchCalls++; return nil }
func (f *fakeGit) TrunkRef() (string, error)                  { return f.trunk, nil }

func (f *fakeGit) Run(args ...string) (string, error) {
	f.runCalls = append(f.runCalls, args)
	return "", nil
}

var _ git.Runner = (*fakeGit)(nil)

func newTestManager(t *testing.T) (*Manager, *fakeGit) {
	t.Helper()

	fg := &fakeGit{trunk: "origin/main"}
	base := filepath.Join(t.TempDir(), "workspaces")
	m, err := NewManagerWithRunner(base, filepath.Join(t.TempDir(), "repo"), fg,
		func(dir string) git.Runner { return fg })
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, fg
}

func TestAcquireWorkspaceCreatesFromTrunk(t *testing.T) {
	m, fg := newTestManager(t)

	agent := &models.Agent{ID: "a1", Name: "Ada Backend"}
	path, err := m.AcquireWorkspace(agent)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if filepath.Base(path) != "ada-backend" {
		t.Errorf("workspace dir = %s, want keyed by sanitized name", path)
	}
	if len(fg.added) != 1 {
		t.Fatalf("worktree add called %d times, want 1", len(fg.added))
	}
	if fg.fetchCalls != 0 {
		t.Errorf("fresh workspace should not fetch, got %d fetches", fg.fetchCalls)
	}
}

func TestAcquireWorkspaceReusesExisting(t *testing.T) {
	m, fg := newTestManager(t)

	agent := &models.Agent{ID: "a1", Name: "ada"}
	first, err := m.AcquireWorkspace(agent)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	second, err := m.AcquireWorkspace(agent)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if first != second {
		t.Errorf("workspace recreated: %s != %s", first, second)
	}
	if len(fg.added) != 1 {
		t.Errorf("worktree add called %d times, want 1", len(fg.added))
	}
	if fg.fetchCalls != 1 {
		t.Errorf("reuse should refresh remote state, got %d fetches", fg.fetchCalls)
	}
}

func TestCreateBranchEncodesAgentAndTask(t *testing.T) {
	m, fg := newTestManager(t)

	agent := &models.Agent{ID: "a1", Name: "Ada Backend"}
	task := &models.Task{ID: "0123456789abcdef"}
	ws, err := m.AcquireWorkspace(agent)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	branch, err := m.CreateBranch(agent, task, ws)
	if err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if branch != "ada-backend/01234567" {
		t.Errorf("branch = %s", branch)
	}

	// Checkout must target the remote trunk tip.
	last := fg.runCalls[len(fg.runCalls)-1]
	if last[len(last)-1] != "origin/main" {
		t.Errorf("branch not cut from trunk: %v", last)
	}
}

func TestReleaseWorkspaceToleratesMissing(t *testing.T) {
	m, fg := newTestManager(t)
	fg.failRemove = true

	// Must not panic or error; removal failure is logged only.
	m.ReleaseWorkspace(filepath.Join(m.BaseDir(), "gone"))
}

func TestCleanupOrphans(t *testing.T) {
	m, _ := newTestManager(t)

	live := &models.Agent{ID: "a1", Name: "ada"}
	if _, err := m.AcquireWorkspace(live); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// Simulate a leftover workspace from a dead agent.
	if err := os.MkdirAll(filepath.Join(m.BaseDir(), "ghost"), 0755); err != nil {
		t.Fatal(err)
	}

	removed, err := m.CleanupOrphans([]*models.Agent{live})
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d workspaces, want 1", removed)
	}
	if _, err := os.Stat(filepath.Join(m.BaseDir(), "ada")); err != nil {
		t.Error("live workspace should survive cleanup")
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Ada Backend", "ada-backend"},
		{"ada", "ada"},
		{"Team/Lead #1", "team-lead-1"},
		{"--weird--", "weird"},
		{"ALLCAPS", "allcaps"},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
