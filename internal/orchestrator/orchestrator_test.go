package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/overseer/internal/allocator"
	"github.com/ShayCichocki/overseer/internal/brain"
	"github.com/ShayCichocki/overseer/internal/decompose"
	"github.com/ShayCichocki/overseer/internal/escalate"
	"github.com/ShayCichocki/overseer/internal/gate"
	"github.com/ShayCichocki/overseer/internal/state"
	"github.com/ShayCichocki/overseer/pkg/models"
)

// fakeBrain scripts one Brain response.
type fakeBrain struct {
	result   *brain.Result
	err      error
	panicMsg string
	calls    int
}

func (f *fakeBrain) Execute(ctx context.Context, prompt, workDir string) (*brain.Result, error) {
	f.calls++
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.result, f.err
}

// fakeGate returns a fixed gate result.
type fakeGate struct {
	res *gate.Result
}

func (f *fakeGate) Validate(ctx context.Context, task *models.Task, result *brain.Result, budgetCents float64) *gate.Result {
	return f.res
}

// fakeWorkspaces hands out per-agent paths without touching git.
type fakeWorkspaces struct {
	base     string
	acquired []string
	released []string
}

func (f *fakeWorkspaces) AcquireWorkspace(agent *models.Agent) (string, error) {
	path := filepath.Join(f.base, agent.Name)
	f.acquired = append(f.acquired, path)
	return path, nil
}

func (f *fakeWorkspaces) CreateBranch(agent *models.Agent, task *models.Task, workspace string) (string, error) {
	return agent.Name + "/" + task.ShortID(), nil
}

func (f *fakeWorkspaces) ReleaseWorkspace(path string) {
	f.released = append(f.released, path)
}

type fixture struct {
	db      *state.DB
	brain   *fakeBrain
	ws      *fakeWorkspaces
	history *escalate.History
	orch    *Orchestrator
}

func newFixture(t *testing.T, b *fakeBrain, v Validator) *fixture {
	t.Helper()

	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	history := escalate.NewHistory()
	ws := &fakeWorkspaces{base: t.TempDir()}
	orch := New(Config{
		Store:      db,
		Allocator:  allocator.New(db),
		Workspaces: ws,
		Brain:      b,
		Gate:       v,
		Policy:     escalate.New(db, history, nil),
		Decomposer: decompose.New(db),
	})
	return &fixture{db: db, brain: b, ws: ws, history: history, orch: orch}
}

func passingGate() *fakeGate {
	return &fakeGate{res: &gate.Result{Passed: true}}
}

func seedAgent(t *testing.T, db *state.DB, a *models.Agent) {
	t.Helper()
	if a.Status == "" {
		a.Status = models.AgentStatusIdle
	}
	if a.Lifecycle == "" {
		a.Lifecycle = models.LifecyclePermanent
	}
	if err := db.CreateAgent(a); err != nil {
		t.Fatalf("create agent: %v", err)
	}
}

func seedTask(t *testing.T, db *state.DB, task *models.Task) {
	t.Helper()
	if task.Type == "" {
		task.Type = models.TaskTypeImplementation
	}
	if task.Status == "" {
		task.Status = models.TaskStatusReady
	}
	if task.Priority == 0 {
		task.Priority = models.PriorityP3
	}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("create task: %v", err)
	}
}

func TestRunCyclePausedAgentSkips(t *testing.T) {
	b := &fakeBrain{result: &brain.Result{Output: "should not run", Success: true}}
	f := newFixture(t, b, passingGate())
	seedAgent(t, f.db, &models.Agent{ID: "a1", Name: "ada", Status: models.AgentStatusPaused})
	seedTask(t, f.db, &models.Task{ID: "t1", Title: "waiting", AssignedAgent: "a1"})

	res, err := f.orch.RunCycle(context.Background(), "a1")
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if res.Success || res.Outcome != OutcomePaused {
		t.Errorf("result = %+v, want paused no-op", res)
	}
	if b.calls != 0 {
		t.Error("brain invoked for a paused agent")
	}

	// The task was never pulled.
	got, _ := f.db.GetTask("t1")
	if got.Status != models.TaskStatusReady {
		t.Errorf("task status = %s, want untouched READY", got.Status)
	}
	agent, _ := f.db.GetAgent("a1")
	if agent.Status != models.AgentStatusPaused {
		t.Errorf("agent status = %s, want still paused", agent.Status)
	}
}

func TestRunCycleNoTask(t *testing.T) {
	f := newFixture(t, &fakeBrain{}, passingGate())
	seedAgent(t, f.db, &models.Agent{ID: "a1", Name: "ada", Role: "coder"})

	res, err := f.orch.RunCycle(context.Background(), "a1")
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !res.Success || res.Outcome != OutcomeNoTask {
		t.Errorf("result = %+v, want successful no-task", res)
	}
	agent, _ := f.db.GetAgent("a1")
	if agent.Status != models.AgentStatusIdle {
		t.Errorf("agent status = %s, want idle", agent.Status)
	}
}

func TestRunCycleCompletesTask(t *testing.T) {
	b := &fakeBrain{result: &brain.Result{
		Output: "Implemented the handler and updated the tests.", Success: true, DurationMs: 1200}}
	f := newFixture(t, b, passingGate())
	seedAgent(t, f.db, &models.Agent{ID: "a1", Name: "ada", Role: "coder"})
	seedTask(t, f.db, &models.Task{ID: "t1", Title: "add handler", AssignedAgent: "a1"})

	res, err := f.orch.RunCycle(context.Background(), "a1")
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !res.Success || res.Outcome != OutcomeCompleted || res.TaskID != "t1" {
		t.Fatalf("result = %+v", res)
	}
	if res.DurationMs != 1200 {
		t.Errorf("duration = %d", res.DurationMs)
	}

	got, _ := f.db.GetTask("t1")
	if got.Status != models.TaskStatusCompleted || got.CompletedAt == nil {
		t.Errorf("task not completed: %+v", got)
	}
	if got.Result != b.result.Output {
		t.Errorf("artifact not persisted: %q", got.Result)
	}
	if got.WorkspacePath == "" {
		t.Error("workspace path not recorded on the task")
	}
	agent, _ := f.db.GetAgent("a1")
	if agent.Status != models.AgentStatusIdle {
		t.Errorf("agent status = %s, want idle", agent.Status)
	}
}

func TestRunCycleEmptyOutputFailsAndEscalates(t *testing.T) {
	// Real gate: the empty-output check needs no external tools.
	b := &fakeBrain{result: &brain.Result{Output: "", Success: true}}
	f := newFixture(t, b, gate.New(nil, gate.ToolConfig{}))
	seedAgent(t, f.db, &models.Agent{ID: "a1", Name: "ada", Role: "coder"})
	seedTask(t, f.db, &models.Task{ID: "t1", Title: "produce something", AssignedAgent: "a1"})

	res, err := f.orch.RunCycle(context.Background(), "a1")
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if res.Success || res.Outcome != OutcomeFailed {
		t.Fatalf("result = %+v, want failure", res)
	}
	if !strings.Contains(strings.ToLower(res.Reason), "empty") {
		t.Errorf("reason %q should mention empty", res.Reason)
	}

	got, _ := f.db.GetTask("t1")
	if got.Status != models.TaskStatusReady {
		t.Errorf("task status = %s, want READY for retry", got.Status)
	}
	if got.ConsecutiveFailures != 1 || got.BlockedUntil == nil {
		t.Errorf("backoff not applied: %+v", got)
	}

	recs := f.history.For("t1")
	if len(recs) != 1 {
		t.Fatalf("escalation history has %d records, want 1", len(recs))
	}
	if recs[0].Level != models.EscalationSelfResolve || recs[0].Action != models.ActionRetry {
		t.Errorf("escalation = %+v, want level-1 retry", recs[0])
	}
}

func TestRunCycleBrainErrorEscalates(t *testing.T) {
	b := &fakeBrain{err: errors.New("model timeout")}
	f := newFixture(t, b, passingGate())
	seedAgent(t, f.db, &models.Agent{ID: "a1", Name: "ada", Role: "coder"})
	seedTask(t, f.db, &models.Task{ID: "t1", Title: "doomed", AssignedAgent: "a1"})

	res, err := f.orch.RunCycle(context.Background(), "a1")
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if res.Success {
		t.Fatalf("result = %+v, want failure", res)
	}
	if len(f.history.For("t1")) != 1 {
		t.Error("brain failure must escalate at level 1")
	}
	agent, _ := f.db.GetAgent("a1")
	if agent.Status != models.AgentStatusIdle {
		t.Errorf("agent status = %s, want idle", agent.Status)
	}
}

func TestRunCycleTerminalGateFailure(t *testing.T) {
	b := &fakeBrain{result: &brain.Result{
		Output: "A very expensive change was produced here.", Success: true, CostCents: 9000}}
	g := &fakeGate{res: &gate.Result{Passed: false, RetryEligible: false,
		Reason: "execution cost exceeds daily budget share", Check: "cost"}}
	f := newFixture(t, b, g)
	seedAgent(t, f.db, &models.Agent{ID: "a1", Name: "ada", Role: "coder"})
	seedTask(t, f.db, &models.Task{ID: "t1", Title: "gold-plated", AssignedAgent: "a1"})

	res, err := f.orch.RunCycle(context.Background(), "a1")
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if res.Success {
		t.Fatalf("result = %+v, want failure", res)
	}

	got, _ := f.db.GetTask("t1")
	if got.Status != models.TaskStatusFailed {
		t.Errorf("task status = %s, want terminal FAILED", got.Status)
	}
	if len(f.history.For("t1")) != 0 {
		t.Error("non-retryable failure must not escalate")
	}
}

func TestRunCycleDelegatesComplexTask(t *testing.T) {
	b := &fakeBrain{result: &brain.Result{Output: "unused", Success: true}}
	f := newFixture(t, b, passingGate())
	seedAgent(t, f.db, &models.Agent{ID: "a1", Name: "ada", Role: "coder", TeamID: "team-core"})
	seedTask(t, f.db, &models.Task{ID: "big-task-1", Title: "rebuild billing",
		AssignedAgent: "a1", EstimatedComplexity: models.ComplexityHigh})

	res, err := f.orch.RunCycle(context.Background(), "a1")
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !res.Success || res.Outcome != OutcomeDelegated {
		t.Fatalf("result = %+v, want delegated", res)
	}
	if b.calls != 0 {
		t.Error("delegation must not invoke the brain")
	}

	parent, _ := f.db.GetTask("big-task-1")
	if parent.Status != models.TaskStatusReadyForReview {
		t.Errorf("parent status = %s, want READY_FOR_REVIEW", parent.Status)
	}

	subs, err := f.db.ListTasksByParent("big-task-1")
	if err != nil {
		t.Fatalf("list subtasks: %v", err)
	}
	if len(subs) != 3 {
		t.Fatalf("created %d subtasks, want 3", len(subs))
	}
	types := map[models.TaskType]bool{}
	for _, sub := range subs {
		types[sub.Type] = true
		if sub.AssignedAgent == "" {
			t.Errorf("subtask %s unassigned", sub.ID)
		}
	}
	for _, want := range []models.TaskType{models.TaskTypeResearch,
		models.TaskTypeImplementation, models.TaskTypeReview} {
		if !types[want] {
			t.Errorf("missing subtask type %s", want)
		}
	}

	// Exactly 3 new temporary sub-agents at depth 1, sharing one workspace.
	children, err := f.db.ListAgentsCreatedBy("a1")
	if err != nil {
		t.Fatalf("list sub-agents: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("created %d sub-agents, want 3", len(children))
	}
	ws := children[0].WorkspacePath
	for _, sub := range children {
		if sub.Depth != 1 {
			t.Errorf("sub-agent %s depth = %d, want 1", sub.Name, sub.Depth)
		}
		if sub.Lifecycle != models.LifecycleTemporary {
			t.Errorf("sub-agent %s lifecycle = %s", sub.Name, sub.Lifecycle)
		}
		if sub.WorkspacePath != ws || ws == "" {
			t.Errorf("sub-agents must share one workspace, got %q and %q", ws, sub.WorkspacePath)
		}
		if sub.CanDelegate() {
			t.Errorf("sub-agent %s must not be able to delegate", sub.Name)
		}
	}
}

func TestRunCycleDepthOneExecutesDirectly(t *testing.T) {
	b := &fakeBrain{result: &brain.Result{
		Output: "Finished the research notes for the parent task.", Success: true}}
	f := newFixture(t, b, passingGate())
	seedAgent(t, f.db, &models.Agent{ID: "sub1", Name: "ada-planner", Role: "planner",
		Depth: 1, Lifecycle: models.LifecycleTemporary, CreatedBy: "a1",
		WorkspacePath: t.TempDir()})
	seedTask(t, f.db, &models.Task{ID: "t1", Title: "research step",
		AssignedAgent: "sub1", EstimatedComplexity: models.ComplexityHigh})

	res, err := f.orch.RunCycle(context.Background(), "sub1")
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !res.Success || res.Outcome != OutcomeCompleted {
		t.Fatalf("result = %+v, want direct completion", res)
	}
	if b.calls != 1 {
		t.Errorf("brain calls = %d, want 1", b.calls)
	}
	if children, _ := f.db.ListAgentsCreatedBy("sub1"); len(children) != 0 {
		t.Errorf("depth-1 agent created %d sub-agents, want 0", len(children))
	}
}

func TestRunCyclePanicRecoveredAsBrainFailure(t *testing.T) {
	b := &fakeBrain{panicMsg: "nil pointer somewhere deep"}
	f := newFixture(t, b, passingGate())
	seedAgent(t, f.db, &models.Agent{ID: "a1", Name: "ada", Role: "coder"})
	seedTask(t, f.db, &models.Task{ID: "t1", Title: "explosive", AssignedAgent: "a1"})

	res, err := f.orch.RunCycle(context.Background(), "a1")
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if res.Success || res.Outcome != OutcomeFailed {
		t.Fatalf("result = %+v, want recovered failure", res)
	}
	if !strings.Contains(res.Reason, "panic") {
		t.Errorf("reason = %q", res.Reason)
	}

	got, _ := f.db.GetTask("t1")
	if got.Status != models.TaskStatusReady || got.BlockedUntil == nil {
		t.Errorf("task should be failed with backoff: %+v", got)
	}
	if len(f.history.For("t1")) != 1 {
		t.Error("panic must escalate at level 1")
	}
	agent, _ := f.db.GetAgent("a1")
	if agent.Status != models.AgentStatusIdle {
		t.Errorf("agent status = %s, want idle after panic", agent.Status)
	}
}

func TestRunCycleUnknownAgent(t *testing.T) {
	f := newFixture(t, &fakeBrain{}, passingGate())
	if _, err := f.orch.RunCycle(context.Background(), "ghost"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestComposePromptLayersAndTruncation(t *testing.T) {
	agent := &models.Agent{Name: "ada", Role: "coder"}
	task := &models.Task{ID: "t1", Title: "add handler",
		Description:   "wire the route",
		AffectedFiles: []string{"src/routes.ts"}}

	prompt := composePrompt(PromptLayers{
		OrgPolicy:   "Ship small changes.",
		TeamCharter: "Team core owns the gateway.",
		RoleGuide:   strings.Repeat("x", maxLayerLen+100),
	}, agent, task, []string{"previous result text"})

	for _, want := range []string{
		"## Organization Policy", "## Team", "## Role", "## Identity",
		"## Recent Work", "## Task",
		"You are ada, a coder agent.",
		"src/routes.ts",
		"[truncated]",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	// Layer order: policy before identity before task.
	if strings.Index(prompt, "## Organization Policy") > strings.Index(prompt, "## Identity") ||
		strings.Index(prompt, "## Identity") > strings.Index(prompt, "## Task") {
		t.Error("prompt layers out of order")
	}
}
