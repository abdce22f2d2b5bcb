// Package orchestrator drives the per-agent execution cycle: pull a task,
// isolate a workspace, invoke the Brain, validate the artifact, then either
// complete the task or hand the failure to the escalation policy.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/overseer/internal/allocator"
	"github.com/ShayCichocki/overseer/internal/brain"
	"github.com/ShayCichocki/overseer/internal/decompose"
	"github.com/ShayCichocki/overseer/internal/escalate"
	"github.com/ShayCichocki/overseer/internal/gate"
	"github.com/ShayCichocki/overseer/internal/state"
	"github.com/ShayCichocki/overseer/pkg/models"
)

// defaultBrainTimeout bounds one Brain invocation, the only long-blocking
// operation in a cycle. A timeout is treated identically to a Brain failure.
const defaultBrainTimeout = 10 * time.Minute

// artifactWindow is how many recent results feed the prompt's context layer.
const artifactWindow = 3

// Cycle outcomes.
const (
	OutcomePaused    = "paused"
	OutcomeNoTask    = "no task"
	OutcomeDelegated = "delegated"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// CycleResult reports what one cycle did.
type CycleResult struct {
	// Success is true for completed work and benign no-ops.
	Success bool
	// Outcome classifies how the cycle ended.
	Outcome string
	// TaskID is the task the cycle worked on, if any.
	TaskID string
	// Output is the accepted artifact on completion.
	Output string
	// DurationMs is the Brain execution time on completion.
	DurationMs int64
	// Reason explains failures and no-ops.
	Reason string
}

// Workspaces is the slice of the workspace manager the cycle needs.
type Workspaces interface {
	AcquireWorkspace(agent *models.Agent) (string, error)
	CreateBranch(agent *models.Agent, task *models.Task, workspace string) (string, error)
	ReleaseWorkspace(path string)
}

// Validator is the quality gate boundary.
type Validator interface {
	Validate(ctx context.Context, task *models.Task, result *brain.Result, budgetCents float64) *gate.Result
}

// Orchestrator runs execution cycles for agents. Multiple agents may cycle
// concurrently; the task store's conditional claim is the only coordination
// point.
type Orchestrator struct {
	store        state.Store
	alloc        *allocator.Allocator
	workspaces   Workspaces
	brain        brain.Brain
	gate         Validator
	policy       *escalate.Policy
	decomposer   *decompose.Decomposer
	layers       PromptLayers
	budgetCents  float64
	brainTimeout time.Duration
	logger       *DebugLogger
}

// Config assembles an Orchestrator's collaborators.
type Config struct {
	Store      state.Store
	Allocator  *allocator.Allocator
	Workspaces Workspaces
	Brain      brain.Brain
	Gate       Validator
	Policy     *escalate.Policy
	Decomposer *decompose.Decomposer
	// Layers are the static prompt context layers.
	Layers PromptLayers
	// BudgetCents is the organization's daily budget; zero disables the
	// gate's cost check.
	BudgetCents float64
	// BrainTimeout bounds one Brain invocation. Defaults to 10 minutes.
	BrainTimeout time.Duration
	// Logger receives cycle traces. Defaults to a no-op logger.
	Logger *DebugLogger
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.BrainTimeout <= 0 {
		cfg.BrainTimeout = defaultBrainTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = NopLogger()
	}
	return &Orchestrator{
		store:        cfg.Store,
		alloc:        cfg.Allocator,
		workspaces:   cfg.Workspaces,
		brain:        cfg.Brain,
		gate:         cfg.Gate,
		policy:       cfg.Policy,
		decomposer:   cfg.Decomposer,
		layers:       cfg.Layers,
		budgetCents:  cfg.BudgetCents,
		brainTimeout: cfg.BrainTimeout,
		logger:       cfg.Logger,
	}
}

// RunCycle executes one pull/execute/validate iteration for the agent. The
// agent always leaves the cycle IDLE except for the explicit PAUSED skip;
// ERROR is reserved for conditions outside this cycle's control.
func (o *Orchestrator) RunCycle(ctx context.Context, agentID string) (res *CycleResult, err error) {
	agent, err := o.store.GetAgent(agentID)
	if err != nil {
		return nil, fmt.Errorf("run cycle: %w", err)
	}
	if agent.Status == models.AgentStatusPaused {
		return &CycleResult{Success: false, Outcome: OutcomePaused, Reason: "agent is paused"}, nil
	}

	if err := o.store.SetAgentStatus(agentID, models.AgentStatusWorking); err != nil {
		return nil, fmt.Errorf("run cycle: %w", err)
	}
	defer func() {
		if idleErr := o.store.SetAgentStatus(agentID, models.AgentStatusIdle); idleErr != nil {
			o.logger.Log("agent %s: restore idle: %v", agentID, idleErr)
		}
	}()

	// A panic anywhere below counts as a Brain failure for escalation.
	var current *models.Task
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("cycle panic: %v", r)
			o.logger.Log("agent %s: %s", agentID, msg)
			taskID := ""
			if current != nil {
				taskID = current.ID
				o.failAndEscalate(current, agentID, msg)
			}
			res = &CycleResult{Success: false, Outcome: OutcomeFailed, TaskID: taskID, Reason: msg}
			err = nil
		}
	}()

	task, reason, err := o.alloc.PullNext(agentID)
	if err != nil {
		return nil, fmt.Errorf("run cycle: %w", err)
	}
	if task == nil {
		o.logger.Log("agent %s: no work (%s)", agentID, reason)
		return &CycleResult{Success: true, Outcome: OutcomeNoTask, Reason: reason}, nil
	}
	current = task
	o.logger.Log("agent %s: pulled %s (%s)", agentID, task.ShortID(), reason)

	if agent.CanDelegate() {
		complex, cerr := o.highComplexity(task)
		if cerr != nil {
			o.logger.Log("agent %s: complexity check: %v", agentID, cerr)
		}
		if complex {
			delegated, derr := o.delegate(agent, task)
			if derr != nil {
				// Fall back to direct execution.
				o.logger.Log("agent %s: delegation of %s failed: %v", agentID, task.ShortID(), derr)
			}
			if delegated {
				o.logger.Log("agent %s: delegated %s", agentID, task.ShortID())
				return &CycleResult{Success: true, Outcome: OutcomeDelegated, TaskID: task.ID}, nil
			}
		}
	}

	wsPath, err := o.ensureWorkspace(agent)
	if err != nil {
		return o.failAndEscalate(task, agentID, fmt.Sprintf("workspace setup failed: %v", err)), nil
	}
	if _, err := o.workspaces.CreateBranch(agent, task, wsPath); err != nil {
		return o.failAndEscalate(task, agentID, fmt.Sprintf("branch setup failed: %v", err)), nil
	}
	task.WorkspacePath = wsPath
	if err := o.store.UpdateTask(task); err != nil {
		return nil, fmt.Errorf("run cycle: %w", err)
	}

	prompt := composePrompt(o.layers, agent, task, o.recentArtifacts(agentID))

	brainCtx, cancel := context.WithTimeout(ctx, o.brainTimeout)
	defer cancel()
	result, err := o.brain.Execute(brainCtx, prompt, wsPath)
	if err != nil {
		return o.failAndEscalate(task, agentID, fmt.Sprintf("brain execution failed: %v", err)), nil
	}
	if !result.Success {
		return o.failAndEscalate(task, agentID, "brain execution did not finish cleanly"), nil
	}

	gr := o.gate.Validate(ctx, task, result, o.budgetCents)
	if !gr.Passed {
		if gr.RetryEligible {
			return o.failAndEscalate(task, agentID, gr.Reason), nil
		}
		return o.failTerminal(task, gr.Reason), nil
	}

	if err := o.store.SaveResult(task.ID, result.Output); err != nil {
		return nil, fmt.Errorf("run cycle: %w", err)
	}
	if err := o.alloc.Complete(task.ID); err != nil {
		return nil, fmt.Errorf("run cycle: %w", err)
	}
	o.logger.Log("agent %s: completed %s in %dms", agentID, task.ShortID(), result.DurationMs)
	return &CycleResult{
		Success:    true,
		Outcome:    OutcomeCompleted,
		TaskID:     task.ID,
		Output:     result.Output,
		DurationMs: result.DurationMs,
	}, nil
}

// ensureWorkspace returns the agent's workspace, acquiring one on first use.
// Sub-agents arrive with their parent's workspace already set.
func (o *Orchestrator) ensureWorkspace(agent *models.Agent) (string, error) {
	if agent.WorkspacePath != "" {
		return agent.WorkspacePath, nil
	}
	wsPath, err := o.workspaces.AcquireWorkspace(agent)
	if err != nil {
		return "", err
	}
	agent.WorkspacePath = wsPath
	if err := o.store.UpdateAgent(agent); err != nil {
		return "", err
	}
	return wsPath, nil
}

// failAndEscalate records a retryable cycle failure: backoff via the
// allocator, then level-1 escalation.
func (o *Orchestrator) failAndEscalate(task *models.Task, agentID, msg string) *CycleResult {
	if err := o.alloc.Fail(task.ID, msg); err != nil {
		o.logger.Log("fail %s: %v", task.ShortID(), err)
	}
	if _, err := o.policy.Escalate(task.ID, agentID, models.EscalationSelfResolve, msg); err != nil {
		o.logger.Log("escalate %s: %v", task.ShortID(), err)
	}
	return &CycleResult{Success: false, Outcome: OutcomeFailed, TaskID: task.ID, Reason: msg}
}

// failTerminal marks a task failed with no escalation; retrying cannot help.
func (o *Orchestrator) failTerminal(task *models.Task, reason string) *CycleResult {
	task.Status = models.TaskStatusFailed
	task.Error = reason
	if err := o.store.UpdateTask(task); err != nil {
		o.logger.Log("terminal fail %s: %v", task.ShortID(), err)
	}
	o.logger.Log("task %s failed terminally: %s", task.ShortID(), reason)
	return &CycleResult{Success: false, Outcome: OutcomeFailed, TaskID: task.ID, Reason: reason}
}

// recentArtifacts returns the agent's latest accepted results for prompt
// context. Errors degrade to an empty context, never a failed cycle.
func (o *Orchestrator) recentArtifacts(agentID string) []string {
	recent, err := o.store.RecentCompletions(agentID, artifactWindow)
	if err != nil {
		return nil
	}
	var artifacts []string
	for _, t := range recent {
		if t.Result != "" {
			artifacts = append(artifacts, t.Result)
		}
	}
	return artifacts
}

// highComplexity reports whether the task trips any delegation threshold:
// an explicit high-complexity estimate, more than 3 unresolved dependencies,
// more than 2 required skills, or a story-point estimate above 8.
func (o *Orchestrator) highComplexity(task *models.Task) (bool, error) {
	if task.EstimatedComplexity == models.ComplexityHigh {
		return true, nil
	}
	if len(task.RequiredSkills) > 2 || task.StoryPoints > 8 {
		return true, nil
	}
	unresolved := 0
	for _, depID := range task.DependsOn {
		dep, err := o.store.GetTask(depID)
		if err != nil {
			unresolved++
			continue
		}
		if dep.Status != models.TaskStatusCompleted {
			unresolved++
		}
	}
	return unresolved > 3, nil
}
