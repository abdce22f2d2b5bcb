// Package escalate decides what happens when a task's execution cycle fails:
// a five-level ladder from silent retry up to human intervention, plus a
// richer action-selection function used by operators and the orchestrator.
package escalate

import (
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/overseer/internal/state"
	"github.com/ShayCichocki/overseer/pkg/models"
)

// maxSelfRetries bounds level-1 self-resolution before the ladder advances.
const maxSelfRetries = 3

// requirementDensityThreshold is how many requirement markers a description
// needs before "simplify" becomes a candidate action.
const requirementDensityThreshold = 5

// Notifier delivers human-intervention requests. Delivery is an external
// collaborator's concern.
type Notifier interface {
	NotifyHuman(rec models.EscalationRecord)
}

// Policy applies escalation levels to tasks and records each decision.
type Policy struct {
	store    state.Store
	history  *History
	notifier Notifier
	now      func() time.Time
}

// New creates a Policy. notifier may be nil; level-5 escalations are then
// recorded but not delivered.
func New(store state.Store, history *History, notifier Notifier) *Policy {
	return &Policy{store: store, history: history, notifier: notifier, now: time.Now}
}

// SetClock overrides the policy's clock (for testing).
func (p *Policy) SetClock(now func() time.Time) {
	p.now = now
}

// History returns the policy's escalation history.
func (p *Policy) History() *History {
	return p.history
}

// Escalate applies the given level to the task, advancing to a higher level
// when the requested one cannot help. It returns the record of what was
// actually done, with the level it settled on.
func (p *Policy) Escalate(taskID, agentID string, level models.EscalationLevel, reason string) (*models.EscalationRecord, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("escalate task %s: invalid level %d", taskID, level)
	}
	task, err := p.store.GetTask(taskID)
	if err != nil {
		return nil, fmt.Errorf("escalate task %s: %w", taskID, err)
	}

	settled, action, err := p.apply(task, agentID, level)
	if err != nil {
		return nil, fmt.Errorf("escalate task %s: %w", taskID, err)
	}
	if err := p.store.UpdateTask(task); err != nil {
		return nil, fmt.Errorf("escalate task %s: %w", taskID, err)
	}

	rec := models.EscalationRecord{
		TaskID:    taskID,
		AgentID:   agentID,
		Level:     settled,
		Reason:    reason,
		Action:    action,
		Timestamp: p.now(),
	}
	p.history.Append(rec)

	if settled == models.EscalationHuman && p.notifier != nil {
		p.notifier.NotifyHuman(rec)
	}
	return &rec, nil
}

// apply mutates the task per the ladder and returns the settled level and
// the action taken. Levels that cannot help advance to the next one.
func (p *Policy) apply(task *models.Task, agentID string, level models.EscalationLevel) (models.EscalationLevel, models.EscalationAction, error) {
	switch level {
	case models.EscalationSelfResolve:
		if task.RetryCount >= maxSelfRetries {
			return p.apply(task, agentID, models.EscalationTeam)
		}
		task.RetryCount++
		task.Status = models.TaskStatusReady
		return level, models.ActionRetry, nil

	case models.EscalationTeam:
		agent, err := p.store.GetAgent(agentID)
		if err != nil {
			return 0, "", err
		}
		if agent.TeamID == "" {
			return p.apply(task, agentID, models.EscalationTeamLeader)
		}
		mates, err := p.store.FindIdleTeammates(agent.TeamID, agent.ID)
		if err != nil {
			return 0, "", err
		}
		if len(mates) == 0 {
			return p.apply(task, agentID, models.EscalationTeamLeader)
		}
		task.AssignedAgent = ""
		task.Status = models.TaskStatusReady
		return level, models.ActionReassign, nil

	case models.EscalationTeamLeader:
		agent, err := p.store.GetAgent(agentID)
		if err != nil {
			return 0, "", err
		}
		task.Status = models.TaskStatusInReview
		if agent.TeamID != "" {
			if mgr, err := p.store.TeamManager(agent.TeamID); err == nil {
				task.AssignedAgent = mgr.ID
			}
		}
		return level, models.ActionEscalateToLeader, nil

	case models.EscalationOrganization:
		task.Status = models.TaskStatusBlocked
		return level, models.ActionEscalateToOrg, nil

	case models.EscalationHuman:
		task.Status = models.TaskStatusBlocked
		return level, models.ActionRequestHuman, nil
	}
	return 0, "", fmt.Errorf("unhandled level %d", level)
}

// ActionContext carries what action selection consults.
type ActionContext struct {
	Task          *models.Task
	HasSubtasks   bool
	IdleTeammates int
}

// SelectAction maps a failure context to a recovery action, checked in a
// fixed order: retry, decompose, simplify, reassign, then leveling up by
// priority.
func SelectAction(ctx ActionContext) models.EscalationAction {
	t := ctx.Task
	switch {
	case t.RetryCount < maxSelfRetries:
		return models.ActionRetry
	case highComplexity(t) && !ctx.HasSubtasks:
		return models.ActionDecompose
	case requirementDense(t.Description) && !t.Simplified:
		return models.ActionSimplify
	case ctx.IdleTeammates > 0:
		return models.ActionReassign
	case t.Priority == models.PriorityP1 || t.Priority == models.PriorityP2:
		return models.ActionEscalateToOrg
	default:
		return models.ActionEscalateToLeader
	}
}

// Simplify appends a scope-reduction note to the task description and marks
// it simplified so it only ever happens once.
func (p *Policy) Simplify(taskID string) error {
	task, err := p.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("simplify task %s: %w", taskID, err)
	}
	if task.Simplified {
		return nil
	}
	task.Description += "\n\nSCOPE REDUCTION: deliver the minimal core of this task only; " +
		"defer secondary requirements to follow-up tasks."
	task.Simplified = true
	if err := p.store.UpdateTask(task); err != nil {
		return fmt.Errorf("simplify task %s: %w", taskID, err)
	}
	return nil
}

func highComplexity(t *models.Task) bool {
	return t.EstimatedComplexity == models.ComplexityHigh ||
		len(t.DependsOn) > 3 ||
		len(t.RequiredSkills) > 2 ||
		t.StoryPoints > 8
}

// requirementDense counts requirement markers: bullet lines and modal
// requirement verbs.
func requirementDense(desc string) bool {
	lower := strings.ToLower(desc)
	markers := 0
	for _, line := range strings.Split(desc, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			markers++
		}
	}
	markers += strings.Count(lower, "must ")
	markers += strings.Count(lower, "should ")
	return markers >= requirementDensityThreshold
}
