// Package allocator implements the task pool: it decides which task a
// requesting agent works on next, and owns the claim/release/complete/fail
// transitions on the task table.
package allocator

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/overseer/internal/state"
	"github.com/ShayCichocki/overseer/pkg/models"
)

// Allocation reasons reported alongside a pulled task.
const (
	// ReasonReviewReady marks a review pull of a task whose subtasks finished.
	ReasonReviewReady = "Review ready"
	// ReasonDirect marks a task directly assigned to the requesting agent.
	ReasonDirect = "Directly assigned"
	// ReasonTeamEpic marks a team epic pulled by the team's manager.
	ReasonTeamEpic = "Team epic"
	// ReasonContinuity marks a task sharing files with recent completions.
	ReasonContinuity = "Continuity"
	// ReasonTeamProject marks an unassigned task in a team-touched project.
	ReasonTeamProject = "Team project backlog"
	// ReasonOrgFallback marks an unassigned task pulled organization-wide.
	ReasonOrgFallback = "Organization backlog"
	// ReasonAlreadyClaimed is reported when a claim loses the race.
	ReasonAlreadyClaimed = "already claimed"
	// ReasonNoTask is reported when no tier produced an eligible candidate.
	ReasonNoTask = "no eligible task"
)

const (
	// maxReviewPasses caps review pulls per task to prevent infinite review loops.
	maxReviewPasses = 3
	// continuityWindow is how many recent completions feed the continuity heuristic.
	continuityWindow = 5
	// fallbackScanCap bounds the organization-wide candidate scan.
	fallbackScanCap = 20
)

// Backoff ladder applied by Fail. Durations are non-decreasing and cap at
// the final entry.
var backoffLadder = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
}

// Allocator selects tasks for agents and mediates claim contention through
// the store's conditional update.
type Allocator struct {
	store state.Store
	now   func() time.Time
}

// New creates an Allocator backed by the given store.
func New(store state.Store) *Allocator {
	return &Allocator{store: store, now: time.Now}
}

// SetClock overrides the allocator's clock (for testing backoff windows).
func (a *Allocator) SetClock(now func() time.Time) {
	a.now = now
}

// PullNext selects the next task for the requesting agent. Candidate tiers
// are evaluated in strict order; each tier fully scans its candidates before
// falling through. Returns the claimed task and the reason it was chosen,
// or a nil task with an explanatory reason.
func (a *Allocator) PullNext(agentID string) (*models.Task, string, error) {
	agent, err := a.store.GetAgent(agentID)
	if err != nil {
		return nil, "", fmt.Errorf("pull next: %w", err)
	}

	locked, err := a.lockedFiles(agentID)
	if err != nil {
		return nil, "", fmt.Errorf("pull next: %w", err)
	}

	// Tier 1: review pulls for tasks whose subtasks all completed.
	if task, reason, err := a.pullReviewReady(agent); task != nil || err != nil || reason == ReasonAlreadyClaimed {
		return task, reason, err
	}

	// Tier 2: tasks directly assigned to this agent.
	if task, reason, err := a.pullAssigned(agent, locked); task != nil || err != nil || reason == ReasonAlreadyClaimed {
		return task, reason, err
	}

	// Tier 3: team epics, managers only.
	if agent.IsManager() {
		if task, reason, err := a.pullTeamEpics(agent, locked); task != nil || err != nil || reason == ReasonAlreadyClaimed {
			return task, reason, err
		}
		return nil, ReasonNoTask, nil
	}

	// Tier 4: continuity, team projects, then the organization-wide backlog.
	if task, reason, err := a.pullFallback(agent, locked); task != nil || err != nil || reason == ReasonAlreadyClaimed {
		return task, reason, err
	}

	return nil, ReasonNoTask, nil
}

// pullReviewReady scans tasks awaiting review by this agent. A candidate
// qualifies only when every subtask completed and the review cap is unmet.
func (a *Allocator) pullReviewReady(agent *models.Agent) (*models.Task, string, error) {
	candidates, err := a.store.TasksAssignedTo(agent.ID, models.TaskStatusReadyForReview)
	if err != nil {
		return nil, "", err
	}

	for i := range candidates {
		task := &candidates[i]
		if task.ReviewCount >= maxReviewPasses {
			continue
		}
		subtasks, err := a.store.ListTasksByParent(task.ID)
		if err != nil {
			return nil, "", err
		}
		done := true
		for _, st := range subtasks {
			if st.Status != models.TaskStatusCompleted {
				done = false
				break
			}
		}
		if !done {
			continue
		}

		won, err := a.claim(task.ID, []models.TaskStatus{models.TaskStatusReadyForReview},
			models.TaskStatusInReview, agent.ID)
		if err != nil {
			return nil, "", err
		}
		if !won {
			return nil, ReasonAlreadyClaimed, nil
		}

		claimed, err := a.store.GetTask(task.ID)
		if err != nil {
			return nil, "", err
		}
		claimed.ReviewCount++
		if err := a.store.UpdateTask(claimed); err != nil {
			return nil, "", err
		}
		return claimed, ReasonReviewReady, nil
	}
	return nil, "", nil
}

// pullAssigned scans open tasks directly assigned to the agent, ordered by
// priority then creation time.
func (a *Allocator) pullAssigned(agent *models.Agent, locked map[string]string) (*models.Task, string, error) {
	candidates, err := a.store.TasksAssignedTo(agent.ID, models.TaskStatusReady, models.TaskStatusPending)
	if err != nil {
		return nil, "", err
	}
	return a.scanAndClaim(agent, candidates, locked, ReasonDirect)
}

// pullTeamEpics scans epics owned by the team this agent manages.
func (a *Allocator) pullTeamEpics(agent *models.Agent, locked map[string]string) (*models.Task, string, error) {
	candidates, err := a.store.TeamEpics(agent.ManagerOfTeam)
	if err != nil {
		return nil, "", err
	}
	return a.scanAndClaim(agent, candidates, locked, ReasonTeamEpic)
}

// pullFallback handles non-manager agents with no direct work: continuity
// with recently completed tasks, then the team's project backlogs, then a
// capped organization-wide scan matched against the agent's role.
func (a *Allocator) pullFallback(agent *models.Agent, locked map[string]string) (*models.Task, string, error) {
	backlog, err := a.store.UnassignedBacklog(fallbackScanCap)
	if err != nil {
		return nil, "", err
	}

	// Continuity: prefer tasks touching files from the last few completions.
	recent, err := a.store.RecentCompletions(agent.ID, continuityWindow)
	if err != nil {
		return nil, "", err
	}
	recentFiles := make(map[string]bool)
	for _, t := range recent {
		for _, f := range t.AffectedFiles {
			recentFiles[f] = true
		}
	}
	if len(recentFiles) > 0 {
		var related []models.Task
		for _, t := range backlog {
			for _, f := range t.AffectedFiles {
				if recentFiles[f] {
					related = append(related, t)
					break
				}
			}
		}
		if task, reason, err := a.scanAndClaim(agent, related, locked, ReasonContinuity); task != nil || err != nil || reason == ReasonAlreadyClaimed {
			return task, reason, err
		}
	}

	// Team projects: unassigned tasks in projects the agent's team touches.
	if agent.TeamID != "" {
		projects, err := a.store.TeamProjects(agent.TeamID)
		if err != nil {
			return nil, "", err
		}
		teamTasks, err := a.store.UnassignedInProjects(projects, fallbackScanCap)
		if err != nil {
			return nil, "", err
		}
		if task, reason, err := a.scanAndClaim(agent, teamTasks, locked, ReasonTeamProject); task != nil || err != nil || reason == ReasonAlreadyClaimed {
			return task, reason, err
		}
	}

	// Organization-wide fallback, role-matched, capped at fallbackScanCap.
	var matched []models.Task
	for _, t := range backlog {
		if roleMatches(agent, &t) {
			matched = append(matched, t)
		}
	}
	return a.scanAndClaim(agent, matched, locked, ReasonOrgFallback)
}

// scanAndClaim walks candidates in order and claims the first eligible one.
// A lost claim is reported as "already claimed", never retried here.
func (a *Allocator) scanAndClaim(agent *models.Agent, candidates []models.Task, locked map[string]string, reason string) (*models.Task, string, error) {
	for i := range candidates {
		task := &candidates[i]
		ok, err := a.eligible(task, locked)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			continue
		}

		won, err := a.claim(task.ID,
			[]models.TaskStatus{models.TaskStatusReady, models.TaskStatusPending},
			models.TaskStatusInProgress, agent.ID)
		if err != nil {
			return nil, "", err
		}
		if !won {
			return nil, ReasonAlreadyClaimed, nil
		}

		claimed, err := a.store.GetTask(task.ID)
		if err != nil {
			return nil, "", err
		}
		return claimed, reason, nil
	}
	return nil, "", nil
}

// eligible rejects candidates gated by backoff, advisory file locks held by
// other agents, or unmet dependencies.
func (a *Allocator) eligible(task *models.Task, locked map[string]string) (bool, error) {
	if task.Blocked(a.now()) {
		return false, nil
	}
	for _, f := range task.AffectedFiles {
		if _, held := locked[f]; held {
			return false, nil
		}
	}
	for _, depID := range task.DependsOn {
		dep, err := a.store.GetTask(depID)
		if err != nil {
			// A dangling dependency reference keeps the task ineligible.
			return false, nil
		}
		if dep.Status != models.TaskStatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// lockedFiles scans other agents' in-progress tasks and maps each affected
// file to the agent holding it. The scan is advisory: a narrow window exists
// between this check and the claim, accepted by design.
func (a *Allocator) lockedFiles(agentID string) (map[string]string, error) {
	inProgress, err := a.store.InProgressExcluding(agentID)
	if err != nil {
		return nil, err
	}
	locked := make(map[string]string)
	for _, t := range inProgress {
		for _, f := range t.AffectedFiles {
			locked[f] = t.AssignedAgent
		}
	}
	return locked, nil
}

// claim performs the single conditional update serializing contention.
func (a *Allocator) claim(taskID string, expected []models.TaskStatus, newStatus models.TaskStatus, agentID string) (bool, error) {
	n, err := a.store.ConditionalClaim(taskID, expected, newStatus, agentID)
	if err != nil {
		return false, fmt.Errorf("claim task %s: %w", taskID, err)
	}
	return n > 0, nil
}

// roleMatches reports whether a backlog task fits the agent's role. Tasks
// with no skill tags match anyone.
func roleMatches(agent *models.Agent, task *models.Task) bool {
	if len(task.RequiredSkills) == 0 {
		return true
	}
	for _, s := range task.RequiredSkills {
		if s == agent.Role {
			return true
		}
	}
	return false
}

// Release reverts an unfinished claim: the task returns to READY, loses its
// assignment, and its retry counter advances.
func (a *Allocator) Release(taskID string, releaseErr error) error {
	task, err := a.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}

	task.Status = models.TaskStatusReady
	task.AssignedAgent = ""
	task.RetryCount++
	if releaseErr != nil {
		task.Error = releaseErr.Error()
	}
	if err := a.store.UpdateTask(task); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	return nil
}

// Complete marks the task completed and clears its failure state. Completing
// an already-completed task leaves its completion timestamp untouched.
func (a *Allocator) Complete(taskID string) error {
	if err := a.store.MarkCompleted(taskID, a.now()); err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	return nil
}

// Fail records a cycle failure: the consecutive-failure counter advances, an
// escalating backoff window opens, and the task returns to READY so an
// automatic retry can occur once the window elapses. This is never terminal.
func (a *Allocator) Fail(taskID, message string) error {
	task, err := a.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("fail: %w", err)
	}

	task.ConsecutiveFailures++
	until := a.now().Add(backoffFor(task.ConsecutiveFailures))
	task.BlockedUntil = &until
	task.Status = models.TaskStatusReady
	task.Error = message
	if err := a.store.UpdateTask(task); err != nil {
		return fmt.Errorf("fail: %w", err)
	}
	return nil
}

// backoffFor returns the blocked duration for the nth consecutive failure.
func backoffFor(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > len(backoffLadder) {
		failures = len(backoffLadder)
	}
	return backoffLadder[failures-1]
}
