package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/overseer/internal/decompose"
	"github.com/ShayCichocki/overseer/pkg/models"
)

// Sub-agent roles, in subtask order: research, implementation, review.
var subAgentRoles = []string{"planner", "architect", "coder"}

// delegate splits an oversized task across three transient sub-agents that
// share the delegating agent's workspace. The parent task moves to
// READY_FOR_REVIEW so the delegating agent picks it back up once every
// subtask completes. Any partial failure is rolled back and reported so the
// caller can fall back to direct execution.
func (o *Orchestrator) delegate(agent *models.Agent, task *models.Task) (bool, error) {
	if !agent.CanDelegate() {
		return false, nil
	}
	if agent.Depth+1 > models.MaxAgentDepth {
		return false, fmt.Errorf("delegation would exceed depth cap %d", models.MaxAgentDepth)
	}

	wsPath, err := o.ensureWorkspace(agent)
	if err != nil {
		return false, fmt.Errorf("delegate %s: %w", task.ShortID(), err)
	}

	var created []models.Agent
	rollback := func(subtasks []models.Task) {
		for _, sub := range created {
			if err := o.store.RemoveAgent(sub.ID); err != nil {
				o.logger.Log("rollback sub-agent %s: %v", sub.ID, err)
			}
		}
		if len(subtasks) > 0 {
			if err := o.decomposer.Remove(subtasks); err != nil {
				o.logger.Log("rollback subtasks of %s: %v", task.ShortID(), err)
			}
		}
	}

	for _, role := range subAgentRoles {
		sub := models.Agent{
			ID:            uuid.New().String(),
			Name:          fmt.Sprintf("%s-%s-%s", agent.Name, role, task.ShortID()),
			Role:          role,
			Status:        models.AgentStatusIdle,
			TeamID:        agent.TeamID,
			Depth:         agent.Depth + 1,
			Lifecycle:     models.LifecycleTemporary,
			CreatedBy:     agent.ID,
			MaxConcurrent: 1,
			WorkspacePath: wsPath,
			CreatedAt:     time.Now(),
		}
		if err := o.store.CreateAgent(&sub); err != nil {
			rollback(nil)
			return false, fmt.Errorf("delegate %s: create sub-agent: %w", task.ShortID(), err)
		}
		created = append(created, sub)
	}

	specs := []decompose.SubtaskSpec{
		{
			Title: "Research: " + task.Title,
			Description: "Investigate the codebase and constraints for this work. " +
				"Produce notes the implementation step can follow.\n\n" + task.Description,
			Type:          models.TaskTypeResearch,
			AssignedAgent: created[0].ID,
		},
		{
			Title: "Implement: " + task.Title,
			Description: "Apply the change described below, following the research notes.\n\n" +
				task.Description,
			Type:          models.TaskTypeImplementation,
			AssignedAgent: created[1].ID,
		},
		{
			Title: "Review: " + task.Title,
			Description: "Review the implementation for correctness and completeness " +
				"against the original request.\n\n" + task.Description,
			Type:          models.TaskTypeReview,
			AssignedAgent: created[2].ID,
		},
	}

	res, err := o.decomposer.Decompose(task.ID, specs)
	if err != nil {
		rollback(nil)
		return false, fmt.Errorf("delegate %s: %w", task.ShortID(), err)
	}
	if !res.Success {
		rollback(res.Created)
		return false, fmt.Errorf("delegate %s: subtask creation failed: %v", task.ShortID(), res.Errors)
	}

	task.Status = models.TaskStatusReadyForReview
	if err := o.store.UpdateTask(task); err != nil {
		rollback(res.Created)
		return false, fmt.Errorf("delegate %s: %w", task.ShortID(), err)
	}
	return true, nil
}
