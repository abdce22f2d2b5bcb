// Package decompose splits an oversized task into ordered subtasks that
// transient sub-agents can execute independently.
package decompose

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/overseer/internal/state"
	"github.com/ShayCichocki/overseer/pkg/models"
)

// SubtaskSpec describes one subtask to create under a parent.
type SubtaskSpec struct {
	// Title is the subtask title.
	Title string
	// Description is the subtask body.
	Description string
	// Type classifies the subtask (research, implementation, review).
	Type models.TaskType
	// AssignedAgent optionally pre-assigns the subtask.
	AssignedAgent string
	// RequiredSkills optionally narrows who may pull the subtask.
	RequiredSkills []string
}

// Result reports what Decompose created.
type Result struct {
	// Success is true when every subtask was created.
	Success bool
	// Created lists the subtasks in creation order.
	Created []models.Task
	// Errors lists per-spec creation failures.
	Errors []error
}

// Decomposer creates subtasks in the task store.
type Decomposer struct {
	store state.Store
	now   func() time.Time
}

// New creates a Decomposer backed by the given store.
func New(store state.Store) *Decomposer {
	return &Decomposer{store: store, now: time.Now}
}

// SetClock overrides the decomposer's clock (for testing).
func (d *Decomposer) SetClock(now func() time.Time) {
	d.now = now
}

// Decompose creates one subtask per spec under the parent task, chained so
// each subtask depends on the previous one. The parent's priority, project
// and affected files carry over. On a partial failure the already created
// subtasks are reported so the caller can clean up.
func (d *Decomposer) Decompose(parentID string, specs []SubtaskSpec) (*Result, error) {
	parent, err := d.store.GetTask(parentID)
	if err != nil {
		return nil, fmt.Errorf("decompose task %s: %w", parentID, err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("decompose task %s: no subtask specs", parentID)
	}

	res := &Result{Success: true}
	var prevID string
	for _, spec := range specs {
		sub := models.Task{
			ID:             uuid.New().String(),
			Title:          spec.Title,
			Description:    spec.Description,
			Type:           spec.Type,
			Status:         models.TaskStatusReady,
			Priority:       parent.Priority,
			ParentID:       parent.ID,
			Project:        parent.Project,
			AssignedAgent:  spec.AssignedAgent,
			AssignedTeam:   parent.AssignedTeam,
			AffectedFiles:  parent.AffectedFiles,
			RequiredSkills: spec.RequiredSkills,
			CreatedAt:      d.now(),
		}
		if prevID != "" {
			sub.DependsOn = []string{prevID}
		}
		if err := d.store.CreateTask(&sub); err != nil {
			res.Success = false
			res.Errors = append(res.Errors, fmt.Errorf("create subtask %q: %w", spec.Title, err))
			continue
		}
		res.Created = append(res.Created, sub)
		prevID = sub.ID
	}
	return res, nil
}

// Remove deletes the given subtasks, used to roll back a failed delegation.
func (d *Decomposer) Remove(subtasks []models.Task) error {
	for _, sub := range subtasks {
		task, err := d.store.GetTask(sub.ID)
		if err != nil {
			continue
		}
		task.Status = models.TaskStatusFailed
		task.Error = "delegation rolled back"
		if err := d.store.UpdateTask(task); err != nil {
			return fmt.Errorf("roll back subtask %s: %w", sub.ID, err)
		}
	}
	return nil
}
