package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has been created but its
	// dependencies have not been evaluated yet.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates the task is eligible for allocation.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusInProgress indicates an agent has claimed the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusReadyForReview indicates the task's subtasks finished and
	// it awaits a review pull by its assigned agent.
	TaskStatusReadyForReview TaskStatus = "ready_for_review"
	// TaskStatusInReview indicates an agent is reviewing the task.
	TaskStatusInReview TaskStatus = "in_review"
	// TaskStatusBlocked indicates the task was escalated and needs outside attention.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed terminally.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusInProgress,
		TaskStatusReadyForReview, TaskStatusInReview, TaskStatusBlocked,
		TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// TaskType classifies a task by the kind of work it represents.
type TaskType string

const (
	// TaskTypeTeamEpic is a large unit of work assigned to a team rather
	// than a single agent.
	TaskTypeTeamEpic TaskType = "team-epic"
	// TaskTypeImplementation is a concrete code-change task.
	TaskTypeImplementation TaskType = "implementation"
	// TaskTypeResearch is an investigation task producing notes, not code.
	TaskTypeResearch TaskType = "research"
	// TaskTypeReview is a review pass over previously produced work.
	TaskTypeReview TaskType = "review"
)

// Valid returns true if the type is a known value.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeTeamEpic, TaskTypeImplementation, TaskTypeResearch, TaskTypeReview:
		return true
	default:
		return false
	}
}

// Priority is an ordinal urgency tier. Lower values are more urgent.
type Priority int

const (
	// PriorityP1 is the most urgent tier.
	PriorityP1 Priority = 1
	// PriorityP2 is high priority.
	PriorityP2 Priority = 2
	// PriorityP3 is normal priority.
	PriorityP3 Priority = 3
	// PriorityP4 is the least urgent tier.
	PriorityP4 Priority = 4
)

// Valid returns true if the priority is in the P1..P4 range.
func (p Priority) Valid() bool {
	return p >= PriorityP1 && p <= PriorityP4
}

// ComplexityHigh marks a task that should be delegated to sub-agents
// rather than executed directly.
const ComplexityHigh = "high"

// Task represents a unit of work in the system.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// ParentID is the ID of the parent task, if this was split off by decomposition.
	ParentID string `json:"parent_id,omitempty"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task. The core
	// treats it as an opaque payload.
	Description string `json:"description,omitempty"`
	// Type classifies the task.
	Type TaskType `json:"type"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Priority is the urgency tier (P1..P4, lower is more urgent).
	Priority Priority `json:"priority"`
	// AssignedAgent is the ID of the agent working on this task.
	AssignedAgent string `json:"assigned_agent,omitempty"`
	// AssignedTeam is the ID of the team that owns this task (epics).
	AssignedTeam string `json:"assigned_team,omitempty"`
	// Project is the project this task belongs to.
	Project string `json:"project,omitempty"`
	// AffectedFiles lists repository paths this task is expected to touch.
	AffectedFiles []string `json:"affected_files,omitempty"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// RequiredSkills lists skill tags needed to execute the task.
	RequiredSkills []string `json:"required_skills,omitempty"`
	// EstimatedComplexity is an optional complexity hint ("high" triggers delegation).
	EstimatedComplexity string `json:"estimated_complexity,omitempty"`
	// StoryPoints is an optional size estimate.
	StoryPoints int `json:"story_points,omitempty"`
	// ConsecutiveFailures counts failures since the last success.
	ConsecutiveFailures int `json:"consecutive_failures,omitempty"`
	// RetryCount is the number of times this task has been retried.
	RetryCount int `json:"retry_count,omitempty"`
	// ReviewCount is the number of review passes performed on this task.
	ReviewCount int `json:"review_count,omitempty"`
	// BlockedUntil gates allocation until the backoff window elapses.
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	// WorkspacePath is the isolated workspace the task executes in.
	WorkspacePath string `json:"workspace_path,omitempty"`
	// Result holds the accepted output artifact after the task passes the quality gate.
	Result string `json:"result,omitempty"`
	// Simplified indicates a scope-reduction note has already been appended.
	Simplified bool `json:"simplified,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task was completed, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// UpdatedAt is when the task row was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Blocked reports whether the task's backoff window is still active at now.
func (t *Task) Blocked(now time.Time) bool {
	return t.BlockedUntil != nil && t.BlockedUntil.After(now)
}

// Terminal reports whether the task is in a state no agent will pull again.
func (t *Task) Terminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// ShortID returns the first 8 characters of the task ID, used in branch names.
func (t *Task) ShortID() string {
	if len(t.ID) <= 8 {
		return t.ID
	}
	return t.ID[:8]
}
