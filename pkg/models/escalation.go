package models

import "time"

// EscalationLevel identifies one rung of the five-level escalation ladder.
type EscalationLevel int

const (
	// EscalationSelfResolve retries the task with the same agent.
	EscalationSelfResolve EscalationLevel = 1
	// EscalationTeam returns the task to the pool for idle teammates.
	EscalationTeam EscalationLevel = 2
	// EscalationTeamLeader routes the task to the team manager for review.
	EscalationTeamLeader EscalationLevel = 3
	// EscalationOrganization blocks the task for administrator attention.
	EscalationOrganization EscalationLevel = 4
	// EscalationHuman blocks the task and flags it for external notification.
	EscalationHuman EscalationLevel = 5
)

// Valid returns true if the level is in the 1..5 range.
func (l EscalationLevel) Valid() bool {
	return l >= EscalationSelfResolve && l <= EscalationHuman
}

// EscalationAction is the concrete response chosen for a failed cycle.
type EscalationAction string

const (
	// ActionRetry re-queues the task for the same agent.
	ActionRetry EscalationAction = "retry"
	// ActionReassign unassigns the task so a teammate can claim it.
	ActionReassign EscalationAction = "reassign"
	// ActionDecompose splits an oversized task into subtasks.
	ActionDecompose EscalationAction = "decompose"
	// ActionSimplify appends a scope-reduction note to the task.
	ActionSimplify EscalationAction = "simplify"
	// ActionEscalateToLeader hands the task to the team manager.
	ActionEscalateToLeader EscalationAction = "escalate-to-leader"
	// ActionEscalateToOrg blocks the task for administrator attention.
	ActionEscalateToOrg EscalationAction = "escalate-to-org"
	// ActionRequestHuman blocks the task and requests human intervention.
	ActionRequestHuman EscalationAction = "request-human"
)

// EscalationRecord is an immutable audit entry for one escalation call.
// Records live for the lifetime of a task's resolution; they are not
// persisted across process restarts.
type EscalationRecord struct {
	// TaskID is the escalated task.
	TaskID string `json:"task_id"`
	// AgentID is the agent whose cycle failed.
	AgentID string `json:"agent_id"`
	// Level is the ladder rung that handled the escalation.
	Level EscalationLevel `json:"level"`
	// Reason is the caller-supplied failure description.
	Reason string `json:"reason"`
	// Action is the response that was taken.
	Action EscalationAction `json:"action"`
	// Timestamp is when the escalation was recorded.
	Timestamp time.Time `json:"timestamp"`
}
