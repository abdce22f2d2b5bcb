package models

import "time"

// AgentStatus represents the current state of an agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent is waiting for work.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusWorking indicates the agent is executing a cycle.
	AgentStatusWorking AgentStatus = "working"
	// AgentStatusPaused indicates the agent is administratively stopped
	// and will skip cycles until resumed.
	AgentStatusPaused AgentStatus = "paused"
	// AgentStatusError indicates a condition outside the execution cycle's
	// control. The cycle itself never leaves an agent in this state.
	AgentStatusError AgentStatus = "error"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusWorking, AgentStatusPaused, AgentStatusError:
		return true
	default:
		return false
	}
}

// AgentLifecycle distinguishes durable agents from transient sub-agents.
type AgentLifecycle string

const (
	// LifecyclePermanent marks agents created at organization setup.
	LifecyclePermanent AgentLifecycle = "permanent"
	// LifecycleTemporary marks sub-agents created for a single delegation.
	LifecycleTemporary AgentLifecycle = "temporary"
)

// MaxAgentDepth is the deepest level in the agent tree. Root agents sit at
// depth 0; delegation may create agents at depth 1 and never deeper.
const MaxAgentDepth = 1

// Agent represents an autonomous executor that claims and executes tasks.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Name is the human-readable agent name, used in branch names.
	Name string `json:"name"`
	// Role describes the agent's specialization (e.g. "coder", "planner").
	Role string `json:"role,omitempty"`
	// Status is the current state of the agent.
	Status AgentStatus `json:"status"`
	// TeamID is the team this agent belongs to, if any.
	TeamID string `json:"team_id,omitempty"`
	// ManagerOfTeam is the team this agent manages, if any.
	ManagerOfTeam string `json:"manager_of_team,omitempty"`
	// Depth is the agent's level in the delegation tree (0 = root).
	Depth int `json:"depth"`
	// Lifecycle is permanent for durable agents, temporary for sub-agents.
	Lifecycle AgentLifecycle `json:"lifecycle"`
	// CreatedBy is the parent agent's ID for temporary agents.
	CreatedBy string `json:"created_by,omitempty"`
	// MaxConcurrent is the maximum number of tasks this agent may hold.
	MaxConcurrent int `json:"max_concurrent,omitempty"`
	// WorkspacePath is the agent's isolated workspace, once acquired.
	WorkspacePath string `json:"workspace_path,omitempty"`
	// CreatedAt is when the agent was created.
	CreatedAt time.Time `json:"created_at"`
}

// IsManager reports whether the agent is a team's designated manager.
func (a *Agent) IsManager() bool {
	return a.ManagerOfTeam != ""
}

// CanDelegate reports whether the agent may spawn sub-agents. Only root
// agents delegate; a sub-agent never triggers further delegation.
func (a *Agent) CanDelegate() bool {
	return a.Depth == 0
}
