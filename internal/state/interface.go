// Package state provides SQLite-based persistence for the overseer core.
package state

import (
	"errors"
	"io"
	"time"

	"github.com/ShayCichocki/overseer/pkg/models"
)

// ErrNotFound is returned when a referenced task or agent does not exist.
// This is a caller error; it is surfaced immediately and never retried.
var ErrNotFound = errors.New("not found")

// TaskStore handles task-related persistence operations.
type TaskStore interface {
	CreateTask(t *models.Task) error
	GetTask(id string) (*models.Task, error)
	UpdateTask(t *models.Task) error
	ListTasksByParent(parentID string) ([]models.Task, error)
	ListTasksByStatus(statuses ...models.TaskStatus) ([]models.Task, error)

	// Allocation queries.
	TasksAssignedTo(agentID string, statuses ...models.TaskStatus) ([]models.Task, error)
	TeamEpics(teamID string) ([]models.Task, error)
	InProgressExcluding(agentID string) ([]models.Task, error)
	RecentCompletions(agentID string, limit int) ([]models.Task, error)
	UnassignedInProjects(projects []string, limit int) ([]models.Task, error)
	UnassignedBacklog(limit int) ([]models.Task, error)
	TeamProjects(teamID string) ([]string, error)

	// ConditionalClaim is the single compare-and-set used to serialize
	// contention; zero rows affected means the claim was lost.
	ConditionalClaim(id string, expected []models.TaskStatus, newStatus models.TaskStatus, agentID string) (int64, error)
	MarkCompleted(id string, at time.Time) error
	SaveResult(id, result string) error
}

// AgentStore handles agent-related persistence operations.
type AgentStore interface {
	CreateAgent(a *models.Agent) error
	GetAgent(id string) (*models.Agent, error)
	UpdateAgent(a *models.Agent) error
	SetAgentStatus(id string, status models.AgentStatus) error
	RemoveAgent(id string) error
	ListAgents() ([]models.Agent, error)
	ListAgentsCreatedBy(parentID string) ([]models.Agent, error)
	FindIdleTeammates(teamID, excludeID string) ([]models.Agent, error)
	TeamManager(teamID string) (*models.Agent, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store defines the full persistence interface. The core works against this
// interface so any backing store with a conditional write can serve it.
type Store interface {
	io.Closer
	Migrator
	TaskStore
	AgentStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store      = (*DB)(nil)
	_ Migrator   = (*DB)(nil)
	_ TaskStore  = (*DB)(nil)
	_ AgentStore = (*DB)(nil)
)
