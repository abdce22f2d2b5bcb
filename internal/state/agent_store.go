package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/overseer/pkg/models"
)

const agentColumns = `id, name, role, status, team_id, manager_of_team, depth,
	lifecycle, created_by, max_concurrent, workspace_path, created_at`

// CreateAgent inserts a new agent.
func (db *DB) CreateAgent(a *models.Agent) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Name, a.Role, string(a.Status), a.TeamID, a.ManagerOfTeam, a.Depth,
		string(a.Lifecycle), a.CreatedBy, a.MaxConcurrent, a.WorkspacePath, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID. Returns ErrNotFound if no such agent exists.
func (db *DB) GetAgent(id string) (*models.Agent, error) {
	row := db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// UpdateAgent writes all mutable agent fields back to the store.
func (db *DB) UpdateAgent(a *models.Agent) error {
	res, err := db.Exec(`
		UPDATE agents SET name = ?, role = ?, status = ?, team_id = ?, manager_of_team = ?,
			depth = ?, lifecycle = ?, created_by = ?, max_concurrent = ?, workspace_path = ?
		WHERE id = ?
	`, a.Name, a.Role, string(a.Status), a.TeamID, a.ManagerOfTeam,
		a.Depth, string(a.Lifecycle), a.CreatedBy, a.MaxConcurrent, a.WorkspacePath, a.ID)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

// SetAgentStatus updates just the agent's status.
func (db *DB) SetAgentStatus(id string, status models.AgentStatus) error {
	res, err := db.Exec(`UPDATE agents SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set agent status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return nil
}

// RemoveAgent deletes an agent. Used when a temporary sub-agent's delegated
// subtasks have all resolved.
func (db *DB) RemoveAgent(id string) error {
	_, err := db.Exec(`DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove agent: %w", err)
	}
	return nil
}

// ListAgents lists all agents, oldest first.
func (db *DB) ListAgents() ([]models.Agent, error) {
	rows, err := db.Query(`SELECT ` + agentColumns + ` FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// ListAgentsCreatedBy lists the temporary sub-agents spawned by a parent agent.
func (db *DB) ListAgentsCreatedBy(parentID string) ([]models.Agent, error) {
	rows, err := db.Query(`SELECT `+agentColumns+` FROM agents WHERE created_by = ? ORDER BY created_at`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list agents created by %s: %w", parentID, err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// FindIdleTeammates lists idle agents on the given team, excluding one agent.
func (db *DB) FindIdleTeammates(teamID, excludeID string) ([]models.Agent, error) {
	if teamID == "" {
		return nil, nil
	}
	rows, err := db.Query(`
		SELECT `+agentColumns+` FROM agents
		WHERE team_id = ? AND id != ? AND status = ?
		ORDER BY created_at
	`, teamID, excludeID, string(models.AgentStatusIdle))
	if err != nil {
		return nil, fmt.Errorf("find idle teammates: %w", err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// TeamManager returns the designated manager of the given team, or
// ErrNotFound if the team has none.
func (db *DB) TeamManager(teamID string) (*models.Agent, error) {
	row := db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE manager_of_team = ? LIMIT 1`, teamID)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("manager of team %s: %w", teamID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("team manager: %w", err)
	}
	return a, nil
}

// scanAgent reads one agent row.
func scanAgent(row rowScanner) (*models.Agent, error) {
	var a models.Agent
	var role, teamID, managerOf, lifecycle, createdBy, workspacePath sql.NullString
	var createdAt string

	err := row.Scan(&a.ID, &a.Name, &role, &a.Status, &teamID, &managerOf, &a.Depth,
		&lifecycle, &createdBy, &a.MaxConcurrent, &workspacePath, &createdAt)
	if err != nil {
		return nil, err
	}

	a.Role = role.String
	a.TeamID = teamID.String
	a.ManagerOfTeam = managerOf.String
	a.Lifecycle = models.AgentLifecycle(lifecycle.String)
	a.CreatedBy = createdBy.String
	a.WorkspacePath = workspacePath.String
	a.CreatedAt, _ = parseTime(createdAt)
	return &a, nil
}

// scanAgents reads all agent rows.
func scanAgents(rows *sql.Rows) ([]models.Agent, error) {
	var agents []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}
