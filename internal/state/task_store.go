package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/overseer/pkg/models"
)

// taskColumns is the canonical column list shared by all task SELECTs.
const taskColumns = `id, parent_id, title, description, type, status, priority,
	assigned_agent, assigned_team, project, affected_files, depends_on,
	required_skills, estimated_complexity, story_points, consecutive_failures,
	retry_count, review_count, blocked_until, workspace_path, result,
	simplified, error, created_at, completed_at, updated_at`

// CreateTask inserts a new task.
func (db *DB) CreateTask(t *models.Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.UpdatedAt = t.CreatedAt

	affected, _ := json.Marshal(t.AffectedFiles)
	depends, _ := json.Marshal(t.DependsOn)
	skills, _ := json.Marshal(t.RequiredSkills)

	_, err := db.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ParentID, t.Title, t.Description, string(t.Type), string(t.Status), int(t.Priority),
		t.AssignedAgent, t.AssignedTeam, t.Project, string(affected), string(depends),
		string(skills), t.EstimatedComplexity, t.StoryPoints, t.ConsecutiveFailures,
		t.RetryCount, t.ReviewCount, nullableTime(t.BlockedUntil), t.WorkspacePath, t.Result,
		boolToInt(t.Simplified), t.Error, formatTime(t.CreatedAt), nullableTime(t.CompletedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID. Returns ErrNotFound if no such task exists.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// UpdateTask writes all mutable task fields back to the store.
func (db *DB) UpdateTask(t *models.Task) error {
	t.UpdatedAt = time.Now()

	affected, _ := json.Marshal(t.AffectedFiles)
	depends, _ := json.Marshal(t.DependsOn)
	skills, _ := json.Marshal(t.RequiredSkills)

	res, err := db.Exec(`
		UPDATE tasks SET parent_id = ?, title = ?, description = ?, type = ?, status = ?,
			priority = ?, assigned_agent = ?, assigned_team = ?, project = ?,
			affected_files = ?, depends_on = ?, required_skills = ?,
			estimated_complexity = ?, story_points = ?, consecutive_failures = ?,
			retry_count = ?, review_count = ?, blocked_until = ?, workspace_path = ?,
			result = ?, simplified = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, t.ParentID, t.Title, t.Description, string(t.Type), string(t.Status),
		int(t.Priority), t.AssignedAgent, t.AssignedTeam, t.Project,
		string(affected), string(depends), string(skills),
		t.EstimatedComplexity, t.StoryPoints, t.ConsecutiveFailures,
		t.RetryCount, t.ReviewCount, nullableTime(t.BlockedUntil), t.WorkspacePath,
		t.Result, boolToInt(t.Simplified), t.Error, nullableTime(t.CompletedAt), formatTime(t.UpdatedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// ConditionalClaim atomically assigns the task to an agent if its status is
// still in the expected set and it is unassigned or already assigned to the
// claimant. Returns the number of rows affected; zero means the task was
// claimed concurrently.
func (db *DB) ConditionalClaim(id string, expected []models.TaskStatus, newStatus models.TaskStatus, agentID string) (int64, error) {
	placeholders := make([]string, len(expected))
	args := []any{string(newStatus), agentID, formatTime(time.Now()), id}
	for i, s := range expected {
		placeholders[i] = "?"
		args = append(args, string(s))
	}
	args = append(args, agentID)

	res, err := db.Exec(`
		UPDATE tasks SET status = ?, assigned_agent = ?, updated_at = ?
		WHERE id = ?
		  AND status IN (`+strings.Join(placeholders, ", ")+`)
		  AND (assigned_agent IS NULL OR assigned_agent = '' OR assigned_agent = ?)
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("conditional claim: %w", err)
	}
	return res.RowsAffected()
}

// MarkCompleted sets the task completed and clears failure state. The
// completion timestamp is only written once; repeat calls leave it untouched.
func (db *DB) MarkCompleted(id string, at time.Time) error {
	res, err := db.Exec(`
		UPDATE tasks SET status = ?, consecutive_failures = 0, blocked_until = NULL,
			error = '', completed_at = COALESCE(completed_at, ?), updated_at = ?
		WHERE id = ?
	`, string(models.TaskStatusCompleted), formatTime(at), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveResult stores the accepted output artifact for a task.
func (db *DB) SaveResult(id, result string) error {
	_, err := db.Exec(`UPDATE tasks SET result = ?, updated_at = ? WHERE id = ?`,
		result, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// ListTasksByParent lists all tasks with a given parent, oldest first.
func (db *DB) ListTasksByParent(parentID string) ([]models.Task, error) {
	rows, err := db.Query(`SELECT `+taskColumns+` FROM tasks WHERE parent_id = ? ORDER BY created_at`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by parent: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListTasksByStatus lists all tasks in any of the given statuses, oldest first.
func (db *DB) ListTasksByStatus(statuses ...models.TaskStatus) ([]models.Task, error) {
	if len(statuses) == 0 {
		rows, err := db.Query(`SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at`)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		defer rows.Close()
		return scanTasks(rows)
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "?"
		args[i] = string(s)
	}
	rows, err := db.Query(`SELECT `+taskColumns+` FROM tasks WHERE status IN (`+
		strings.Join(placeholders, ", ")+`) ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// TasksAssignedTo lists tasks assigned to the agent in any of the given
// statuses, ordered by priority tier then creation time.
func (db *DB) TasksAssignedTo(agentID string, statuses ...models.TaskStatus) ([]models.Task, error) {
	placeholders := make([]string, len(statuses))
	args := []any{agentID}
	for i, s := range statuses {
		placeholders[i] = "?"
		args = append(args, string(s))
	}
	rows, err := db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE assigned_agent = ? AND status IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY priority, created_at
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("tasks assigned to %s: %w", agentID, err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// TeamEpics lists team-epic tasks assigned to the given team that are still
// open for allocation.
func (db *DB) TeamEpics(teamID string) ([]models.Task, error) {
	rows, err := db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE assigned_team = ? AND type = ? AND status IN (?, ?)
		ORDER BY priority, created_at
	`, teamID, string(models.TaskTypeTeamEpic),
		string(models.TaskStatusReady), string(models.TaskStatusPending))
	if err != nil {
		return nil, fmt.Errorf("team epics for %s: %w", teamID, err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// InProgressExcluding lists tasks currently claimed by agents other than the
// given one. Used for the advisory file-lock scan at allocation time.
func (db *DB) InProgressExcluding(agentID string) ([]models.Task, error) {
	rows, err := db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE status IN (?, ?) AND assigned_agent != '' AND assigned_agent IS NOT NULL AND assigned_agent != ?
	`, string(models.TaskStatusInProgress), string(models.TaskStatusInReview), agentID)
	if err != nil {
		return nil, fmt.Errorf("in-progress tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// RecentCompletions lists the agent's most recently completed tasks,
// newest first, capped at limit.
func (db *DB) RecentCompletions(agentID string, limit int) ([]models.Task, error) {
	rows, err := db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE assigned_agent = ? AND status = ?
		ORDER BY completed_at DESC LIMIT ?
	`, agentID, string(models.TaskStatusCompleted), limit)
	if err != nil {
		return nil, fmt.Errorf("recent completions for %s: %w", agentID, err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// UnassignedInProjects lists unassigned, non-epic open tasks in any of the
// given projects.
func (db *DB) UnassignedInProjects(projects []string, limit int) ([]models.Task, error) {
	if len(projects) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(projects))
	args := []any{string(models.TaskTypeTeamEpic), string(models.TaskStatusReady), string(models.TaskStatusPending)}
	for i, p := range projects {
		placeholders[i] = "?"
		args = append(args, p)
	}
	args = append(args, limit)
	rows, err := db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE (assigned_agent = '' OR assigned_agent IS NULL) AND type != ?
		  AND status IN (?, ?) AND project IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY priority, created_at LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("unassigned tasks in projects: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// UnassignedBacklog lists unassigned, non-epic open tasks organization-wide.
func (db *DB) UnassignedBacklog(limit int) ([]models.Task, error) {
	rows, err := db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE (assigned_agent = '' OR assigned_agent IS NULL) AND type != ?
		  AND status IN (?, ?)
		ORDER BY priority, created_at LIMIT ?
	`, string(models.TaskTypeTeamEpic), string(models.TaskStatusReady),
		string(models.TaskStatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("unassigned backlog: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// TeamProjects lists the distinct projects that have tasks owned by the
// given team.
func (db *DB) TeamProjects(teamID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT DISTINCT project FROM tasks
		WHERE assigned_team = ? AND project != '' AND project IS NOT NULL
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("team projects for %s: %w", teamID, err)
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task row.
func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var parentID, description, taskType, assignedAgent, assignedTeam, project sql.NullString
	var affected, depends, skills, complexity, workspacePath, result, errMsg sql.NullString
	var blockedUntil, completedAt sql.NullString
	var simplified int
	var priority int
	var createdAt, updatedAt string

	err := row.Scan(&t.ID, &parentID, &t.Title, &description, &taskType, &t.Status, &priority,
		&assignedAgent, &assignedTeam, &project, &affected, &depends,
		&skills, &complexity, &t.StoryPoints, &t.ConsecutiveFailures,
		&t.RetryCount, &t.ReviewCount, &blockedUntil, &workspacePath, &result,
		&simplified, &errMsg, &createdAt, &completedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.ParentID = parentID.String
	t.Description = description.String
	t.Type = models.TaskType(taskType.String)
	t.Priority = models.Priority(priority)
	t.AssignedAgent = assignedAgent.String
	t.AssignedTeam = assignedTeam.String
	t.Project = project.String
	if affected.Valid && affected.String != "" {
		json.Unmarshal([]byte(affected.String), &t.AffectedFiles)
	}
	if depends.Valid && depends.String != "" {
		json.Unmarshal([]byte(depends.String), &t.DependsOn)
	}
	if skills.Valid && skills.String != "" {
		json.Unmarshal([]byte(skills.String), &t.RequiredSkills)
	}
	t.EstimatedComplexity = complexity.String
	t.WorkspacePath = workspacePath.String
	t.Result = result.String
	t.Simplified = simplified != 0
	t.Error = errMsg.String
	t.BlockedUntil = parseNullableTime(blockedUntil)
	t.CreatedAt, _ = parseTime(createdAt)
	t.CompletedAt = parseNullableTime(completedAt)
	t.UpdatedAt, _ = parseTime(updatedAt)
	return &t, nil
}

// scanTasks reads all task rows.
func scanTasks(rows *sql.Rows) ([]models.Task, error) {
	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
