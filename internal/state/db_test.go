package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/overseer/pkg/models"
)

// openTestDB opens a migrated database in a temp directory.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	db := openTestDB(t)

	blocked := time.Now().Add(10 * time.Minute)
	task := &models.Task{
		ID:                  "task-1",
		Title:               "Add rate limiting",
		Description:         "Wrap the API client",
		Type:                models.TaskTypeImplementation,
		Status:              models.TaskStatusReady,
		Priority:            models.PriorityP2,
		AssignedAgent:       "agent-1",
		AssignedTeam:        "team-core",
		Project:             "gateway",
		AffectedFiles:       []string{"internal/api/client.go"},
		DependsOn:           []string{"task-0"},
		RequiredSkills:      []string{"go"},
		EstimatedComplexity: models.ComplexityHigh,
		StoryPoints:         5,
		BlockedUntil:        &blocked,
	}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != task.Title || got.Type != task.Type || got.Priority != task.Priority {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if len(got.AffectedFiles) != 1 || got.AffectedFiles[0] != "internal/api/client.go" {
		t.Errorf("affected files = %v", got.AffectedFiles)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != "task-0" {
		t.Errorf("depends on = %v", got.DependsOn)
	}
	if got.BlockedUntil == nil {
		t.Fatal("blocked until should survive the round trip")
	}

	got.Status = models.TaskStatusInProgress
	got.RetryCount = 2
	if err := db.UpdateTask(got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got2, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got2.Status != models.TaskStatusInProgress || got2.RetryCount != 2 {
		t.Errorf("update not persisted: %+v", got2)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetTask("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestConditionalClaim(t *testing.T) {
	db := openTestDB(t)

	task := &models.Task{
		ID:       "task-1",
		Title:    "claimable",
		Type:     models.TaskTypeImplementation,
		Status:   models.TaskStatusReady,
		Priority: models.PriorityP3,
	}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("create: %v", err)
	}

	expected := []models.TaskStatus{models.TaskStatusReady, models.TaskStatusPending}

	n, err := db.ConditionalClaim("task-1", expected, models.TaskStatusInProgress, "agent-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if n != 1 {
		t.Fatalf("first claim affected %d rows, want 1", n)
	}

	// A second claimant sees a stale status and must lose.
	n, err = db.ConditionalClaim("task-1", expected, models.TaskStatusInProgress, "agent-b")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if n != 0 {
		t.Fatalf("second claim affected %d rows, want 0", n)
	}

	got, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AssignedAgent != "agent-a" || got.Status != models.TaskStatusInProgress {
		t.Errorf("winner state: assigned=%s status=%s", got.AssignedAgent, got.Status)
	}
}

func TestConditionalClaimAllowsReclaimBySameAgent(t *testing.T) {
	db := openTestDB(t)

	task := &models.Task{
		ID:            "task-1",
		Title:         "assigned",
		Type:          models.TaskTypeImplementation,
		Status:        models.TaskStatusReady,
		Priority:      models.PriorityP3,
		AssignedAgent: "agent-a",
	}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("create: %v", err)
	}

	expected := []models.TaskStatus{models.TaskStatusReady}

	if n, _ := db.ConditionalClaim("task-1", expected, models.TaskStatusInProgress, "agent-b"); n != 0 {
		t.Error("foreign agent should not claim an assigned task")
	}
	if n, _ := db.ConditionalClaim("task-1", expected, models.TaskStatusInProgress, "agent-a"); n != 1 {
		t.Error("owning agent should reclaim its own task")
	}
}

func TestMarkCompletedIdempotent(t *testing.T) {
	db := openTestDB(t)

	blocked := time.Now().Add(time.Hour)
	task := &models.Task{
		ID:                  "task-1",
		Title:               "finishing",
		Type:                models.TaskTypeImplementation,
		Status:              models.TaskStatusInProgress,
		Priority:            models.PriorityP3,
		ConsecutiveFailures: 2,
		BlockedUntil:        &blocked,
	}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("create: %v", err)
	}

	first := time.Now()
	if err := db.MarkCompleted("task-1", first); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ := db.GetTask("task-1")
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("status = %s", got.Status)
	}
	if got.ConsecutiveFailures != 0 || got.BlockedUntil != nil {
		t.Errorf("failure state not cleared: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}

	// Completing again must not move the completion timestamp.
	if err := db.MarkCompleted("task-1", first.Add(time.Hour)); err != nil {
		t.Fatalf("second complete: %v", err)
	}
	got2, _ := db.GetTask("task-1")
	if !got2.CompletedAt.Equal(*got.CompletedAt) {
		t.Errorf("completed_at moved: %v -> %v", got.CompletedAt, got2.CompletedAt)
	}
}

func TestAgentRoundTrip(t *testing.T) {
	db := openTestDB(t)

	agent := &models.Agent{
		ID:            "agent-1",
		Name:          "ada",
		Role:          "coder",
		Status:        models.AgentStatusIdle,
		TeamID:        "team-core",
		ManagerOfTeam: "team-core",
		Depth:         0,
		Lifecycle:     models.LifecyclePermanent,
		MaxConcurrent: 1,
	}
	if err := db.CreateAgent(agent); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := db.GetAgent("agent-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "ada" || got.Lifecycle != models.LifecyclePermanent || !got.IsManager() {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if err := db.SetAgentStatus("agent-1", models.AgentStatusWorking); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, _ = db.GetAgent("agent-1")
	if got.Status != models.AgentStatusWorking {
		t.Errorf("status = %s", got.Status)
	}

	if err := db.RemoveAgent("agent-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := db.GetAgent("agent-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound after remove, got %v", err)
	}
}

func TestFindIdleTeammates(t *testing.T) {
	db := openTestDB(t)

	agents := []*models.Agent{
		{ID: "a1", Name: "ada", Status: models.AgentStatusIdle, TeamID: "team-core", Lifecycle: models.LifecyclePermanent},
		{ID: "a2", Name: "bob", Status: models.AgentStatusIdle, TeamID: "team-core", Lifecycle: models.LifecyclePermanent},
		{ID: "a3", Name: "cal", Status: models.AgentStatusWorking, TeamID: "team-core", Lifecycle: models.LifecyclePermanent},
		{ID: "a4", Name: "dee", Status: models.AgentStatusIdle, TeamID: "team-web", Lifecycle: models.LifecyclePermanent},
	}
	for _, a := range agents {
		if err := db.CreateAgent(a); err != nil {
			t.Fatalf("create %s: %v", a.ID, err)
		}
	}

	mates, err := db.FindIdleTeammates("team-core", "a1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(mates) != 1 || mates[0].ID != "a2" {
		t.Errorf("teammates = %+v, want just a2", mates)
	}

	mates, err = db.FindIdleTeammates("", "a1")
	if err != nil {
		t.Fatalf("find with no team: %v", err)
	}
	if len(mates) != 0 {
		t.Errorf("agent without team should have no teammates, got %d", len(mates))
	}
}

func TestTasksAssignedToOrdering(t *testing.T) {
	db := openTestDB(t)

	base := time.Now().Add(-time.Hour)
	tasks := []*models.Task{
		{ID: "t1", Title: "low", Type: models.TaskTypeImplementation, Status: models.TaskStatusReady, Priority: models.PriorityP4, AssignedAgent: "a1", CreatedAt: base},
		{ID: "t2", Title: "urgent", Type: models.TaskTypeImplementation, Status: models.TaskStatusReady, Priority: models.PriorityP1, AssignedAgent: "a1", CreatedAt: base.Add(time.Minute)},
		{ID: "t3", Title: "urgent-older", Type: models.TaskTypeImplementation, Status: models.TaskStatusReady, Priority: models.PriorityP1, AssignedAgent: "a1", CreatedAt: base.Add(-time.Minute)},
	}
	for _, task := range tasks {
		if err := db.CreateTask(task); err != nil {
			t.Fatalf("create %s: %v", task.ID, err)
		}
	}

	got, err := db.TasksAssignedTo("a1", models.TaskStatusReady)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d tasks", len(got))
	}
	if got[0].ID != "t3" || got[1].ID != "t2" || got[2].ID != "t1" {
		t.Errorf("order = %s, %s, %s; want t3, t2, t1", got[0].ID, got[1].ID, got[2].ID)
	}
}
