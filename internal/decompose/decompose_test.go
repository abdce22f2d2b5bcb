package decompose

import (
	"path/filepath"
	"testing"

	"github.com/ShayCichocki/overseer/internal/state"
	"github.com/ShayCichocki/overseer/pkg/models"
)

func openTestStore(t *testing.T) *state.DB {
	t.Helper()

	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestDecomposeChainsSubtasks(t *testing.T) {
	db := openTestStore(t)
	parent := &models.Task{
		ID:            "parent",
		Title:         "Build the payment flow",
		Type:          models.TaskTypeImplementation,
		Status:        models.TaskStatusInProgress,
		Priority:      models.PriorityP1,
		Project:       "gateway",
		AssignedTeam:  "team-core",
		AffectedFiles: []string{"src/pay.ts"},
	}
	if err := db.CreateTask(parent); err != nil {
		t.Fatalf("create parent: %v", err)
	}

	d := New(db)
	res, err := d.Decompose("parent", []SubtaskSpec{
		{Title: "Research payment providers", Type: models.TaskTypeResearch},
		{Title: "Implement the flow", Type: models.TaskTypeImplementation},
		{Title: "Review the implementation", Type: models.TaskTypeReview},
	})
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if !res.Success || len(res.Created) != 3 {
		t.Fatalf("result = %+v", res)
	}

	subs, err := db.ListTasksByParent("parent")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 3 {
		t.Fatalf("persisted %d subtasks", len(subs))
	}

	for i, sub := range res.Created {
		if sub.ParentID != "parent" {
			t.Errorf("subtask %d parent = %q", i, sub.ParentID)
		}
		if sub.Status != models.TaskStatusReady {
			t.Errorf("subtask %d status = %s", i, sub.Status)
		}
		if sub.Priority != models.PriorityP1 || sub.Project != "gateway" {
			t.Errorf("subtask %d did not inherit parent fields: %+v", i, sub)
		}
		if i == 0 && len(sub.DependsOn) != 0 {
			t.Errorf("first subtask should have no dependencies, got %v", sub.DependsOn)
		}
		if i > 0 {
			if len(sub.DependsOn) != 1 || sub.DependsOn[0] != res.Created[i-1].ID {
				t.Errorf("subtask %d should depend on its predecessor, got %v", i, sub.DependsOn)
			}
		}
	}
}

func TestDecomposeUnknownParent(t *testing.T) {
	db := openTestStore(t)
	d := New(db)
	if _, err := d.Decompose("ghost", []SubtaskSpec{{Title: "x"}}); err == nil {
		t.Error("want error for missing parent")
	}
}

func TestDecomposeEmptySpecs(t *testing.T) {
	db := openTestStore(t)
	if err := db.CreateTask(&models.Task{ID: "parent", Title: "p",
		Type: models.TaskTypeImplementation, Status: models.TaskStatusInProgress,
		Priority: models.PriorityP3}); err != nil {
		t.Fatal(err)
	}
	d := New(db)
	if _, err := d.Decompose("parent", nil); err == nil {
		t.Error("want error for empty specs")
	}
}

func TestRemoveRollsBackSubtasks(t *testing.T) {
	db := openTestStore(t)
	if err := db.CreateTask(&models.Task{ID: "parent", Title: "p",
		Type: models.TaskTypeImplementation, Status: models.TaskStatusInProgress,
		Priority: models.PriorityP3}); err != nil {
		t.Fatal(err)
	}

	d := New(db)
	res, err := d.Decompose("parent", []SubtaskSpec{
		{Title: "a", Type: models.TaskTypeResearch},
		{Title: "b", Type: models.TaskTypeImplementation},
	})
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}

	if err := d.Remove(res.Created); err != nil {
		t.Fatalf("remove: %v", err)
	}
	for _, sub := range res.Created {
		got, err := db.GetTask(sub.ID)
		if err != nil {
			t.Fatalf("get %s: %v", sub.ID, err)
		}
		if got.Status != models.TaskStatusFailed {
			t.Errorf("subtask %s status = %s after rollback", sub.ID, got.Status)
		}
	}
}
