package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/overseer/internal/config"
	"github.com/ShayCichocki/overseer/internal/state"
	"github.com/ShayCichocki/overseer/pkg/models"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and seed the task backlog",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	RunE:  runTasksList,
}

var tasksLoadCmd = &cobra.Command{
	Use:   "load <org.yaml>",
	Short: "Seed agents and backlog tasks from an organization file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksLoad,
}

func init() {
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksLoadCmd)
}

func openProjectDB() (*state.DB, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	db, err := state.Open(state.ProjectDBPath(cwd))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func runTasksList(cmd *cobra.Command, args []string) error {
	db, err := openProjectDB()
	if err != nil {
		return err
	}
	defer db.Close()

	tasks, err := db.ListTasksByStatus(
		models.TaskStatusPending, models.TaskStatusReady, models.TaskStatusInProgress,
		models.TaskStatusReadyForReview, models.TaskStatusInReview,
		models.TaskStatusBlocked, models.TaskStatusCompleted, models.TaskStatusFailed,
	)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return nil
	}

	for _, t := range tasks {
		assignee := t.AssignedAgent
		if assignee == "" {
			assignee = "-"
		}
		fmt.Printf("%s  P%d  %-18s %-36s %s\n",
			t.ShortID(), t.Priority, taskStatusLabel(t.Status), truncate(t.Title, 36), assignee)
	}
	return nil
}

func runTasksLoad(cmd *cobra.Command, args []string) error {
	db, err := openProjectDB()
	if err != nil {
		return err
	}
	defer db.Close()

	createdAgents, createdTasks, err := seedFromFile(db, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Seeded %d agents and %d tasks from %s\n", createdAgents, createdTasks, args[0])
	return nil
}

// seedFromFile loads an organization file and creates any agents and tasks
// not already present. Re-loading the same file is a no-op.
func seedFromFile(db *state.DB, path string) (agents, tasks int, err error) {
	seed, err := config.LoadOrgSeed(path)
	if err != nil {
		return 0, 0, err
	}

	// Dedupe by name and title so re-loading an edited file only adds what
	// is new, regardless of generated ids.
	existingAgents, err := db.ListAgents()
	if err != nil {
		return 0, 0, fmt.Errorf("list agents: %w", err)
	}
	haveAgent := make(map[string]bool, len(existingAgents))
	for _, a := range existingAgents {
		haveAgent[a.Name] = true
	}
	existingTasks, err := db.ListTasksByStatus(
		models.TaskStatusPending, models.TaskStatusReady, models.TaskStatusInProgress,
		models.TaskStatusReadyForReview, models.TaskStatusInReview,
		models.TaskStatusBlocked, models.TaskStatusCompleted, models.TaskStatusFailed,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("list tasks: %w", err)
	}
	haveTask := make(map[string]bool, len(existingTasks))
	for _, t := range existingTasks {
		haveTask[t.Title] = true
	}

	now := time.Now()
	for _, agent := range seed.MaterializeAgents(now) {
		a := agent
		if haveAgent[a.Name] {
			continue
		}
		if err := db.CreateAgent(&a); err != nil {
			return agents, tasks, fmt.Errorf("create agent %s: %w", a.Name, err)
		}
		agents++
	}
	for _, task := range seed.MaterializeBacklog(now) {
		t := task
		if haveTask[t.Title] {
			continue
		}
		if err := db.CreateTask(&t); err != nil {
			return agents, tasks, fmt.Errorf("create task %q: %w", t.Title, err)
		}
		tasks++
	}
	return agents, tasks, nil
}

func taskStatusLabel(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusCompleted:
		return color.GreenString(string(s))
	case models.TaskStatusFailed, models.TaskStatusBlocked:
		return color.RedString(string(s))
	case models.TaskStatusInProgress, models.TaskStatusInReview:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
