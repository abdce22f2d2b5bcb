package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/overseer/internal/state"
	"github.com/ShayCichocki/overseer/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the agent pool and task backlog state",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	dbPath := state.ProjectDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No overseer state here. Run 'overseer tasks load <org.yaml>' to seed one.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	agents, err := db.ListAgents()
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	bold := color.New(color.Bold)
	bold.Println("Agents")
	if len(agents) == 0 {
		fmt.Println("  (none)")
	}
	for _, a := range agents {
		team := a.TeamID
		if team == "" {
			team = "-"
		}
		role := a.Role
		if a.IsManager() {
			role += " (manager)"
		}
		if a.Lifecycle == models.LifecycleTemporary {
			role += " [sub-agent]"
		}
		fmt.Printf("  %-24s %-22s %-12s %s\n", a.Name, role, team, agentStatusLabel(a.Status))
	}

	fmt.Println()
	bold.Println("Tasks")
	statuses := []models.TaskStatus{
		models.TaskStatusPending, models.TaskStatusReady, models.TaskStatusInProgress,
		models.TaskStatusReadyForReview, models.TaskStatusInReview,
		models.TaskStatusBlocked, models.TaskStatusCompleted, models.TaskStatusFailed,
	}
	for _, s := range statuses {
		tasks, err := db.ListTasksByStatus(s)
		if err != nil {
			return fmt.Errorf("count %s tasks: %w", s, err)
		}
		if len(tasks) == 0 {
			continue
		}
		fmt.Printf("  %-18s %d\n", string(s), len(tasks))
	}
	return nil
}

func agentStatusLabel(s models.AgentStatus) string {
	switch s {
	case models.AgentStatusWorking:
		return color.GreenString("working")
	case models.AgentStatusPaused:
		return color.YellowString("paused")
	case models.AgentStatusError:
		return color.RedString("error")
	default:
		return color.CyanString("idle")
	}
}
