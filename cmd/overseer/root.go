package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "overseer",
	Short: "Autonomous agent-pool orchestrator",
	Long: `Overseer runs a pool of autonomous agents against a shared task backlog.

Each agent repeatedly pulls the most relevant task it is allowed to work on,
executes it in an isolated git worktree via the reasoning engine, validates
the produced artifact through a quality gate, and either completes the task
or escalates the failure. Oversized tasks are split across transient
sub-agents instead of executed directly.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(versionCmd)
}
