package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/overseer/internal/allocator"
	"github.com/ShayCichocki/overseer/internal/brain"
	"github.com/ShayCichocki/overseer/internal/config"
	"github.com/ShayCichocki/overseer/internal/decompose"
	"github.com/ShayCichocki/overseer/internal/escalate"
	"github.com/ShayCichocki/overseer/internal/exec"
	"github.com/ShayCichocki/overseer/internal/gate"
	"github.com/ShayCichocki/overseer/internal/orchestrator"
	"github.com/ShayCichocki/overseer/internal/state"
	"github.com/ShayCichocki/overseer/internal/workspace"
	"github.com/ShayCichocki/overseer/pkg/models"
)

var (
	runOrgFile string
	runWatch   bool
	runOnce    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent pool against the task backlog",
	Long: `Run starts the cycle scheduler: every tick, each agent gets one
orchestration cycle. Agents pull work, execute it in isolated worktrees,
and escalate failures. Stop with Ctrl-C; in-flight cycles finish first.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runOrgFile, "org", "", "Organization seed file to load before starting")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Reload the seed file when it changes")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single scheduler tick and exit")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	db, err := openProjectDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if runOrgFile != "" {
		agents, tasks, err := seedFromFile(db, runOrgFile)
		if err != nil {
			return err
		}
		if agents > 0 || tasks > 0 {
			fmt.Printf("Seeded %d agents and %d tasks\n", agents, tasks)
		}
	}

	ws, err := workspace.NewManager("", cwd)
	if err != nil {
		return err
	}

	// Recover from crashes: drop worktrees no live agent owns.
	agents, err := db.ListAgents()
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	live := make([]*models.Agent, len(agents))
	for i := range agents {
		live[i] = &agents[i]
	}
	if removed, err := ws.CleanupOrphans(live); err != nil {
		fmt.Fprintf(os.Stderr, "orphan cleanup: %v\n", err)
	} else if removed > 0 {
		fmt.Printf("Removed %d orphaned workspaces\n", removed)
	}

	engine, err := brain.NewAnthropicBrain(brain.AnthropicConfig{APIKey: cfg.Anthropic.APIKey})
	if err != nil {
		return err
	}

	logger := orchestrator.NewDebugLoggerForProject(cwd)
	defer logger.Close()

	orch := orchestrator.New(orchestrator.Config{
		Store:      db,
		Allocator:  allocator.New(db),
		Workspaces: ws,
		Brain:      engine,
		Gate: gate.New(exec.NewRunner(), gate.ToolConfig{
			Lint:      cfg.Tools.Lint,
			Typecheck: cfg.Tools.Typecheck,
			Test:      cfg.Tools.Test,
			Timeout:   cfg.Timeouts.Tool,
		}),
		Policy:       escalate.New(db, escalate.NewHistory(), nil),
		Decomposer:   decompose.New(db),
		BudgetCents:  cfg.Budget.DailyCents,
		BrainTimeout: cfg.Timeouts.Brain,
		Logger:       logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var watchCh <-chan fsnotify.Event
	if runWatch && runOrgFile != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Add(runOrgFile); err != nil {
			return fmt.Errorf("watch %s: %w", runOrgFile, err)
		}
		watchCh = watcher.Events
	}

	ticker := time.NewTicker(cfg.Scheduler.TickInterval)
	defer ticker.Stop()

	fmt.Printf("Scheduler running (tick %s). Ctrl-C to stop.\n", cfg.Scheduler.TickInterval)
	for {
		tick(ctx, db, orch, logger)
		if runOnce {
			return nil
		}

		select {
		case <-ctx.Done():
			fmt.Println("\nStopping.")
			return nil
		case <-ticker.C:
		case ev := <-watchCh:
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if agents, tasks, err := seedFromFile(db, runOrgFile); err != nil {
					fmt.Fprintf(os.Stderr, "reload %s: %v\n", runOrgFile, err)
				} else if agents > 0 || tasks > 0 {
					fmt.Printf("Reloaded seed: +%d agents, +%d tasks\n", agents, tasks)
				}
			}
		}
	}
}

// tick runs one cycle per agent, concurrently. The task store's conditional
// claim is the only cross-agent coordination.
func tick(ctx context.Context, db *state.DB, orch *orchestrator.Orchestrator, logger *orchestrator.DebugLogger) {
	agents, err := db.ListAgents()
	if err != nil {
		logger.Log("tick: list agents: %v", err)
		return
	}

	var wg sync.WaitGroup
	for _, agent := range agents {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := orch.RunCycle(ctx, id); err != nil {
				logger.Log("tick: agent %s: %v", id, err)
			}
		}(agent.ID)
	}
	wg.Wait()

	reapSubAgents(db, logger)
}

// reapSubAgents removes temporary sub-agents whose assigned work is all
// finished. Their shared workspace belongs to the parent and stays.
func reapSubAgents(db *state.DB, logger *orchestrator.DebugLogger) {
	agents, err := db.ListAgents()
	if err != nil {
		logger.Log("reap: list agents: %v", err)
		return
	}
	for _, a := range agents {
		if a.Lifecycle != models.LifecycleTemporary {
			continue
		}
		open, err := db.TasksAssignedTo(a.ID,
			models.TaskStatusPending, models.TaskStatusReady, models.TaskStatusInProgress,
			models.TaskStatusReadyForReview, models.TaskStatusInReview)
		if err != nil {
			logger.Log("reap: tasks for %s: %v", a.ID, err)
			continue
		}
		if len(open) > 0 {
			continue
		}
		if err := db.RemoveAgent(a.ID); err != nil {
			logger.Log("reap: remove %s: %v", a.ID, err)
			continue
		}
		logger.Log("reaped sub-agent %s", a.Name)
	}
}
