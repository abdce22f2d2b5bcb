// Package gate validates a produced artifact before it is accepted as
// complete. Checks run in a fixed order and short-circuit on the first
// failure; only the cost check is non-retryable.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ShayCichocki/overseer/internal/brain"
	"github.com/ShayCichocki/overseer/internal/exec"
	"github.com/ShayCichocki/overseer/pkg/models"
)

const (
	// minOutputLen is the shortest Brain output accepted as a real artifact.
	minOutputLen = 10
	// costBudgetShare caps one execution at this share of the daily budget.
	costBudgetShare = 0.10
	// defaultToolTimeout bounds each external tool invocation.
	defaultToolTimeout = 5 * time.Minute
)

// Output shapes that mark a failed execution even when the Brain reported
// success: a leading error banner, or a fatal fragment anywhere.
var (
	errorPrefixes  = []string{"Error:", "error:"}
	errorFragments = []string{"permission denied", "command not found"}
)

// Result is the outcome of a gate run. It is consumed immediately by the
// orchestration cycle and never persisted.
type Result struct {
	// Passed reports whether every check succeeded.
	Passed bool
	// RetryEligible reports whether a retry could plausibly succeed.
	RetryEligible bool
	// Reason is a human-readable explanation of the first failed check.
	Reason string
	// Check names the check that failed, empty on pass.
	Check string
	// ErrorCount and WarningCount carry structured tool counts when available.
	ErrorCount   int
	WarningCount int
}

func pass() *Result {
	return &Result{Passed: true}
}

func fail(check, reason string, retryable bool) *Result {
	return &Result{Passed: false, RetryEligible: retryable, Reason: reason, Check: check}
}

// ToolConfig names the external quality tools. Empty commands disable the
// corresponding check.
type ToolConfig struct {
	// Lint is the lint invocation; affected file paths are appended.
	Lint []string
	// Typecheck is the type-checker invocation, run against the workspace.
	Typecheck []string
	// Test is the test-runner invocation, run against the workspace.
	Test []string
	// Timeout bounds each tool run. Defaults to 5 minutes.
	Timeout time.Duration
}

// DefaultToolConfig targets a Node/TypeScript workspace, the most common
// shape of the repositories agents operate on.
func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		Lint:      []string{"npx", "eslint", "--format", "json"},
		Typecheck: []string{"npx", "tsc", "--noEmit"},
		Test:      []string{"npx", "vitest", "run"},
		Timeout:   defaultToolTimeout,
	}
}

// checkFn is one gate check. input carries everything a check may consult.
type checkFn struct {
	name string
	run  func(ctx context.Context, in *input) *Result
}

type input struct {
	task        *models.Task
	result      *brain.Result
	budgetCents float64
	files       []string // affected files that exist in the workspace
}

// Gate runs the validation pipeline against a workspace.
type Gate struct {
	runner exec.CommandRunner
	tools  ToolConfig
	checks []checkFn
}

// New creates a Gate using the given command runner and tool configuration.
func New(runner exec.CommandRunner, tools ToolConfig) *Gate {
	if tools.Timeout <= 0 {
		tools.Timeout = defaultToolTimeout
	}
	g := &Gate{runner: runner, tools: tools}
	g.checks = []checkFn{
		{"output", g.checkOutput},
		{"error-patterns", g.checkErrorPatterns},
		{"cost", g.checkCost},
		{"lint", g.checkLint},
		{"typecheck", g.checkTypecheck},
		{"tests", g.checkTests},
	}
	return g
}

// Validate runs all checks in order and returns the first failure, or a
// passing result. budgetCents is the organization's daily budget; zero
// disables the cost check.
func (g *Gate) Validate(ctx context.Context, task *models.Task, result *brain.Result, budgetCents float64) *Result {
	in := &input{
		task:        task,
		result:      result,
		budgetCents: budgetCents,
		files:       existingAffectedFiles(task),
	}
	for _, c := range g.checks {
		if r := c.run(ctx, in); !r.Passed {
			return r
		}
	}
	return pass()
}

// checkOutput rejects empty or suspiciously short artifacts.
func (g *Gate) checkOutput(_ context.Context, in *input) *Result {
	out := strings.TrimSpace(in.result.Output)
	if len(out) == 0 {
		return fail("output", "empty output from execution", true)
	}
	if len(out) < minOutputLen {
		return fail("output", fmt.Sprintf("output suspiciously short (%d chars), treated as empty", len(out)), true)
	}
	return pass()
}

// checkErrorPatterns rejects output that looks like a tool-level failure.
func (g *Gate) checkErrorPatterns(_ context.Context, in *input) *Result {
	out := strings.TrimSpace(in.result.Output)
	for _, p := range errorPrefixes {
		if strings.HasPrefix(out, p) {
			return fail("error-patterns", fmt.Sprintf("output matches error pattern %q", p), true)
		}
	}
	for _, p := range errorFragments {
		if strings.Contains(out, p) {
			return fail("error-patterns", fmt.Sprintf("output matches error pattern %q", p), true)
		}
	}
	return pass()
}

// checkCost rejects executions whose cost would blow the daily budget if
// repeated. Retrying cannot make the work cheaper, so this is terminal.
func (g *Gate) checkCost(_ context.Context, in *input) *Result {
	if in.budgetCents <= 0 {
		return pass()
	}
	limit := in.budgetCents * costBudgetShare
	if in.result.CostCents > limit {
		return fail("cost",
			fmt.Sprintf("execution cost %.2f¢ exceeds %.0f%% of daily budget (%.2f¢)",
				in.result.CostCents, costBudgetShare*100, limit),
			false)
	}
	return pass()
}

// checkLint runs the lint tool over the affected files and requires zero
// errors. Tool output is parsed as eslint-style JSON when possible.
func (g *Gate) checkLint(ctx context.Context, in *input) *Result {
	if len(in.files) == 0 || len(g.tools.Lint) == 0 {
		return pass()
	}

	args := append(append([]string{}, g.tools.Lint[1:]...), in.files...)
	out, err := g.run(ctx, in.task.WorkspacePath, g.tools.Lint[0], args...)

	errors, warnings, parsed := parseLintJSON(out)
	if parsed {
		if errors > 0 {
			r := fail("lint", fmt.Sprintf("lint reported %d errors, %d warnings", errors, warnings), true)
			r.ErrorCount = errors
			r.WarningCount = warnings
			return r
		}
		return pass()
	}
	if err != nil {
		return fail("lint", fmt.Sprintf("lint failed: %s", firstLine(out, err)), true)
	}
	return pass()
}

// checkTypecheck runs the type-checker against the workspace.
func (g *Gate) checkTypecheck(ctx context.Context, in *input) *Result {
	if len(in.files) == 0 || len(g.tools.Typecheck) == 0 {
		return pass()
	}
	out, err := g.run(ctx, in.task.WorkspacePath, g.tools.Typecheck[0], g.tools.Typecheck[1:]...)
	if err != nil {
		return fail("typecheck", fmt.Sprintf("typecheck failed: %s", firstLine(out, err)), true)
	}
	return pass()
}

// checkTests runs the test suite when any affected file is a test file.
func (g *Gate) checkTests(ctx context.Context, in *input) *Result {
	if len(g.tools.Test) == 0 || !anyTestFile(in.files) {
		return pass()
	}
	out, err := g.run(ctx, in.task.WorkspacePath, g.tools.Test[0], g.tools.Test[1:]...)
	if err != nil {
		return fail("tests", fmt.Sprintf("tests failed: %s", firstLine(out, err)), true)
	}
	return pass()
}

func (g *Gate) run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.tools.Timeout)
	defer cancel()
	return g.runner.Run(ctx, dir, name, args...)
}

// existingAffectedFiles returns the task's affected files that exist on disk
// in its workspace. Files not yet created leave nothing to check.
func existingAffectedFiles(task *models.Task) []string {
	if task.WorkspacePath == "" {
		return nil
	}
	var files []string
	for _, f := range task.AffectedFiles {
		if _, err := os.Stat(filepath.Join(task.WorkspacePath, f)); err == nil {
			files = append(files, f)
		}
	}
	return files
}

// anyTestFile reports whether any file matches a test-file naming convention.
func anyTestFile(files []string) bool {
	for _, f := range files {
		base := filepath.Base(f)
		if strings.Contains(base, ".test.") || strings.Contains(base, ".spec.") ||
			strings.HasSuffix(base, "_test.go") {
			return true
		}
	}
	return false
}

// parseLintJSON extracts error/warning counts from eslint-style JSON output:
// an array of per-file objects with errorCount and warningCount fields.
func parseLintJSON(out []byte) (errors, warnings int, ok bool) {
	var entries []struct {
		ErrorCount   int `json:"errorCount"`
		WarningCount int `json:"warningCount"`
	}
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" || !strings.HasPrefix(trimmed, "[") {
		return 0, 0, false
	}
	if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
		return 0, 0, false
	}
	for _, e := range entries {
		errors += e.ErrorCount
		warnings += e.WarningCount
	}
	return errors, warnings, true
}

// firstLine condenses tool output (or its invocation error) to one line.
func firstLine(out []byte, err error) string {
	s := strings.TrimSpace(string(out))
	if s == "" && err != nil {
		return err.Error()
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
