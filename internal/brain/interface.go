// Package brain is the boundary to the reasoning engine that turns a task
// prompt into a code change or text artifact.
package brain

import "context"

// Result is the outcome of a single Brain execution.
type Result struct {
	// Output is the textual artifact the Brain produced.
	Output string
	// Success reports whether the Brain finished its run cleanly.
	Success bool
	// CostCents is the estimated API cost of this execution, in cents.
	CostCents float64
	// DurationMs is the wall-clock duration of the execution.
	DurationMs int64
}

// Brain executes a prompt inside a working directory and returns the
// produced artifact. Implementations must honor context cancellation.
type Brain interface {
	Execute(ctx context.Context, prompt, workDir string) (*Result, error)
}
