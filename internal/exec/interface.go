// Package exec abstracts subprocess invocation so quality tools and git
// can be faked in tests.
package exec

import "context"

// CommandRunner runs external commands scoped to a working directory.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The context bounds the command's lifetime.
	Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error)
	// LookPath reports whether a command is available on PATH.
	LookPath(name string) bool
}
