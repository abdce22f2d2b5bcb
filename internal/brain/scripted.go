package brain

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedBrain replays canned results in order. It backs tests and dry
// runs where a live model call is unwanted.
type ScriptedBrain struct {
	mu      sync.Mutex
	results []*Result
	next    int
	// Prompts records every prompt received, in call order.
	Prompts []string
}

// NewScriptedBrain creates a brain that returns the given results in order.
func NewScriptedBrain(results ...*Result) *ScriptedBrain {
	return &ScriptedBrain{results: results}
}

// Execute returns the next scripted result. Calls past the end of the
// script fail.
func (s *ScriptedBrain) Execute(ctx context.Context, prompt, workDir string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Prompts = append(s.Prompts, prompt)
	if s.next >= len(s.results) {
		return nil, fmt.Errorf("scripted brain exhausted after %d calls", len(s.results))
	}
	res := s.results[s.next]
	s.next++
	return res, nil
}

// Calls returns how many times Execute has been invoked.
func (s *ScriptedBrain) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

var _ Brain = (*ScriptedBrain)(nil)
