package graph

import (
	"errors"
	"testing"
)

func TestValidateAcyclic(t *testing.T) {
	g := New()
	g.Add("a", nil)
	g.Add("b", []string{"a"})
	g.Add("c", []string{"a", "b"})

	if err := g.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateCycle(t *testing.T) {
	g := New()
	g.Add("a", []string{"c"})
	g.Add("b", []string{"a"})
	g.Add("c", []string{"b"})

	if err := g.Validate(); !errors.Is(err, ErrCycle) {
		t.Fatalf("Validate() = %v, want ErrCycle", err)
	}
}

func TestValidateSelfCycle(t *testing.T) {
	g := New()
	g.Add("a", []string{"a"})

	if err := g.Validate(); !errors.Is(err, ErrCycle) {
		t.Fatalf("Validate() = %v, want ErrCycle", err)
	}
}

func TestValidateIgnoresUnknownDeps(t *testing.T) {
	g := New()
	g.Add("a", []string{"external-task"})

	if err := g.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil for deps outside the graph", err)
	}
}

func TestTopologicalSort(t *testing.T) {
	g := New()
	g.Add("deploy", []string{"test"})
	g.Add("test", []string{"build"})
	g.Add("build", nil)

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort() error = %v", err)
	}
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if pos["build"] > pos["test"] || pos["test"] > pos["deploy"] {
		t.Fatalf("order %v does not respect dependencies", order)
	}
}

func TestTopologicalSortCycle(t *testing.T) {
	g := New()
	g.Add("a", []string{"b"})
	g.Add("b", []string{"a"})

	if _, err := g.TopologicalSort(); !errors.Is(err, ErrCycle) {
		t.Fatalf("TopologicalSort() error = %v, want ErrCycle", err)
	}
}

func TestDependents(t *testing.T) {
	g := New()
	g.Add("a", nil)
	g.Add("b", []string{"a"})
	g.Add("c", []string{"a"})

	deps := g.Dependents("a")
	if len(deps) != 2 {
		t.Fatalf("Dependents(a) = %v, want 2 entries", deps)
	}
}

func TestUnresolved(t *testing.T) {
	g := New()
	g.Add("c", []string{"a", "b"})

	done := map[string]bool{"a": true}
	got := g.Unresolved("c", func(id string) bool { return done[id] })
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("Unresolved(c) = %v, want [b]", got)
	}
}
