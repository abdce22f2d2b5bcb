// Package graph models "blocked by" relationships between tasks.
package graph

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCycle indicates a circular dependency.
var ErrCycle = errors.New("circular dependency detected")

// DependencyGraph is a directed graph of task ids. An edge from A to B
// means A depends on B.
type DependencyGraph struct {
	mu    sync.RWMutex
	edges map[string][]string
}

// New creates an empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{edges: make(map[string][]string)}
}

// Add registers a task and the ids it depends on. Dependencies on ids
// never added as nodes are tolerated; they may refer to tasks that
// already exist elsewhere.
func (g *DependencyGraph) Add(id string, dependsOn []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[id] = append(g.edges[id], dependsOn...)
}

// Validate returns ErrCycle if the graph contains a circular dependency.
func (g *DependencyGraph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// DFS coloring: 0 unvisited, 1 on the current path, 2 done.
	colors := make(map[string]int, len(g.edges))
	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, dep := range g.edges[id] {
			if _, known := g.edges[dep]; !known {
				continue
			}
			switch colors[dep] {
			case 1:
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}
	for id := range g.edges {
		if colors[id] == 0 && visit(id) {
			return ErrCycle
		}
	}
	return nil
}

// TopologicalSort returns the known ids ordered so every dependency
// precedes its dependents.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool, len(g.edges))
	order := make([]string, 0, len(g.edges))
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range g.edges[id] {
			if _, known := g.edges[dep]; known {
				visit(dep)
			}
		}
		order = append(order, id)
	}
	for id := range g.edges {
		visit(id)
	}
	return order, nil
}

// Dependents returns the ids that depend on the given id.
func (g *DependencyGraph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	for node, deps := range g.edges {
		for _, dep := range deps {
			if dep == id {
				out = append(out, node)
				break
			}
		}
	}
	return out
}

// Unresolved returns the dependencies of id whose completion cannot be
// proven by the given predicate.
func (g *DependencyGraph) Unresolved(id string, completed func(string) bool) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	for _, dep := range g.edges[id] {
		if !completed(dep) {
			out = append(out, dep)
		}
	}
	return out
}

// Size returns the number of registered nodes.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// String describes the graph for debug output.
func (g *DependencyGraph) String() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fmt.Sprintf("graph(%d nodes)", len(g.edges))
}
