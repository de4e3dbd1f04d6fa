package task

import (
	"fmt"

	"github.com/taskledger/taskledger/internal/domain"
)

// ValidateAcyclic checks that adding a task with the given dependencies
// keeps the workflow's dependency graph a DAG, using Kahn's algorithm over
// the existing arena plus the candidate edges. Dependencies must reference
// tasks that already exist in the same workflow.
func ValidateAcyclic(arena map[string]*Task, newID string, dependsOn []string) error {
	if _, exists := arena[newID]; exists {
		return fmt.Errorf("task %s already exists: %w", newID, domain.ErrValidation)
	}

	for _, dep := range dependsOn {
		if dep == newID {
			return fmt.Errorf("task %s depends on itself: %w", newID, domain.ErrValidation)
		}
		if _, ok := arena[dep]; !ok {
			return fmt.Errorf("task %s depends on unknown task %s: %w", newID, dep, domain.ErrValidation)
		}
	}

	// Build adjacency including the candidate node.
	inDegree := make(map[string]int, len(arena)+1)
	adj := make(map[string][]string, len(arena)+1)
	for id, t := range arena {
		inDegree[id] += 0
		for _, dep := range t.DependsOn {
			adj[dep] = append(adj[dep], id)
			inDegree[id]++
		}
	}
	inDegree[newID] += 0
	for _, dep := range dependsOn {
		adj[dep] = append(adj[dep], newID)
		inDegree[newID]++
	}

	queue := make([]string, 0, len(inDegree))
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(inDegree) {
		return fmt.Errorf("task %s: dependencies would create a cycle: %w", newID, domain.ErrValidation)
	}
	return nil
}

// DependenciesSatisfied reports whether every dependency of t is completed.
func DependenciesSatisfied(arena map[string]*Task, t *Task) bool {
	for _, dep := range t.DependsOn {
		d, ok := arena[dep]
		if !ok || d.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// ReadySet returns the IDs of tasks that are pending with all dependencies
// completed, in workflow insertion order. It is recomputed on demand and
// never cached as a stored field.
func ReadySet(arena map[string]*Task, order []string) []string {
	var ready []string
	for _, id := range order {
		t, ok := arena[id]
		if !ok || t.Status != StatusPending {
			continue
		}
		if DependenciesSatisfied(arena, t) {
			ready = append(ready, id)
		}
	}
	return ready
}

// Batches chunks the ready set into groups of at most size. Tasks within
// one batch never depend on each other: a ready task's dependencies are
// all completed, and every other ready task is still pending.
func Batches(ready []string, size int) [][]string {
	if size <= 0 {
		size = 3
	}
	var batches [][]string
	for len(ready) > 0 {
		n := size
		if n > len(ready) {
			n = len(ready)
		}
		batches = append(batches, ready[:n])
		ready = ready[n:]
	}
	return batches
}
