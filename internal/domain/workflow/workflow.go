// Package workflow defines the aggregate root and the pure projection that
// rebuilds it from the event log.
package workflow

import (
	"time"

	"github.com/taskledger/taskledger/internal/domain/checkpoint"
	"github.com/taskledger/taskledger/internal/domain/memory"
	"github.com/taskledger/taskledger/internal/domain/task"
)

// Status represents the lifecycle state of a workflow.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusReady     Status = "ready"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusBlocked   Status = "blocked"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusArchived  Status = "archived"
)

// IsTerminal returns true if the workflow is in a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusArchived:
		return true
	}
	return false
}

// Stats are denormalized task counters, recomputed from task statuses on
// every applied event rather than mutated independently.
type Stats struct {
	TotalTasks     int `json:"total_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	BlockedTasks   int `json:"blocked_tasks"`
	FailedTasks    int `json:"failed_tasks"`
}

// Workflow is the aggregate root grouping an ordered set of tasks.
type Workflow struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Workspace    string    `json:"workspace,omitempty"`
	Status       Status    `json:"status"`
	TaskOrder    []string  `json:"task_order,omitempty"`
	Stats        Stats     `json:"stats"`
	ActiveTaskID string    `json:"active_task_id,omitempty"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// State is the full projected state of one workflow: the aggregate plus
// the task arena and the reflexion records attached along the way.
type State struct {
	Workflow Workflow              `json:"workflow"`
	Tasks    map[string]*task.Task `json:"tasks"`
	Mistakes []memory.Mistake      `json:"mistakes,omitempty"`
}

// Empty returns the zero state a stream folds over.
func Empty() State {
	return State{Tasks: make(map[string]*task.Task)}
}

// Clone returns a deep copy. Apply mutates only the clone, keeping the
// projection a pure function of (state, event).
func (s State) Clone() State {
	c := State{
		Workflow: s.Workflow,
		Tasks:    make(map[string]*task.Task, len(s.Tasks)),
		Mistakes: append([]memory.Mistake(nil), s.Mistakes...),
	}
	c.Workflow.TaskOrder = append([]string(nil), s.Workflow.TaskOrder...)
	for id, t := range s.Tasks {
		c.Tasks[id] = t.Clone()
	}
	return c
}

// Task returns the task with the given ID, if present.
func (s State) Task(id string) (*task.Task, bool) {
	t, ok := s.Tasks[id]
	return t, ok
}

// ReadySet returns task IDs that are pending with all dependencies
// completed, in insertion order.
func (s State) ReadySet() []string {
	return task.ReadySet(s.Tasks, s.Workflow.TaskOrder)
}

// Snapshot captures the checkpointable view of the state.
func (s State) Snapshot() checkpoint.Snapshot {
	statuses := make(map[string]string, len(s.Tasks))
	for id, t := range s.Tasks {
		statuses[id] = string(t.Status)
	}
	return checkpoint.Snapshot{
		WorkflowStatus: string(s.Workflow.Status),
		TaskStatuses:   statuses,
		ActiveTaskID:   s.Workflow.ActiveTaskID,
		Version:        s.Workflow.Version,
	}
}

// recompute refreshes the denormalized counters and the derived blocked
// status. A workflow shows blocked while every non-terminal task is
// blocked, and returns to active when any task becomes workable again.
func (s *State) recompute() {
	var st Stats
	nonTerminal, blockedNonTerminal := 0, 0
	for _, id := range s.Workflow.TaskOrder {
		t, ok := s.Tasks[id]
		if !ok {
			continue
		}
		st.TotalTasks++
		switch t.Status {
		case task.StatusCompleted:
			st.CompletedTasks++
		case task.StatusBlocked:
			st.BlockedTasks++
		case task.StatusFailed:
			st.FailedTasks++
		}
		if !t.Status.IsTerminal() {
			nonTerminal++
			if t.Status == task.StatusBlocked {
				blockedNonTerminal++
			}
		}
	}
	s.Workflow.Stats = st

	switch s.Workflow.Status {
	case StatusActive:
		if nonTerminal > 0 && blockedNonTerminal == nonTerminal {
			s.Workflow.Status = StatusBlocked
		}
	case StatusBlocked:
		if blockedNonTerminal < nonTerminal {
			s.Workflow.Status = StatusActive
		}
	}

	if s.Workflow.ActiveTaskID != "" {
		if t, ok := s.Tasks[s.Workflow.ActiveTaskID]; ok && t.Status.IsTerminal() {
			s.Workflow.ActiveTaskID = ""
		}
	}
}
