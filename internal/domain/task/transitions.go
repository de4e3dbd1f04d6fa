package task

import (
	"fmt"

	"github.com/taskledger/taskledger/internal/domain"
)

// transitions is the allowed status graph. blocked is handled separately
// because it returns to the prior status on unblock.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusBlocked, StatusSkipped, StatusFailed},
	StatusInProgress: {StatusVerifying, StatusReview, StatusCompleted, StatusFailed, StatusBlocked, StatusSkipped},
	StatusVerifying:  {StatusReview, StatusCompleted, StatusFailed, StatusInProgress},
	StatusReview:     {StatusCompleted, StatusFailed, StatusInProgress},
	StatusBlocked:    {StatusPending, StatusInProgress, StatusSkipped},
	// terminal statuses have no outgoing edges
	StatusCompleted: {},
	StatusFailed:    {},
	StatusSkipped:   {},
}

// forceTransitions are additionally allowed when the mutation carries the
// explicit force flag. Restarting a failed task is the retry path: retry is
// always an explicit new start, never automatic.
var forceTransitions = map[Status][]Status{
	StatusFailed: {StatusInProgress},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to Status, force bool) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	if force {
		for _, s := range forceTransitions[from] {
			if s == to {
				return true
			}
		}
	}
	return false
}

// Transition moves the task to the given status, recording the prior
// status when entering blocked so unblock can restore it.
func (t *Task) Transition(to Status, force bool) error {
	if !CanTransition(t.Status, to, force) {
		return fmt.Errorf("task %s: invalid transition %s -> %s: %w", t.ID, t.Status, to, domain.ErrValidation)
	}
	if to == StatusBlocked {
		t.PriorStatus = t.Status
	}
	if t.Status == StatusBlocked && to != StatusSkipped {
		// unblock must restore the recorded prior status
		if to != t.PriorStatus {
			return fmt.Errorf("task %s: unblock must return to %s, not %s: %w", t.ID, t.PriorStatus, to, domain.ErrValidation)
		}
		t.PriorStatus = ""
	}
	t.Status = to
	return nil
}
