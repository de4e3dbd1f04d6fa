// Package checkpoint defines snapshot records used for fast session resume.
// A checkpoint is a cache of projected state, never authoritative: it can
// always be rebuilt by replaying the event log up to its timestamp.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskledger/taskledger/internal/domain"
	"github.com/taskledger/taskledger/internal/domain/memory"
)

// Trigger identifies why a checkpoint was taken.
type Trigger string

const (
	TriggerBatchCompleted Trigger = "batch_completed"
	TriggerWorkflowPaused Trigger = "workflow_paused"
	TriggerSessionEnd     Trigger = "session_end"
	TriggerManual         Trigger = "manual"
)

// Snapshot is the state captured by a checkpoint. Statuses are plain
// strings so the snapshot stays self-contained inside event payloads.
type Snapshot struct {
	WorkflowStatus string            `json:"workflow_status"`
	TaskStatuses   map[string]string `json:"task_statuses"`
	ActiveTaskID   string            `json:"active_task_id,omitempty"`
	Version        int               `json:"version"`
}

// Checkpoint is a stored snapshot plus optional cross-session context.
// State carries the full projected state serialized at capture time; a
// cold read seeds its rebuild from it and replays only the event tail.
type Checkpoint struct {
	ID         string                 `json:"id"`
	WorkflowID string                 `json:"workflow_id"`
	Trigger    Trigger                `json:"trigger"`
	Reason     string                 `json:"reason,omitempty"`
	Snapshot   Snapshot               `json:"snapshot"`
	State      json.RawMessage        `json:"state,omitempty"`
	Summary    string                 `json:"summary,omitempty"`
	Memory     []memory.Entry         `json:"memory,omitempty"`
	Session    *memory.SessionContext `json:"session,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Validate checks the trigger enum and attached memory entries.
func (c *Checkpoint) Validate() error {
	switch c.Trigger {
	case TriggerBatchCompleted, TriggerWorkflowPaused, TriggerSessionEnd, TriggerManual:
	default:
		return fmt.Errorf("invalid checkpoint trigger %q: %w", c.Trigger, domain.ErrValidation)
	}
	if c.WorkflowID == "" {
		return fmt.Errorf("checkpoint workflow_id is required: %w", domain.ErrValidation)
	}
	for i := range c.Memory {
		if err := c.Memory[i].Validate(); err != nil {
			return fmt.Errorf("memory entry %d: %w", i, err)
		}
	}
	return nil
}
