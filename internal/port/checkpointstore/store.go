// Package checkpointstore defines the port interface for checkpoint storage.
package checkpointstore

import (
	"context"

	"github.com/taskledger/taskledger/internal/domain/checkpoint"
)

// Store is a simple keyed checkpoint store. Checkpoints are caches of
// projected state; losing them costs a full replay, never data.
type Store interface {
	// Save persists a checkpoint.
	Save(ctx context.Context, cp *checkpoint.Checkpoint) error

	// Get returns the checkpoint with the given ID.
	Get(ctx context.Context, id string) (*checkpoint.Checkpoint, error)

	// ListByWorkflow returns a workflow's checkpoints in chronological order.
	ListByWorkflow(ctx context.Context, workflowID string) ([]checkpoint.Checkpoint, error)

	// Latest returns the most recent checkpoint for a workflow, or
	// domain.ErrNotFound when none exists.
	Latest(ctx context.Context, workflowID string) (*checkpoint.Checkpoint, error)
}
