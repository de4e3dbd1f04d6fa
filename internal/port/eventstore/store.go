// Package eventstore defines the port interface for the append-only event log.
package eventstore

import (
	"context"
	"time"

	"github.com/taskledger/taskledger/internal/domain/event"
)

// Store is the port interface for appending and replaying workflow events.
// The log is the sole source of truth: it never truncates or compacts as
// part of normal operation.
type Store interface {
	// Append persists a new event with optimistic concurrency: it fails
	// with domain.ErrConflict when another writer has already appended an
	// event at the same version. The caller must re-read and retry.
	Append(ctx context.Context, ev *event.Event) error

	// LoadByWorkflow returns the full event stream for a workflow,
	// ordered by version ascending.
	LoadByWorkflow(ctx context.Context, workflowID string) ([]event.Event, error)

	// LoadUpTo returns events with CreatedAt <= ts, ordered by version.
	LoadUpTo(ctx context.Context, workflowID string, ts time.Time) ([]event.Event, error)

	// LoadAfter returns events with CreatedAt > ts, ordered by version.
	// Used for checkpoint-relative rebuilds.
	LoadAfter(ctx context.Context, workflowID string, ts time.Time) ([]event.Event, error)

	// CurrentVersion returns the highest appended version for a workflow,
	// 0 when the stream is empty.
	CurrentVersion(ctx context.Context, workflowID string) (int, error)

	// ListWorkflowIDs returns the IDs of all workflows with at least one
	// event, ordered by first append.
	ListWorkflowIDs(ctx context.Context) ([]string, error)

	// CountByType returns per-type event counts for a workflow.
	CountByType(ctx context.Context, workflowID string) (map[string]int, error)

	// FirstEvent returns the earliest event for a workflow, or
	// domain.ErrNotFound for an empty stream.
	FirstEvent(ctx context.Context, workflowID string) (*event.Event, error)
}
