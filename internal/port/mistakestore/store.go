// Package mistakestore defines the port for the cross-workflow mistake index.
package mistakestore

import (
	"context"

	"github.com/taskledger/taskledger/internal/domain/memory"
)

// Store indexes recorded mistakes for lookup across workflows. The
// event log remains authoritative; this index exists so new work can
// check whether a failure signature has been seen before without
// replaying every stream.
type Store interface {
	// Record persists a mistake in the index.
	Record(ctx context.Context, m *memory.Mistake) error

	// ListByWorkflow returns a workflow's mistakes in chronological order.
	ListByWorkflow(ctx context.Context, workflowID string) ([]memory.Mistake, error)

	// FindBySignatureType returns mistakes whose signature type matches,
	// across all workflows, most recent first. Callers refine with
	// Signature.Matches for message-level matching.
	FindBySignatureType(ctx context.Context, sigType string, limit int) ([]memory.Mistake, error)
}
