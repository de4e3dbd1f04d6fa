package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskledger/taskledger/internal/domain/checkpoint"
	"github.com/taskledger/taskledger/internal/domain/memory"
)

// CheckpointStore implements checkpointstore.Store using PostgreSQL.
// Snapshot, memory and session context are stored as JSONB: the store
// never queries inside them, it only round-trips them.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a new CheckpointStore backed by the given pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Save persists a checkpoint.
func (s *CheckpointStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	snapshotJSON, err := json.Marshal(cp.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	memoryJSON, err := json.Marshal(orEmpty(cp.Memory))
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}
	var sessionJSON []byte
	if cp.Session != nil {
		sessionJSON, err = json.Marshal(cp.Session)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO checkpoints (id, workflow_id, trigger_type, reason, snapshot, state, summary, memory, session, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		cp.ID, cp.WorkflowID, string(cp.Trigger), cp.Reason, snapshotJSON, []byte(cp.State), cp.Summary, memoryJSON, sessionJSON, cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

const checkpointColumns = `id, workflow_id, trigger_type, reason, snapshot, state, summary, memory, session, created_at`

func scanCheckpoint(scanner interface{ Scan(dest ...any) error }, cp *checkpoint.Checkpoint) error {
	var snapshotJSON, stateJSON, memoryJSON []byte
	var sessionJSON []byte
	if err := scanner.Scan(
		&cp.ID, &cp.WorkflowID, &cp.Trigger, &cp.Reason,
		&snapshotJSON, &stateJSON, &cp.Summary, &memoryJSON, &sessionJSON, &cp.CreatedAt,
	); err != nil {
		return err
	}
	cp.State = stateJSON
	if err := json.Unmarshal(snapshotJSON, &cp.Snapshot); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if len(memoryJSON) > 0 {
		if err := json.Unmarshal(memoryJSON, &cp.Memory); err != nil {
			return fmt.Errorf("unmarshal memory: %w", err)
		}
	}
	if len(sessionJSON) > 0 {
		var sess memory.SessionContext
		if err := json.Unmarshal(sessionJSON, &sess); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}
		cp.Session = &sess
	}
	return nil
}

// Get returns the checkpoint with the given ID.
func (s *CheckpointStore) Get(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM checkpoints WHERE id = $1`, checkpointColumns), id)

	var cp checkpoint.Checkpoint
	if err := scanCheckpoint(row, &cp); err != nil {
		return nil, notFoundWrap(err, "get checkpoint %s", id)
	}
	return &cp, nil
}

// ListByWorkflow returns a workflow's checkpoints in chronological order.
func (s *CheckpointStore) ListByWorkflow(ctx context.Context, workflowID string) ([]checkpoint.Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM checkpoints WHERE workflow_id = $1 ORDER BY created_at ASC`, checkpointColumns),
		workflowID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for workflow %s: %w", workflowID, err)
	}
	defer rows.Close()

	var cps []checkpoint.Checkpoint
	for rows.Next() {
		var cp checkpoint.Checkpoint
		if err := scanCheckpoint(rows, &cp); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

// Latest returns the most recent checkpoint for a workflow.
func (s *CheckpointStore) Latest(ctx context.Context, workflowID string) (*checkpoint.Checkpoint, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM checkpoints WHERE workflow_id = $1 ORDER BY created_at DESC LIMIT 1`, checkpointColumns),
		workflowID)

	var cp checkpoint.Checkpoint
	if err := scanCheckpoint(row, &cp); err != nil {
		return nil, notFoundWrap(err, "latest checkpoint for workflow %s", workflowID)
	}
	return &cp, nil
}
