package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskledger/taskledger/internal/domain/memory"
)

// MistakeStore implements mistakestore.Store using PostgreSQL.
type MistakeStore struct {
	pool *pgxpool.Pool
}

// NewMistakeStore creates a new MistakeStore backed by the given pool.
func NewMistakeStore(pool *pgxpool.Pool) *MistakeStore {
	return &MistakeStore{pool: pool}
}

// Record persists a mistake in the index.
func (s *MistakeStore) Record(ctx context.Context, m *memory.Mistake) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO mistakes (id, workflow_id, task_id, signature_type, signature_message, signature_context, what_happened, root_cause, fix_applied, lesson, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO NOTHING`,
		m.ID, m.WorkflowID, m.TaskID, m.Signature.Type, m.Signature.Message, m.Signature.Context,
		m.WhatHappened, m.RootCause, m.FixApplied, m.Lesson, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("record mistake %s: %w", m.ID, err)
	}
	return nil
}

const mistakeColumns = `id, workflow_id, task_id, signature_type, signature_message, signature_context, what_happened, root_cause, fix_applied, lesson, created_at`

func scanMistake(scanner interface{ Scan(dest ...any) error }, m *memory.Mistake) error {
	return scanner.Scan(
		&m.ID, &m.WorkflowID, &m.TaskID,
		&m.Signature.Type, &m.Signature.Message, &m.Signature.Context,
		&m.WhatHappened, &m.RootCause, &m.FixApplied, &m.Lesson, &m.CreatedAt,
	)
}

// ListByWorkflow returns a workflow's mistakes in chronological order.
func (s *MistakeStore) ListByWorkflow(ctx context.Context, workflowID string) ([]memory.Mistake, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM mistakes WHERE workflow_id = $1 ORDER BY created_at ASC`, mistakeColumns),
		workflowID)
	if err != nil {
		return nil, fmt.Errorf("list mistakes for workflow %s: %w", workflowID, err)
	}
	defer rows.Close()

	var mistakes []memory.Mistake
	for rows.Next() {
		var m memory.Mistake
		if err := scanMistake(rows, &m); err != nil {
			return nil, fmt.Errorf("scan mistake: %w", err)
		}
		mistakes = append(mistakes, m)
	}
	return mistakes, rows.Err()
}

// FindBySignatureType returns mistakes with the given signature type, most recent first.
func (s *MistakeStore) FindBySignatureType(ctx context.Context, sigType string, limit int) ([]memory.Mistake, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM mistakes WHERE signature_type = $1 ORDER BY created_at DESC LIMIT $2`, mistakeColumns),
		sigType, limit)
	if err != nil {
		return nil, fmt.Errorf("find mistakes by signature %s: %w", sigType, err)
	}
	defer rows.Close()

	var mistakes []memory.Mistake
	for rows.Next() {
		var m memory.Mistake
		if err := scanMistake(rows, &m); err != nil {
			return nil, fmt.Errorf("scan mistake: %w", err)
		}
		mistakes = append(mistakes, m)
	}
	return mistakes, rows.Err()
}
