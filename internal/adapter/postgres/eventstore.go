package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskledger/taskledger/internal/domain"
	"github.com/taskledger/taskledger/internal/domain/event"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
// The UNIQUE (workflow_id, version) constraint is the optimistic
// concurrency mechanism: concurrent writers racing for the same version
// slot lose with domain.ErrConflict and must re-read and retry.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a new event into the workflow_events table.
func (s *EventStore) Append(ctx context.Context, ev *event.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO workflow_events (id, workflow_id, event_type, actor, payload, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.WorkflowID, string(ev.Type), string(ev.Actor), ev.Payload, ev.Version, ev.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("append event version %d for workflow %s: %w", ev.Version, ev.WorkflowID, domain.ErrConflict)
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// eventColumns is the SELECT column list for workflow_events queries.
const eventColumns = `id, workflow_id, event_type, actor, payload, version, created_at`

// scanEvent scans a row into an Event.
func scanEvent(scanner interface{ Scan(dest ...any) error }, ev *event.Event) error {
	return scanner.Scan(
		&ev.ID, &ev.WorkflowID, &ev.Type, &ev.Actor, &ev.Payload, &ev.Version, &ev.CreatedAt,
	)
}

// queryEvents runs a query returning event rows and collects them in order.
func (s *EventStore) queryEvents(ctx context.Context, what, sql string, args ...any) ([]event.Event, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var ev event.Event
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LoadByWorkflow returns all events for the given workflow, ordered by version ascending.
func (s *EventStore) LoadByWorkflow(ctx context.Context, workflowID string) ([]event.Event, error) {
	return s.queryEvents(ctx, fmt.Sprintf("load events for workflow %s", workflowID),
		fmt.Sprintf(`SELECT %s FROM workflow_events WHERE workflow_id = $1 ORDER BY version ASC`, eventColumns),
		workflowID)
}

// LoadUpTo returns the workflow's events with created_at <= ts, ordered by version ascending.
func (s *EventStore) LoadUpTo(ctx context.Context, workflowID string, ts time.Time) ([]event.Event, error) {
	return s.queryEvents(ctx, fmt.Sprintf("load events up to %s for workflow %s", ts.Format(time.RFC3339), workflowID),
		fmt.Sprintf(`SELECT %s FROM workflow_events WHERE workflow_id = $1 AND created_at <= $2 ORDER BY version ASC`, eventColumns),
		workflowID, ts)
}

// LoadAfter returns the workflow's events with created_at > ts, ordered by version ascending.
func (s *EventStore) LoadAfter(ctx context.Context, workflowID string, ts time.Time) ([]event.Event, error) {
	return s.queryEvents(ctx, fmt.Sprintf("load events after %s for workflow %s", ts.Format(time.RFC3339), workflowID),
		fmt.Sprintf(`SELECT %s FROM workflow_events WHERE workflow_id = $1 AND created_at > $2 ORDER BY version ASC`, eventColumns),
		workflowID, ts)
}

// CurrentVersion returns the highest appended version for a workflow, 0 for an empty stream.
func (s *EventStore) CurrentVersion(ctx context.Context, workflowID string) (int, error) {
	var version int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM workflow_events WHERE workflow_id = $1`, workflowID).
		Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("current version for workflow %s: %w", workflowID, err)
	}
	return version, nil
}

// ListWorkflowIDs returns all workflow IDs with at least one event, ordered by first append.
func (s *EventStore) ListWorkflowIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT workflow_id FROM workflow_events GROUP BY workflow_id ORDER BY MIN(created_at) ASC`)
	if err != nil {
		return nil, fmt.Errorf("list workflow ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan workflow id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByType returns per-type event counts for a workflow.
func (s *EventStore) CountByType(ctx context.Context, workflowID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_type, COUNT(*) FROM workflow_events WHERE workflow_id = $1 GROUP BY event_type`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("count events for workflow %s: %w", workflowID, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[eventType] = count
	}
	return counts, rows.Err()
}

// FirstEvent returns the earliest event for a workflow. Used by the
// admin surface to report stream age.
func (s *EventStore) FirstEvent(ctx context.Context, workflowID string) (*event.Event, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM workflow_events WHERE workflow_id = $1 ORDER BY version ASC LIMIT 1`, eventColumns),
		workflowID)

	var ev event.Event
	if err := scanEvent(row, &ev); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("first event for workflow %s: %w", workflowID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("first event for workflow %s: %w", workflowID, err)
	}
	return &ev, nil
}
