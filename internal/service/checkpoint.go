package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskledger/taskledger/internal/adapter/otel"
	"github.com/taskledger/taskledger/internal/domain"
	"github.com/taskledger/taskledger/internal/domain/checkpoint"
	"github.com/taskledger/taskledger/internal/domain/event"
	"github.com/taskledger/taskledger/internal/domain/memory"
	"github.com/taskledger/taskledger/internal/port/checkpointstore"
	"github.com/taskledger/taskledger/internal/port/messagequeue"
)

// CheckpointService takes and restores snapshots of projected state.
// A checkpoint is an optimization for session resume: the log can always
// rebuild the same state without it, and a restore is itself an appended
// event so the rewind survives replay.
type CheckpointService struct {
	workflows *WorkflowService
	store     checkpointstore.Store
	fanout    *Fanout
	metrics   *otel.Metrics
	log       *slog.Logger
}

// NewCheckpointService creates a CheckpointService.
func NewCheckpointService(workflows *WorkflowService, store checkpointstore.Store, fanout *Fanout, metrics *otel.Metrics, log *slog.Logger) *CheckpointService {
	return &CheckpointService{workflows: workflows, store: store, fanout: fanout, metrics: metrics, log: log}
}

// CreateRequest carries the optional cross-session context attached to
// a checkpoint alongside the snapshot.
type CreateRequest struct {
	Trigger checkpoint.Trigger     `json:"trigger"`
	Reason  string                 `json:"reason,omitempty"`
	Summary string                 `json:"summary,omitempty"`
	Memory  []memory.Entry         `json:"memory,omitempty"`
	Session *memory.SessionContext `json:"session,omitempty"`
}

// Create snapshots the current state, persists the checkpoint, and
// appends a checkpoint.created audit event.
func (s *CheckpointService) Create(ctx context.Context, actor event.Actor, workflowID string, req CreateRequest) (*checkpoint.Checkpoint, error) {
	st, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i := range req.Memory {
		if req.Memory[i].CreatedAt.IsZero() {
			req.Memory[i].CreatedAt = now
		}
	}
	stateJSON, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	cp := &checkpoint.Checkpoint{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Trigger:    req.Trigger,
		Reason:     req.Reason,
		Snapshot:   st.Snapshot(),
		State:      stateJSON,
		Summary:    req.Summary,
		Memory:     req.Memory,
		Session:    req.Session,
		CreatedAt:  now,
	}
	if err := cp.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}
	if _, err := s.workflows.Record(ctx, actor, workflowID, &event.CheckpointCreated{
		CheckpointID: cp.ID,
		Trigger:      cp.Trigger,
		Reason:       cp.Reason,
	}); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Checkpoints.Add(ctx, 1)
	}
	s.fanout.Checkpoint(ctx, messagequeue.CheckpointPayload{
		CheckpointID: cp.ID,
		WorkflowID:   workflowID,
		Trigger:      string(cp.Trigger),
		Version:      int64(cp.Snapshot.Version),
	})
	s.log.Info("checkpoint created",
		"workflow_id", workflowID, "checkpoint_id", cp.ID,
		"trigger", cp.Trigger, "version", cp.Snapshot.Version)
	return cp, nil
}

// Restore rewinds the workflow to a checkpoint by appending a
// checkpoint.restored event with the snapshot embedded. History is
// never rewritten; the rewind is one more event in the stream.
func (s *CheckpointService) Restore(ctx context.Context, actor event.Actor, workflowID, checkpointID string) (*checkpoint.Checkpoint, error) {
	cp, err := s.store.Get(ctx, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", checkpointID, err)
	}
	if cp.WorkflowID != workflowID {
		return nil, fmt.Errorf("checkpoint %s belongs to workflow %s: %w", checkpointID, cp.WorkflowID, domain.ErrValidation)
	}

	if _, err := s.workflows.Record(ctx, actor, workflowID, &event.CheckpointRestored{
		CheckpointID: cp.ID,
		Snapshot:     cp.Snapshot,
	}); err != nil {
		return nil, err
	}

	s.fanout.Checkpoint(ctx, messagequeue.CheckpointPayload{
		CheckpointID: cp.ID,
		WorkflowID:   workflowID,
		Trigger:      string(cp.Trigger),
		Version:      int64(cp.Snapshot.Version),
		Restored:     true,
	})
	s.log.Info("checkpoint restored",
		"workflow_id", workflowID, "checkpoint_id", cp.ID, "version", cp.Snapshot.Version)
	return cp, nil
}

// List returns a workflow's checkpoints in chronological order.
func (s *CheckpointService) List(ctx context.Context, workflowID string) ([]checkpoint.Checkpoint, error) {
	return s.store.ListByWorkflow(ctx, workflowID)
}

// Get returns one checkpoint by ID.
func (s *CheckpointService) Get(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	return s.store.Get(ctx, id)
}

// Latest returns the most recent checkpoint for a workflow.
func (s *CheckpointService) Latest(ctx context.Context, workflowID string) (*checkpoint.Checkpoint, error) {
	return s.store.Latest(ctx, workflowID)
}
