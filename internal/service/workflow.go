package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskledger/taskledger/internal/adapter/otel"
	"github.com/taskledger/taskledger/internal/domain"
	"github.com/taskledger/taskledger/internal/domain/event"
	"github.com/taskledger/taskledger/internal/domain/workflow"
	"github.com/taskledger/taskledger/internal/port/eventstore"
)

// appendRetries is how many times a command re-reads and re-applies
// after losing an optimistic concurrency race. Batch execution runs a
// handful of writers against one stream, so a few retries are expected.
const appendRetries = 5

// WorkflowService is the command side of the engine: every mutation
// validates against the projected state, appends exactly one event, and
// returns the new state. The log is the only write target.
type WorkflowService struct {
	events  eventstore.Store
	proj    *ProjectionService
	fanout  *Fanout
	metrics *otel.Metrics
	log     *slog.Logger
}

// NewWorkflowService creates a WorkflowService.
func NewWorkflowService(events eventstore.Store, proj *ProjectionService, fanout *Fanout, metrics *otel.Metrics, log *slog.Logger) *WorkflowService {
	return &WorkflowService{events: events, proj: proj, fanout: fanout, metrics: metrics, log: log}
}

// append validates p against current state, persists the resulting
// event and fans it out. On a version conflict it re-reads and retries:
// the payload may still be valid against the new state.
func (s *WorkflowService) append(ctx context.Context, workflowID string, actor event.Actor, p event.Payload) (*workflow.State, *event.Event, error) {
	ctx, span := otel.StartAppendSpan(ctx, workflowID, string(p.EventType()))
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		st, err := s.proj.Load(ctx, workflowID)
		if err != nil {
			return nil, nil, err
		}

		ev, err := event.New(workflowID, actor, st.Workflow.Version+1, p)
		if err != nil {
			return nil, nil, err
		}

		next, err := st.Apply(ev)
		if err != nil {
			return nil, nil, err
		}

		if err := s.events.Append(ctx, ev); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				if s.metrics != nil {
					s.metrics.AppendConflicts.Add(ctx, 1)
				}
				s.proj.Invalidate(ctx, workflowID)
				lastErr = err
				continue
			}
			return nil, nil, err
		}

		if s.metrics != nil {
			s.metrics.EventsAppended.Add(ctx, 1)
		}
		s.proj.Store(ctx, &next)
		s.fanout.Event(ctx, ev)
		s.log.Info("event appended",
			"workflow_id", workflowID, "type", ev.Type, "actor", ev.Actor, "version", ev.Version)
		return &next, ev, nil
	}
	return nil, nil, fmt.Errorf("append %s after %d attempts: %w", p.EventType(), appendRetries, lastErr)
}

// CreateWorkflow opens a new event stream with a workflow.created event.
func (s *WorkflowService) CreateWorkflow(ctx context.Context, actor event.Actor, name, workspace string) (*workflow.State, error) {
	if name == "" {
		return nil, fmt.Errorf("workflow name is required: %w", domain.ErrValidation)
	}
	workflowID := uuid.NewString()

	ev, err := event.New(workflowID, actor, 1, &event.WorkflowCreated{Name: name, Workspace: workspace})
	if err != nil {
		return nil, err
	}
	next, err := workflow.Empty().Apply(ev)
	if err != nil {
		return nil, err
	}
	if err := s.events.Append(ctx, ev); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.EventsAppended.Add(ctx, 1)
	}
	s.proj.Store(ctx, &next)
	s.fanout.Event(ctx, ev)
	s.log.Info("workflow created", "workflow_id", workflowID, "name", name)
	return &next, nil
}

// Get returns the current projected state.
func (s *WorkflowService) Get(ctx context.Context, workflowID string) (*workflow.State, error) {
	st, err := s.proj.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if st.Workflow.ID == "" {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, domain.ErrNotFound)
	}
	return st, nil
}

// List returns the current state of every workflow in the store.
func (s *WorkflowService) List(ctx context.Context) ([]workflow.Workflow, error) {
	ids, err := s.events.ListWorkflowIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]workflow.Workflow, 0, len(ids))
	for _, id := range ids {
		st, err := s.proj.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, st.Workflow)
	}
	return out, nil
}

// Events returns the raw stream for a workflow.
func (s *WorkflowService) Events(ctx context.Context, workflowID string) ([]event.Event, error) {
	events, err := s.events.LoadByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, domain.ErrNotFound)
	}
	return events, nil
}

// StateAt returns the state as of a past timestamp.
func (s *WorkflowService) StateAt(ctx context.Context, workflowID string, ts time.Time) (*workflow.State, error) {
	st, err := s.proj.StateAt(ctx, workflowID, ts)
	if err != nil {
		return nil, err
	}
	if st.Workflow.ID == "" {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, domain.ErrNotFound)
	}
	return st, nil
}

// Stats returns per-type event counts and stream age for a workflow.
func (s *WorkflowService) Stats(ctx context.Context, workflowID string) (map[string]int, time.Time, error) {
	counts, err := s.events.CountByType(ctx, workflowID)
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(counts) == 0 {
		return nil, time.Time{}, fmt.Errorf("workflow %s: %w", workflowID, domain.ErrNotFound)
	}
	first, err := s.events.FirstEvent(ctx, workflowID)
	if err != nil {
		return nil, time.Time{}, err
	}
	return counts, first.CreatedAt, nil
}

// StartWorkflow moves a ready workflow to active.
func (s *WorkflowService) StartWorkflow(ctx context.Context, actor event.Actor, workflowID string) (*workflow.State, error) {
	st, _, err := s.append(ctx, workflowID, actor, &event.WorkflowStarted{})
	return st, err
}

// PauseWorkflow suspends scheduling on an active or blocked workflow.
func (s *WorkflowService) PauseWorkflow(ctx context.Context, actor event.Actor, workflowID, reason string) (*workflow.State, error) {
	st, _, err := s.append(ctx, workflowID, actor, &event.WorkflowPaused{Reason: reason})
	return st, err
}

// ResumeWorkflow returns a paused workflow to active.
func (s *WorkflowService) ResumeWorkflow(ctx context.Context, actor event.Actor, workflowID string) (*workflow.State, error) {
	st, _, err := s.append(ctx, workflowID, actor, &event.WorkflowResumed{})
	return st, err
}

// CompleteWorkflow ends the workflow with the given outcome.
func (s *WorkflowService) CompleteWorkflow(ctx context.Context, actor event.Actor, workflowID string, outcome event.Outcome) (*workflow.State, error) {
	st, _, err := s.append(ctx, workflowID, actor, &event.WorkflowCompleted{Outcome: outcome})
	return st, err
}

// ArchiveWorkflow moves a terminal workflow to the archive.
func (s *WorkflowService) ArchiveWorkflow(ctx context.Context, actor event.Actor, workflowID, reason string) (*workflow.State, error) {
	st, _, err := s.append(ctx, workflowID, actor, &event.WorkflowArchived{Reason: reason})
	return st, err
}

// AddTask appends a task.added event. The task ID is minted here;
// cycle and dependency validation happens in the projection.
func (s *WorkflowService) AddTask(ctx context.Context, actor event.Actor, workflowID string, p *event.TaskAdded) (*workflow.State, error) {
	if p.TaskID == "" {
		p.TaskID = uuid.NewString()
	}
	st, _, err := s.append(ctx, workflowID, actor, p)
	return st, err
}

// UpdateTask appends a task.updated event.
func (s *WorkflowService) UpdateTask(ctx context.Context, actor event.Actor, workflowID string, p *event.TaskUpdated) (*workflow.State, error) {
	st, _, err := s.append(ctx, workflowID, actor, p)
	return st, err
}

// StartTask moves a task to in_progress. Force restarts a failed task.
func (s *WorkflowService) StartTask(ctx context.Context, actor event.Actor, workflowID, taskID string, force bool) (*workflow.State, error) {
	st, _, err := s.append(ctx, workflowID, actor, &event.TaskStarted{TaskID: taskID, Force: force})
	return st, err
}

// CompleteTask moves a task to completed, enforcing its gates unless forced.
func (s *WorkflowService) CompleteTask(ctx context.Context, actor event.Actor, workflowID, taskID string, force bool) (*workflow.State, error) {
	st, _, err := s.append(ctx, workflowID, actor, &event.TaskCompleted{TaskID: taskID, Force: force})
	if err == nil && s.metrics != nil {
		s.metrics.TasksCompleted.Add(ctx, 1)
	}
	return st, err
}

// FailTask moves a task to failed.
func (s *WorkflowService) FailTask(ctx context.Context, actor event.Actor, workflowID, taskID, reason string) (*workflow.State, error) {
	st, _, err := s.append(ctx, workflowID, actor, &event.TaskFailed{TaskID: taskID, Reason: reason})
	return st, err
}

// BlockTask records an external blocker on a task.
func (s *WorkflowService) BlockTask(ctx context.Context, actor event.Actor, workflowID, taskID, reason string) (*workflow.State, error) {
	st, _, err := s.append(ctx, workflowID, actor, &event.TaskBlocked{TaskID: taskID, Reason: reason})
	return st, err
}

// UnblockTask clears a blocker, restoring the task's prior status.
func (s *WorkflowService) UnblockTask(ctx context.Context, actor event.Actor, workflowID, taskID string) (*workflow.State, error) {
	st, _, err := s.append(ctx, workflowID, actor, &event.TaskUnblocked{TaskID: taskID})
	return st, err
}

// SkipTask marks a task as deliberately not done.
func (s *WorkflowService) SkipTask(ctx context.Context, actor event.Actor, workflowID, taskID, reason string) (*workflow.State, error) {
	st, _, err := s.append(ctx, workflowID, actor, &event.TaskSkipped{TaskID: taskID, Reason: reason})
	return st, err
}

// Record appends an auxiliary event (gate outcome, checkpoint audit)
// through the standard validate-and-append path.
func (s *WorkflowService) Record(ctx context.Context, actor event.Actor, workflowID string, p event.Payload) (*workflow.State, error) {
	st, _, err := s.append(ctx, workflowID, actor, p)
	return st, err
}

// RecordMistake appends a mistake.recorded event.
func (s *WorkflowService) RecordMistake(ctx context.Context, actor event.Actor, workflowID string, m *event.MistakeRecorded) (*workflow.State, error) {
	st, _, err := s.append(ctx, workflowID, actor, m)
	return st, err
}

// FindTaskWorkflow resolves which workflow owns a task. Task IDs are
// globally unique, so a scan over the projected states is unambiguous.
func (s *WorkflowService) FindTaskWorkflow(ctx context.Context, taskID string) (string, error) {
	ids, err := s.events.ListWorkflowIDs(ctx)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		st, err := s.proj.Load(ctx, id)
		if err != nil {
			return "", err
		}
		if _, ok := st.Task(taskID); ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
}

// ReadySet returns the IDs of tasks whose dependencies are all complete.
func (s *WorkflowService) ReadySet(ctx context.Context, workflowID string) ([]string, error) {
	st, err := s.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return st.ReadySet(), nil
}

// Store exposes the underlying event store to sibling services.
func (s *WorkflowService) Store() eventstore.Store { return s.events }
