// Package event defines the immutable event records that form the only
// durable state of the engine. The aggregate is a pure projection of the
// per-workflow event stream.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskledger/taskledger/internal/domain"
)

// Type identifies the kind of event. The set is closed: decoding an
// unknown type fails with domain.ErrCorruptLog rather than being ignored.
type Type string

const (
	TypeWorkflowCreated   Type = "workflow.created"
	TypeWorkflowStarted   Type = "workflow.started"
	TypeWorkflowPaused    Type = "workflow.paused"
	TypeWorkflowResumed   Type = "workflow.resumed"
	TypeWorkflowCompleted Type = "workflow.completed"
	TypeWorkflowArchived  Type = "workflow.archived"

	TypeTaskAdded     Type = "task.added"
	TypeTaskUpdated   Type = "task.updated"
	TypeTaskStarted   Type = "task.started"
	TypeTaskCompleted Type = "task.completed"
	TypeTaskFailed    Type = "task.failed"
	TypeTaskBlocked   Type = "task.blocked"
	TypeTaskUnblocked Type = "task.unblocked"
	TypeTaskSkipped   Type = "task.skipped"

	TypeConfidenceChecked    Type = "confidence.checked"
	TypeVerificationExecuted Type = "verification.executed"
	TypeReviewRecorded       Type = "review.recorded"

	TypeCheckpointCreated  Type = "checkpoint.created"
	TypeCheckpointRestored Type = "checkpoint.restored"

	TypeMistakeRecorded Type = "mistake.recorded"
)

// Actor identifies who triggered a mutation.
type Actor string

const (
	ActorUser   Actor = "user"
	ActorAgent  Actor = "agent"
	ActorSystem Actor = "system"
)

// Event is a single immutable record in a workflow's event stream.
// Version is the workflow's version after this event is applied; the
// stream for a workflow is totally ordered by it.
type Event struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Type       Type            `json:"type"`
	Actor      Actor           `json:"actor"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Version    int             `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
}

// New builds an event for the given payload variant. Version is assigned
// by the caller holding the workflow's current version.
func New(workflowID string, actor Actor, version int, p Payload) (*Event, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.EventType(), err)
	}
	if actor == "" {
		actor = ActorSystem
	}
	return &Event{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Type:       p.EventType(),
		Actor:      actor,
		Payload:    data,
		Version:    version,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into its typed variant. Every member of
// the closed type set has a variant; anything else is a corrupt log.
func (e *Event) Decode() (Payload, error) {
	var p Payload
	switch e.Type {
	case TypeWorkflowCreated:
		p = &WorkflowCreated{}
	case TypeWorkflowStarted:
		p = &WorkflowStarted{}
	case TypeWorkflowPaused:
		p = &WorkflowPaused{}
	case TypeWorkflowResumed:
		p = &WorkflowResumed{}
	case TypeWorkflowCompleted:
		p = &WorkflowCompleted{}
	case TypeWorkflowArchived:
		p = &WorkflowArchived{}
	case TypeTaskAdded:
		p = &TaskAdded{}
	case TypeTaskUpdated:
		p = &TaskUpdated{}
	case TypeTaskStarted:
		p = &TaskStarted{}
	case TypeTaskCompleted:
		p = &TaskCompleted{}
	case TypeTaskFailed:
		p = &TaskFailed{}
	case TypeTaskBlocked:
		p = &TaskBlocked{}
	case TypeTaskUnblocked:
		p = &TaskUnblocked{}
	case TypeTaskSkipped:
		p = &TaskSkipped{}
	case TypeConfidenceChecked:
		p = &ConfidenceChecked{}
	case TypeVerificationExecuted:
		p = &VerificationExecuted{}
	case TypeReviewRecorded:
		p = &ReviewRecorded{}
	case TypeCheckpointCreated:
		p = &CheckpointCreated{}
	case TypeCheckpointRestored:
		p = &CheckpointRestored{}
	case TypeMistakeRecorded:
		p = &MistakeRecorded{}
	default:
		return nil, fmt.Errorf("event %s: unknown type %q: %w", e.ID, e.Type, domain.ErrCorruptLog)
	}

	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, p); err != nil {
			return nil, fmt.Errorf("event %s: decode %s payload: %v: %w", e.ID, e.Type, err, domain.ErrCorruptLog)
		}
	}
	return p, nil
}
