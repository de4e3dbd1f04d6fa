package event

import (
	"github.com/taskledger/taskledger/internal/domain/checkpoint"
	"github.com/taskledger/taskledger/internal/domain/gate"
	"github.com/taskledger/taskledger/internal/domain/memory"
	"github.com/taskledger/taskledger/internal/domain/task"
)

// Payload is the tagged-variant interface implemented by every event
// payload. The projection's apply function matches exhaustively on the
// concrete types, so a new event type cannot silently become a no-op.
type Payload interface {
	EventType() Type
}

// Outcome is the terminal result a workflow.completed event carries.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// WorkflowCreated opens a new workflow stream.
type WorkflowCreated struct {
	Name      string `json:"name"`
	Workspace string `json:"workspace,omitempty"`
}

// WorkflowStarted moves the workflow to active.
type WorkflowStarted struct{}

// WorkflowPaused suspends scheduling.
type WorkflowPaused struct {
	Reason string `json:"reason,omitempty"`
}

// WorkflowResumed returns a paused workflow to active.
type WorkflowResumed struct{}

// WorkflowCompleted ends the workflow with a terminal outcome.
type WorkflowCompleted struct {
	Outcome Outcome `json:"outcome,omitempty"` // defaults to completed
}

// WorkflowArchived moves a terminal workflow to the archive.
type WorkflowArchived struct {
	Reason string `json:"reason,omitempty"`
}

// TaskAdded inserts a task into the workflow's dependency graph.
type TaskAdded struct {
	TaskID         string                   `json:"task_id"`
	Title          string                   `json:"title"`
	Priority       task.Priority            `json:"priority,omitempty"`
	DependsOn      []string                 `json:"depends_on,omitempty"`
	Steps          []task.Step              `json:"steps,omitempty"`
	Verification   []gate.VerificationEntry `json:"verification,omitempty"`
	ReviewRequired bool                     `json:"review_required,omitempty"`
}

// TaskUpdated mutates task metadata: title, priority, step completion,
// artifact references.
type TaskUpdated struct {
	TaskID       string         `json:"task_id"`
	Title        *string        `json:"title,omitempty"`
	Priority     *task.Priority `json:"priority,omitempty"`
	StepDone     *int           `json:"step_done,omitempty"` // index into Steps
	StepEvidence string         `json:"step_evidence,omitempty"`
	AddArtifacts []string       `json:"add_artifacts,omitempty"`
}

// TaskStarted moves a task to in_progress. Force restarts a failed task
// (the explicit retry path).
type TaskStarted struct {
	TaskID string `json:"task_id"`
	Force  bool   `json:"force,omitempty"`
}

// TaskCompleted moves a task to completed. Force bypasses gate checks and
// is recorded as such.
type TaskCompleted struct {
	TaskID string `json:"task_id"`
	Force  bool   `json:"force,omitempty"`
}

// TaskFailed moves a task to failed.
type TaskFailed struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

// TaskBlocked records an external blocker.
type TaskBlocked struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

// TaskUnblocked clears a blocker, restoring the prior status.
type TaskUnblocked struct {
	TaskID string `json:"task_id"`
}

// TaskSkipped marks a task as deliberately not done.
type TaskSkipped struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

// ConfidenceChecked records a confidence gate outcome, passed or failed.
type ConfidenceChecked struct {
	TaskID string               `json:"task_id"`
	Check  gate.ConfidenceCheck `json:"check"`
}

// VerificationExecuted records a verification gate run with full evidence.
type VerificationExecuted struct {
	TaskID  string                    `json:"task_id"`
	Results []gate.VerificationResult `json:"results"`
	Passed  bool                      `json:"passed"`
}

// ReviewRecorded records one round of the two-stage review.
type ReviewRecorded struct {
	TaskID string      `json:"task_id"`
	Review gate.Review `json:"review"`
}

// CheckpointCreated notes that a snapshot was taken. The snapshot itself
// lives in the checkpoint store; the event is the audit record.
type CheckpointCreated struct {
	CheckpointID string             `json:"checkpoint_id"`
	Trigger      checkpoint.Trigger `json:"trigger"`
	Reason       string             `json:"reason,omitempty"`
}

// CheckpointRestored rewinds task statuses to a snapshot. The snapshot is
// embedded so replay stays self-contained: the log alone must rebuild the
// state even if the checkpoint store is gone.
type CheckpointRestored struct {
	CheckpointID string              `json:"checkpoint_id"`
	Snapshot     checkpoint.Snapshot `json:"snapshot"`
}

// MistakeRecorded attaches a reflexion record to a failed task.
type MistakeRecorded struct {
	TaskID  string         `json:"task_id"`
	Mistake memory.Mistake `json:"mistake"`
}

func (WorkflowCreated) EventType() Type      { return TypeWorkflowCreated }
func (WorkflowStarted) EventType() Type      { return TypeWorkflowStarted }
func (WorkflowPaused) EventType() Type       { return TypeWorkflowPaused }
func (WorkflowResumed) EventType() Type      { return TypeWorkflowResumed }
func (WorkflowCompleted) EventType() Type    { return TypeWorkflowCompleted }
func (WorkflowArchived) EventType() Type     { return TypeWorkflowArchived }
func (TaskAdded) EventType() Type            { return TypeTaskAdded }
func (TaskUpdated) EventType() Type          { return TypeTaskUpdated }
func (TaskStarted) EventType() Type          { return TypeTaskStarted }
func (TaskCompleted) EventType() Type        { return TypeTaskCompleted }
func (TaskFailed) EventType() Type           { return TypeTaskFailed }
func (TaskBlocked) EventType() Type          { return TypeTaskBlocked }
func (TaskUnblocked) EventType() Type        { return TypeTaskUnblocked }
func (TaskSkipped) EventType() Type          { return TypeTaskSkipped }
func (ConfidenceChecked) EventType() Type    { return TypeConfidenceChecked }
func (VerificationExecuted) EventType() Type { return TypeVerificationExecuted }
func (ReviewRecorded) EventType() Type       { return TypeReviewRecorded }
func (CheckpointCreated) EventType() Type    { return TypeCheckpointCreated }
func (CheckpointRestored) EventType() Type   { return TypeCheckpointRestored }
func (MistakeRecorded) EventType() Type      { return TypeMistakeRecorded }
