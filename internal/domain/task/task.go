// Package task defines the Task entity, its status state machine, and the
// dependency-graph computations (acyclicity, ready set, batching).
package task

import (
	"fmt"
	"time"

	"github.com/taskledger/taskledger/internal/domain"
	"github.com/taskledger/taskledger/internal/domain/gate"
)

// Status represents the current state of a task. "ready" is not a stored
// status: it is computed from pending + satisfied dependencies.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusVerifying  Status = "verifying"
	StatusReview     Status = "review"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusBlocked    Status = "blocked"
)

// IsTerminal returns true if the task is in a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Priority orders tasks for presentation; the engine itself schedules by
// dependency order only.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Step is one bite-sized unit of work inside a task.
type Step struct {
	Description      string `json:"description"`
	EstimatedMinutes int    `json:"estimated_minutes,omitempty"`
	VerifyCommand    string `json:"verify_command,omitempty"`
	Done             bool   `json:"done"`
	Evidence         string `json:"evidence,omitempty"`
}

// CompletionGate tracks which quality gates a task has cleared.
type CompletionGate struct {
	VerificationPassed *bool                     `json:"verification_passed,omitempty"`
	LastVerification   []gate.VerificationResult `json:"last_verification,omitempty"`
	SpecApproved       bool                      `json:"spec_approved"`
	QualityApproved    bool                      `json:"quality_approved"`
}

// Task is a unit of work inside a workflow.
type Task struct {
	ID             string                   `json:"id"`
	WorkflowID     string                   `json:"workflow_id"`
	Title          string                   `json:"title"`
	Priority       Priority                 `json:"priority"`
	Status         Status                   `json:"status"`
	PriorStatus    Status                   `json:"prior_status,omitempty"` // set while blocked
	DependsOn      []string                 `json:"depends_on,omitempty"`
	Steps          []Step                   `json:"steps,omitempty"`
	Verification   []gate.VerificationEntry `json:"verification,omitempty"`
	ReviewRequired bool                     `json:"review_required"`
	Confidence     *gate.ConfidenceCheck    `json:"confidence,omitempty"`
	Gate           *CompletionGate          `json:"gate,omitempty"`
	Reviews        []gate.Review            `json:"reviews,omitempty"`
	Artifacts      []string                 `json:"artifacts,omitempty"` // opaque IDs owned by the artifact store
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// Validate checks structural correctness of a new task.
func (t *Task) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("task title is required: %w", domain.ErrValidation)
	}
	switch t.Priority {
	case "", PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
	default:
		return fmt.Errorf("invalid priority %q: %w", t.Priority, domain.ErrValidation)
	}
	seen := make(map[string]bool, len(t.DependsOn))
	for _, dep := range t.DependsOn {
		if dep == t.ID {
			return fmt.Errorf("task %s depends on itself: %w", t.ID, domain.ErrValidation)
		}
		if seen[dep] {
			return fmt.Errorf("duplicate dependency %s: %w", dep, domain.ErrValidation)
		}
		seen[dep] = true
	}
	for i := range t.Verification {
		if err := t.Verification[i].Validate(); err != nil {
			return fmt.Errorf("verification entry %d: %w", i, err)
		}
	}
	return nil
}

// VerificationConfigured reports whether the task carries verification
// entries that gate completion.
func (t *Task) VerificationConfigured() bool {
	return len(t.Verification) > 0
}

// Clone returns a deep copy so projections can be mutated without aliasing.
func (t *Task) Clone() *Task {
	c := *t
	c.DependsOn = append([]string(nil), t.DependsOn...)
	c.Steps = append([]Step(nil), t.Steps...)
	c.Verification = append([]gate.VerificationEntry(nil), t.Verification...)
	c.Reviews = append([]gate.Review(nil), t.Reviews...)
	c.Artifacts = append([]string(nil), t.Artifacts...)
	if t.Confidence != nil {
		cc := *t.Confidence
		cc.Dimensions = append([]gate.Dimension(nil), t.Confidence.Dimensions...)
		c.Confidence = &cc
	}
	if t.Gate != nil {
		g := *t.Gate
		g.LastVerification = append([]gate.VerificationResult(nil), t.Gate.LastVerification...)
		if t.Gate.VerificationPassed != nil {
			v := *t.Gate.VerificationPassed
			g.VerificationPassed = &v
		}
		c.Gate = &g
	}
	return &c
}
