package workflow

import (
	"errors"
	"fmt"

	"github.com/taskledger/taskledger/internal/domain"
	"github.com/taskledger/taskledger/internal/domain/event"
	"github.com/taskledger/taskledger/internal/domain/gate"
	"github.com/taskledger/taskledger/internal/domain/task"
)

// Apply folds one event into the state and returns the new state. It is
// the single mutation path: interactive mutations run it before append to
// validate, and replay runs the exact same code. The original state is
// never modified.
func (s State) Apply(ev *event.Event) (State, error) {
	p, err := ev.Decode()
	if err != nil {
		return State{}, err
	}

	next := s.Clone()

	if _, ok := p.(*event.WorkflowCreated); !ok && next.Workflow.ID == "" {
		return State{}, fmt.Errorf("event %s (%s) before workflow.created: %w", ev.ID, ev.Type, domain.ErrValidation)
	}

	switch v := p.(type) {
	case *event.WorkflowCreated:
		if next.Workflow.ID != "" {
			return State{}, fmt.Errorf("workflow %s already created: %w", next.Workflow.ID, domain.ErrValidation)
		}
		next.Workflow = Workflow{
			ID:        ev.WorkflowID,
			Name:      v.Name,
			Workspace: v.Workspace,
			Status:    StatusDraft,
			CreatedAt: ev.CreatedAt,
		}
		next.Tasks = make(map[string]*task.Task)

	case *event.WorkflowStarted:
		if err := next.transitionWorkflow(StatusActive, StatusDraft, StatusReady); err != nil {
			return State{}, err
		}

	case *event.WorkflowPaused:
		if err := next.transitionWorkflow(StatusPaused, StatusActive, StatusBlocked); err != nil {
			return State{}, err
		}

	case *event.WorkflowResumed:
		if err := next.transitionWorkflow(StatusActive, StatusPaused); err != nil {
			return State{}, err
		}

	case *event.WorkflowCompleted:
		target := StatusCompleted
		switch v.Outcome {
		case event.OutcomeFailed:
			target = StatusFailed
		case event.OutcomeCancelled:
			target = StatusCancelled
		case "", event.OutcomeCompleted:
		default:
			return State{}, fmt.Errorf("invalid workflow outcome %q: %w", v.Outcome, domain.ErrValidation)
		}
		if err := next.transitionWorkflow(target, StatusDraft, StatusReady, StatusActive, StatusPaused, StatusBlocked); err != nil {
			return State{}, err
		}

	case *event.WorkflowArchived:
		if err := next.transitionWorkflow(StatusArchived, StatusCompleted, StatusFailed, StatusCancelled); err != nil {
			return State{}, err
		}

	case *event.TaskAdded:
		if err := next.applyTaskAdded(ev, v); err != nil {
			return State{}, err
		}

	case *event.TaskUpdated:
		if err := next.applyTaskUpdated(ev, v); err != nil {
			return State{}, err
		}

	case *event.TaskStarted:
		if err := next.applyTaskStarted(ev, v); err != nil {
			return State{}, err
		}

	case *event.TaskCompleted:
		if err := next.applyTaskCompleted(ev, v); err != nil {
			return State{}, err
		}

	case *event.TaskFailed:
		t, err := next.taskFor(v.TaskID)
		if err != nil {
			return State{}, err
		}
		if err := t.Transition(task.StatusFailed, false); err != nil {
			return State{}, err
		}
		t.UpdatedAt = ev.CreatedAt

	case *event.TaskBlocked:
		t, err := next.taskFor(v.TaskID)
		if err != nil {
			return State{}, err
		}
		if err := t.Transition(task.StatusBlocked, false); err != nil {
			return State{}, err
		}
		t.UpdatedAt = ev.CreatedAt

	case *event.TaskUnblocked:
		t, err := next.taskFor(v.TaskID)
		if err != nil {
			return State{}, err
		}
		prior := t.PriorStatus
		if prior == "" {
			prior = task.StatusPending
		}
		if err := t.Transition(prior, false); err != nil {
			return State{}, err
		}
		t.UpdatedAt = ev.CreatedAt

	case *event.TaskSkipped:
		t, err := next.taskFor(v.TaskID)
		if err != nil {
			return State{}, err
		}
		if err := t.Transition(task.StatusSkipped, false); err != nil {
			return State{}, err
		}
		t.UpdatedAt = ev.CreatedAt

	case *event.ConfidenceChecked:
		t, err := next.taskFor(v.TaskID)
		if err != nil {
			return State{}, err
		}
		check := v.Check
		t.Confidence = &check
		t.UpdatedAt = ev.CreatedAt

	case *event.VerificationExecuted:
		if err := next.applyVerificationExecuted(ev, v); err != nil {
			return State{}, err
		}

	case *event.ReviewRecorded:
		if err := next.applyReviewRecorded(ev, v); err != nil {
			return State{}, err
		}

	case *event.CheckpointCreated:
		// The snapshot lives in the checkpoint store; nothing to project.

	case *event.CheckpointRestored:
		if err := next.applyCheckpointRestored(v); err != nil {
			return State{}, err
		}

	case *event.MistakeRecorded:
		if _, err := next.taskFor(v.TaskID); err != nil {
			return State{}, err
		}
		m := v.Mistake
		m.WorkflowID = ev.WorkflowID
		m.TaskID = v.TaskID
		next.Mistakes = append(next.Mistakes, m)

	default:
		// Decode covers the closed set; a new variant without a case here
		// must fail replay rather than drop state.
		return State{}, fmt.Errorf("event %s: unhandled payload %T: %w", ev.ID, p, domain.ErrCorruptLog)
	}

	next.recompute()
	next.Workflow.Version = ev.Version
	next.Workflow.UpdatedAt = ev.CreatedAt
	return next, nil
}

// Rebuild folds Apply over a workflow's ordered event stream starting from
// empty state. Any unreplayable event aborts with ErrCorruptLog; partial
// replay is never returned.
func Rebuild(events []event.Event) (State, error) {
	return RebuildFrom(Empty(), events)
}

// RebuildFrom folds Apply over events starting from a base state, used for
// checkpoint-relative rebuilds. The result must equal a full rebuild over
// the same stream.
func RebuildFrom(base State, events []event.Event) (State, error) {
	st := base
	if st.Tasks == nil {
		st.Tasks = make(map[string]*task.Task)
	}
	for i := range events {
		next, err := st.Apply(&events[i])
		if err != nil {
			if !errors.Is(err, domain.ErrCorruptLog) {
				err = fmt.Errorf("%v: %w", err, domain.ErrCorruptLog)
			}
			return State{}, fmt.Errorf("replay %s at version %d: %w", events[i].Type, events[i].Version, err)
		}
		st = next
	}
	return st, nil
}

func (s *State) transitionWorkflow(to Status, from ...Status) error {
	for _, f := range from {
		if s.Workflow.Status == f {
			s.Workflow.Status = to
			return nil
		}
	}
	return fmt.Errorf("workflow %s: invalid transition %s -> %s: %w", s.Workflow.ID, s.Workflow.Status, to, domain.ErrValidation)
}

func (s *State) taskFor(id string) (*task.Task, error) {
	if id == "" {
		return nil, fmt.Errorf("task_id is required: %w", domain.ErrValidation)
	}
	t, ok := s.Tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

func (s *State) applyTaskAdded(ev *event.Event, v *event.TaskAdded) error {
	if s.Workflow.Status.IsTerminal() {
		return fmt.Errorf("workflow %s is %s: %w", s.Workflow.ID, s.Workflow.Status, domain.ErrValidation)
	}
	t := &task.Task{
		ID:             v.TaskID,
		WorkflowID:     ev.WorkflowID,
		Title:          v.Title,
		Priority:       v.Priority,
		Status:         task.StatusPending,
		DependsOn:      v.DependsOn,
		Steps:          v.Steps,
		Verification:   v.Verification,
		ReviewRequired: v.ReviewRequired,
		CreatedAt:      ev.CreatedAt,
		UpdatedAt:      ev.CreatedAt,
	}
	if t.Priority == "" {
		t.Priority = task.PriorityNormal
	}
	if err := t.Validate(); err != nil {
		return err
	}
	// Cycle check runs before the event is appended; the same check here
	// keeps replay honest about it.
	if err := task.ValidateAcyclic(s.Tasks, t.ID, t.DependsOn); err != nil {
		return err
	}
	s.Tasks[t.ID] = t
	s.Workflow.TaskOrder = append(s.Workflow.TaskOrder, t.ID)
	if s.Workflow.Status == StatusDraft {
		s.Workflow.Status = StatusReady
	}
	return nil
}

func (s *State) applyTaskUpdated(ev *event.Event, v *event.TaskUpdated) error {
	t, err := s.taskFor(v.TaskID)
	if err != nil {
		return err
	}
	if v.Title != nil {
		if *v.Title == "" {
			return fmt.Errorf("task title cannot be cleared: %w", domain.ErrValidation)
		}
		t.Title = *v.Title
	}
	if v.Priority != nil {
		t.Priority = *v.Priority
	}
	if v.StepDone != nil {
		i := *v.StepDone
		if i < 0 || i >= len(t.Steps) {
			return fmt.Errorf("task %s: step index %d out of range: %w", t.ID, i, domain.ErrValidation)
		}
		t.Steps[i].Done = true
		if v.StepEvidence != "" {
			t.Steps[i].Evidence = v.StepEvidence
		}
	}
	t.Artifacts = append(t.Artifacts, v.AddArtifacts...)
	t.UpdatedAt = ev.CreatedAt
	return nil
}

func (s *State) applyTaskStarted(ev *event.Event, v *event.TaskStarted) error {
	if s.Workflow.Status == StatusPaused || s.Workflow.Status.IsTerminal() {
		return fmt.Errorf("workflow %s is %s, cannot start tasks: %w", s.Workflow.ID, s.Workflow.Status, domain.ErrValidation)
	}
	t, err := s.taskFor(v.TaskID)
	if err != nil {
		return err
	}
	if t.Status == task.StatusPending && !task.DependenciesSatisfied(s.Tasks, t) {
		return fmt.Errorf("task %s has incomplete dependencies: %w", t.ID, domain.ErrValidation)
	}
	if err := t.Transition(task.StatusInProgress, v.Force); err != nil {
		return err
	}
	// A restart invalidates previous verification evidence.
	if t.Gate != nil {
		t.Gate.VerificationPassed = nil
	}
	// Starting work implicitly activates a ready workflow; the status
	// change is still a deterministic function of the stream.
	if s.Workflow.Status == StatusDraft || s.Workflow.Status == StatusReady {
		s.Workflow.Status = StatusActive
	}
	s.Workflow.ActiveTaskID = t.ID
	t.UpdatedAt = ev.CreatedAt
	return nil
}

func (s *State) applyTaskCompleted(ev *event.Event, v *event.TaskCompleted) error {
	t, err := s.taskFor(v.TaskID)
	if err != nil {
		return err
	}
	if !v.Force {
		if t.VerificationConfigured() {
			if t.Gate == nil || t.Gate.VerificationPassed == nil || !*t.Gate.VerificationPassed {
				return fmt.Errorf("task %s: verification gate not passed: %w", t.ID, domain.ErrGateFailed)
			}
		}
		if t.ReviewRequired && !gate.BothApproved(t.Reviews) {
			return fmt.Errorf("task %s: two-stage review not approved: %w", t.ID, domain.ErrGateFailed)
		}
	}
	if err := t.Transition(task.StatusCompleted, v.Force); err != nil {
		return err
	}
	t.UpdatedAt = ev.CreatedAt
	return nil
}

func (s *State) applyVerificationExecuted(ev *event.Event, v *event.VerificationExecuted) error {
	t, err := s.taskFor(v.TaskID)
	if err != nil {
		return err
	}
	if t.Status == task.StatusInProgress {
		if err := t.Transition(task.StatusVerifying, false); err != nil {
			return err
		}
	} else if t.Status != task.StatusVerifying {
		return fmt.Errorf("task %s is %s, cannot record verification: %w", t.ID, t.Status, domain.ErrValidation)
	}
	if t.Gate == nil {
		t.Gate = &task.CompletionGate{}
	}
	passed := v.Passed
	t.Gate.VerificationPassed = &passed
	t.Gate.LastVerification = v.Results
	t.UpdatedAt = ev.CreatedAt
	return nil
}

func (s *State) applyReviewRecorded(ev *event.Event, v *event.ReviewRecorded) error {
	t, err := s.taskFor(v.TaskID)
	if err != nil {
		return err
	}
	r := v.Review
	if err := r.Validate(); err != nil {
		return err
	}
	if want := gate.NextStage(t.Reviews); r.Stage != want {
		return fmt.Errorf("task %s: review stage %s recorded, expected %s: %w", t.ID, r.Stage, want, domain.ErrValidation)
	}
	switch t.Status {
	case task.StatusInProgress, task.StatusVerifying:
		if err := t.Transition(task.StatusReview, false); err != nil {
			return err
		}
	case task.StatusReview:
	default:
		return fmt.Errorf("task %s is %s, cannot record review: %w", t.ID, t.Status, domain.ErrValidation)
	}
	t.Reviews = append(t.Reviews, r)
	if t.Gate == nil {
		t.Gate = &task.CompletionGate{}
	}
	t.Gate.SpecApproved = gate.StageApproved(t.Reviews, gate.StageSpecCompliance)
	t.Gate.QualityApproved = gate.StageApproved(t.Reviews, gate.StageCodeQuality)

	// A non-approval sends the task back for another attempt; escalation
	// past the iteration cap is an explicit task.failed event.
	if r.Result != gate.ResultApproved {
		if err := t.Transition(task.StatusInProgress, false); err != nil {
			return err
		}
	}
	t.UpdatedAt = ev.CreatedAt
	return nil
}

func (s *State) applyCheckpointRestored(v *event.CheckpointRestored) error {
	for id, raw := range v.Snapshot.TaskStatuses {
		t, ok := s.Tasks[id]
		if !ok {
			return fmt.Errorf("checkpoint %s references unknown task %s: %w", v.CheckpointID, id, domain.ErrValidation)
		}
		st := task.Status(raw)
		if st == task.StatusBlocked && t.PriorStatus == "" {
			t.PriorStatus = task.StatusPending
		}
		if st != task.StatusBlocked {
			t.PriorStatus = ""
		}
		t.Status = st
	}
	if v.Snapshot.WorkflowStatus != "" {
		s.Workflow.Status = Status(v.Snapshot.WorkflowStatus)
	}
	s.Workflow.ActiveTaskID = v.Snapshot.ActiveTaskID
	return nil
}
