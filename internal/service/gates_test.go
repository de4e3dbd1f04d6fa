package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/taskledger/taskledger/internal/config"
	"github.com/taskledger/taskledger/internal/domain"
	"github.com/taskledger/taskledger/internal/domain/event"
	"github.com/taskledger/taskledger/internal/domain/gate"
	"github.com/taskledger/taskledger/internal/domain/memory"
	"github.com/taskledger/taskledger/internal/domain/task"
	"github.com/taskledger/taskledger/internal/port/executor"
)

func TestGateService_CheckConfidenceUsesConfiguredThreshold(t *testing.T) {
	e := newEnv(config.Gates{ConfidenceThreshold: 0.9}, config.Batch{}, config.Checkpoint{})
	ctx := context.Background()
	st := mustCreate(t, e, "x")
	tk := mustAddTask(t, e, st.Workflow.ID, &event.TaskAdded{Title: "a"})

	check, err := e.gates.CheckConfidence(ctx, event.ActorAgent, st.Workflow.ID, tk.ID, []gate.Dimension{{Name: "requirements", Score: 0.8}}, 0)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if check.Passed {
		t.Fatal("0.8 must fail a configured 0.9 threshold")
	}
	if check.Threshold != 0.9 {
		t.Fatalf("expected threshold 0.9, got %v", check.Threshold)
	}

	// The outcome is recorded on the task either way.
	got, err := e.workflows.Get(ctx, st.Workflow.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	gotTask, _ := got.Task(tk.ID)
	if gotTask.Confidence == nil || gotTask.Confidence.Passed {
		t.Fatalf("expected failed check recorded on task: %+v", gotTask.Confidence)
	}
}

func TestGateService_CheckConfidenceUnknownTask(t *testing.T) {
	e := defaultEnv()
	st := mustCreate(t, e, "x")
	_, err := e.gates.CheckConfidence(context.Background(), event.ActorAgent, st.Workflow.ID, "ghost", []gate.Dimension{{Name: "a", Score: 1}}, 0)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got: %v", err)
	}
}

func TestGateService_RunVerificationPassAndComplete(t *testing.T) {
	e := defaultEnv()
	ctx := context.Background()
	st := mustCreate(t, e, "x")
	tk := mustAddTask(t, e, st.Workflow.ID, &event.TaskAdded{
		Title:        "a",
		Verification: []gate.VerificationEntry{{Command: "go test ./...", ExpectSubstring: "ok"}},
	})
	e.exec.results["go test"] = executor.Result{ExitCode: 0, Output: "ok  \tall", Duration: time.Second}

	if _, err := e.workflows.StartTask(ctx, event.ActorAgent, st.Workflow.ID, tk.ID, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	results, err := e.gates.RunVerification(ctx, event.ActorAgent, st.Workflow.ID, tk.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !gate.AllPassed(results) {
		t.Fatalf("expected pass, got %+v", results)
	}
	if _, err := e.workflows.CompleteTask(ctx, event.ActorAgent, st.Workflow.ID, tk.ID, false); err != nil {
		t.Fatalf("complete after pass: %v", err)
	}
}

func TestGateService_RunVerificationFailureBlocksCompletion(t *testing.T) {
	e := defaultEnv()
	ctx := context.Background()
	st := mustCreate(t, e, "x")
	tk := mustAddTask(t, e, st.Workflow.ID, &event.TaskAdded{
		Title:        "a",
		Verification: []gate.VerificationEntry{{Command: "make lint"}},
	})
	e.exec.results["make lint"] = executor.Result{ExitCode: 2, Output: "boom", Duration: time.Second}

	if _, err := e.workflows.StartTask(ctx, event.ActorAgent, st.Workflow.ID, tk.ID, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	results, err := e.gates.RunVerification(ctx, event.ActorAgent, st.Workflow.ID, tk.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if gate.AllPassed(results) {
		t.Fatal("expected failing run")
	}
	if _, err := e.workflows.CompleteTask(ctx, event.ActorAgent, st.Workflow.ID, tk.ID, false); !errors.Is(err, domain.ErrGateFailed) {
		t.Fatalf("expected gate failure, got: %v", err)
	}
}

func TestGateService_RunVerificationTimeoutIsFailed(t *testing.T) {
	e := defaultEnv()
	ctx := context.Background()
	st := mustCreate(t, e, "x")
	tk := mustAddTask(t, e, st.Workflow.ID, &event.TaskAdded{
		Title:        "a",
		Verification: []gate.VerificationEntry{{Command: "sleep 600", Timeout: time.Second}},
	})
	e.exec.results["sleep"] = executor.Result{ExitCode: -1, TimedOut: true, Duration: time.Second}

	if _, err := e.workflows.StartTask(ctx, event.ActorAgent, st.Workflow.ID, tk.ID, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	results, err := e.gates.RunVerification(ctx, event.ActorAgent, st.Workflow.ID, tk.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(results) != 1 || results[0].Passed || results[0].Reason != gate.ReasonTimeout {
		t.Fatalf("expected timed-out failure, got %+v", results)
	}
}

func TestGateService_RunVerificationCommandStartFailure(t *testing.T) {
	e := defaultEnv()
	ctx := context.Background()
	st := mustCreate(t, e, "x")
	tk := mustAddTask(t, e, st.Workflow.ID, &event.TaskAdded{
		Title:        "a",
		Verification: []gate.VerificationEntry{{Command: "does-not-exist"}},
	})
	e.exec.errs["does-not-exist"] = fmt.Errorf("exec: not found")

	if _, err := e.workflows.StartTask(ctx, event.ActorAgent, st.Workflow.ID, tk.ID, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	results, err := e.gates.RunVerification(ctx, event.ActorAgent, st.Workflow.ID, tk.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(results) != 1 || results[0].Passed || results[0].ExitCode != -1 {
		t.Fatalf("expected unstartable command recorded as failed, got %+v", results)
	}
}

func TestGateService_RunVerificationWithoutEntries(t *testing.T) {
	e := defaultEnv()
	st := mustCreate(t, e, "x")
	tk := mustAddTask(t, e, st.Workflow.ID, &event.TaskAdded{Title: "a"})
	_, err := e.gates.RunVerification(context.Background(), event.ActorAgent, st.Workflow.ID, tk.ID)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got: %v", err)
	}
}

func TestGateService_ReviewFlowToCompletion(t *testing.T) {
	e := defaultEnv()
	ctx := context.Background()
	st := mustCreate(t, e, "x")
	tk := mustAddTask(t, e, st.Workflow.ID, &event.TaskAdded{Title: "a", ReviewRequired: true})
	wfID := st.Workflow.ID

	if _, err := e.workflows.StartTask(ctx, event.ActorAgent, wfID, tk.ID, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.gates.RecordReview(ctx, event.ActorUser, wfID, tk.ID, gate.Review{Stage: gate.StageCodeQuality, Result: gate.ResultApproved}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected out-of-order stage rejected, got: %v", err)
	}

	r1, err := e.gates.RecordReview(ctx, event.ActorUser, wfID, tk.ID, gate.Review{Stage: gate.StageSpecCompliance, Result: gate.ResultApproved})
	if err != nil {
		t.Fatalf("spec review: %v", err)
	}
	if r1.Iteration != 1 {
		t.Fatalf("expected iteration 1, got %d", r1.Iteration)
	}
	if _, err := e.gates.RecordReview(ctx, event.ActorUser, wfID, tk.ID, gate.Review{Stage: gate.StageCodeQuality, Result: gate.ResultApproved}); err != nil {
		t.Fatalf("quality review: %v", err)
	}
	if _, err := e.workflows.CompleteTask(ctx, event.ActorAgent, wfID, tk.ID, false); err != nil {
		t.Fatalf("complete after both approvals: %v", err)
	}
}

func TestGateService_ReviewCapEscalatesToFailed(t *testing.T) {
	e := newEnv(config.Gates{ReviewIterationCap: 2}, config.Batch{}, config.Checkpoint{})
	ctx := context.Background()
	st := mustCreate(t, e, "x")
	tk := mustAddTask(t, e, st.Workflow.ID, &event.TaskAdded{Title: "a", ReviewRequired: true})
	wfID := st.Workflow.ID

	if _, err := e.workflows.StartTask(ctx, event.ActorAgent, wfID, tk.ID, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := e.gates.RecordReview(ctx, event.ActorUser, wfID, tk.ID, gate.Review{Stage: gate.StageSpecCompliance, Result: gate.ResultNeedsChanges}); err != nil {
			t.Fatalf("review %d: %v", i+1, err)
		}
	}

	got, err := e.workflows.Get(ctx, wfID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	gotTask, _ := got.Task(tk.ID)
	if gotTask.Status != task.StatusFailed {
		t.Fatalf("expected escalation to failed, got %s", gotTask.Status)
	}
	if len(got.Mistakes) != 1 || got.Mistakes[0].Signature.Type != "ReviewCapExceeded" {
		t.Fatalf("expected a recorded mistake, got %+v", got.Mistakes)
	}

	// The index sees it too.
	indexed, err := e.gates.Mistakes(ctx, wfID)
	if err != nil {
		t.Fatalf("mistakes: %v", err)
	}
	if len(indexed) != 1 {
		t.Fatalf("expected one indexed mistake, got %d", len(indexed))
	}
}

func TestGateService_SimilarMistakes(t *testing.T) {
	e := defaultEnv()
	ctx := context.Background()
	seed := []memory.Mistake{
		{ID: "m1", WorkflowID: "w1", TaskID: "t1", Signature: memory.Signature{Type: "TestFailure", Message: "assertion failed in parser"}},
		{ID: "m2", WorkflowID: "w2", TaskID: "t2", Signature: memory.Signature{Type: "TestFailure", Message: "panic in handler"}},
		{ID: "m3", WorkflowID: "w3", TaskID: "t3", Signature: memory.Signature{Type: "BuildFailure", Message: "assertion failed"}},
	}
	for i := range seed {
		if err := e.mistakes.Record(ctx, &seed[i]); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	matched, err := e.gates.SimilarMistakes(ctx, memory.Signature{Type: "TestFailure", Message: "assertion failed"}, 10)
	if err != nil {
		t.Fatalf("similar: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "m1" {
		t.Fatalf("expected [m1], got %+v", matched)
	}

	if _, err := e.gates.SimilarMistakes(ctx, memory.Signature{}, 10); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty type, got: %v", err)
	}
}
