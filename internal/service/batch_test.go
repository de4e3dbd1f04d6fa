package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/taskledger/taskledger/internal/config"
	"github.com/taskledger/taskledger/internal/domain/checkpoint"
	"github.com/taskledger/taskledger/internal/domain/event"
	"github.com/taskledger/taskledger/internal/domain/gate"
	"github.com/taskledger/taskledger/internal/domain/task"
	"github.com/taskledger/taskledger/internal/port/executor"
)

func TestBatchService_NextBatchRespectsSizeAndOrder(t *testing.T) {
	e := newEnv(config.Gates{}, config.Batch{Size: 2}, config.Checkpoint{})
	ctx := context.Background()
	st := mustCreate(t, e, "x")
	wfID := st.Workflow.ID

	t1 := mustAddTask(t, e, wfID, &event.TaskAdded{Title: "a"})
	t2 := mustAddTask(t, e, wfID, &event.TaskAdded{Title: "b"})
	mustAddTask(t, e, wfID, &event.TaskAdded{Title: "c"})

	batch, err := e.batches.NextBatch(ctx, wfID)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if len(batch) != 2 || batch[0] != t1.ID || batch[1] != t2.ID {
		t.Fatalf("expected [%s %s], got %v", t1.ID, t2.ID, batch)
	}
}

func TestBatchService_ExecuteNextCompletesTasks(t *testing.T) {
	e := newEnv(config.Gates{}, config.Batch{Size: 3}, config.Checkpoint{})
	ctx := context.Background()
	st := mustCreate(t, e, "x")
	wfID := st.Workflow.ID

	mustAddTask(t, e, wfID, &event.TaskAdded{Title: "a"})
	mustAddTask(t, e, wfID, &event.TaskAdded{Title: "b"})

	report, err := e.batches.ExecuteNext(ctx, event.ActorAgent, wfID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(report.Completed) != 2 || len(report.Failed) != 0 || report.Stopped {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestBatchService_VerificationFailureFailsTask(t *testing.T) {
	e := newEnv(config.Gates{}, config.Batch{Size: 3, StopOnFailure: true}, config.Checkpoint{})
	ctx := context.Background()
	st := mustCreate(t, e, "x")
	wfID := st.Workflow.ID

	bad := mustAddTask(t, e, wfID, &event.TaskAdded{
		Title:        "bad",
		Verification: []gate.VerificationEntry{{Command: "make broken"}},
	})
	e.exec.results["make broken"] = executor.Result{ExitCode: 1, Output: "FAIL", Duration: time.Second}

	report, err := e.batches.ExecuteNext(ctx, event.ActorAgent, wfID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0] != bad.ID {
		t.Fatalf("expected [%s] failed, got %+v", bad.ID, report)
	}
	if !report.Stopped {
		t.Fatal("expected stop-on-failure to mark the run stopped")
	}

	got, err := e.workflows.Get(ctx, wfID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	gotTask, _ := got.Task(bad.ID)
	if gotTask.Status != task.StatusFailed {
		t.Fatalf("expected failed, got %s", gotTask.Status)
	}
}

func TestBatchService_ReviewRequiredStaysPending(t *testing.T) {
	e := newEnv(config.Gates{}, config.Batch{Size: 3}, config.Checkpoint{})
	ctx := context.Background()
	st := mustCreate(t, e, "x")
	wfID := st.Workflow.ID

	reviewed := mustAddTask(t, e, wfID, &event.TaskAdded{Title: "reviewed", ReviewRequired: true})

	report, err := e.batches.ExecuteNext(ctx, event.ActorAgent, wfID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(report.Pending) != 1 || report.Pending[0] != reviewed.ID {
		t.Fatalf("expected pending review, got %+v", report)
	}
	if len(report.Completed) != 0 || len(report.Failed) != 0 {
		t.Fatalf("review-gated task counted as completed or failed: %+v", report)
	}

	got, err := e.workflows.Get(ctx, wfID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	gotTask, _ := got.Task(reviewed.ID)
	if gotTask.Status != task.StatusInProgress {
		t.Fatalf("expected in_progress awaiting review, got %s", gotTask.Status)
	}
}

func TestBatchService_RunDrainsDependencyChain(t *testing.T) {
	e := newEnv(config.Gates{}, config.Batch{Size: 2}, config.Checkpoint{})
	ctx := context.Background()
	st := mustCreate(t, e, "x")
	wfID := st.Workflow.ID

	t1 := mustAddTask(t, e, wfID, &event.TaskAdded{Title: "a"})
	mustAddTask(t, e, wfID, &event.TaskAdded{Title: "b", DependsOn: []string{t1.ID}})

	reports, err := e.batches.Run(ctx, event.ActorAgent, wfID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(reports))
	}

	got, err := e.workflows.Get(ctx, wfID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Workflow.Stats.CompletedTasks != 2 {
		t.Fatalf("expected both tasks completed, got %+v", got.Workflow.Stats)
	}
}

func TestBatchService_CheckpointAfterBatch(t *testing.T) {
	e := newEnv(config.Gates{}, config.Batch{Size: 3}, config.Checkpoint{AfterBatch: true})
	ctx := context.Background()
	st := mustCreate(t, e, "x")
	wfID := st.Workflow.ID
	mustAddTask(t, e, wfID, &event.TaskAdded{Title: "a"})

	if _, err := e.batches.ExecuteNext(ctx, event.ActorAgent, wfID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	cps, err := e.checkpoint.List(ctx, wfID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cps) != 1 || cps[0].Trigger != checkpoint.TriggerBatchCompleted {
		t.Fatalf("expected one batch_completed checkpoint, got %+v", cps)
	}
}

func TestBatchService_EmptyBatchIsNoop(t *testing.T) {
	e := newEnv(config.Gates{}, config.Batch{Size: 3}, config.Checkpoint{})
	st := mustCreate(t, e, "x")

	report, err := e.batches.ExecuteNext(context.Background(), event.ActorAgent, st.Workflow.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(report.TaskIDs) != 0 || report.Stopped {
		t.Fatalf("expected empty report, got %+v", report)
	}
}
