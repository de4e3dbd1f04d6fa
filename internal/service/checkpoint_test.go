package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/taskledger/taskledger/internal/domain"
	"github.com/taskledger/taskledger/internal/domain/checkpoint"
	"github.com/taskledger/taskledger/internal/domain/event"
	"github.com/taskledger/taskledger/internal/domain/memory"
	"github.com/taskledger/taskledger/internal/domain/task"
	"github.com/taskledger/taskledger/internal/domain/workflow"
	"github.com/taskledger/taskledger/internal/service"
)

func TestCheckpointService_CreateCapturesSnapshot(t *testing.T) {
	e := defaultEnv()
	ctx := context.Background()
	st := mustCreate(t, e, "x")
	tk := mustAddTask(t, e, st.Workflow.ID, &event.TaskAdded{Title: "a"})
	wfID := st.Workflow.ID

	cp, err := e.checkpoint.Create(ctx, event.ActorUser, wfID, service.CreateRequest{
		Trigger: checkpoint.TriggerManual,
		Reason:  "before refactor",
		Memory:  []memory.Entry{{Key: "plan", Category: memory.CategoryDecision, Value: "split the parser"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if cp.ID == "" || cp.WorkflowID != wfID {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}
	if cp.Snapshot.TaskStatuses[tk.ID] != string(task.StatusPending) {
		t.Fatalf("expected pending in snapshot, got %+v", cp.Snapshot)
	}
	if cp.Memory[0].CreatedAt.IsZero() {
		t.Fatal("expected memory entry timestamp backfilled")
	}

	// Creation appends an audit event.
	got, err := e.workflows.Get(ctx, wfID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Workflow.Version != 3 {
		t.Fatalf("expected version 3 after checkpoint event, got %d", got.Workflow.Version)
	}
}

func TestCheckpointService_CreateInvalidTrigger(t *testing.T) {
	e := defaultEnv()
	st := mustCreate(t, e, "x")
	_, err := e.checkpoint.Create(context.Background(), event.ActorUser, st.Workflow.ID, service.CreateRequest{Trigger: "vibes"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got: %v", err)
	}
}

func TestCheckpointService_RestoreRewindsTasks(t *testing.T) {
	e := defaultEnv()
	ctx := context.Background()
	st := mustCreate(t, e, "x")
	tk := mustAddTask(t, e, st.Workflow.ID, &event.TaskAdded{Title: "a"})
	wfID := st.Workflow.ID

	cp, err := e.checkpoint.Create(ctx, event.ActorUser, wfID, service.CreateRequest{Trigger: checkpoint.TriggerManual})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := e.workflows.StartTask(ctx, event.ActorAgent, wfID, tk.ID, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.workflows.FailTask(ctx, event.ActorAgent, wfID, tk.ID, "broke"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if _, err := e.checkpoint.Restore(ctx, event.ActorUser, wfID, cp.ID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, err := e.workflows.Get(ctx, wfID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	gotTask, _ := got.Task(tk.ID)
	if gotTask.Status != task.StatusPending {
		t.Fatalf("expected pending after restore, got %s", gotTask.Status)
	}
	// Restore appends; it never rewrites history.
	events, err := e.workflows.Events(ctx, wfID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if events[len(events)-1].Type != event.TypeCheckpointRestored {
		t.Fatalf("expected checkpoint.restored as last event, got %s", events[len(events)-1].Type)
	}
	if got.Workflow.Version != len(events) {
		t.Fatalf("version %d does not match stream length %d", got.Workflow.Version, len(events))
	}
}

func TestCheckpointService_RestoreWrongWorkflow(t *testing.T) {
	e := defaultEnv()
	ctx := context.Background()
	a := mustCreate(t, e, "a")
	b := mustCreate(t, e, "b")

	cp, err := e.checkpoint.Create(ctx, event.ActorUser, a.Workflow.ID, service.CreateRequest{Trigger: checkpoint.TriggerManual})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.checkpoint.Restore(ctx, event.ActorUser, b.Workflow.ID, cp.ID); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected cross-workflow restore rejected, got: %v", err)
	}
}

func TestCheckpointService_Latest(t *testing.T) {
	e := defaultEnv()
	ctx := context.Background()
	st := mustCreate(t, e, "x")
	wfID := st.Workflow.ID

	if _, err := e.checkpoint.Latest(ctx, wfID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found with no checkpoints, got: %v", err)
	}
	first, err := e.checkpoint.Create(ctx, event.ActorUser, wfID, service.CreateRequest{Trigger: checkpoint.TriggerManual})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := e.checkpoint.Create(ctx, event.ActorUser, wfID, service.CreateRequest{Trigger: checkpoint.TriggerSessionEnd})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	latest, err := e.checkpoint.Latest(ctx, wfID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != second.ID || latest.ID == first.ID {
		t.Fatalf("expected latest %s, got %s", second.ID, latest.ID)
	}
}

func TestCheckpointService_SeedsColdRebuild(t *testing.T) {
	e := defaultEnv()
	ctx := context.Background()
	st := mustCreate(t, e, "x")
	wfID := st.Workflow.ID
	tk := mustAddTask(t, e, wfID, &event.TaskAdded{Title: "a"})

	if _, err := e.checkpoint.Create(ctx, event.ActorUser, wfID, service.CreateRequest{Trigger: checkpoint.TriggerManual}); err != nil {
		t.Fatalf("create checkpoint: %v", err)
	}
	if _, err := e.workflows.StartTask(ctx, event.ActorUser, wfID, tk.ID, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.workflows.CompleteTask(ctx, event.ActorUser, wfID, tk.ID, false); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// With a checkpoint present, a cold read folds only the tail.
	fullBefore := e.events.fullLoads
	tailBefore := e.events.tailLoads
	got, err := e.workflows.Get(ctx, wfID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.events.fullLoads != fullBefore {
		t.Fatalf("expected no full replay, got %d", e.events.fullLoads-fullBefore)
	}
	if e.events.tailLoads == tailBefore {
		t.Fatal("expected a tail load after the checkpoint")
	}
	if got.Tasks[tk.ID].Status != task.StatusCompleted {
		t.Fatalf("expected completed after seeded rebuild, got %q", got.Tasks[tk.ID].Status)
	}

	// The seeded state is indistinguishable from a full replay.
	events, err := e.events.LoadByWorkflow(ctx, wfID)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	want, err := workflow.Rebuild(events)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	gotJSON, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	wantJSON, err := json.Marshal(&want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(gotJSON) != string(wantJSON) {
		t.Fatalf("seeded rebuild diverged from full replay:\n%s\nvs\n%s", gotJSON, wantJSON)
	}
}
