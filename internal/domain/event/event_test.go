package event_test

import (
	"errors"
	"testing"

	"github.com/taskledger/taskledger/internal/domain"
	"github.com/taskledger/taskledger/internal/domain/event"
)

func TestNew_AssignsIdentityAndVersion(t *testing.T) {
	ev, err := event.New("wf-1", event.ActorUser, 7, &event.TaskStarted{TaskID: "t1"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if ev.ID == "" {
		t.Fatal("expected a generated event id")
	}
	if ev.WorkflowID != "wf-1" || ev.Version != 7 {
		t.Fatalf("unexpected identity: %+v", ev)
	}
	if ev.Type != event.TypeTaskStarted {
		t.Fatalf("expected type from payload, got %s", ev.Type)
	}
	if ev.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}
}

func TestNew_EmptyActorDefaultsToSystem(t *testing.T) {
	ev, err := event.New("wf-1", "", 1, &event.WorkflowCreated{Name: "x"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if ev.Actor != event.ActorSystem {
		t.Fatalf("expected system actor, got %s", ev.Actor)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	ev, err := event.New("wf-1", event.ActorAgent, 3, &event.TaskFailed{TaskID: "t1", Reason: "verification gate failed"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p, err := ev.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	failed, ok := p.(*event.TaskFailed)
	if !ok {
		t.Fatalf("expected *TaskFailed, got %T", p)
	}
	if failed.TaskID != "t1" || failed.Reason != "verification gate failed" {
		t.Fatalf("unexpected payload: %+v", failed)
	}
}

func TestDecode_UnknownTypeIsCorrupt(t *testing.T) {
	ev := &event.Event{ID: "e1", Type: "workflow.exploded"}
	if _, err := ev.Decode(); !errors.Is(err, domain.ErrCorruptLog) {
		t.Fatalf("expected corrupt log error, got: %v", err)
	}
}

func TestDecode_MalformedPayloadIsCorrupt(t *testing.T) {
	ev := &event.Event{ID: "e1", Type: event.TypeTaskAdded, Payload: []byte(`{"task_id":`)}
	if _, err := ev.Decode(); !errors.Is(err, domain.ErrCorruptLog) {
		t.Fatalf("expected corrupt log error, got: %v", err)
	}
}

func TestDecode_EmptyPayloadYieldsZeroVariant(t *testing.T) {
	ev := &event.Event{ID: "e1", Type: event.TypeWorkflowStarted}
	p, err := ev.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := p.(*event.WorkflowStarted); !ok {
		t.Fatalf("expected *WorkflowStarted, got %T", p)
	}
}
