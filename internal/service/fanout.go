package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/taskledger/taskledger/internal/domain/event"
	"github.com/taskledger/taskledger/internal/port/broadcast"
	"github.com/taskledger/taskledger/internal/port/messagequeue"
	"github.com/taskledger/taskledger/internal/resilience"
)

// Fanout publishes appended events to NATS and to websocket clients.
// Fan-out is strictly after the fact: the log write has already
// happened, so a delivery failure is logged and dropped, never allowed
// to fail the command that produced the event.
type Fanout struct {
	queue   messagequeue.Queue
	caster  broadcast.Broadcaster
	breaker *resilience.Breaker
	log     *slog.Logger
}

// NewFanout creates a Fanout. The breaker guards the NATS publish path
// so a broker outage degrades to local-only delivery instead of adding
// publish latency to every command.
func NewFanout(queue messagequeue.Queue, caster broadcast.Broadcaster, breaker *resilience.Breaker, log *slog.Logger) *Fanout {
	return &Fanout{queue: queue, caster: caster, breaker: breaker, log: log}
}

// Event fans out a single appended event.
func (f *Fanout) Event(ctx context.Context, ev *event.Event) {
	if f == nil {
		return
	}
	if f.queue != nil {
		payload := messagequeue.EventEnvelopePayload{
			EventID:    ev.ID,
			WorkflowID: ev.WorkflowID,
			Type:       string(ev.Type),
			Actor:      string(ev.Actor),
			Version:    int64(ev.Version),
			CreatedAt:  ev.CreatedAt,
			Payload:    ev.Payload,
		}
		data, err := json.Marshal(payload)
		if err != nil {
			f.log.Error("marshal event envelope", "event_id", ev.ID, "error", err)
		} else {
			subject := messagequeue.EventSubject(ev.WorkflowID)
			err := f.breaker.Execute(func() error {
				return f.queue.Publish(ctx, subject, data)
			})
			if err != nil {
				f.log.Warn("event fan-out dropped", "subject", subject, "event_id", ev.ID, "error", err)
			}
		}
	}
	if f.caster != nil {
		f.caster.BroadcastEvent(ctx, "log.appended", map[string]any{
			"workflow_id": ev.WorkflowID,
			"event_id":    ev.ID,
			"type":        string(ev.Type),
			"actor":       string(ev.Actor),
			"version":     ev.Version,
		})
	}
}

// Gate fans out a quality gate outcome.
func (f *Fanout) Gate(ctx context.Context, p messagequeue.GateResultPayload) {
	if f == nil {
		return
	}
	if f.queue != nil {
		data, err := json.Marshal(p)
		if err != nil {
			f.log.Error("marshal gate payload", "task_id", p.TaskID, "error", err)
		} else if err := f.breaker.Execute(func() error {
			return f.queue.Publish(ctx, messagequeue.SubjectGateResults, data)
		}); err != nil {
			f.log.Warn("gate fan-out dropped", "task_id", p.TaskID, "error", err)
		}
	}
	if f.caster != nil {
		f.caster.BroadcastEvent(ctx, "gate.result", p)
	}
}

// Checkpoint fans out a checkpoint creation or restore.
func (f *Fanout) Checkpoint(ctx context.Context, p messagequeue.CheckpointPayload) {
	if f == nil {
		return
	}
	if f.queue != nil {
		data, err := json.Marshal(p)
		if err != nil {
			f.log.Error("marshal checkpoint payload", "checkpoint_id", p.CheckpointID, "error", err)
		} else if err := f.breaker.Execute(func() error {
			return f.queue.Publish(ctx, messagequeue.SubjectCheckpoints, data)
		}); err != nil {
			f.log.Warn("checkpoint fan-out dropped", "checkpoint_id", p.CheckpointID, "error", err)
		}
	}
	if f.caster != nil {
		f.caster.BroadcastEvent(ctx, "checkpoint", p)
	}
}

// Batch fans out batch execution progress.
func (f *Fanout) Batch(ctx context.Context, p messagequeue.BatchProgressPayload) {
	if f == nil {
		return
	}
	if f.queue != nil {
		data, err := json.Marshal(p)
		if err != nil {
			f.log.Error("marshal batch payload", "workflow_id", p.WorkflowID, "error", err)
		} else if err := f.breaker.Execute(func() error {
			return f.queue.Publish(ctx, messagequeue.SubjectBatchProgress, data)
		}); err != nil {
			f.log.Warn("batch fan-out dropped", "workflow_id", p.WorkflowID, "error", err)
		}
	}
	if f.caster != nil {
		f.caster.BroadcastEvent(ctx, "batch.progress", p)
	}
}
