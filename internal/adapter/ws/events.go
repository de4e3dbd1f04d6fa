package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventWorkflowStatus = "workflow.status"
	EventTaskStatus     = "task.status"
	EventLogAppended    = "log.appended"
	EventGateResult     = "gate.result"
	EventCheckpoint     = "checkpoint"
)

// WorkflowStatusEvent is broadcast when a workflow's status changes.
type WorkflowStatusEvent struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
	Version    int    `json:"version"`
}

// TaskStatusEvent is broadcast when a task's status changes.
type TaskStatusEvent struct {
	WorkflowID string `json:"workflow_id"`
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
}

// LogAppendedEvent is broadcast for every event appended to a stream.
type LogAppendedEvent struct {
	WorkflowID string `json:"workflow_id"`
	EventID    string `json:"event_id"`
	Type       string `json:"type"`
	Actor      string `json:"actor"`
	Version    int    `json:"version"`
}

// GateResultEvent is broadcast when a quality gate produces an outcome.
type GateResultEvent struct {
	WorkflowID string  `json:"workflow_id"`
	TaskID     string  `json:"task_id"`
	Gate       string  `json:"gate"` // confidence, verification, review
	Passed     bool    `json:"passed"`
	Score      float64 `json:"score,omitempty"`
	Stage      string  `json:"stage,omitempty"`
}

// CheckpointEvent is broadcast when a checkpoint is created or restored.
type CheckpointEvent struct {
	WorkflowID   string `json:"workflow_id"`
	CheckpointID string `json:"checkpoint_id"`
	Trigger      string `json:"trigger"`
	Restored     bool   `json:"restored"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
