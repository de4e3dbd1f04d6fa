package messagequeue

import (
	"encoding/json"
	"time"
)

// EventEnvelopePayload is the schema for workflows.events.{workflow_id}
// messages. Payload carries the event's encoded variant verbatim.
type EventEnvelopePayload struct {
	EventID    string          `json:"event_id"`
	WorkflowID string          `json:"workflow_id"`
	Type       string          `json:"type"`
	Actor      string          `json:"actor"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	Payload    json.RawMessage `json:"payload"`
}

// CheckpointPayload is the schema for workflows.checkpoints messages.
type CheckpointPayload struct {
	CheckpointID string `json:"checkpoint_id"`
	WorkflowID   string `json:"workflow_id"`
	Trigger      string `json:"trigger"`
	Version      int64  `json:"version"`
	Restored     bool   `json:"restored"`
}

// GateResultPayload is the schema for workflows.gates messages.
type GateResultPayload struct {
	WorkflowID string  `json:"workflow_id"`
	TaskID     string  `json:"task_id"`
	Gate       string  `json:"gate"` // confidence, verification, review
	Passed     bool    `json:"passed"`
	Score      float64 `json:"score,omitempty"`
	Stage      string  `json:"stage,omitempty"`
	Detail     string  `json:"detail,omitempty"`
}

// BatchProgressPayload is the schema for workflows.batches messages.
type BatchProgressPayload struct {
	WorkflowID string   `json:"workflow_id"`
	BatchSize  int      `json:"batch_size"`
	TaskIDs    []string `json:"task_ids"`
	Completed  []string `json:"completed"`
	Failed     []string `json:"failed"`
	Stopped    bool     `json:"stopped"`
}
