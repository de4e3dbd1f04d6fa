package http

import (
	"net/http"

	"github.com/taskledger/taskledger/internal/adapter/ws"
	"github.com/taskledger/taskledger/internal/domain/checkpoint"
	"github.com/taskledger/taskledger/internal/domain/memory"
	"github.com/taskledger/taskledger/internal/service"
)

type createCheckpointRequest struct {
	Trigger checkpoint.Trigger     `json:"trigger,omitempty"`
	Reason  string                 `json:"reason,omitempty"`
	Summary string                 `json:"summary,omitempty"`
	Memory  []memory.Entry         `json:"memory,omitempty"`
	Session *memory.SessionContext `json:"session,omitempty"`
}

// CreateCheckpoint handles POST /workflows/{id}/checkpoints.
func (h *Handlers) CreateCheckpoint(w http.ResponseWriter, r *http.Request) {
	workflowID := urlParam(r, "id")
	req, ok := readJSONOptional[createCheckpointRequest](w, r)
	if !ok {
		return
	}
	if req.Trigger == "" {
		req.Trigger = checkpoint.TriggerManual
	}
	cp, err := h.Checkpoints.Create(r.Context(), actor(r), workflowID, service.CreateRequest{
		Trigger: req.Trigger,
		Reason:  req.Reason,
		Summary: req.Summary,
		Memory:  req.Memory,
		Session: req.Session,
	})
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	h.Hub.BroadcastEvent(r.Context(), ws.EventCheckpoint, ws.CheckpointEvent{
		WorkflowID:   workflowID,
		CheckpointID: cp.ID,
		Trigger:      string(cp.Trigger),
	})
	writeJSON(w, http.StatusCreated, cp)
}

// ListCheckpoints handles GET /workflows/{id}/checkpoints.
func (h *Handlers) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := h.Checkpoints.List(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, cps)
}

// GetCheckpoint handles GET /checkpoints/{id}.
func (h *Handlers) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := h.Checkpoints.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "checkpoint not found")
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

type restoreRequest struct {
	WorkflowID string `json:"workflow_id"`
}

// RestoreCheckpoint handles POST /checkpoints/{id}/restore.
func (h *Handlers) RestoreCheckpoint(w http.ResponseWriter, r *http.Request) {
	checkpointID := urlParam(r, "id")
	req, ok := readJSON[restoreRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.WorkflowID, "workflow_id") {
		return
	}
	cp, err := h.Checkpoints.Restore(r.Context(), actor(r), req.WorkflowID, checkpointID)
	if err != nil {
		writeDomainError(w, err, "checkpoint not found")
		return
	}
	h.Hub.BroadcastEvent(r.Context(), ws.EventCheckpoint, ws.CheckpointEvent{
		WorkflowID:   cp.WorkflowID,
		CheckpointID: cp.ID,
		Trigger:      string(cp.Trigger),
		Restored:     true,
	})
	writeJSON(w, http.StatusOK, cp)
}

// ExecuteBatch handles POST /workflows/{id}/batches: runs the next
// ready batch and reports per-task outcomes.
func (h *Handlers) ExecuteBatch(w http.ResponseWriter, r *http.Request) {
	report, err := h.Batches.ExecuteNext(r.Context(), actor(r), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetNextBatch handles GET /workflows/{id}/batches/next.
func (h *Handlers) GetNextBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.Batches.NextBatch(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"tasks": batch})
}
