package http

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/taskledger/taskledger/internal/domain/event"
	"github.com/taskledger/taskledger/internal/domain/workflow"
)

type uploadArtifactRequest struct {
	Ref     string `json:"ref,omitempty"` // minted when empty
	Content string `json:"content"`
}

// UploadArtifact handles POST /tasks/{id}/artifacts: stores the blob
// and attaches its reference to the task.
func (h *Handlers) UploadArtifact(w http.ResponseWriter, r *http.Request) {
	taskID := urlParam(r, "id")
	req, ok := readJSON[uploadArtifactRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Content, "content") {
		return
	}
	if req.Ref == "" {
		req.Ref = uuid.NewString()
	}

	ref, err := h.Artifacts.Put(r.Context(), req.Ref, []byte(req.Content))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	h.taskMutation(w, r, taskID, func(ctx context.Context, workflowID string) (*workflow.State, error) {
		return h.Workflows.UpdateTask(ctx, actor(r), workflowID, &event.TaskUpdated{
			TaskID:       taskID,
			AddArtifacts: []string{ref},
		})
	})
}

// GetArtifact handles GET /artifacts/{ref}: returns the raw blob.
func (h *Handlers) GetArtifact(w http.ResponseWriter, r *http.Request) {
	data, err := h.Artifacts.Get(r.Context(), urlParam(r, "ref"))
	if err != nil {
		writeDomainError(w, err, "artifact not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
