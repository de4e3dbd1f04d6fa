package http

import (
	"net/http"
	"strconv"

	"github.com/taskledger/taskledger/internal/domain/gate"
	"github.com/taskledger/taskledger/internal/domain/memory"
)

type confidenceRequest struct {
	Dimensions []gate.Dimension `json:"dimensions"`
	Threshold  float64          `json:"threshold,omitempty"`
}

// CheckConfidence handles POST /tasks/{id}/confidence.
func (h *Handlers) CheckConfidence(w http.ResponseWriter, r *http.Request) {
	taskID := urlParam(r, "id")
	req, ok := readJSON[confidenceRequest](w, r)
	if !ok {
		return
	}
	workflowID, err := h.Workflows.FindTaskWorkflow(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	check, err := h.Gates.CheckConfidence(r.Context(), actor(r), workflowID, taskID, req.Dimensions, req.Threshold)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// RunVerification handles POST /tasks/{id}/verify: executes every
// verification entry configured on the task and records the evidence.
func (h *Handlers) RunVerification(w http.ResponseWriter, r *http.Request) {
	taskID := urlParam(r, "id")
	workflowID, err := h.Workflows.FindTaskWorkflow(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	results, err := h.Gates.RunVerification(r.Context(), actor(r), workflowID, taskID)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"passed":  gate.AllPassed(results),
	})
}

type reviewRequest struct {
	Stage    gate.ReviewStage  `json:"stage"`
	Result   gate.ReviewResult `json:"result"`
	Reviewer string            `json:"reviewer,omitempty"`
	Notes    string            `json:"notes,omitempty"`
}

// RecordReview handles POST /tasks/{id}/reviews.
func (h *Handlers) RecordReview(w http.ResponseWriter, r *http.Request) {
	taskID := urlParam(r, "id")
	req, ok := readJSON[reviewRequest](w, r)
	if !ok {
		return
	}
	workflowID, err := h.Workflows.FindTaskWorkflow(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	review, err := h.Gates.RecordReview(r.Context(), actor(r), workflowID, taskID, gate.Review{
		Stage:    req.Stage,
		Result:   req.Result,
		Reviewer: req.Reviewer,
		Notes:    req.Notes,
	})
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

// ListWorkflowMistakes handles GET /workflows/{id}/mistakes.
func (h *Handlers) ListWorkflowMistakes(w http.ResponseWriter, r *http.Request) {
	mistakes, err := h.Gates.Mistakes(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, mistakes)
}

// FindMistakes handles GET /mistakes?type=...&message=...&limit=...:
// cross-workflow signature lookup.
func (h *Handlers) FindMistakes(w http.ResponseWriter, r *http.Request) {
	sigType := r.URL.Query().Get("type")
	if !requireField(w, sigType, "type") {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	matches, err := h.Gates.SimilarMistakes(r.Context(), memory.Signature{
		Type:    sigType,
		Message: r.URL.Query().Get("message"),
	}, limit)
	if err != nil {
		writeDomainError(w, err, "mistakes not found")
		return
	}
	writeJSON(w, http.StatusOK, matches)
}
