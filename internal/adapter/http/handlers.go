package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/taskledger/taskledger/internal/adapter/ws"
	"github.com/taskledger/taskledger/internal/domain/checkpoint"
	"github.com/taskledger/taskledger/internal/domain/event"
	"github.com/taskledger/taskledger/internal/domain/gate"
	"github.com/taskledger/taskledger/internal/domain/task"
	"github.com/taskledger/taskledger/internal/domain/workflow"
	"github.com/taskledger/taskledger/internal/middleware"
	"github.com/taskledger/taskledger/internal/port/artifactstore"
	"github.com/taskledger/taskledger/internal/service"
)

// Handlers bundles the service dependencies for all HTTP endpoints.
type Handlers struct {
	Workflows   *service.WorkflowService
	Gates       *service.GateService
	Checkpoints *service.CheckpointService
	Batches     *service.BatchService
	Hub         *ws.Hub
	Artifacts   artifactstore.Store

	// CheckpointOnPause takes an automatic checkpoint whenever a
	// workflow is paused.
	CheckpointOnPause bool
}

func actor(r *http.Request) event.Actor {
	return middleware.ActorFromContext(r.Context())
}

// --- Workflows ---

type createWorkflowRequest struct {
	Name      string `json:"name"`
	Workspace string `json:"workspace,omitempty"`
}

// CreateWorkflow handles POST /workflows.
func (h *Handlers) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createWorkflowRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Name, "name") {
		return
	}
	st, err := h.Workflows.CreateWorkflow(r.Context(), actor(r), req.Name, req.Workspace)
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	h.broadcastWorkflow(r.Context(), st)
	writeJSON(w, http.StatusCreated, st)
}

// ListWorkflows handles GET /workflows.
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.Workflows.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "workflows not found")
		return
	}
	writeJSON(w, http.StatusOK, workflows)
}

// GetWorkflow handles GET /workflows/{id}: the full projected state.
// An optional at=RFC3339 query returns the state as of that instant.
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	if at := r.URL.Query().Get("at"); at != "" {
		ts, err := time.Parse(time.RFC3339, at)
		if err != nil {
			writeError(w, http.StatusBadRequest, "at must be RFC3339")
			return
		}
		st, err := h.Workflows.StateAt(r.Context(), id, ts)
		if err != nil {
			writeDomainError(w, err, "workflow not found")
			return
		}
		writeJSON(w, http.StatusOK, st)
		return
	}

	st, err := h.Workflows.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetWorkflowEvents handles GET /workflows/{id}/events.
func (h *Handlers) GetWorkflowEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Workflows.Events(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// GetReadyTasks handles GET /workflows/{id}/ready.
func (h *Handlers) GetReadyTasks(w http.ResponseWriter, r *http.Request) {
	ready, err := h.Workflows.ReadySet(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"ready": ready})
}

// GetWorkflowStats handles GET /workflows/{id}/stats.
func (h *Handlers) GetWorkflowStats(w http.ResponseWriter, r *http.Request) {
	counts, firstAt, err := h.Workflows.Stats(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"event_counts": counts,
		"first_event":  firstAt,
	})
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

// StartWorkflow handles POST /workflows/{id}/start.
func (h *Handlers) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	h.workflowTransition(w, r, func(ctx context.Context, id string) (*workflow.State, error) {
		return h.Workflows.StartWorkflow(ctx, actor(r), id)
	})
}

// PauseWorkflow handles POST /workflows/{id}/pause.
func (h *Handlers) PauseWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSONOptional[reasonRequest](w, r)
	if !ok {
		return
	}
	id := urlParam(r, "id")
	st, err := h.Workflows.PauseWorkflow(r.Context(), actor(r), id, req.Reason)
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	if h.CheckpointOnPause {
		if _, err := h.Checkpoints.Create(r.Context(), actor(r), id, service.CreateRequest{
			Trigger: checkpoint.TriggerWorkflowPaused,
			Reason:  req.Reason,
		}); err != nil {
			slog.Warn("pause checkpoint failed", "workflow_id", id, "error", err)
		}
	}
	h.broadcastWorkflow(r.Context(), st)
	writeJSON(w, http.StatusOK, st)
}

// ResumeWorkflow handles POST /workflows/{id}/resume.
func (h *Handlers) ResumeWorkflow(w http.ResponseWriter, r *http.Request) {
	h.workflowTransition(w, r, func(ctx context.Context, id string) (*workflow.State, error) {
		return h.Workflows.ResumeWorkflow(ctx, actor(r), id)
	})
}

type completeWorkflowRequest struct {
	Outcome event.Outcome `json:"outcome,omitempty"`
}

// CompleteWorkflow handles POST /workflows/{id}/complete.
func (h *Handlers) CompleteWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSONOptional[completeWorkflowRequest](w, r)
	if !ok {
		return
	}
	h.workflowTransition(w, r, func(ctx context.Context, id string) (*workflow.State, error) {
		return h.Workflows.CompleteWorkflow(ctx, actor(r), id, req.Outcome)
	})
}

// ArchiveWorkflow handles POST /workflows/{id}/archive.
func (h *Handlers) ArchiveWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSONOptional[reasonRequest](w, r)
	if !ok {
		return
	}
	h.workflowTransition(w, r, func(ctx context.Context, id string) (*workflow.State, error) {
		return h.Workflows.ArchiveWorkflow(ctx, actor(r), id, req.Reason)
	})
}

func (h *Handlers) workflowTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) (*workflow.State, error)) {
	st, err := fn(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	h.broadcastWorkflow(r.Context(), st)
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) broadcastWorkflow(ctx context.Context, st *workflow.State) {
	h.Hub.BroadcastEvent(ctx, ws.EventWorkflowStatus, ws.WorkflowStatusEvent{
		WorkflowID: st.Workflow.ID,
		Status:     string(st.Workflow.Status),
		Version:    st.Workflow.Version,
	})
}

// --- Tasks ---

// verificationDTO is the wire form of a verification entry; the timeout
// is taken in seconds rather than a Go duration.
type verificationDTO struct {
	Command         string `json:"command"`
	ExpectSubstring string `json:"expect_substring,omitempty"`
	ExpectExitCode  *int   `json:"expect_exit_code,omitempty"`
	TimeoutSeconds  int    `json:"timeout_seconds,omitempty"`
}

func verificationEntries(dtos []verificationDTO) []gate.VerificationEntry {
	if len(dtos) == 0 {
		return nil
	}
	entries := make([]gate.VerificationEntry, len(dtos))
	for i, d := range dtos {
		entries[i] = gate.VerificationEntry{
			Command:         d.Command,
			ExpectSubstring: d.ExpectSubstring,
			ExpectExitCode:  d.ExpectExitCode,
			Timeout:         time.Duration(d.TimeoutSeconds) * time.Second,
		}
	}
	return entries
}

type addTaskRequest struct {
	Title          string            `json:"title"`
	Priority       task.Priority     `json:"priority,omitempty"`
	DependsOn      []string          `json:"depends_on,omitempty"`
	Steps          []task.Step       `json:"steps,omitempty"`
	Verification   []verificationDTO `json:"verification,omitempty"`
	ReviewRequired bool              `json:"review_required,omitempty"`
}

// AddTask handles POST /workflows/{id}/tasks.
func (h *Handlers) AddTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[addTaskRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Title, "title") {
		return
	}
	payload := &event.TaskAdded{
		Title:          req.Title,
		Priority:       req.Priority,
		DependsOn:      req.DependsOn,
		Steps:          req.Steps,
		Verification:   verificationEntries(req.Verification),
		ReviewRequired: req.ReviewRequired,
	}
	st, err := h.Workflows.AddTask(r.Context(), actor(r), urlParam(r, "id"), payload)
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	h.broadcastTask(r.Context(), st.Workflow.ID, payload.TaskID, st)
	writeJSON(w, http.StatusCreated, st.Tasks[payload.TaskID])
}

type updateTaskRequest struct {
	Title        *string        `json:"title,omitempty"`
	Priority     *task.Priority `json:"priority,omitempty"`
	StepDone     *int           `json:"step_done,omitempty"`
	StepEvidence string         `json:"step_evidence,omitempty"`
	AddArtifacts []string       `json:"add_artifacts,omitempty"`
}

// UpdateTask handles PATCH /tasks/{id}.
func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := urlParam(r, "id")
	req, ok := readJSON[updateTaskRequest](w, r)
	if !ok {
		return
	}
	h.taskMutation(w, r, taskID, func(ctx context.Context, workflowID string) (*workflow.State, error) {
		return h.Workflows.UpdateTask(ctx, actor(r), workflowID, &event.TaskUpdated{
			TaskID:       taskID,
			Title:        req.Title,
			Priority:     req.Priority,
			StepDone:     req.StepDone,
			StepEvidence: req.StepEvidence,
			AddArtifacts: req.AddArtifacts,
		})
	})
}

// GetTask handles GET /tasks/{id}.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := urlParam(r, "id")
	workflowID, err := h.Workflows.FindTaskWorkflow(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	st, err := h.Workflows.Get(r.Context(), workflowID)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	t, ok := st.Task(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type forceRequest struct {
	Force bool `json:"force,omitempty"`
}

type startTaskRequest struct {
	Force      bool             `json:"force,omitempty"`
	Confidence []gate.Dimension `json:"confidence,omitempty"`
	Threshold  float64          `json:"threshold,omitempty"`
}

// StartTask handles POST /tasks/{id}/start. An inline confidence
// assessment is recorded first when dimensions are supplied; a failing
// check never blocks the start, it only stays in the history.
func (h *Handlers) StartTask(w http.ResponseWriter, r *http.Request) {
	taskID := urlParam(r, "id")
	req, ok := readJSONOptional[startTaskRequest](w, r)
	if !ok {
		return
	}
	h.taskMutation(w, r, taskID, func(ctx context.Context, workflowID string) (*workflow.State, error) {
		if len(req.Confidence) > 0 {
			if _, err := h.Gates.CheckConfidence(ctx, actor(r), workflowID, taskID, req.Confidence, req.Threshold); err != nil {
				return nil, err
			}
		}
		return h.Workflows.StartTask(ctx, actor(r), workflowID, taskID, req.Force)
	})
}

// CompleteTask handles POST /tasks/{id}/complete.
func (h *Handlers) CompleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := urlParam(r, "id")
	req, ok := readJSONOptional[forceRequest](w, r)
	if !ok {
		return
	}
	h.taskMutation(w, r, taskID, func(ctx context.Context, workflowID string) (*workflow.State, error) {
		return h.Workflows.CompleteTask(ctx, actor(r), workflowID, taskID, req.Force)
	})
}

// FailTask handles POST /tasks/{id}/fail.
func (h *Handlers) FailTask(w http.ResponseWriter, r *http.Request) {
	h.taskReasonMutation(w, r, h.Workflows.FailTask)
}

// BlockTask handles POST /tasks/{id}/block.
func (h *Handlers) BlockTask(w http.ResponseWriter, r *http.Request) {
	h.taskReasonMutation(w, r, h.Workflows.BlockTask)
}

// SkipTask handles POST /tasks/{id}/skip.
func (h *Handlers) SkipTask(w http.ResponseWriter, r *http.Request) {
	h.taskReasonMutation(w, r, h.Workflows.SkipTask)
}

// UnblockTask handles POST /tasks/{id}/unblock.
func (h *Handlers) UnblockTask(w http.ResponseWriter, r *http.Request) {
	taskID := urlParam(r, "id")
	h.taskMutation(w, r, taskID, func(ctx context.Context, workflowID string) (*workflow.State, error) {
		return h.Workflows.UnblockTask(ctx, actor(r), workflowID, taskID)
	})
}

func (h *Handlers) taskReasonMutation(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, a event.Actor, workflowID, taskID, reason string) (*workflow.State, error)) {
	taskID := urlParam(r, "id")
	req, ok := readJSONOptional[reasonRequest](w, r)
	if !ok {
		return
	}
	h.taskMutation(w, r, taskID, func(ctx context.Context, workflowID string) (*workflow.State, error) {
		return fn(ctx, actor(r), workflowID, taskID, req.Reason)
	})
}

// taskMutation resolves the owning workflow, applies the mutation, and
// returns the task's fresh projection.
func (h *Handlers) taskMutation(w http.ResponseWriter, r *http.Request, taskID string, fn func(ctx context.Context, workflowID string) (*workflow.State, error)) {
	workflowID, err := h.Workflows.FindTaskWorkflow(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	st, err := fn(r.Context(), workflowID)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	h.broadcastTask(r.Context(), workflowID, taskID, st)
	t, _ := st.Task(taskID)
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) broadcastTask(ctx context.Context, workflowID, taskID string, st *workflow.State) {
	t, ok := st.Task(taskID)
	if !ok {
		return
	}
	h.Hub.BroadcastEvent(ctx, ws.EventTaskStatus, ws.TaskStatusEvent{
		WorkflowID: workflowID,
		TaskID:     taskID,
		Status:     string(t.Status),
	})
}
