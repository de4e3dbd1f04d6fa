package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Workflows
		r.Get("/workflows", h.ListWorkflows)
		r.Post("/workflows", h.CreateWorkflow)
		r.Get("/workflows/{id}", h.GetWorkflow)
		r.Get("/workflows/{id}/events", h.GetWorkflowEvents)
		r.Get("/workflows/{id}/ready", h.GetReadyTasks)
		r.Get("/workflows/{id}/stats", h.GetWorkflowStats)
		r.Get("/workflows/{id}/mistakes", h.ListWorkflowMistakes)
		r.Post("/workflows/{id}/start", h.StartWorkflow)
		r.Post("/workflows/{id}/pause", h.PauseWorkflow)
		r.Post("/workflows/{id}/resume", h.ResumeWorkflow)
		r.Post("/workflows/{id}/complete", h.CompleteWorkflow)
		r.Post("/workflows/{id}/archive", h.ArchiveWorkflow)

		// Tasks (nested under workflows)
		r.Post("/workflows/{id}/tasks", h.AddTask)

		// Tasks (direct access; IDs are globally unique)
		r.Get("/tasks/{id}", h.GetTask)
		r.Patch("/tasks/{id}", h.UpdateTask)
		r.Post("/tasks/{id}/start", h.StartTask)
		r.Post("/tasks/{id}/complete", h.CompleteTask)
		r.Post("/tasks/{id}/fail", h.FailTask)
		r.Post("/tasks/{id}/block", h.BlockTask)
		r.Post("/tasks/{id}/unblock", h.UnblockTask)
		r.Post("/tasks/{id}/skip", h.SkipTask)

		// Quality gates
		r.Post("/tasks/{id}/confidence", h.CheckConfidence)
		r.Post("/tasks/{id}/verify", h.RunVerification)
		r.Post("/tasks/{id}/reviews", h.RecordReview)

		// Checkpoints
		r.Get("/workflows/{id}/checkpoints", h.ListCheckpoints)
		r.Post("/workflows/{id}/checkpoints", h.CreateCheckpoint)
		r.Get("/checkpoints/{id}", h.GetCheckpoint)
		r.Post("/checkpoints/{id}/restore", h.RestoreCheckpoint)

		// Batch execution
		r.Get("/workflows/{id}/batches/next", h.GetNextBatch)
		r.Post("/workflows/{id}/batches", h.ExecuteBatch)

		// Artifacts
		r.Post("/tasks/{id}/artifacts", h.UploadArtifact)
		r.Get("/artifacts/{ref}", h.GetArtifact)

		// Cross-workflow mistake lookup
		r.Get("/mistakes", h.FindMistakes)
	})

	// WebSocket event feed
	r.Get("/ws", h.Hub.HandleWS)

	// Health
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
