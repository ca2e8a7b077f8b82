package handlers

import (
	"net/http"
	"os"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/slideflow/internal/interfaces"
	"github.com/ternarybob/slideflow/internal/models"
	"github.com/ternarybob/slideflow/internal/services/runners"
)

// JobHandler serves job inspection, cancellation and result retrieval.
type JobHandler struct {
	scheduler  interfaces.Scheduler
	jobs       interfaces.JobRegistry
	resultsDir string
	logger     arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(scheduler interfaces.Scheduler, jobs interfaces.JobRegistry, resultsDir string, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		scheduler:  scheduler,
		jobs:       jobs,
		resultsDir: resultsDir,
		logger:     logger,
	}
}

// GetJobHandler handles GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := extractJobID(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "missing job id")
		return
	}

	job, err := h.jobs.Get(jobID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if !RequireOwner(w, r, job.UserID) {
		return
	}

	WriteJSON(w, http.StatusOK, job.ToResponse())
}

// CancelJobHandler handles POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := extractJobID(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "missing job id")
		return
	}

	job, err := h.jobs.Get(jobID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if !RequireOwner(w, r, job.UserID) {
		return
	}

	if err := h.scheduler.CancelJob(jobID); err != nil {
		WriteDomainError(w, err)
		return
	}

	h.logger.Info().
		Str("job_id", jobID).
		Msg("Job cancellation requested")
	WriteSuccess(w, "job cancellation requested")
}

// GetJobResultHandler handles GET /api/jobs/{id}/result, serving the final
// result document of a succeeded job.
func (h *JobHandler) GetJobResultHandler(w http.ResponseWriter, r *http.Request) {
	jobID := extractJobID(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "missing job id")
		return
	}

	job, err := h.jobs.Get(jobID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if !RequireOwner(w, r, job.UserID) {
		return
	}

	// A result exists only for a SUCCEEDED job; a job cancelled after its
	// runner already wrote output keeps that output hidden.
	if job.Status != models.JobSucceeded || job.OutputPath == "" {
		WriteError(w, http.StatusNotFound, "no result available for job "+jobID)
		return
	}

	h.serveDocument(w, r, job.OutputPath)
}

// GetJobIntermediateHandler handles GET /api/jobs/{id}/intermediate, serving
// the latest in-flight snapshot for inspection while the job still runs.
func (h *JobHandler) GetJobIntermediateHandler(w http.ResponseWriter, r *http.Request) {
	jobID := extractJobID(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "missing job id")
		return
	}

	job, err := h.jobs.Get(jobID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if !RequireOwner(w, r, job.UserID) {
		return
	}

	path := runners.IntermediatePath(h.resultsDir, job.WorkflowID, job.ID)
	h.serveDocument(w, r, path)
}

func (h *JobHandler) serveDocument(w http.ResponseWriter, r *http.Request, path string) {
	if _, err := os.Stat(path); err != nil {
		WriteError(w, http.StatusNotFound, "result document not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	http.ServeFile(w, r, path)
}

// extractJobID pulls the id segment from /api/jobs/{id}[/...].
func extractJobID(path string) string {
	rest := strings.TrimPrefix(path, "/api/jobs/")
	if rest == path {
		return ""
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}
