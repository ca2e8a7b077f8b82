package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/slideflow/internal/interfaces"
	"github.com/ternarybob/slideflow/internal/models"
)

// WorkflowHandler serves workflow submission, listing, inspection and
// cancellation.
type WorkflowHandler struct {
	scheduler interfaces.Scheduler
	workflows interfaces.WorkflowRegistry
	jobs      interfaces.JobRegistry
	logger    arbor.ILogger
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(
	scheduler interfaces.Scheduler,
	workflows interfaces.WorkflowRegistry,
	jobs interfaces.JobRegistry,
	logger arbor.ILogger,
) *WorkflowHandler {
	return &WorkflowHandler{
		scheduler: scheduler,
		workflows: workflows,
		jobs:      jobs,
		logger:    logger,
	}
}

// CreateWorkflowHandler handles POST /api/workflows
func (h *WorkflowHandler) CreateWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	userID := RequireUser(w, r)
	if userID == "" {
		return
	}

	var submission models.WorkflowCreate
	if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	wf, err := h.scheduler.SubmitWorkflow(userID, &submission)
	if err != nil {
		h.logger.Warn().
			Err(err).
			Str("user_id", userID).
			Msg("Workflow submission rejected")
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, h.toResponse(wf))
}

// ListWorkflowsHandler handles GET /api/workflows
func (h *WorkflowHandler) ListWorkflowsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID := RequireUser(w, r)
	if userID == "" {
		return
	}

	workflows := h.workflows.GetByUser(userID)
	responses := make([]models.WorkflowResponse, 0, len(workflows))
	for _, wf := range workflows {
		responses = append(responses, h.toResponse(wf))
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": responses,
		"count":     len(responses),
	})
}

// GetWorkflowHandler handles GET /api/workflows/{id}
func (h *WorkflowHandler) GetWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	workflowID := extractWorkflowID(r.URL.Path)
	if workflowID == "" {
		WriteError(w, http.StatusBadRequest, "missing workflow id")
		return
	}

	wf, err := h.workflows.Get(workflowID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if !RequireOwner(w, r, wf.UserID) {
		return
	}

	WriteJSON(w, http.StatusOK, h.toResponse(wf))
}

// ListWorkflowJobsHandler handles GET /api/workflows/{id}/jobs, returning the
// workflow's jobs flattened in branch order.
func (h *WorkflowHandler) ListWorkflowJobsHandler(w http.ResponseWriter, r *http.Request) {
	workflowID := extractWorkflowID(r.URL.Path)
	if workflowID == "" {
		WriteError(w, http.StatusBadRequest, "missing workflow id")
		return
	}

	wf, err := h.workflows.Get(workflowID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if !RequireOwner(w, r, wf.UserID) {
		return
	}

	jobsByID := make(map[string]*models.Job)
	for _, job := range h.jobs.GetByWorkflow(wf.ID) {
		jobsByID[job.ID] = job
	}

	responses := make([]models.JobResponse, 0, len(jobsByID))
	for _, branch := range wf.Branches {
		for _, jobID := range branch.JobIDs {
			if job, ok := jobsByID[jobID]; ok {
				responses = append(responses, job.ToResponse())
			}
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"workflow_id": wf.ID,
		"jobs":        responses,
		"count":       len(responses),
	})
}

// CancelWorkflowHandler handles POST /api/workflows/{id}/cancel and
// DELETE /api/workflows/{id}
func (h *WorkflowHandler) CancelWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	workflowID := extractWorkflowID(r.URL.Path)
	if workflowID == "" {
		WriteError(w, http.StatusBadRequest, "missing workflow id")
		return
	}

	wf, err := h.workflows.Get(workflowID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if !RequireOwner(w, r, wf.UserID) {
		return
	}

	if err := h.scheduler.CancelWorkflow(workflowID); err != nil {
		WriteDomainError(w, err)
		return
	}

	h.logger.Info().
		Str("workflow_id", workflowID).
		Msg("Workflow cancellation requested")
	WriteSuccess(w, "workflow cancellation requested")
}

// toResponse assembles the workflow response with jobs grouped by branch.
func (h *WorkflowHandler) toResponse(wf *models.Workflow) models.WorkflowResponse {
	jobs := h.jobs.GetByWorkflow(wf.ID)
	jobsByID := make(map[string]*models.Job, len(jobs))
	for _, job := range jobs {
		jobsByID[job.ID] = job
	}

	branches := make([]models.BranchResponse, 0, len(wf.Branches))
	for _, branch := range wf.Branches {
		br := models.BranchResponse{ID: branch.ID, Jobs: make([]models.JobResponse, 0, len(branch.JobIDs))}
		for _, jobID := range branch.JobIDs {
			if job, ok := jobsByID[jobID]; ok {
				br.Jobs = append(br.Jobs, job.ToResponse())
			}
		}
		branches = append(branches, br)
	}

	return models.WorkflowResponse{
		ID:              wf.ID,
		UserID:          wf.UserID,
		Name:            wf.Name,
		Status:          wf.Status,
		ProgressPercent: wf.ProgressPercent,
		JobCounters:     models.DeriveCounters(jobs),
		Branches:        branches,
		CreatedAt:       wf.CreatedAt,
		StartedAt:       wf.StartedAt,
		FinishedAt:      wf.FinishedAt,
	}
}

// extractWorkflowID pulls the id segment from /api/workflows/{id}[/...].
func extractWorkflowID(path string) string {
	rest := strings.TrimPrefix(path, "/api/workflows/")
	if rest == path {
		return ""
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}
