package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/slideflow/internal/common"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket routes
	mux.HandleFunc("/ws/system", s.app.WSHandler.HandleSystemSocket)
	mux.HandleFunc("/ws/workflows/", s.app.WSHandler.HandleWorkflowSocket)
	mux.HandleFunc("/ws/jobs/", s.app.WSHandler.HandleJobSocket)

	// API routes - Workflows
	mux.HandleFunc("/api/workflows", s.handleWorkflowsRoute)  // GET (list), POST (create)
	mux.HandleFunc("/api/workflows/", s.handleWorkflowRoutes) // GET /{id}, GET /{id}/jobs, POST /{id}/cancel, DELETE /{id}

	// API routes - Jobs
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // GET /{id}, POST /{id}/cancel, GET /{id}/result, GET /{id}/intermediate

	// API routes - Uploads
	mux.HandleFunc("/api/uploads", s.handleUploadsRoute)      // GET (list), POST (upload)
	mux.HandleFunc("/api/uploads/", s.handleUploadsSubRoutes) // POST /check

	// API routes - System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)
	mux.HandleFunc("/api/health", s.healthHandler)
	mux.HandleFunc("/api/version", s.versionHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.notFoundHandler)

	return mux
}

// handleWorkflowsRoute routes /api/workflows requests (list and create)
func (s *Server) handleWorkflowsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.WorkflowHandler.ListWorkflowsHandler(w, r)
	case http.MethodPost:
		s.app.WorkflowHandler.CreateWorkflowHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleWorkflowRoutes routes /api/workflows/{id} requests
func (s *Server) handleWorkflowRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// POST /api/workflows/{id}/cancel
	if r.Method == http.MethodPost && strings.HasSuffix(path, "/cancel") {
		s.app.WorkflowHandler.CancelWorkflowHandler(w, r)
		return
	}

	// DELETE /api/workflows/{id} is an alias for cancellation
	if r.Method == http.MethodDelete && len(path) > len("/api/workflows/") {
		s.app.WorkflowHandler.CancelWorkflowHandler(w, r)
		return
	}

	if r.Method == http.MethodGet && len(path) > len("/api/workflows/") {
		// GET /api/workflows/{id}/jobs
		if strings.HasSuffix(path, "/jobs") {
			s.app.WorkflowHandler.ListWorkflowJobsHandler(w, r)
			return
		}
		// GET /api/workflows/{id}
		s.app.WorkflowHandler.GetWorkflowHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// handleJobRoutes routes /api/jobs/{id} requests and subpaths
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// POST /api/jobs/{id}/cancel
	if r.Method == http.MethodPost && strings.HasSuffix(path, "/cancel") {
		s.app.JobHandler.CancelJobHandler(w, r)
		return
	}

	if r.Method == http.MethodGet && len(path) > len("/api/jobs/") {
		// GET /api/jobs/{id}/result
		if strings.HasSuffix(path, "/result") {
			s.app.JobHandler.GetJobResultHandler(w, r)
			return
		}
		// GET /api/jobs/{id}/intermediate
		if strings.HasSuffix(path, "/intermediate") {
			s.app.JobHandler.GetJobIntermediateHandler(w, r)
			return
		}
		// GET /api/jobs/{id}
		s.app.JobHandler.GetJobHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// handleUploadsRoute routes /api/uploads requests (list and upload)
func (s *Server) handleUploadsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.UploadHandler.ListFilesHandler(w, r)
	case http.MethodPost:
		s.app.UploadHandler.UploadFileHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleUploadsSubRoutes routes /api/uploads/{action} requests
func (s *Server) handleUploadsSubRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/check") {
		s.app.UploadHandler.CheckFileHandler(w, r)
		return
	}
	http.Error(w, "Not found", http.StatusNotFound)
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"version":%q,"build":%q}`, common.GetVersion(), common.GetFullVersion())
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Not found", http.StatusNotFound)
}
