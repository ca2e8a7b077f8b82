package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/slideflow/internal/interfaces"
)

// StatusHandler serves the system status snapshot.
type StatusHandler struct {
	status interfaces.StatusService
	logger arbor.ILogger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(status interfaces.StatusService, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		status: status,
		logger: logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.status.Snapshot())
}
