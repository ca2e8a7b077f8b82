package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/slideflow/internal/models"
)

// UserIDHeader identifies the tenant on every API request.
const UserIDHeader = "X-User-ID"

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// RequireUser extracts the tenant id from the request header.
// Returns "" after writing an error response when the header is missing.
func RequireUser(w http.ResponseWriter, r *http.Request) string {
	userID := r.Header.Get(UserIDHeader)
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "missing "+UserIDHeader+" header")
	}
	return userID
}

// RequireOwner verifies the request's tenant header matches the record's
// owner. Writes 403 (or 400 for a missing header) and returns false on
// mismatch.
func RequireOwner(w http.ResponseWriter, r *http.Request, ownerID string) bool {
	userID := RequireUser(w, r)
	if userID == "" {
		return false
	}
	if userID != ownerID {
		WriteError(w, http.StatusForbidden, "resource belongs to another user")
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteDomainError maps an error kind to an HTTP status and writes it.
func WriteDomainError(w http.ResponseWriter, err error) error {
	status := http.StatusInternalServerError
	switch models.KindOf(err) {
	case models.ErrInvalidDAG:
		status = http.StatusBadRequest
	case models.ErrUnknownWorkflow, models.ErrUnknownJob:
		status = http.StatusNotFound
	case models.ErrInvalidTransition:
		status = http.StatusConflict
	}
	return WriteError(w, status, err.Error())
}
