package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/autopilot-engine/internal/errors"
	"github.com/autopilot-engine/internal/logging"
	"github.com/autopilot-engine/internal/models"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
	// Execution carries the logged record when an order call failed
	Execution *models.ExecutedOrder `json:"execution,omitempty"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	respondJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// respondServiceError maps a service error onto its status and code. rec is
// attached when the failing call produced an execution record.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, rec *models.ExecutedOrder) {
	catErr := apperrors.Categorize(err)

	if catErr.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).WithField("code", catErr.Code).Warn("Request failed")
	}

	message := catErr.Message
	if catErr.Code == apperrors.CodeInternalError {
		message = "An internal error occurred"
	}

	respondJSON(w, catErr.StatusCode, ErrorResponse{
		Error:     message,
		Code:      catErr.Code,
		Details:   catErr.Details,
		Execution: rec,
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
