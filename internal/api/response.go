package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// ErrorBody is the structured error body of spec.md §6: {name, status,
// message, details}.
type ErrorBody struct {
	Name    string `json:"name"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}, log *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn("failed to encode JSON response", zap.Error(err))
	}
}

// writeError writes the structured error body of spec.md §6.
func writeError(w http.ResponseWriter, status int, name, message, details string, log *zap.Logger) {
	writeJSON(w, status, ErrorBody{
		Name:    name,
		Status:  status,
		Message: message,
		Details: details,
	}, log)
}
