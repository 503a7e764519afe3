// Package common holds the request and response helpers of the ops handlers.
package common

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondJSON writes body as JSON with the given status. Status responses
// change on every poll and are never cached.
func RespondJSON(w http.ResponseWriter, status int, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(append(payload, '\n'))
}

// RespondError writes an ErrorResponse with a formatted message
func RespondError(w http.ResponseWriter, status int, format string, args ...any) {
	RespondJSON(w, status, ErrorResponse{Error: fmt.Sprintf(format, args...)})
}
