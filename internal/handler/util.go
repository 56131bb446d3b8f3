package handler

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the console's uniform error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON marshals v before touching the response so an encoding failure
// can still produce a clean 500 instead of a truncated body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError writes the error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
