package server

import (
	"encoding/json"
	"net/http"

	"github.com/ireland-samantha/npc-relay/internal/claude"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Status: claude.StatusError, Message: message})
}
