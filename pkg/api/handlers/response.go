package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/datashield/vault/internal/logger"
)

// writeJSON writes a JSON response with the given status code.
//
// Encoding is done to a buffer first so an encoding error can still produce
// an error response before any headers are sent.
func writeJSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", "error", err)
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
