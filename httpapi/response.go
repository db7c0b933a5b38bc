package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/archivorch/orchestrator/core/apierr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// writeError maps err to its apierr.Kind-derived status code and logs
// anything that isn't a routine client error.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := apierr.StatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.InvalidInput("malformed request body: %v", err)
	}
	return nil
}
