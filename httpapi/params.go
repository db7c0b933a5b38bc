package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/archivorch/orchestrator/core/apierr"
	"github.com/archivorch/orchestrator/core/data"
)

func parseUUIDParam(r *http.Request, name string) (data.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := data.ParseUUID(raw)
	if err != nil {
		return data.UUID{}, apierr.InvalidInput("invalid %s %q", name, raw)
	}
	return id, nil
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apierr.InvalidInput("invalid %s %q", name, raw)
	}
	return id, nil
}

func parseSeqField(r *http.Request) (int, error) {
	raw := r.FormValue("seq")
	if raw == "" {
		return 0, apierr.InvalidInput("seq is required")
	}
	seq, err := strconv.Atoi(raw)
	if err != nil || seq <= 0 {
		return 0, apierr.InvalidInput("seq must be a positive integer, got %q", raw)
	}
	return seq, nil
}
