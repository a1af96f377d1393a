package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Eldsal/eldsal-sub000/internal/app"
)

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps a service error onto a status code. Upstream and
// unexpected failures are logged; their details are not sent to the client.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var validationErr *app.ValidationError
	var upstreamErr *app.UpstreamError
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &upstreamErr):
		logger.Error("upstream call failed", "service", upstreamErr.Service, "op", upstreamErr.Op, "error", upstreamErr.Err)
		writeError(w, http.StatusInternalServerError, upstreamErr.Service+" request failed")
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
