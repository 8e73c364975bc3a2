// internal/controller/respond.go
package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/crces-dispatch/internal/errors"
)

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	var verr *appErrors.ValidationError
	var missing *appErrors.MissingVariableError
	switch {
	case errors.As(err, &verr), errors.As(err, &missing):
		return http.StatusBadRequest
	case errors.Is(err, appErrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case appErrors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, appErrors.ErrInvalidTransition), errors.Is(err, appErrors.ErrEmptyTargetSet):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// WriteError writes err as {"error": ...}. Internal errors are logged and
// their message is not exposed.
func WriteError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := StatusFor(err)
	body := map[string]any{"error": err.Error()}

	var verr *appErrors.ValidationError
	if errors.As(err, &verr) && verr.Field != "" {
		body["field"] = verr.Field
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		body["error"] = "internal error"
	}
	WriteJSON(w, status, body)
}

// decode reads a JSON body into v and reports a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return false
	}
	return true
}

// IDParam parses the {id} URL parameter.
func IDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
