package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"roomchat/internal/domain"
	"roomchat/internal/logger"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 2 << 20

var errBodyTooLarge = errors.New("request body too large")

type errorBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("response_encode_failed", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Message: msg})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyBlocked),
		errors.Is(err, domain.ErrNotBlocked),
		errors.Is(err, domain.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

// writeError maps business errors to their status and hides everything else.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Error("request_failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeMessage(w, status, "Internal server error")
		return
	}
	writeMessage(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return domain.ErrInvalidPayload
	}
	return nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, domain.ErrInvalidPayload
	}
	return id, nil
}
