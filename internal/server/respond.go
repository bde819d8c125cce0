package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/invoicator-app/invoicator/internal/common"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrExpired):
		status = http.StatusGone
	case errors.Is(err, common.ErrCredentialMissing), errors.Is(err, common.ErrCredentialInvalid),
		errors.Is(err, common.ErrDecryptionFailed):
		status = http.StatusPreconditionFailed
	case errors.Is(err, common.ErrExtractionUnavailable):
		status = http.StatusBadGateway
	}

	body := errorBody{Error: err.Error()}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		body.Code = appErr.Code
	}
	writeJSON(w, status, body)
}
