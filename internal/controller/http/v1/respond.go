package v1

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mvai/bracket_orchestrator/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *domain.ValidationError
		transitionErr *domain.InvalidTransitionError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationErr.Error()})
	case errors.As(err, &transitionErr):
		writeJSON(w, http.StatusConflict, errorResponse{Error: transitionErr.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, domain.ErrInsufficientCredits):
		writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: "insufficient credits"})
	case errors.Is(err, domain.ErrDispatchFailure):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "dispatch failed"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
