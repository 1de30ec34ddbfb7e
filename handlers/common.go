package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/add-xylitol/1.Todo-list/logging"
	"github.com/add-xylitol/1.Todo-list/services"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// respondServiceError maps the service sentinels onto HTTP statuses.
// Anything unrecognized is a 500 with a generic body; the detail goes to
// the log, not the wire.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrNotArchived),
		errors.Is(err, services.ErrResetCodeInvalid),
		errors.Is(err, services.ErrPaymentNotVerified):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, services.ErrRefreshTokenInvalid):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, services.ErrTaskForbidden):
		respondError(w, http.StatusForbidden, "You do not have access to this task")
	case errors.Is(err, services.ErrTaskNotFound),
		errors.Is(err, services.ErrCategoryNotFound),
		errors.Is(err, services.ErrUserNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrVersionConflict),
		errors.Is(err, services.ErrUserExists),
		errors.Is(err, services.ErrCategoryExists):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrTaskLimitReached):
		respondError(w, http.StatusTooManyRequests, err.Error())
	default:
		logging.Logger.Errorf("Event ID: INTERNAL_ERROR, Description: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
