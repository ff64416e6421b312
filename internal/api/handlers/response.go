package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/civiclens/civiclens/backend/internal/infrastructure/observability"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
)

// ErrorBody is the payload of every error response
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the error type and a human readable message
type ErrorDetail struct {
	Type    apperrors.ErrorType `json:"type"`
	Message string              `json:"message"`
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, errorType apperrors.ErrorType, message string) {
	respondWithJSON(w, statusCode, ErrorBody{Error: ErrorDetail{Type: errorType, Message: message}})
}

// statusFor maps an error type to its HTTP status
func statusFor(errorType apperrors.ErrorType) int {
	switch errorType {
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrorTypeConflict:
		return http.StatusConflict
	case apperrors.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrorTypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleServiceError writes the response for an error returned by a service.
// Internal details are logged, never returned.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.NewInternalError("internal server error", err)
	}

	statusCode := statusFor(appErr.Type)
	message := appErr.Message
	switch appErr.Type {
	case apperrors.ErrorTypeInternal, apperrors.ErrorTypeInvalidState:
		message = "internal server error"
	case apperrors.ErrorTypeExternal:
		message = "upstream service error"
	}

	if statusCode >= http.StatusInternalServerError {
		observability.LoggerFromContext(r.Context()).Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}

	respondWithError(w, statusCode, appErr.Type, message)
}

// queryInt parses an optional integer query parameter
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewValidationError(name + " must be an integer")
	}
	return value, nil
}

// queryBool parses an optional boolean query parameter
func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.NewValidationError(name + " must be a boolean")
	}
	return value, nil
}
