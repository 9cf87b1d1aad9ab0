// Package httputil provides HTTP utility functions for request and response handling.
package httputil

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/sallyport/gateway/internal/errors"
)

// ErrorResponse represents a structured error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// errorMapping pairs a sentinel error with its HTTP representation.
type errorMapping struct {
	sentinel   error
	statusCode int
	response   ErrorResponse
}

// errorMappings is checked in order; the first matching sentinel wins.
// Messages stay generic so responses never leak which internal check failed.
var errorMappings = []errorMapping{
	{apperrors.ErrNotFound, http.StatusNotFound, ErrorResponse{
		Error:   "not_found",
		Message: "The requested resource was not found",
	}},
	{apperrors.ErrConflict, http.StatusConflict, ErrorResponse{
		Error:   "conflict",
		Message: "The request conflicts with the current state",
	}},
	{apperrors.ErrUnauthorized, http.StatusUnauthorized, ErrorResponse{
		Error:   "unauthorized",
		Message: "Authentication is required",
	}},
	{apperrors.ErrLocked, http.StatusLocked, ErrorResponse{
		Error:   "credential_locked",
		Message: "Credential is locked after repeated failed verification attempts",
	}},
	{apperrors.ErrForbidden, http.StatusForbidden, ErrorResponse{
		Error:   "forbidden",
		Message: "You don't have permission to access this resource",
	}},
}

// HandleErrorGin maps domain errors to HTTP status codes and writes a JSON
// error body. Unknown errors become an opaque 500.
func HandleErrorGin(c *gin.Context, err error, logger *slog.Logger) {
	if err == nil {
		return
	}

	statusCode := http.StatusInternalServerError
	errorResponse := ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	}

	if apperrors.Is(err, apperrors.ErrInvalidInput) {
		statusCode = http.StatusUnprocessableEntity
		errorResponse = ErrorResponse{Error: "invalid_input", Message: err.Error()}
	} else {
		for _, mapping := range errorMappings {
			if apperrors.Is(err, mapping.sentinel) {
				statusCode = mapping.statusCode
				errorResponse = mapping.response
				break
			}
		}
	}

	if logger != nil {
		logger.Error("request failed",
			slog.Int("status_code", statusCode),
			slog.String("error_code", errorResponse.Error),
			slog.Any("error", err),
		)
	}

	c.JSON(statusCode, errorResponse)
}

// HandleBadRequestGin writes a 400 Bad Request response for malformed JSON or parameters.
func HandleBadRequestGin(c *gin.Context, err error, logger *slog.Logger) {
	if logger != nil {
		logger.Warn("bad request", slog.Any("error", err))
	}

	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "bad_request",
		Message: err.Error(),
	})
}

// HandleValidationErrorGin writes a 422 Unprocessable Entity response for validation errors.
func HandleValidationErrorGin(c *gin.Context, err error, logger *slog.Logger) {
	if logger != nil {
		logger.Warn("validation failed", slog.Any("error", err))
	}

	c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
		Error:   "validation_error",
		Message: err.Error(),
	})
}
