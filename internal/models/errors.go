package models

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Error codes carried by AppError.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidAction     = "INVALID_ACTION"
	CodeIllegalTransition = "ILLEGAL_TRANSITION"
	CodeConflict          = "CONFLICT"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeInternal          = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	// Meta holds structured detail safe to show to API callers.
	Meta map[string]any
	Err  error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(resource string, id any) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Meta:    map[string]any{"id": id},
	}
}

// NewValidationError reports missing or malformed client input.
func NewValidationError(message string, fields ...string) *AppError {
	appErr := &AppError{
		Code:    CodeValidation,
		Message: message,
	}
	if len(fields) > 0 {
		appErr.Meta = map[string]any{"fields": fields}
	}
	return appErr
}

// NewRateLimitError reports that admission was refused by the sliding window limiter.
func NewRateLimitError(limit int, window time.Duration) *AppError {
	minutes := formatMinutes(window)
	return &AppError{
		Code:    CodeRateLimitExceeded,
		Message: fmt.Sprintf("You can only request %d donations every %s minutes.", limit, minutes),
		Meta: map[string]any{
			"limit":          limit,
			"window_minutes": window.Minutes(),
		},
	}
}

// NewInvalidActionError reports an action outside the recognized set.
func NewInvalidActionError(action string) *AppError {
	return &AppError{
		Code:    CodeInvalidAction,
		Message: "Invalid action",
		Meta:    map[string]any{"action": action},
	}
}

// NewIllegalTransitionError reports an action that the current status does not permit.
func NewIllegalTransitionError(action DonationRequestAction, from DonationRequestStatus) *AppError {
	return &AppError{
		Code:    CodeIllegalTransition,
		Message: fmt.Sprintf("Cannot %s a %s request", action, from),
		Meta: map[string]any{
			"action": string(action),
			"status": string(from),
		},
	}
}

// NewConflictError reports a lost optimistic-concurrency race.
func NewConflictError(resource string, id any) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: fmt.Sprintf("%s was modified concurrently, reload and retry", resource),
		Meta:    map[string]any{"id": id},
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// RespondWithError creates a standardized error response.
// Wrapped causes are never rendered so storage internals stay out of responses.
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error:   appErr.Message,
			Code:    appErr.Code,
			Details: appErr.Meta,
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}

func formatMinutes(d time.Duration) string {
	m := d.Minutes()
	if m == math.Trunc(m) {
		return fmt.Sprintf("%d", int64(m))
	}
	return fmt.Sprintf("%g", m)
}
