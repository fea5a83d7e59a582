package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Common errors exposed to the rest of the application.
//
// The handshake sentinels (unknown state, invalid code, PKCE failure,
// unknown user) exist for server-side logging and metrics only. They must
// never reach a client: handlers render ErrLoginFailed in their place, so
// the desktop app cannot tell the sub-conditions apart.
var (
	ErrLoginFailed = &AppError{
		Code:       "LOGIN_FAILED",
		Message:    "Login failed",
		StatusCode: http.StatusUnauthorized,
	}

	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInvalidCredentials = &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "Invalid email or password",
		StatusCode: http.StatusUnauthorized,
	}

	ErrUnknownState = &AppError{
		Code:       "HANDSHAKE_UNKNOWN_STATE",
		Message:    "Login failed",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInvalidOrExpiredCode = &AppError{
		Code:       "HANDSHAKE_INVALID_CODE",
		Message:    "Login failed",
		StatusCode: http.StatusUnauthorized,
	}

	ErrPKCEVerificationFailed = &AppError{
		Code:       "HANDSHAKE_PKCE_FAILED",
		Message:    "Login failed",
		StatusCode: http.StatusUnauthorized,
	}

	ErrUnknownUser = &AppError{
		Code:       "UNKNOWN_USER",
		Message:    "Login failed",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInvalidRegistrationSession = &AppError{
		Code:       "REGISTRATION_SESSION_INVALID",
		Message:    "Invalid registration session",
		StatusCode: http.StatusBadRequest,
	}

	ErrEmailAlreadyRegistered = &AppError{
		Code:       "EMAIL_ALREADY_REGISTERED",
		Message:    "Email already registered",
		StatusCode: http.StatusBadRequest,
	}

	ErrPaymentNotConfigured = &AppError{
		Code:       "PAYMENT_NOT_CONFIGURED",
		Message:    "Payment is currently unavailable",
		StatusCode: http.StatusServiceUnavailable,
	}

	ErrPaymentNotCompleted = &AppError{
		Code:       "PAYMENT_NOT_COMPLETED",
		Message:    "Payment has not been completed",
		StatusCode: http.StatusBadRequest,
	}

	ErrAlreadyCompleted = &AppError{
		Code:       "REGISTRATION_ALREADY_COMPLETED",
		Message:    "Registration is already completed and can no longer be changed",
		StatusCode: http.StatusConflict,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
