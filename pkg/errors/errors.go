package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Status  int                 `json:"-"`
	Details map[string][]string `json:"details,omitempty"`
	Err     error               `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithDetails returns a copy carrying an extra message for field.
func (e *Error) WithDetails(field string, messages ...string) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Details = make(map[string][]string, len(e.Details)+1)
	for k, v := range e.Details {
		clone.Details[k] = append([]string(nil), v...)
	}
	clone.Details[field] = append(clone.Details[field], messages...)
	return &clone
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound        = New("NOT_FOUND", http.StatusNotFound, "Resource not found")
	ErrForbidden       = New("FORBIDDEN", http.StatusForbidden, "Forbidden")
	ErrUnauthorized    = New("UNAUTHORIZED", http.StatusUnauthorized, "Unauthorized")
	ErrConflict        = New("CONFLICT", http.StatusConflict, "Conflict")
	ErrValidation      = New("VALIDATION_ERROR", http.StatusUnprocessableEntity, "Validation failed")
	ErrBadRequest      = New("BAD_REQUEST", http.StatusBadRequest, "Bad request")
	ErrInternal        = New("INTERNAL_SERVER_ERROR", http.StatusInternalServerError, "Internal server error")
	ErrTooManyRequests = New("TOO_MANY_REQUESTS", http.StatusTooManyRequests, "Too many requests, please try again later")
	ErrServiceDown     = New("SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, "Service unavailable")
)

// Operation failures surfaced by the auth and profile endpoints.
var (
	ErrRegisterFailed           = New("REGISTER_FAILED", http.StatusBadRequest, "Registration failed")
	ErrLoginFailed              = New("LOGIN_FAILED", http.StatusUnauthorized, "Login failed")
	ErrRefreshFailed            = New("REFRESH_TOKEN_FAILED", http.StatusUnauthorized, "Could not refresh token")
	ErrForgotPasswordFailed     = New("FORGOT_PASSWORD_FAILED", http.StatusBadRequest, "Could not send password reset email")
	ErrResetPasswordFailed      = New("RESET_PASSWORD_FAILED", http.StatusBadRequest, "Password reset failed")
	ErrVerifyEmailFailed        = New("VERIFY_EMAIL_FAILED", http.StatusBadRequest, "Email verification failed")
	ErrResendVerificationFailed = New("RESEND_VERIFICATION_FAILED", http.StatusBadRequest, "Could not resend verification email")
	ErrChangePasswordFailed     = New("CHANGE_PASSWORD_FAILED", http.StatusBadRequest, "Password change failed")
	ErrUpdateProfileFailed      = New("UPDATE_PROFILE_FAILED", http.StatusBadRequest, "Profile update failed")
	ErrDeleteAccountFailed      = New("DELETE_ACCOUNT_FAILED", http.StatusBadRequest, "Account deletion failed")
	ErrGetUserFailed            = New("GET_USER_FAILED", http.StatusUnauthorized, "Could not get user information")
)

// Upload rejections.
var (
	ErrNoFileUploaded  = New("NO_FILE_UPLOADED", http.StatusBadRequest, "No file uploaded")
	ErrFileTooLarge    = New("FILE_TOO_LARGE", http.StatusBadRequest, "File is too large")
	ErrInvalidFileType = New("INVALID_FILE_TYPE", http.StatusBadRequest, "File type is not allowed")
	ErrInvalidMimetype = New("INVALID_MIMETYPE", http.StatusBadRequest, "File content type is not allowed")
)

// ErrCacheMiss is returned by cache repositories when a key is absent.
var ErrCacheMiss = errors.New("cache miss")

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code string) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}
