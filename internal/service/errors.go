package service

import "errors"

// Failure kinds of the auth and profile flows. They are wrapped in an
// *errors.Error carrying the HTTP code of the operation that failed, so
// callers can still match them with errors.Is.
var (
	ErrDuplicateEmail        = errors.New("email already exists")
	ErrPasswordMismatch      = errors.New("passwords do not match")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrEmailNotFound         = errors.New("email not found")
	ErrInvalidOrExpiredToken = errors.New("token is invalid or expired")
	ErrUserNotFound          = errors.New("user not found")
	ErrAlreadyVerified       = errors.New("email already verified")
	ErrWrongPassword         = errors.New("password is incorrect")
	ErrSelfDelete            = errors.New("cannot delete own account")
)
