package models

// RegisterRequest creates a new account.
type RegisterRequest struct {
	Name            string `json:"name" validate:"required,max=100"`
	Email           string `json:"email" validate:"required,email,max=255"`
	Password        string `json:"password" validate:"required,min=6,max=128"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// RefreshTokenRequest exchanges a refresh token for a new pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// LogoutRequest names the refresh token to revoke, if any.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// EmailRequest is used by forgot-password and resend-verification.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest completes the reset flow.
type ResetPasswordRequest struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required,min=6,max=128"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

// VerifyEmailRequest consumes a verification token.
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

// LoginResponse returns the issued tokens and the user.
type LoginResponse struct {
	User Profile `json:"user"`
	TokenPair
}

// Warning reports a side effect that failed without failing the request.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WarningMailNotSent is attached when an email could not be delivered.
const WarningMailNotSent = "mail_not_sent"

// Outcome collects warnings for operations with best-effort side effects.
type Outcome struct {
	Warnings []Warning `json:"warnings,omitempty"`
}

// Warn appends a warning.
func (o *Outcome) Warn(code, message string) {
	o.Warnings = append(o.Warnings, Warning{Code: code, Message: message})
}

// HasWarning reports whether a warning with code was recorded.
func (o Outcome) HasWarning(code string) bool {
	for _, w := range o.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// RegisterResponse is returned by a successful registration.
type RegisterResponse struct {
	User                 Profile `json:"user"`
	Message              string  `json:"message"`
	RequiresVerification bool    `json:"requiresVerification"`
	Outcome
}

// MessageResponse acknowledges an action and carries any warnings.
type MessageResponse struct {
	Message string `json:"message"`
	Outcome
}
