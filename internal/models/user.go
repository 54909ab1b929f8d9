package models

import "time"

// Role is the authorization level of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Theme is the UI theme preference.
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// Language is the UI and email language preference.
type Language string

const (
	LanguageVI Language = "vi"
	LanguageEN Language = "en"
)

// User represents an account stored in the users table.
type User struct {
	ID                          string     `db:"id" json:"id"`
	Name                        string     `db:"name" json:"name"`
	Email                       string     `db:"email" json:"email"`
	PasswordHash                string     `db:"password_hash" json:"-"`
	Avatar                      *string    `db:"avatar" json:"avatar"`
	Theme                       Theme      `db:"theme" json:"theme"`
	Language                    Language   `db:"language" json:"language"`
	Role                        Role       `db:"role" json:"role"`
	IsVerified                  bool       `db:"is_verified" json:"isVerified"`
	VerificationToken           *string    `db:"verification_token" json:"-"`
	VerificationTokenExpiresAt  *time.Time `db:"verification_token_expires_at" json:"-"`
	ResetPasswordToken          *string    `db:"reset_password_token" json:"-"`
	ResetPasswordTokenExpiresAt *time.Time `db:"reset_password_token_expires_at" json:"-"`
	LastLoginAt                 *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
	CreatedAt                   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt                   time.Time  `db:"updated_at" json:"updatedAt"`
}

// Profile is the public projection of a user returned by the API.
type Profile struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Avatar      *string    `json:"avatar"`
	Theme       Theme      `json:"theme"`
	Language    Language   `json:"language"`
	Role        Role       `json:"role"`
	IsVerified  bool       `json:"isVerified"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ToProfile strips credentials and token slots.
func (u *User) ToProfile() Profile {
	return Profile{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		Avatar:      u.Avatar,
		Theme:       u.Theme,
		Language:    u.Language,
		Role:        u.Role,
		IsVerified:  u.IsVerified,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Search string
	Page   int
	Limit  int
}

// Offset returns the row offset of the requested page.
func (f UserFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// NewPagination derives the page count from total.
func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

// UserList is one page of the admin user listing.
type UserList struct {
	Users      []Profile  `json:"users"`
	Pagination Pagination `json:"pagination"`
}

// UpdateProfileRequest changes any subset of the profile fields.
type UpdateProfileRequest struct {
	Name     *string   `json:"name" validate:"omitempty,min=1,max=100"`
	Avatar   *string   `json:"avatar" validate:"omitempty,url"`
	Theme    *Theme    `json:"theme" validate:"omitempty,oneof=light dark system"`
	Language *Language `json:"language" validate:"omitempty,oneof=vi en"`
}

// ChangePasswordRequest replaces the password of the current user.
type ChangePasswordRequest struct {
	OldPassword     string `json:"oldPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,max=128"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

// ThemeRequest sets the UI theme.
type ThemeRequest struct {
	Theme Theme `json:"theme" validate:"required,oneof=light dark system"`
}

// LanguageRequest sets the UI and email language.
type LanguageRequest struct {
	Language Language `json:"language" validate:"required,oneof=vi en"`
}

// DeleteAccountRequest confirms account deletion with the password.
type DeleteAccountRequest struct {
	Password string `json:"password" validate:"required"`
}

// AvatarResponse is returned after a successful upload.
type AvatarResponse struct {
	AvatarURL string `json:"avatarUrl"`
}

// ProfileResponse acknowledges a profile change.
type ProfileResponse struct {
	User    Profile `json:"user"`
	Message string  `json:"message"`
}
