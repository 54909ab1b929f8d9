package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/account-api/internal/auth"
	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/repository"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
	"github.com/noah-isme/account-api/pkg/validation"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindRole(ctx context.Context, id string) (models.Role, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	SetVerificationToken(ctx context.Context, id, token string, expiresAt time.Time) error
	SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error
	ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*models.User, error)
	ConsumeResetToken(ctx context.Context, token, passwordHash string, now time.Time) (*models.User, error)
}

type refreshLedger interface {
	Issue(ctx context.Context, userID string) (string, error)
	Validate(ctx context.Context, token string) (*models.RefreshSession, error)
	Revoke(ctx context.Context, token string) error
	Rotate(ctx context.Context, old string, user *models.User) (string, error)
}

type authMailer interface {
	SendVerification(ctx context.Context, user *models.User, token string) error
	SendPasswordReset(ctx context.Context, user *models.User, token string) error
	SendWelcome(ctx context.Context, user *models.User) error
}

// AuthConfig defines lifetimes and hashing cost for the auth flows.
type AuthConfig struct {
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	BcryptCost      int
}

// DefaultAuthConfig returns the production lifetimes.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		VerificationTTL: 24 * time.Hour,
		ResetTTL:        10 * time.Minute,
		BcryptCost:      bcrypt.DefaultCost,
	}
}

// AuthService implements registration, login, token refresh and the
// email-driven verification and password reset flows.
type AuthService struct {
	repo      authUserRepository
	ledger    refreshLedger
	codec     *auth.Codec
	mail      authMailer
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance. cache may be nil; when
// set, writes to user rows drop the cached admin listings.
func NewAuthService(repo authUserRepository, ledger refreshLedger, codec *auth.Codec, mail authMailer, cache *CacheService, metrics *MetricsService, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultAuthConfig()
	if config.VerificationTTL <= 0 {
		config.VerificationTTL = defaults.VerificationTTL
	}
	if config.ResetTTL <= 0 {
		config.ResetTTL = defaults.ResetTTL
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = defaults.BcryptCost
	}
	return &AuthService{
		repo:      repo,
		ledger:    ledger,
		codec:     codec,
		mail:      mail,
		cache:     cache,
		metrics:   metrics,
		validator: validation.New(),
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// Register creates an unverified user and mails a verification link. A mail
// failure is reported as a warning; the account is kept.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (resp *models.RegisterResponse, err error) {
	defer func() { s.metrics.RecordAuthEvent(EventRegister, err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, validation.FromError(err)
	}
	if req.Password != req.ConfirmPassword {
		return nil, registerFailed(ErrPasswordMismatch).WithDetails("confirmPassword", "Passwords do not match")
	}

	if _, err := s.repo.FindByEmail(ctx, req.Email); err == nil {
		return nil, duplicateEmail()
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, internal(err, "failed to check email")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.config.BcryptCost)
	if err != nil {
		return nil, internal(err, "failed to hash password")
	}
	token, err := randomToken()
	if err != nil {
		return nil, internal(err, "failed to create verification token")
	}
	expires := s.now().UTC().Add(s.config.VerificationTTL)

	user := &models.User{
		Name:                       req.Name,
		Email:                      req.Email,
		PasswordHash:               string(hash),
		Theme:                      models.ThemeLight,
		Language:                   models.LanguageVI,
		Role:                       models.RoleUser,
		VerificationToken:          &token,
		VerificationTokenExpiresAt: &expires,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, duplicateEmail()
		}
		return nil, internal(err, "failed to create user")
	}
	s.invalidateUsers(ctx)

	resp = &models.RegisterResponse{
		User:                 user.ToProfile(),
		Message:              "Registration successful",
		RequiresVerification: true,
	}
	if err := s.mail.SendVerification(ctx, user, token); err != nil {
		s.mailFailed(&resp.Outcome, "verification", user.ID, err)
	}
	return resp, nil
}

// Login checks credentials and issues an access and refresh token. Unknown
// emails and wrong passwords produce the same error.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (resp *models.LoginResponse, err error) {
	defer func() { s.metrics.RecordAuthEvent(EventLogin, err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, validation.FromError(err)
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, invalidCredentials()
		}
		return nil, internal(err, "failed to fetch user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, invalidCredentials()
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.repo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLoginAt = &now
		s.invalidateUsers(ctx)
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID), zap.String("ip", req.IP))
	return &models.LoginResponse{User: user.ToProfile(), TokenPair: *pair}, nil
}

// Refresh rotates a refresh token: the presented token is deleted and a new
// pair is issued. Concurrent refreshes of one token succeed at most once.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (pair *models.TokenPair, err error) {
	defer func() { s.metrics.RecordAuthEvent(EventRefresh, err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, validation.FromError(err)
	}

	if _, err := s.codec.Verify(req.RefreshToken, auth.KindRefresh); err != nil {
		if errors.Is(err, auth.ErrMissingSecret) {
			return nil, internal(err, "token signing is not configured")
		}
		s.logger.Debug("refresh token rejected by codec", zap.Error(err))
		return nil, invalidRefresh(err)
	}

	session, err := s.ledger.Validate(ctx, req.RefreshToken)
	if err != nil {
		return nil, internal(err, "failed to look up refresh token")
	}
	if session == nil {
		return nil, invalidRefresh(ErrInvalidOrExpiredToken)
	}

	access, err := s.codec.SignAccess(auth.Payload{ID: session.User.ID, Email: session.User.Email})
	if err != nil {
		return nil, internal(err, "failed to create access token")
	}
	refresh, err := s.ledger.Rotate(ctx, req.RefreshToken, &session.User)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil, invalidRefresh(err)
		}
		return nil, internal(err, "failed to rotate refresh token")
	}
	return newTokenPair(access, refresh), nil
}

// Logout revokes the given refresh token when present. It never fails: a
// token that is already gone counts as revoked.
func (s *AuthService) Logout(ctx context.Context, userID string, req models.LogoutRequest) *models.MessageResponse {
	var err error
	if req.RefreshToken != "" {
		err = s.ledger.Revoke(ctx, req.RefreshToken)
		switch {
		case errors.Is(err, repository.ErrRefreshTokenNotFound):
			s.logger.Debug("logout with unknown refresh token", zap.String("user_id", userID))
			err = nil
		case err != nil:
			s.logger.Warn("failed to revoke refresh token on logout", zap.String("user_id", userID), zap.Error(err))
		}
	}
	s.metrics.RecordAuthEvent(EventLogout, err)
	return &models.MessageResponse{Message: "Logout successful"}
}

// ForgotPassword stores a ten minute reset token and mails the reset link.
// Unknown emails are reported to the caller.
func (s *AuthService) ForgotPassword(ctx context.Context, req models.EmailRequest) (resp *models.MessageResponse, err error) {
	defer func() { s.metrics.RecordAuthEvent(EventForgotPassword, err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, validation.FromError(err)
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(ErrEmailNotFound, appErrors.ErrForgotPasswordFailed.Code, http.StatusBadRequest, appErrors.ErrForgotPasswordFailed.Message).
				WithDetails("email", "Email does not exist")
		}
		return nil, internal(err, "failed to fetch user")
	}

	token, err := randomToken()
	if err != nil {
		return nil, internal(err, "failed to create reset token")
	}
	if err := s.repo.SetResetToken(ctx, user.ID, token, s.now().UTC().Add(s.config.ResetTTL)); err != nil {
		return nil, internal(err, "failed to store reset token")
	}

	resp = &models.MessageResponse{Message: "Password reset email sent"}
	if err := s.mail.SendPasswordReset(ctx, user, token); err != nil {
		s.mailFailed(&resp.Outcome, "password reset", user.ID, err)
	}
	return resp, nil
}

// ResetPassword sets a new password for the owner of a live reset token and
// clears the token so it cannot be used again.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) (resp *models.MessageResponse, err error) {
	defer func() { s.metrics.RecordAuthEvent(EventResetPassword, err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, validation.FromError(err)
	}
	if req.Password != req.ConfirmPassword {
		return nil, appErrors.Wrap(ErrPasswordMismatch, appErrors.ErrResetPasswordFailed.Code, http.StatusBadRequest, appErrors.ErrResetPasswordFailed.Message).
			WithDetails("confirmPassword", "Passwords do not match")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.config.BcryptCost)
	if err != nil {
		return nil, internal(err, "failed to hash password")
	}
	user, err := s.repo.ConsumeResetToken(ctx, req.Token, string(hash), s.now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(ErrInvalidOrExpiredToken, appErrors.ErrResetPasswordFailed.Code, http.StatusBadRequest, appErrors.ErrResetPasswordFailed.Message).
				WithDetails("token", "Token is invalid or expired")
		}
		return nil, internal(err, "failed to reset password")
	}
	s.invalidateUsers(ctx)

	s.logger.Info("password reset", zap.String("user_id", user.ID))
	return &models.MessageResponse{Message: "Password has been reset successfully"}, nil
}

// VerifyEmail marks the owner of a live verification token as verified and
// sends a welcome email.
func (s *AuthService) VerifyEmail(ctx context.Context, req models.VerifyEmailRequest) (resp *models.MessageResponse, err error) {
	defer func() { s.metrics.RecordAuthEvent(EventVerifyEmail, err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, validation.FromError(err)
	}

	user, err := s.repo.ConsumeVerificationToken(ctx, req.Token, s.now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(ErrInvalidOrExpiredToken, appErrors.ErrVerifyEmailFailed.Code, http.StatusBadRequest, appErrors.ErrVerifyEmailFailed.Message).
				WithDetails("token", "Token is invalid or expired")
		}
		return nil, internal(err, "failed to verify email")
	}
	s.invalidateUsers(ctx)

	resp = &models.MessageResponse{Message: "Email verified successfully"}
	if err := s.mail.SendWelcome(ctx, user); err != nil {
		s.mailFailed(&resp.Outcome, "welcome", user.ID, err)
	}
	return resp, nil
}

// ResendVerification replaces the verification token of an unverified user
// and mails a new link.
func (s *AuthService) ResendVerification(ctx context.Context, req models.EmailRequest) (resp *models.MessageResponse, err error) {
	defer func() { s.metrics.RecordAuthEvent(EventResend, err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, validation.FromError(err)
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, resendFailed(ErrEmailNotFound).WithDetails("email", "Email does not exist")
		}
		return nil, internal(err, "failed to fetch user")
	}
	if user.IsVerified {
		return nil, resendFailed(ErrAlreadyVerified).WithDetails("email", "Email is already verified")
	}

	token, err := randomToken()
	if err != nil {
		return nil, internal(err, "failed to create verification token")
	}
	if err := s.repo.SetVerificationToken(ctx, user.ID, token, s.now().UTC().Add(s.config.VerificationTTL)); err != nil {
		return nil, internal(err, "failed to store verification token")
	}

	resp = &models.MessageResponse{Message: "Verification email sent"}
	if err := s.mail.SendVerification(ctx, user, token); err != nil {
		s.mailFailed(&resp.Outcome, "verification", user.ID, err)
	}
	return resp, nil
}

// Me returns the profile of the authenticated user.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.Profile, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(ErrUserNotFound, appErrors.ErrGetUserFailed.Code, appErrors.ErrGetUserFailed.Status, appErrors.ErrGetUserFailed.Message)
		}
		return nil, internal(err, "failed to fetch user")
	}
	profile := user.ToProfile()
	return &profile, nil
}

// Authenticate resolves a bearer access token to the current identity. Name
// and email are read from the store, not from the token.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*auth.Identity, error) {
	payload, err := s.codec.Verify(token, auth.KindAccess)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSecret):
			return nil, internal(err, "token signing is not configured")
		case errors.Is(err, auth.ErrTokenExpired):
			s.logger.Debug("access token expired")
		default:
			s.logger.Debug("access token rejected", zap.Error(err))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, http.StatusUnauthorized, "Invalid token")
	}

	user, err := s.repo.FindByID(ctx, payload.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(ErrUserNotFound, appErrors.ErrUnauthorized.Code, http.StatusUnauthorized, "User not found")
		}
		return nil, internal(err, "failed to load user")
	}
	return &auth.Identity{ID: user.ID, Email: user.Email, Name: user.Name}, nil
}

// Authorize checks the stored role of userID against roles. The role is
// read on every call so a downgrade applies immediately.
func (s *AuthService) Authorize(ctx context.Context, userID string, roles ...models.Role) error {
	role, err := s.repo.FindRole(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrForbidden, "Not authorized")
		}
		return appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, http.StatusUnauthorized, "Authorization failed")
	}
	for _, allowed := range roles {
		if role == allowed {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "Not authorized")
}

func (s *AuthService) issuePair(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	access, err := s.codec.SignAccess(auth.Payload{ID: user.ID, Email: user.Email})
	if err != nil {
		return nil, internal(err, "failed to create access token")
	}
	refresh, err := s.ledger.Issue(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, http.StatusNotFound, "User not found")
		}
		return nil, internal(err, "failed to create refresh token")
	}
	return newTokenPair(access, refresh), nil
}

func (s *AuthService) mailFailed(out *models.Outcome, kind, userID string, err error) {
	s.logger.Warn("failed to send "+kind+" email", zap.String("user_id", userID), zap.Error(err))
	out.Warn(models.WarningMailNotSent, fmt.Sprintf("The %s email could not be sent", kind))
}

func newTokenPair(access, refresh string) *models.TokenPair {
	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(auth.AccessTTL / time.Second),
		TokenType:    "Bearer",
	}
}

// randomToken returns 32 random bytes hex encoded, used for the verification
// and reset slots.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func registerFailed(kind error) *appErrors.Error {
	return appErrors.Wrap(kind, appErrors.ErrRegisterFailed.Code, http.StatusBadRequest, appErrors.ErrRegisterFailed.Message)
}

func duplicateEmail() *appErrors.Error {
	return registerFailed(ErrDuplicateEmail).WithDetails("email", "Email already exists")
}

func invalidCredentials() *appErrors.Error {
	return appErrors.Wrap(ErrInvalidCredentials, appErrors.ErrLoginFailed.Code, http.StatusUnauthorized, appErrors.ErrLoginFailed.Message).
		WithDetails("email", "Invalid email or password")
}

func invalidRefresh(cause error) *appErrors.Error {
	return appErrors.Wrap(fmt.Errorf("%w: %v", ErrInvalidOrExpiredToken, cause), appErrors.ErrRefreshFailed.Code, http.StatusUnauthorized, appErrors.ErrRefreshFailed.Message).
		WithDetails("refreshToken", "Refresh token is invalid or expired")
}

func resendFailed(kind error) *appErrors.Error {
	return appErrors.Wrap(kind, appErrors.ErrResendVerificationFailed.Code, http.StatusBadRequest, appErrors.ErrResendVerificationFailed.Message)
}

func internal(err error, message string) *appErrors.Error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message+": "+message)
}

func (s *AuthService) invalidateUsers(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, userCachePattern)
}
