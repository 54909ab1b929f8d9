package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/account-api/internal/auth"
	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/repository"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
)

const testSecret = "test-secret"

type authFixture struct {
	svc    *AuthService
	store  *memStore
	ledger *RefreshLedger
	mail   *fakeMailer
	codec  *auth.Codec
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	store := newMemStore()
	codec := auth.NewCodec(testSecret)
	ledger := NewRefreshLedger(memTokens{store}, store, codec, zap.NewNop())
	mail := &fakeMailer{}
	svc := NewAuthService(store, ledger, codec, mail, nil, nil, zap.NewNop(), AuthConfig{BcryptCost: bcrypt.MinCost})
	return &authFixture{svc: svc, store: store, ledger: ledger, mail: mail, codec: codec}
}

func (f *authFixture) seedUser(t *testing.T, email, password string, role models.Role) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return f.store.add(models.User{
		Name:         "Seeded",
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Theme:        models.ThemeLight,
		Language:     models.LanguageEN,
		IsVerified:   true,
	})
}

func requireAppError(t *testing.T, err error, code string, status int) *appErrors.Error {
	t.Helper()
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr), "expected *errors.Error, got %T", err)
	assert.Equal(t, code, appErr.Code)
	assert.Equal(t, status, appErr.Status)
	return appErr
}

func validRegister(email string) models.RegisterRequest {
	return models.RegisterRequest{Name: "Jane", Email: email, Password: "secret1", ConfirmPassword: "secret1"}
}

func TestAuthServiceRegister(t *testing.T) {
	f := newAuthFixture(t)

	resp, err := f.svc.Register(context.Background(), validRegister("jane@example.com"))
	require.NoError(t, err)
	assert.True(t, resp.RequiresVerification)
	assert.Empty(t, resp.Warnings)
	assert.Equal(t, models.RoleUser, resp.User.Role)
	assert.False(t, resp.User.IsVerified)

	stored := f.store.get(resp.User.ID)
	require.NotNil(t, stored)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("secret1")))
	require.NotNil(t, stored.VerificationToken)
	assert.Len(t, *stored.VerificationToken, 64)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *stored.VerificationTokenExpiresAt, time.Minute)

	sent := f.mail.last()
	assert.Equal(t, TemplateVerification, sent.kind)
	assert.Equal(t, *stored.VerificationToken, sent.token)
}

func TestAuthServiceRegisterFailures(t *testing.T) {
	t.Run("duplicate email", func(t *testing.T) {
		f := newAuthFixture(t)
		f.seedUser(t, "taken@example.com", "secret1", models.RoleUser)

		_, err := f.svc.Register(context.Background(), validRegister("taken@example.com"))
		appErr := requireAppError(t, err, "REGISTER_FAILED", http.StatusBadRequest)
		assert.Equal(t, []string{"Email already exists"}, appErr.Details["email"])
		assert.ErrorIs(t, err, ErrDuplicateEmail)
	})

	t.Run("lost insert race", func(t *testing.T) {
		f := newAuthFixture(t)
		f.store.createFn = func(*models.User) error { return repository.ErrEmailTaken }

		_, err := f.svc.Register(context.Background(), validRegister("race@example.com"))
		appErr := requireAppError(t, err, "REGISTER_FAILED", http.StatusBadRequest)
		assert.Contains(t, appErr.Details, "email")
	})

	t.Run("password mismatch", func(t *testing.T) {
		f := newAuthFixture(t)
		req := validRegister("jane@example.com")
		req.ConfirmPassword = "other12"

		_, err := f.svc.Register(context.Background(), req)
		appErr := requireAppError(t, err, "REGISTER_FAILED", http.StatusBadRequest)
		assert.Contains(t, appErr.Details, "confirmPassword")
	})

	t.Run("invalid input", func(t *testing.T) {
		f := newAuthFixture(t)
		req := models.RegisterRequest{Name: "Jane", Email: "not-an-email", Password: "123", ConfirmPassword: "123"}

		_, err := f.svc.Register(context.Background(), req)
		appErr := requireAppError(t, err, "VALIDATION_ERROR", http.StatusUnprocessableEntity)
		assert.Contains(t, appErr.Details, "email")
		assert.Contains(t, appErr.Details, "password")
		assert.Empty(t, f.mail.sent)
	})
}

func TestAuthServiceRegisterKeepsUserWhenMailFails(t *testing.T) {
	f := newAuthFixture(t)
	f.mail.err = errors.New("smtp down")

	resp, err := f.svc.Register(context.Background(), validRegister("jane@example.com"))
	require.NoError(t, err)
	assert.True(t, resp.HasWarning(models.WarningMailNotSent))
	assert.NotNil(t, f.store.get(resp.User.ID))
}

func TestAuthServiceLogin(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "jane@example.com", "secret1", models.RoleUser)

	resp, err := f.svc.Login(context.Background(), models.LoginRequest{Email: "jane@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, resp.User.ID)
	assert.Equal(t, int64(14400), resp.ExpiresIn)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.NotNil(t, resp.User.LastLoginAt)

	payload, err := f.codec.Verify(resp.AccessToken, auth.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, user.ID, payload.ID)

	session, err := f.ledger.Validate(context.Background(), resp.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, user.ID, session.User.ID)
}

func TestAuthServiceLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "jane@example.com", "secret1", models.RoleUser)

	_, unknown := f.svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "secret1"})
	_, wrong := f.svc.Login(context.Background(), models.LoginRequest{Email: "jane@example.com", Password: "wrong-password"})

	a := requireAppError(t, unknown, "LOGIN_FAILED", http.StatusUnauthorized)
	b := requireAppError(t, wrong, "LOGIN_FAILED", http.StatusUnauthorized)
	assert.Equal(t, a.Message, b.Message)
	assert.Equal(t, a.Details, b.Details)
	assert.Zero(t, f.store.tokenCount())
}

func TestAuthServiceRefreshRotates(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "jane@example.com", "secret1", models.RoleUser)
	login, err := f.svc.Login(context.Background(), models.LoginRequest{Email: "jane@example.com", Password: "secret1"})
	require.NoError(t, err)

	pair, err := f.svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, pair.RefreshToken)
	assert.Equal(t, 1, f.store.tokenCount())

	_, err = f.svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	requireAppError(t, err, "REFRESH_TOKEN_FAILED", http.StatusUnauthorized)

	_, err = f.svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: pair.RefreshToken})
	assert.NoError(t, err)
}

func TestAuthServiceRefreshRejects(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "jane@example.com", "secret1", models.RoleUser)
	login, err := f.svc.Login(context.Background(), models.LoginRequest{Email: "jane@example.com", Password: "secret1"})
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		_, err := f.svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: "not-a-token"})
		appErr := requireAppError(t, err, "REFRESH_TOKEN_FAILED", http.StatusUnauthorized)
		assert.Contains(t, appErr.Details, "refreshToken")
	})

	t.Run("access token", func(t *testing.T) {
		_, err := f.svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.AccessToken})
		requireAppError(t, err, "REFRESH_TOKEN_FAILED", http.StatusUnauthorized)
	})

	t.Run("signed but never issued", func(t *testing.T) {
		token, err := f.codec.SignRefresh(auth.Payload{ID: user.ID, Email: user.Email})
		require.NoError(t, err)
		_, err = f.svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: token})
		requireAppError(t, err, "REFRESH_TOKEN_FAILED", http.StatusUnauthorized)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := f.svc.Refresh(context.Background(), models.RefreshTokenRequest{})
		requireAppError(t, err, "VALIDATION_ERROR", http.StatusUnprocessableEntity)
	})
}

func TestAuthServiceRefreshExpiredRow(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "jane@example.com", "secret1", models.RoleUser)
	login, err := f.svc.Login(context.Background(), models.LoginRequest{Email: "jane@example.com", Password: "secret1"})
	require.NoError(t, err)

	f.ledger.now = func() time.Time { return time.Now().Add(auth.RefreshTTL + time.Minute) }

	_, err = f.svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	requireAppError(t, err, "REFRESH_TOKEN_FAILED", http.StatusUnauthorized)
}

func TestAuthServiceRefreshAfterUserDeleted(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "jane@example.com", "secret1", models.RoleUser)
	login, err := f.svc.Login(context.Background(), models.LoginRequest{Email: "jane@example.com", Password: "secret1"})
	require.NoError(t, err)

	require.NoError(t, f.store.Delete(context.Background(), user.ID))
	assert.Zero(t, f.store.tokenCount())

	_, err = f.svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	requireAppError(t, err, "REFRESH_TOKEN_FAILED", http.StatusUnauthorized)
}

func TestAuthServiceConcurrentRefreshSucceedsOnce(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "jane@example.com", "secret1", models.RoleUser)
	login, err := f.svc.Login(context.Background(), models.LoginRequest{Email: "jane@example.com", Password: "secret1"})
	require.NoError(t, err)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if appErrors.Is(err, "REFRESH_TOKEN_FAILED") {
				failures++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, failures)
	assert.Equal(t, 1, f.store.tokenCount())
}

func TestAuthServiceLogout(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "jane@example.com", "secret1", models.RoleUser)
	login, err := f.svc.Login(context.Background(), models.LoginRequest{Email: "jane@example.com", Password: "secret1"})
	require.NoError(t, err)

	resp := f.svc.Logout(context.Background(), user.ID, models.LogoutRequest{RefreshToken: login.RefreshToken})
	assert.Equal(t, "Logout successful", resp.Message)
	assert.Zero(t, f.store.tokenCount())

	_, err = f.svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	requireAppError(t, err, "REFRESH_TOKEN_FAILED", http.StatusUnauthorized)

	resp = f.svc.Logout(context.Background(), user.ID, models.LogoutRequest{RefreshToken: login.RefreshToken})
	assert.Equal(t, "Logout successful", resp.Message)
	resp = f.svc.Logout(context.Background(), user.ID, models.LogoutRequest{})
	assert.Equal(t, "Logout successful", resp.Message)
}

func TestAuthServiceForgotAndResetPassword(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "jane@example.com", "secret1", models.RoleUser)

	_, err := f.svc.ForgotPassword(context.Background(), models.EmailRequest{Email: "nobody@example.com"})
	appErr := requireAppError(t, err, "FORGOT_PASSWORD_FAILED", http.StatusBadRequest)
	assert.Contains(t, appErr.Details, "email")

	resp, err := f.svc.ForgotPassword(context.Background(), models.EmailRequest{Email: "jane@example.com"})
	require.NoError(t, err)
	assert.Empty(t, resp.Warnings)

	stored := f.store.get(user.ID)
	require.NotNil(t, stored.ResetPasswordToken)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), *stored.ResetPasswordTokenExpiresAt, time.Minute)
	token := f.mail.last().token
	assert.Equal(t, *stored.ResetPasswordToken, token)

	reset := models.ResetPasswordRequest{Token: token, Password: "newpass1", ConfirmPassword: "newpass1"}
	_, err = f.svc.ResetPassword(context.Background(), reset)
	require.NoError(t, err)

	_, err = f.svc.ResetPassword(context.Background(), reset)
	appErr = requireAppError(t, err, "RESET_PASSWORD_FAILED", http.StatusBadRequest)
	assert.Contains(t, appErr.Details, "token")

	_, err = f.svc.Login(context.Background(), models.LoginRequest{Email: "jane@example.com", Password: "secret1"})
	requireAppError(t, err, "LOGIN_FAILED", http.StatusUnauthorized)
	_, err = f.svc.Login(context.Background(), models.LoginRequest{Email: "jane@example.com", Password: "newpass1"})
	assert.NoError(t, err)
}

func TestAuthServiceResetPasswordRejects(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "jane@example.com", "secret1", models.RoleUser)
	_, err := f.svc.ForgotPassword(context.Background(), models.EmailRequest{Email: "jane@example.com"})
	require.NoError(t, err)
	token := f.mail.last().token

	t.Run("mismatch", func(t *testing.T) {
		_, err := f.svc.ResetPassword(context.Background(), models.ResetPasswordRequest{Token: token, Password: "newpass1", ConfirmPassword: "newpass2"})
		appErr := requireAppError(t, err, "RESET_PASSWORD_FAILED", http.StatusBadRequest)
		assert.Contains(t, appErr.Details, "confirmPassword")
	})

	t.Run("expired", func(t *testing.T) {
		f.svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
		defer func() { f.svc.now = time.Now }()

		_, err := f.svc.ResetPassword(context.Background(), models.ResetPasswordRequest{Token: token, Password: "newpass1", ConfirmPassword: "newpass1"})
		requireAppError(t, err, "RESET_PASSWORD_FAILED", http.StatusBadRequest)
	})

	t.Run("short password", func(t *testing.T) {
		_, err := f.svc.ResetPassword(context.Background(), models.ResetPasswordRequest{Token: token, Password: "123", ConfirmPassword: "123"})
		requireAppError(t, err, "VALIDATION_ERROR", http.StatusUnprocessableEntity)
	})
}

func TestAuthServiceVerifyEmail(t *testing.T) {
	f := newAuthFixture(t)
	reg, err := f.svc.Register(context.Background(), validRegister("jane@example.com"))
	require.NoError(t, err)
	token := f.mail.last().token

	resp, err := f.svc.VerifyEmail(context.Background(), models.VerifyEmailRequest{Token: token})
	require.NoError(t, err)
	assert.Empty(t, resp.Warnings)
	assert.Equal(t, TemplateWelcome, f.mail.last().kind)

	stored := f.store.get(reg.User.ID)
	assert.True(t, stored.IsVerified)
	assert.Nil(t, stored.VerificationToken)

	_, err = f.svc.VerifyEmail(context.Background(), models.VerifyEmailRequest{Token: token})
	requireAppError(t, err, "VERIFY_EMAIL_FAILED", http.StatusBadRequest)
}

func TestAuthServiceVerifyEmailExpired(t *testing.T) {
	f := newAuthFixture(t)
	_, err := f.svc.Register(context.Background(), validRegister("jane@example.com"))
	require.NoError(t, err)
	token := f.mail.last().token

	f.svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	_, err = f.svc.VerifyEmail(context.Background(), models.VerifyEmailRequest{Token: token})
	requireAppError(t, err, "VERIFY_EMAIL_FAILED", http.StatusBadRequest)
}

func TestAuthServiceResendVerification(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "verified@example.com", "secret1", models.RoleUser)
	_, err := f.svc.Register(context.Background(), validRegister("jane@example.com"))
	require.NoError(t, err)
	first := f.mail.last().token

	_, err = f.svc.ResendVerification(context.Background(), models.EmailRequest{Email: "nobody@example.com"})
	requireAppError(t, err, "RESEND_VERIFICATION_FAILED", http.StatusBadRequest)

	_, err = f.svc.ResendVerification(context.Background(), models.EmailRequest{Email: "verified@example.com"})
	appErr := requireAppError(t, err, "RESEND_VERIFICATION_FAILED", http.StatusBadRequest)
	assert.ErrorIs(t, appErr, ErrAlreadyVerified)

	_, err = f.svc.ResendVerification(context.Background(), models.EmailRequest{Email: "jane@example.com"})
	require.NoError(t, err)
	second := f.mail.last().token
	assert.NotEqual(t, first, second)

	_, err = f.svc.VerifyEmail(context.Background(), models.VerifyEmailRequest{Token: first})
	requireAppError(t, err, "VERIFY_EMAIL_FAILED", http.StatusBadRequest)
	_, err = f.svc.VerifyEmail(context.Background(), models.VerifyEmailRequest{Token: second})
	assert.NoError(t, err)
}

func TestAuthServiceAuthenticate(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "jane@example.com", "secret1", models.RoleUser)
	login, err := f.svc.Login(context.Background(), models.LoginRequest{Email: "jane@example.com", Password: "secret1"})
	require.NoError(t, err)

	identity, err := f.svc.Authenticate(context.Background(), login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.ID)
	assert.Equal(t, "Seeded", identity.Name)

	_, err = f.svc.Authenticate(context.Background(), login.RefreshToken)
	appErr := requireAppError(t, err, "UNAUTHORIZED", http.StatusUnauthorized)
	assert.Equal(t, "Invalid token", appErr.Message)

	past := auth.NewCodec(testSecret, auth.WithClock(func() time.Time { return time.Now().Add(-5 * time.Hour) }))
	expired, err := past.SignAccess(auth.Payload{ID: user.ID, Email: user.Email})
	require.NoError(t, err)
	_, err = f.svc.Authenticate(context.Background(), expired)
	requireAppError(t, err, "UNAUTHORIZED", http.StatusUnauthorized)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)

	require.NoError(t, f.store.Delete(context.Background(), user.ID))
	_, err = f.svc.Authenticate(context.Background(), login.AccessToken)
	appErr = requireAppError(t, err, "UNAUTHORIZED", http.StatusUnauthorized)
	assert.Equal(t, "User not found", appErr.Message)
}

func TestAuthServiceAuthenticateWithoutSecret(t *testing.T) {
	f := newAuthFixture(t)
	f.svc.codec = auth.NewCodec("")

	_, err := f.svc.Authenticate(context.Background(), "anything")
	requireAppError(t, err, "INTERNAL_SERVER_ERROR", http.StatusInternalServerError)
}

func TestAuthServiceAuthorize(t *testing.T) {
	f := newAuthFixture(t)
	admin := f.seedUser(t, "admin@example.com", "secret1", models.RoleAdmin)
	user := f.seedUser(t, "jane@example.com", "secret1", models.RoleUser)

	assert.NoError(t, f.svc.Authorize(context.Background(), admin.ID, models.RoleAdmin))
	assert.NoError(t, f.svc.Authorize(context.Background(), user.ID, models.RoleUser, models.RoleAdmin))

	err := f.svc.Authorize(context.Background(), user.ID, models.RoleAdmin)
	appErr := requireAppError(t, err, "FORBIDDEN", http.StatusForbidden)
	assert.Equal(t, "Not authorized", appErr.Message)

	err = f.svc.Authorize(context.Background(), "missing", models.RoleAdmin)
	requireAppError(t, err, "FORBIDDEN", http.StatusForbidden)

	f.store.findErr = errors.New("connection reset")
	err = f.svc.Authorize(context.Background(), admin.ID, models.RoleAdmin)
	requireAppError(t, err, "UNAUTHORIZED", http.StatusUnauthorized)
}

func TestAuthServiceMe(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "jane@example.com", "secret1", models.RoleUser)

	profile, err := f.svc.Me(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", profile.Email)

	_, err = f.svc.Me(context.Background(), "missing")
	appErr := requireAppError(t, err, "GET_USER_FAILED", http.StatusUnauthorized)
	assert.ErrorIs(t, appErr, ErrUserNotFound)
}

func TestAuthServiceWritesRefreshUserListing(t *testing.T) {
	store := newMemStore()
	cache := NewCacheService(newMemCache(), nil, time.Minute, nil, true)
	codec := auth.NewCodec(testSecret)
	ledger := NewRefreshLedger(memTokens{store}, store, codec, zap.NewNop())
	mail := &fakeMailer{}
	authSvc := NewAuthService(store, ledger, codec, mail, cache, nil, zap.NewNop(), AuthConfig{BcryptCost: bcrypt.MinCost})
	users := NewUserService(store, cache, nil, bcrypt.MinCost, zap.NewNop())
	ctx := context.Background()

	list, err := users.List(ctx, models.UserFilter{})
	require.NoError(t, err)
	assert.Zero(t, list.Pagination.Total)

	_, err = authSvc.Register(ctx, validRegister("john@example.com"))
	require.NoError(t, err)
	list, err = users.List(ctx, models.UserFilter{})
	require.NoError(t, err)
	require.Len(t, list.Users, 1)
	assert.False(t, list.Users[0].IsVerified)

	_, err = authSvc.VerifyEmail(ctx, models.VerifyEmailRequest{Token: mail.last().token})
	require.NoError(t, err)
	list, err = users.List(ctx, models.UserFilter{})
	require.NoError(t, err)
	require.Len(t, list.Users, 1)
	assert.True(t, list.Users[0].IsVerified)

	_, err = authSvc.Login(ctx, models.LoginRequest{Email: "john@example.com", Password: "secret1"})
	require.NoError(t, err)
	list, err = users.List(ctx, models.UserFilter{})
	require.NoError(t, err)
	require.Len(t, list.Users, 1)
	assert.NotNil(t, list.Users[0].LastLoginAt)
}
