package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/pkg/export"
)

type recordingReleaser struct {
	mu   sync.Mutex
	urls []string
}

func (r *recordingReleaser) Release(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
}

type userFixture struct {
	svc      *UserService
	store    *memStore
	cache    *memCache
	released *recordingReleaser
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()
	store := newMemStore()
	cache := newMemCache()
	released := &recordingReleaser{}
	svc := NewUserService(store, NewCacheService(cache, nil, time.Minute, nil, true), released, bcrypt.MinCost, zap.NewNop())
	return &userFixture{svc: svc, store: store, cache: cache, released: released}
}

func (f *userFixture) seed(t *testing.T, name, email, password string, role models.Role) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return f.store.add(models.User{Name: name, Email: email, PasswordHash: string(hash), Role: role, Theme: models.ThemeLight, Language: models.LanguageVI})
}

func strPtr(s string) *string { return &s }

func TestUserServiceProfile(t *testing.T) {
	f := newUserFixture(t)
	user := f.seed(t, "Jane", "jane@example.com", "secret1", models.RoleUser)

	profile, err := f.svc.Profile(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane", profile.Name)

	_, err = f.svc.Profile(context.Background(), "missing")
	requireAppError(t, err, "NOT_FOUND", http.StatusNotFound)
}

func TestUserServiceUpdateProfile(t *testing.T) {
	f := newUserFixture(t)
	user := f.seed(t, "Jane", "jane@example.com", "secret1", models.RoleUser)
	f.cache.data["users:list:1:10:"] = []byte(`{}`)

	dark := models.ThemeDark
	resp, err := f.svc.UpdateProfile(context.Background(), user.ID, models.UpdateProfileRequest{
		Name:   strPtr("  Jane Doe "),
		Avatar: strPtr("https://cdn.example.com/a.png"),
		Theme:  &dark,
	})
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", resp.User.Name)
	assert.Equal(t, models.ThemeDark, resp.User.Theme)
	assert.Equal(t, models.LanguageVI, resp.User.Language)
	assert.Empty(t, f.cache.data, "list cache is invalidated on writes")

	_, err = f.svc.UpdateProfile(context.Background(), user.ID, models.UpdateProfileRequest{Avatar: strPtr("https://cdn.example.com/b.png")})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/a.png"}, f.released.urls)
}

func TestUserServiceUpdateProfileRejects(t *testing.T) {
	f := newUserFixture(t)
	user := f.seed(t, "Jane", "jane@example.com", "secret1", models.RoleUser)

	bad := models.Theme("neon")
	_, err := f.svc.UpdateProfile(context.Background(), user.ID, models.UpdateProfileRequest{Theme: &bad, Avatar: strPtr("not a url")})
	appErr := requireAppError(t, err, "VALIDATION_ERROR", http.StatusUnprocessableEntity)
	assert.Contains(t, appErr.Details, "theme")
	assert.Contains(t, appErr.Details, "avatar")

	_, err = f.svc.UpdateProfile(context.Background(), user.ID, models.UpdateProfileRequest{Name: strPtr("   ")})
	requireAppError(t, err, "UPDATE_PROFILE_FAILED", http.StatusBadRequest)

	_, err = f.svc.UpdateProfile(context.Background(), "missing", models.UpdateProfileRequest{})
	requireAppError(t, err, "NOT_FOUND", http.StatusNotFound)
}

func TestUserServiceThemeAndLanguage(t *testing.T) {
	f := newUserFixture(t)
	user := f.seed(t, "Jane", "jane@example.com", "secret1", models.RoleUser)

	profile, err := f.svc.UpdateTheme(context.Background(), user.ID, models.ThemeRequest{Theme: models.ThemeSystem})
	require.NoError(t, err)
	assert.Equal(t, models.ThemeSystem, profile.Theme)

	profile, err = f.svc.UpdateLanguage(context.Background(), user.ID, models.LanguageRequest{Language: models.LanguageEN})
	require.NoError(t, err)
	assert.Equal(t, models.LanguageEN, profile.Language)

	_, err = f.svc.UpdateLanguage(context.Background(), user.ID, models.LanguageRequest{Language: "fr"})
	appErr := requireAppError(t, err, "VALIDATION_ERROR", http.StatusUnprocessableEntity)
	assert.Contains(t, appErr.Details, "language")
}

func TestUserServiceChangePassword(t *testing.T) {
	f := newUserFixture(t)
	user := f.seed(t, "Jane", "jane@example.com", "secret1", models.RoleUser)

	_, err := f.svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{OldPassword: "secret1", NewPassword: "newpass1", ConfirmPassword: "other12"})
	appErr := requireAppError(t, err, "CHANGE_PASSWORD_FAILED", http.StatusBadRequest)
	assert.Contains(t, appErr.Details, "confirmPassword")

	_, err = f.svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{OldPassword: "wrong", NewPassword: "newpass1", ConfirmPassword: "newpass1"})
	appErr = requireAppError(t, err, "CHANGE_PASSWORD_FAILED", http.StatusBadRequest)
	assert.Contains(t, appErr.Details, "oldPassword")

	resp, err := f.svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{OldPassword: "secret1", NewPassword: "newpass1", ConfirmPassword: "newpass1"})
	require.NoError(t, err)
	assert.Equal(t, "Password changed successfully", resp.Message)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(f.store.get(user.ID).PasswordHash), []byte("newpass1")))
}

func TestUserServiceDeleteAccount(t *testing.T) {
	f := newUserFixture(t)
	user := f.seed(t, "Jane", "jane@example.com", "secret1", models.RoleUser)
	require.NoError(t, f.store.mutate(user.ID, func(u *models.User) { u.Avatar = strPtr("/uploads/avatars/jane.png") }))
	require.NoError(t, memTokens{f.store}.Create(context.Background(), &models.RefreshToken{Token: "t1", UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}))

	_, err := f.svc.DeleteAccount(context.Background(), user.ID, models.DeleteAccountRequest{Password: "wrong"})
	appErr := requireAppError(t, err, "DELETE_ACCOUNT_FAILED", http.StatusBadRequest)
	assert.Contains(t, appErr.Details, "password")
	assert.NotNil(t, f.store.get(user.ID))

	_, err = f.svc.DeleteAccount(context.Background(), user.ID, models.DeleteAccountRequest{Password: "secret1"})
	require.NoError(t, err)
	assert.Nil(t, f.store.get(user.ID))
	assert.Zero(t, f.store.tokenCount())
	assert.Equal(t, []string{"/uploads/avatars/jane.png"}, f.released.urls)
}

func TestUserServiceListPaginatesAndCaches(t *testing.T) {
	f := newUserFixture(t)
	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"Ann", "Bob", "Cid"} {
		f.store.add(models.User{Name: name, Email: name + "@example.com", Role: models.RoleUser, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	list, err := f.svc.List(context.Background(), models.UserFilter{Page: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, list.Users, 2)
	assert.Equal(t, "Cid", list.Users[0].Name)
	assert.Equal(t, models.Pagination{Page: 1, Limit: 2, Total: 3, Pages: 2}, list.Pagination)
	assert.Contains(t, f.cache.data, "users:list:1:2:")

	f.store.add(models.User{Name: "Dee", Email: "dee@example.com"})
	cached, err := f.svc.List(context.Background(), models.UserFilter{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, cached.Pagination.Total, "served from cache until a write through the service")

	search, err := f.svc.List(context.Background(), models.UserFilter{Search: "BOB"})
	require.NoError(t, err)
	require.Len(t, search.Users, 1)
	assert.Equal(t, 10, search.Pagination.Limit)
}

func TestUserServiceListLimits(t *testing.T) {
	f := newUserFixture(t)
	list, err := f.svc.List(context.Background(), models.UserFilter{Page: 0, Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Pagination.Page)
	assert.Equal(t, 100, list.Pagination.Limit)
	assert.NotNil(t, list.Users)
}

func TestUserServiceListError(t *testing.T) {
	f := newUserFixture(t)
	f.svc.repo = failingList{f.store}

	_, err := f.svc.List(context.Background(), models.UserFilter{})
	requireAppError(t, err, "INTERNAL_SERVER_ERROR", http.StatusInternalServerError)
}

type failingList struct{ *memStore }

func (failingList) Count(context.Context, models.UserFilter) (int, error) {
	return 0, errors.New("count failed")
}

func TestUserServiceAdminDelete(t *testing.T) {
	f := newUserFixture(t)
	admin := f.seed(t, "Admin", "admin@example.com", "secret1", models.RoleAdmin)
	user := f.seed(t, "Jane", "jane@example.com", "secret1", models.RoleUser)

	_, err := f.svc.Delete(context.Background(), admin.ID, admin.ID)
	appErr := requireAppError(t, err, "BAD_REQUEST", http.StatusBadRequest)
	assert.ErrorIs(t, appErr, ErrSelfDelete)

	_, err = f.svc.Delete(context.Background(), admin.ID, "missing")
	requireAppError(t, err, "NOT_FOUND", http.StatusNotFound)

	resp, err := f.svc.Delete(context.Background(), admin.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "User deleted successfully", resp.Message)
	assert.Nil(t, f.store.get(user.ID))
}

func TestUserServiceExport(t *testing.T) {
	f := newUserFixture(t)
	f.seed(t, "Jane", "jane@example.com", "secret1", models.RoleUser)
	f.seed(t, "Admin", "admin@example.com", "secret1", models.RoleAdmin)

	out, err := f.svc.ExportUsers(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", out.ContentType)
	assert.Contains(t, out.Filename, ".csv")

	records, err := csv.NewReader(bytes.NewReader(out.Data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, export.Table{Columns: rosterColumns}.Titles(), records[0])
	assert.Equal(t, "Email", records[0][2])

	pdf, err := f.svc.ExportUsers(context.Background(), "PDF", "jane")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdf.ContentType)
	assert.True(t, bytes.HasPrefix(pdf.Data, []byte("%PDF")))

	_, err = f.svc.ExportUsers(context.Background(), "xlsx", "")
	requireAppError(t, err, "BAD_REQUEST", http.StatusBadRequest)
}
