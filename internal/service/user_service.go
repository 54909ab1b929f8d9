package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/repository"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
	"github.com/noah-isme/account-api/pkg/export"
	"github.com/noah-isme/account-api/pkg/validation"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
	userCachePattern = "users:*"
)

type userStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateProfile(ctx context.Context, id string, changes repository.ProfileChanges) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	List(ctx context.Context, filter models.UserFilter) ([]models.User, error)
	Count(ctx context.Context, filter models.UserFilter) (int, error)
	Delete(ctx context.Context, id string) error
}

type avatarReleaser interface {
	Release(url string)
}

type csvRenderer interface {
	Render(t export.Table) ([]byte, error)
}

type pdfRenderer interface {
	Render(t export.Table, title string) ([]byte, error)
}

// Export formats accepted by ExportUsers.
const (
	ExportCSV = "csv"
	ExportPDF = "pdf"
)

// UserExport is a rendered roster file.
type UserExport struct {
	Filename    string
	ContentType string
	Data        []byte
}

// UserService serves the profile endpoints of the current user and the
// admin user management endpoints.
type UserService struct {
	repo       userStore
	cache      *CacheService
	avatars    avatarReleaser
	csv        csvRenderer
	pdf        pdfRenderer
	validator  *validator.Validate
	logger     *zap.Logger
	bcryptCost int
	now        func() time.Time
}

// NewUserService creates an instance of UserService. cache and avatars may
// be nil.
func NewUserService(repo userStore, cache *CacheService, avatars avatarReleaser, bcryptCost int, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &UserService{
		repo:       repo,
		cache:      cache,
		avatars:    avatars,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
		validator:  validation.New(),
		logger:     logger,
		bcryptCost: bcryptCost,
		now:        time.Now,
	}
}

// Profile returns the current user's profile.
func (s *UserService) Profile(ctx context.Context, id string) (*models.Profile, error) {
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	profile := user.ToProfile()
	return &profile, nil
}

// UpdateProfile applies the fields present in req.
func (s *UserService) UpdateProfile(ctx context.Context, id string, req models.UpdateProfileRequest) (*models.ProfileResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.FromError(err)
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, appErrors.Clone(appErrors.ErrUpdateProfileFailed, "").WithDetails("name", "Name must not be empty")
		}
		req.Name = &name
	}

	previous, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	user, err := s.update(ctx, id, repository.ProfileChanges{
		Name:     req.Name,
		Avatar:   req.Avatar,
		Theme:    req.Theme,
		Language: req.Language,
	})
	if err != nil {
		return nil, err
	}
	if req.Avatar != nil && previous.Avatar != nil && *previous.Avatar != *req.Avatar {
		s.release(*previous.Avatar)
	}
	return &models.ProfileResponse{User: user.ToProfile(), Message: "Profile updated successfully"}, nil
}

// UpdateTheme sets the UI theme.
func (s *UserService) UpdateTheme(ctx context.Context, id string, req models.ThemeRequest) (*models.Profile, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.FromError(err)
	}
	user, err := s.update(ctx, id, repository.ProfileChanges{Theme: &req.Theme})
	if err != nil {
		return nil, err
	}
	profile := user.ToProfile()
	return &profile, nil
}

// UpdateLanguage sets the UI and email language.
func (s *UserService) UpdateLanguage(ctx context.Context, id string, req models.LanguageRequest) (*models.Profile, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.FromError(err)
	}
	user, err := s.update(ctx, id, repository.ProfileChanges{Language: &req.Language})
	if err != nil {
		return nil, err
	}
	profile := user.ToProfile()
	return &profile, nil
}

// ChangePassword replaces the password after checking the old one.
func (s *UserService) ChangePassword(ctx context.Context, id string, req models.ChangePasswordRequest) (*models.MessageResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.FromError(err)
	}
	if req.NewPassword != req.ConfirmPassword {
		return nil, changePasswordFailed(ErrPasswordMismatch).WithDetails("confirmPassword", "Passwords do not match")
	}

	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		return nil, changePasswordFailed(ErrWrongPassword).WithDetails("oldPassword", "Old password is incorrect")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.bcryptCost)
	if err != nil {
		return nil, internal(err, "failed to hash password")
	}
	if err := s.repo.UpdatePassword(ctx, id, string(hash), s.now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, userNotFound()
		}
		return nil, internal(err, "failed to update password")
	}

	s.logger.Info("password changed", zap.String("user_id", id))
	return &models.MessageResponse{Message: "Password changed successfully"}, nil
}

// DeleteAccount removes the current user after a password check. Refresh
// tokens are removed with the row.
func (s *UserService) DeleteAccount(ctx context.Context, id string, req models.DeleteAccountRequest) (*models.MessageResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.FromError(err)
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Wrap(ErrWrongPassword, appErrors.ErrDeleteAccountFailed.Code, http.StatusBadRequest, appErrors.ErrDeleteAccountFailed.Message).
			WithDetails("password", "Password is incorrect")
	}
	if err := s.remove(ctx, user); err != nil {
		return nil, err
	}
	return &models.MessageResponse{Message: "Account deleted successfully"}, nil
}

// List returns one page of users for administrators. The count and the page
// are fetched concurrently and the result is cached until the next write.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) (*models.UserList, error) {
	filter = normalizeFilter(filter)
	key := fmt.Sprintf("users:list:%d:%d:%s", filter.Page, filter.Limit, strings.ToLower(filter.Search))

	var cached models.UserList
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	var (
		users []models.User
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = s.repo.List(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.repo.Count(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, internal(err, "failed to list users")
	}

	out := &models.UserList{
		Users:      make([]models.Profile, 0, len(users)),
		Pagination: models.NewPagination(filter.Page, filter.Limit, total),
	}
	for i := range users {
		out.Users = append(out.Users, users[i].ToProfile())
	}
	_ = s.cache.Set(ctx, key, out, 0)
	return out, nil
}

// Get returns any user by id.
func (s *UserService) Get(ctx context.Context, id string) (*models.Profile, error) {
	return s.Profile(ctx, id)
}

// Delete removes a user on behalf of an administrator. Administrators cannot
// delete themselves here.
func (s *UserService) Delete(ctx context.Context, actorID, id string) (*models.MessageResponse, error) {
	if actorID == id {
		return nil, appErrors.Wrap(ErrSelfDelete, appErrors.ErrBadRequest.Code, http.StatusBadRequest, "Cannot delete your own account")
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.remove(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("user deleted by admin", zap.String("user_id", id), zap.String("admin_id", actorID))
	return &models.MessageResponse{Message: "User deleted successfully"}, nil
}

// ExportUsers renders every user matching search as CSV or PDF.
func (s *UserService) ExportUsers(ctx context.Context, format, search string) (*UserExport, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportCSV
	}
	if format != ExportCSV && format != ExportPDF {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "Unsupported export format").WithDetails("format", "Format must be one of: csv, pdf")
	}

	users, err := s.repo.List(ctx, models.UserFilter{Search: search})
	if err != nil {
		return nil, internal(err, "failed to load users")
	}
	data := rosterTable(users)
	stamp := s.now().UTC().Format("20060102-150405")

	switch format {
	case ExportPDF:
		body, err := s.pdf.Render(data, "Users")
		if err != nil {
			return nil, internal(err, "failed to render pdf")
		}
		return &UserExport{Filename: "users-" + stamp + ".pdf", ContentType: "application/pdf", Data: body}, nil
	default:
		body, err := s.csv.Render(data)
		if err != nil {
			return nil, internal(err, "failed to render csv")
		}
		return &UserExport{Filename: "users-" + stamp + ".csv", ContentType: "text/csv", Data: body}, nil
	}
}

var rosterColumns = []export.Column{
	{Title: "ID", Width: 3},
	{Title: "Name", Width: 2},
	{Title: "Email", Width: 3},
	{Title: "Role"},
	{Title: "Verified"},
	{Title: "Language"},
	{Title: "Created", Width: 2},
	{Title: "Last login", Width: 2},
}

func rosterTable(users []models.User) export.Table {
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		lastLogin := ""
		if u.LastLoginAt != nil {
			lastLogin = u.LastLoginAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{
			u.ID,
			u.Name,
			u.Email,
			string(u.Role),
			strconv.FormatBool(u.IsVerified),
			string(u.Language),
			u.CreatedAt.UTC().Format(time.RFC3339),
			lastLogin,
		})
	}
	return export.Table{Columns: rosterColumns, Rows: rows}
}

func (s *UserService) load(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, userNotFound()
		}
		return nil, internal(err, "failed to load user")
	}
	return user, nil
}

func (s *UserService) update(ctx context.Context, id string, changes repository.ProfileChanges) (*models.User, error) {
	user, err := s.repo.UpdateProfile(ctx, id, changes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, userNotFound()
		}
		return nil, internal(err, "failed to update profile")
	}
	s.invalidate(ctx)
	return user, nil
}

func (s *UserService) remove(ctx context.Context, user *models.User) error {
	if err := s.repo.Delete(ctx, user.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return userNotFound()
		}
		return internal(err, "failed to delete user")
	}
	if user.Avatar != nil {
		s.release(*user.Avatar)
	}
	s.invalidate(ctx)
	return nil
}

func (s *UserService) release(url string) {
	if s.avatars != nil {
		s.avatars.Release(url)
	}
}

func (s *UserService) invalidate(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, userCachePattern)
}

func normalizeFilter(filter models.UserFilter) models.UserFilter {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageLimit
	}
	if filter.Limit > maxPageLimit {
		filter.Limit = maxPageLimit
	}
	filter.Search = strings.TrimSpace(filter.Search)
	return filter
}

func userNotFound() *appErrors.Error {
	return appErrors.Wrap(ErrUserNotFound, appErrors.ErrNotFound.Code, http.StatusNotFound, "User not found")
}

func changePasswordFailed(kind error) *appErrors.Error {
	return appErrors.Wrap(kind, appErrors.ErrChangePasswordFailed.Code, http.StatusBadRequest, appErrors.ErrChangePasswordFailed.Message)
}
