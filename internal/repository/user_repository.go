package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/account-api/internal/models"
)

// ErrEmailTaken is returned by Create when the email is already registered.
var ErrEmailTaken = errors.New("email already registered")

const userColumns = `id, name, email, password_hash, avatar, theme, language, role, is_verified,
	verification_token, verification_token_expires_at, reset_password_token, reset_password_token_expires_at,
	last_login_at, created_at, updated_at`

// UserRepository provides database access for accounts.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail returns a user by exact email match.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindRole returns the current role of a user.
func (r *UserRepository) FindRole(ctx context.Context, id string) (models.Role, error) {
	const query = `SELECT role FROM users WHERE id = $1`
	var role models.Role
	if err := r.db.GetContext(ctx, &role, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("find user role: %w", err)
	}
	return role, nil
}

// Create inserts a new user. A duplicate email yields ErrEmailTaken.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = user.CreatedAt

	const query = `INSERT INTO users (id, name, email, password_hash, avatar, theme, language, role, is_verified,
		verification_token, verification_token_expires_at, created_at, updated_at)
		VALUES (:id, :name, :email, :password_hash, :avatar, :theme, :language, :role, :is_verified,
		:verification_token, :verification_token_expires_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateLastLogin records a successful login.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET last_login_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	return r.execOne(ctx, "update password", query, id, passwordHash, updatedAt)
}

// SetVerificationToken overwrites the verification slot of a user.
func (r *UserRepository) SetVerificationToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	const query = `UPDATE users SET verification_token = $2, verification_token_expires_at = $3 WHERE id = $1`
	return r.execOne(ctx, "set verification token", query, id, token, expiresAt)
}

// SetResetToken overwrites the password reset slot of a user.
func (r *UserRepository) SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	const query = `UPDATE users SET reset_password_token = $2, reset_password_token_expires_at = $3 WHERE id = $1`
	return r.execOne(ctx, "set reset token", query, id, token, expiresAt)
}

// ConsumeVerificationToken marks the owner of a live verification token as
// verified and clears the slot in one statement. An unknown or expired token
// yields sql.ErrNoRows.
func (r *UserRepository) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*models.User, error) {
	query := `UPDATE users SET is_verified = TRUE, verification_token = NULL, verification_token_expires_at = NULL, updated_at = $2
		WHERE verification_token = $1 AND verification_token_expires_at > $2
		RETURNING ` + userColumns
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, token, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("consume verification token: %w", err)
	}
	return &user, nil
}

// ConsumeResetToken stores a new password hash for the owner of a live reset
// token and clears the slot, so the token works once.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, token, passwordHash string, now time.Time) (*models.User, error) {
	query := `UPDATE users SET password_hash = $2, reset_password_token = NULL, reset_password_token_expires_at = NULL, updated_at = $3
		WHERE reset_password_token = $1 AND reset_password_token_expires_at > $3
		RETURNING ` + userColumns
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, token, passwordHash, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("consume reset token: %w", err)
	}
	return &user, nil
}

// ProfileChanges lists the profile columns to update; nil fields are kept.
type ProfileChanges struct {
	Name        *string
	Avatar      *string
	ClearAvatar bool
	Theme       *models.Theme
	Language    *models.Language
}

// UpdateProfile applies changes and returns the stored user.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, changes ProfileChanges) (*models.User, error) {
	sets := []string{}
	args := []interface{}{id}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if changes.Name != nil {
		add("name", *changes.Name)
	}
	if changes.ClearAvatar {
		sets = append(sets, "avatar = NULL")
	} else if changes.Avatar != nil {
		add("avatar", *changes.Avatar)
	}
	if changes.Theme != nil {
		add("theme", *changes.Theme)
	}
	if changes.Language != nil {
		add("language", *changes.Language)
	}
	add("updated_at", time.Now().UTC())

	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $1 RETURNING %s`, strings.Join(sets, ", "), userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return &user, nil
}

// List returns one page of users, newest first. A non-positive limit returns
// every match.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, error) {
	where, args := userSearch(filter.Search)
	query := fmt.Sprintf("SELECT %s FROM users%s ORDER BY created_at DESC", userColumns, where)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset())
	}

	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Count returns the number of users matching the filter search.
func (r *UserRepository) Count(ctx context.Context, filter models.UserFilter) (int, error) {
	where, args := userSearch(filter.Search)
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM users"+where, args...); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return total, nil
}

// Delete removes a user; refresh tokens go with it through the foreign key.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM users WHERE id = $1`
	return r.execOne(ctx, "delete user", query, id)
}

// Ping checks connectivity for readiness probes.
func (r *UserRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *UserRepository) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func userSearch(search string) (string, []interface{}) {
	search = strings.TrimSpace(search)
	if search == "" {
		return "", nil
	}
	return " WHERE (name ILIKE $1 OR email ILIKE $1)", []interface{}{"%" + search + "%"}
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && (constraint == "" || pqErr.Constraint == constraint)
}
