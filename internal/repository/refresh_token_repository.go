package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/account-api/internal/models"
)

// ErrRefreshTokenNotFound is returned when a delete matched no ledger row.
var ErrRefreshTokenNotFound = errors.New("refresh token not found")

// RefreshTokenRepository stores the refresh token ledger.
type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository creates a new instance of RefreshTokenRepository.
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

const insertRefreshToken = `INSERT INTO refresh_tokens (token, user_id, expires_at, created_at) VALUES (:token, :user_id, :expires_at, :created_at)`

// Create inserts a ledger row.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NamedExecContext(ctx, insertRefreshToken, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

type sessionRow struct {
	models.User
	RTToken     string    `db:"rt_token"`
	RTUserID    string    `db:"rt_user_id"`
	RTExpiresAt time.Time `db:"rt_expires_at"`
	RTCreatedAt time.Time `db:"rt_created_at"`
}

// FindSession returns the ledger row for token joined with its owner.
func (r *RefreshTokenRepository) FindSession(ctx context.Context, token string) (*models.RefreshSession, error) {
	const query = `SELECT rt.token AS rt_token, rt.user_id AS rt_user_id, rt.expires_at AS rt_expires_at, rt.created_at AS rt_created_at,
		u.id, u.name, u.email, u.password_hash, u.avatar, u.theme, u.language, u.role, u.is_verified,
		u.verification_token, u.verification_token_expires_at, u.reset_password_token, u.reset_password_token_expires_at,
		u.last_login_at, u.created_at, u.updated_at
		FROM refresh_tokens rt JOIN users u ON u.id = rt.user_id WHERE rt.token = $1`
	var row sessionRow
	if err := r.db.GetContext(ctx, &row, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh session: %w", err)
	}
	return &models.RefreshSession{
		Token: models.RefreshToken{
			Token:     row.RTToken,
			UserID:    row.RTUserID,
			ExpiresAt: row.RTExpiresAt,
			CreatedAt: row.RTCreatedAt,
		},
		User: row.User,
	}, nil
}

// Delete removes a ledger row by value.
func (r *RefreshTokenRepository) Delete(ctx context.Context, token string) error {
	return deleteToken(ctx, r.db, token)
}

// Rotate deletes old and inserts next in one transaction. When another caller
// already deleted old the transaction is rolled back and
// ErrRefreshTokenNotFound is returned.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, old string, next *models.RefreshToken) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotate: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = deleteToken(ctx, tx, old); err != nil {
		return err
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = time.Now().UTC()
	}
	if _, err = tx.NamedExecContext(ctx, insertRefreshToken, next); err != nil {
		return fmt.Errorf("insert rotated refresh token: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit rotate: %w", err)
	}
	return nil
}

// PruneExpired deletes rows that expired at or before now.
func (r *RefreshTokenRepository) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("prune refresh tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune refresh tokens: %w", err)
	}
	return n, nil
}

func deleteToken(ctx context.Context, exec sqlx.ExecerContext, token string) error {
	res, err := exec.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	if n == 0 {
		return ErrRefreshTokenNotFound
	}
	return nil
}
