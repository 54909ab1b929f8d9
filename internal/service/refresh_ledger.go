package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/account-api/internal/auth"
	"github.com/noah-isme/account-api/internal/models"
)

type refreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindSession(ctx context.Context, token string) (*models.RefreshSession, error)
	Delete(ctx context.Context, token string) error
	Rotate(ctx context.Context, old string, next *models.RefreshToken) error
	PruneExpired(ctx context.Context, now time.Time) (int64, error)
}

type ledgerUserFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// RefreshLedger issues, validates and revokes refresh tokens. A token is
// valid while its row exists and has not expired; the row and the signed exp
// claim share auth.RefreshTTL.
type RefreshLedger struct {
	store  refreshTokenStore
	users  ledgerUserFinder
	codec  *auth.Codec
	logger *zap.Logger
	now    func() time.Time
}

// NewRefreshLedger constructs a RefreshLedger.
func NewRefreshLedger(store refreshTokenStore, users ledgerUserFinder, codec *auth.Codec, logger *zap.Logger) *RefreshLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshLedger{store: store, users: users, codec: codec, logger: logger, now: time.Now}
}

// Issue signs a refresh token for userID and records it. The owner is looked
// up first so no row is ever written for a missing user.
func (l *RefreshLedger) Issue(ctx context.Context, userID string) (string, error) {
	user, err := l.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("load refresh token owner: %w", err)
	}

	row, err := l.newRow(user)
	if err != nil {
		return "", err
	}
	if err := l.store.Create(ctx, row); err != nil {
		return "", err
	}
	return row.Token, nil
}

// Validate returns the live session for token, or nil when the row is
// missing or expired. Expired rows are left for PruneExpired.
func (l *RefreshLedger) Validate(ctx context.Context, token string) (*models.RefreshSession, error) {
	session, err := l.store.FindSession(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !session.Token.ExpiresAt.After(l.now()) {
		return nil, nil
	}
	return session, nil
}

// Revoke deletes token. Deleting an unknown token returns
// repository.ErrRefreshTokenNotFound.
func (l *RefreshLedger) Revoke(ctx context.Context, token string) error {
	return l.store.Delete(ctx, token)
}

// Rotate replaces old with a fresh token for user in one transaction. Only
// one of several concurrent rotations of the same token can succeed; the
// others get repository.ErrRefreshTokenNotFound.
func (l *RefreshLedger) Rotate(ctx context.Context, old string, user *models.User) (string, error) {
	row, err := l.newRow(user)
	if err != nil {
		return "", err
	}
	if err := l.store.Rotate(ctx, old, row); err != nil {
		return "", err
	}
	return row.Token, nil
}

// PruneExpired removes expired rows and reports how many were deleted.
func (l *RefreshLedger) PruneExpired(ctx context.Context) (int64, error) {
	n, err := l.store.PruneExpired(ctx, l.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.Info("pruned expired refresh tokens", zap.Int64("count", n))
	}
	return n, nil
}

func (l *RefreshLedger) newRow(user *models.User) (*models.RefreshToken, error) {
	token, err := l.codec.SignRefresh(auth.Payload{ID: user.ID, Email: user.Email})
	if err != nil {
		return nil, err
	}
	now := l.now().UTC()
	return &models.RefreshToken{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: now.Add(auth.RefreshTTL),
		CreatedAt: now,
	}, nil
}
