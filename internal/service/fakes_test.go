package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/repository"
)

// memStore is an in-memory users and refresh_tokens store. Deleting a user
// removes its tokens like the foreign key does.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	tokens   map[string]models.RefreshToken
	findErr  error
	createFn func(*models.User) error
}

func newMemStore() *memStore {
	return &memStore{users: map[string]*models.User{}, tokens: map[string]models.RefreshToken{}}
}

func (m *memStore) add(u models.User) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cp := u
	m.users[u.ID] = &cp
	return &u
}

func (m *memStore) get(id string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

func (m *memStore) tokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

func (m *memStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) FindByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) FindRole(ctx context.Context, id string) (models.Role, error) {
	u, err := m.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

func (m *memStore) Create(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createFn != nil {
		if err := m.createFn(user); err != nil {
			return err
		}
	}
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrEmailTaken
		}
	}
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memStore) mutate(id string, fn func(*models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	fn(u)
	return nil
}

func (m *memStore) UpdateLastLogin(_ context.Context, id string, ts time.Time) error {
	return m.mutate(id, func(u *models.User) { u.LastLoginAt = &ts })
}

func (m *memStore) UpdatePassword(_ context.Context, id, hash string, at time.Time) error {
	return m.mutate(id, func(u *models.User) {
		u.PasswordHash = hash
		u.UpdatedAt = at
	})
}

func (m *memStore) SetVerificationToken(_ context.Context, id, token string, expiresAt time.Time) error {
	return m.mutate(id, func(u *models.User) {
		u.VerificationToken = &token
		u.VerificationTokenExpiresAt = &expiresAt
	})
}

func (m *memStore) SetResetToken(_ context.Context, id, token string, expiresAt time.Time) error {
	return m.mutate(id, func(u *models.User) {
		u.ResetPasswordToken = &token
		u.ResetPasswordTokenExpiresAt = &expiresAt
	})
}

func (m *memStore) ConsumeVerificationToken(_ context.Context, token string, now time.Time) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.VerificationToken != nil && *u.VerificationToken == token && u.VerificationTokenExpiresAt.After(now) {
			u.IsVerified = true
			u.VerificationToken = nil
			u.VerificationTokenExpiresAt = nil
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) ConsumeResetToken(_ context.Context, token, hash string, now time.Time) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ResetPasswordToken != nil && *u.ResetPasswordToken == token && u.ResetPasswordTokenExpiresAt.After(now) {
			u.PasswordHash = hash
			u.ResetPasswordToken = nil
			u.ResetPasswordTokenExpiresAt = nil
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) UpdateProfile(_ context.Context, id string, c repository.ProfileChanges) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if c.Name != nil {
		u.Name = *c.Name
	}
	if c.ClearAvatar {
		u.Avatar = nil
	} else if c.Avatar != nil {
		v := *c.Avatar
		u.Avatar = &v
	}
	if c.Theme != nil {
		u.Theme = *c.Theme
	}
	if c.Language != nil {
		u.Language = *c.Language
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) matching(filter models.UserFilter) []models.User {
	var out []models.User
	q := strings.ToLower(strings.TrimSpace(filter.Search))
	for _, u := range m.users {
		if q == "" || strings.Contains(strings.ToLower(u.Name), q) || strings.Contains(strings.ToLower(u.Email), q) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memStore) List(_ context.Context, filter models.UserFilter) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.matching(filter)
	if filter.Limit <= 0 {
		return all, nil
	}
	start := filter.Offset()
	if start >= len(all) {
		return []models.User{}, nil
	}
	end := start + filter.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (m *memStore) Count(_ context.Context, filter models.UserFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.matching(filter)), nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.users, id)
	for k, t := range m.tokens {
		if t.UserID == id {
			delete(m.tokens, k)
		}
	}
	return nil
}

// memTokens exposes the refresh token half of memStore.
type memTokens struct{ *memStore }

func (m memTokens) Create(_ context.Context, t *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[t.UserID]; !ok {
		return errors.New("foreign key violation")
	}
	m.tokens[t.Token] = *t
	return nil
}

func (m memTokens) FindSession(_ context.Context, token string) (*models.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	u, ok := m.users[t.UserID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.RefreshSession{Token: t, User: *u}, nil
}

func (m memTokens) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token]; !ok {
		return repository.ErrRefreshTokenNotFound
	}
	delete(m.tokens, token)
	return nil
}

func (m memTokens) Rotate(_ context.Context, old string, next *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[old]; !ok {
		return repository.ErrRefreshTokenNotFound
	}
	delete(m.tokens, old)
	m.tokens[next.Token] = *next
	return nil
}

func (m memTokens) PruneExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, t := range m.tokens {
		if !t.ExpiresAt.After(now) {
			delete(m.tokens, k)
			n++
		}
	}
	return n, nil
}

type sentMail struct {
	kind  string
	email string
	token string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) record(kind string, user *models.User, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{kind: kind, email: user.Email, token: token})
	return nil
}

func (f *fakeMailer) SendVerification(_ context.Context, user *models.User, token string) error {
	return f.record(TemplateVerification, user, token)
}

func (f *fakeMailer) SendPasswordReset(_ context.Context, user *models.User, token string) error {
	return f.record(TemplatePasswordReset, user, token)
}

func (f *fakeMailer) SendWelcome(_ context.Context, user *models.User) error {
	return f.record(TemplateWelcome, user, "")
}

func (f *fakeMailer) last() sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMail{}
	}
	return f.sent[len(f.sent)-1]
}
