// Package auth signs and verifies the bearer tokens issued by the API and
// carries the authenticated identity through request contexts.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Token lifetimes. The refresh ledger stores rows with RefreshTTL so the
// signed expiry and the ledger expiry always agree.
const (
	AccessTTL  = 4 * time.Hour
	RefreshTTL = 30 * 24 * time.Hour
)

var (
	// ErrMissingSecret means no signing secret is configured.
	ErrMissingSecret = errors.New("auth: signing secret is not configured")
	// ErrTokenExpired is returned for well-formed tokens past their exp claim.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid covers bad signatures, malformed tokens and wrong kinds.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Payload is the identity encoded in a token.
type Payload struct {
	ID    string
	Email string
}

// Claims is the JWT body.
type Claims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Type  Kind   `json:"typ"`
	jwt.RegisteredClaims
}

// Codec signs and verifies HS256 tokens with a shared secret.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option customises a Codec.
type Option func(*Codec)

// WithClock overrides the time source used for iat/exp and validation.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithIssuer sets the iss claim.
func WithIssuer(issuer string) Option {
	return func(c *Codec) { c.issuer = issuer }
}

// NewCodec builds a codec. An empty secret is accepted here and reported by
// Sign and Verify so misconfiguration is never silently defaulted.
func NewCodec(secret string, opts ...Option) *Codec {
	c := &Codec{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sign encodes p with the given kind and ttl.
func (c *Codec) Sign(p Payload, kind Kind, ttl time.Duration) (string, error) {
	if len(c.secret) == 0 {
		return "", ErrMissingSecret
	}
	issuedAt := c.now().UTC()
	claims := Claims{
		ID:    p.ID,
		Email: p.Email,
		Type:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// SignAccess issues a four hour access token.
func (c *Codec) SignAccess(p Payload) (string, error) {
	return c.Sign(p, KindAccess, AccessTTL)
}

// SignRefresh issues a thirty day refresh token.
func (c *Codec) SignRefresh(p Payload) (string, error) {
	return c.Sign(p, KindRefresh, RefreshTTL)
}

// Verify checks the signature, expiry and kind of token and returns its
// payload. Expired tokens yield ErrTokenExpired, every other rejection
// ErrTokenInvalid.
func (c *Codec) Verify(token string, kind Kind) (*Payload, error) {
	if len(c.secret) == 0 {
		return nil, ErrMissingSecret
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.ID == "" {
		return nil, ErrTokenInvalid
	}
	if kind != "" && claims.Type != kind {
		return nil, fmt.Errorf("%w: expected %s token", ErrTokenInvalid, kind)
	}
	return &Payload{ID: claims.ID, Email: claims.Email}, nil
}
