package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/account-api/internal/auth"
	"github.com/noah-isme/account-api/internal/models"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
	"github.com/noah-isme/account-api/pkg/response"
)

// ContextIdentityKey is the gin context key storing the authenticated identity.
const ContextIdentityKey = "identity"

// Authenticator resolves a bearer token into the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Identity, error)
}

// Authorizer checks the stored role of a user against an allow-list.
type Authorizer interface {
	Authorize(ctx context.Context, userID string, roles ...models.Role) error
}

var errNoToken = appErrors.Clone(appErrors.ErrUnauthorized, "No token provided")

// Authenticate protects routes by requiring a valid access token. The identity
// is stored in the gin context and in the request context.
func Authenticate(svc Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Abort(c, errNoToken)
			return
		}

		identity, err := svc.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.Abort(c, err)
			return
		}

		c.Set(ContextIdentityKey, *identity)
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), *identity))
		c.Next()
	}
}

// Authorize allows the request through only when the current role of the
// authenticated user is one of roles. Must run after Authenticate.
func Authorize(svc Authorizer, roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			response.Abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "Not authenticated"))
			return
		}
		if err := svc.Authorize(c.Request.Context(), identity.ID, roles...); err != nil {
			response.Abort(c, err)
			return
		}
		c.Next()
	}
}

// IdentityFrom returns the identity attached by Authenticate.
func IdentityFrom(c *gin.Context) (auth.Identity, bool) {
	if value, exists := c.Get(ContextIdentityKey); exists {
		if identity, ok := value.(auth.Identity); ok {
			return identity, true
		}
	}
	return auth.FromContext(c.Request.Context())
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
