package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/account-api/internal/auth"
	"github.com/noah-isme/account-api/internal/middleware"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
	"github.com/noah-isme/account-api/pkg/response"
)

// currentIdentity writes 401 and returns false when no identity is attached.
func currentIdentity(c *gin.Context) (auth.Identity, bool) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "Not authenticated"))
		return auth.Identity{}, false
	}
	return identity, true
}

// bindJSON decodes the request body into dst. Field validation is left to the
// services; only malformed JSON is rejected here. An empty body is accepted
// when allowEmpty is set.
func bindJSON(c *gin.Context, dst interface{}, allowEmpty bool) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	response.Error(c, appErrors.Wrap(err, appErrors.ErrBadRequest.Code, http.StatusBadRequest, "Invalid request body"))
	return false
}
