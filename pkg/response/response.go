package response

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/account-api/pkg/errors"
)

const debugKey = "response_debug"

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	Message string              `json:"message"`
	Code    string              `json:"code"`
	Details map[string][]string `json:"details,omitempty"`
	Cause   string              `json:"cause,omitempty"`
	Stack   string              `json:"stack,omitempty"`
}

// MessageBody is returned by endpoints that only acknowledge an action.
type MessageBody struct {
	Message string `json:"message"`
}

// Debug marks the request so internal error causes are echoed back.
// Mount it only outside production.
func Debug(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(debugKey, enabled)
		c.Next()
	}
}

// JSON sends a bare JSON body with caching disabled.
func JSON(c *gin.Context, status int, data interface{}) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(status, data)
}

// OK responds with HTTP 200.
func OK(c *gin.Context, data interface{}) {
	JSON(c, http.StatusOK, data)
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data)
}

// Message responds with HTTP 200 and a message body.
func Message(c *gin.Context, message string) {
	JSON(c, http.StatusOK, MessageBody{Message: message})
}

// Error sends an error response converting the error to the common structure.
func Error(c *gin.Context, err error) {
	writeError(c, err, true)
}

// Recover answers panics with the 500 envelope. Sentry's middleware, when
// mounted after it, has already captured the panic.
func Recover() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		err := appErrors.Wrap(fmt.Errorf("panic: %v", recovered), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
		writeError(c, err, false)
		c.Abort()
	})
}

func writeError(c *gin.Context, err error, capture bool) {
	appErr := appErrors.FromError(err)
	body := ErrorBody{
		Message: appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	}
	if appErr.Status >= http.StatusInternalServerError {
		if capture {
			report(c, err)
		}
		if c.GetBool(debugKey) {
			if appErr.Err != nil {
				body.Cause = appErr.Err.Error()
			}
			body.Stack = string(debug.Stack())
		}
	}
	JSON(c, appErr.Status, body)
}

// Abort writes the error and stops the handler chain.
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func report(c *gin.Context, err error) {
	if hub := sentrygin.GetHubFromContext(c); hub != nil {
		hub.CaptureException(err)
		return
	}
	if sentry.CurrentHub().Client() != nil {
		sentry.CaptureException(err)
	}
}
