// Package server assembles the HTTP router: global middleware, rate limits,
// session guards and the route table.
package server

import (
	"context"
	"strings"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/account-api/internal/auth"
	"github.com/noah-isme/account-api/internal/handler"
	"github.com/noah-isme/account-api/internal/middleware"
	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/service"
	"github.com/noah-isme/account-api/pkg/config"
	"github.com/noah-isme/account-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/account-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/account-api/pkg/middleware/requestid"
	"github.com/noah-isme/account-api/pkg/middleware/security"
	"github.com/noah-isme/account-api/pkg/response"
)

// Sessions authenticates bearer tokens and checks roles.
type Sessions interface {
	Authenticate(ctx context.Context, token string) (*auth.Identity, error)
	Authorize(ctx context.Context, userID string, roles ...models.Role) error
}

// Handlers groups the HTTP handlers mounted by the router.
type Handlers struct {
	Auth   *handler.AuthHandler
	Users  *handler.UserHandler
	System *handler.MetricsHandler
}

// Options carries everything NewRouter needs.
type Options struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *service.MetricsService
	Sessions Sessions
	// Limiter backs the rate limiters; nil disables them.
	Limiter  redis.Scripter
	Handlers Handlers
}

// NewRouter builds the gin engine.
func NewRouter(opts Options) *gin.Engine {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(response.Recover())
	if cfg.Sentry.DSN != "" {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(log))
	r.Use(middleware.Metrics(opts.Metrics))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(security.Headers(cfg.IsProduction()))
	r.Use(response.Debug(!cfg.IsProduction()))

	h := opts.Handlers
	r.GET("/health", h.System.Health)
	r.GET("/ready", h.System.Ready)
	r.GET("/metrics", h.System.Prometheus)

	if !cfg.IsProduction() {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	if cfg.Upload.Engine == "" || cfg.Upload.Engine == "local" {
		r.Static(cfg.Upload.PublicPath, cfg.Upload.Dir)
	}

	limiter := func(o middleware.RateLimitOptions) gin.HandlerFunc {
		o.Enabled = cfg.RateLimit.Enabled
		o.Prefix = cfg.RateLimit.Prefix
		o.Logger = log
		return middleware.RateLimit(opts.Limiter, o)
	}
	general := limiter(middleware.RateLimitOptions{
		Name:        "general",
		Window:      cfg.RateLimit.Window,
		Max:         cfg.RateLimit.MaxRequests,
		Description: "Too many requests from this IP, please try again later.",
	})
	strict := limiter(middleware.RateLimitOptions{
		Name:        "auth",
		Window:      cfg.RateLimit.AuthWindow,
		Max:         cfg.RateLimit.AuthMaxRequests,
		RefundOnOK:  true,
		Description: "Too many authentication attempts, please try again later.",
	})

	authenticate := middleware.Authenticate(opts.Sessions)

	api := r.Group(apiPrefix(cfg.APIPrefix), general)
	api.GET("/", h.System.Info)

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/register", strict, h.Auth.Register)
		authGroup.POST("/login", strict, h.Auth.Login)
		authGroup.POST("/refresh", h.Auth.Refresh)
		authGroup.POST("/forgot-password", strict, h.Auth.ForgotPassword)
		authGroup.POST("/reset-password", strict, h.Auth.ResetPassword)
		authGroup.POST("/verify-email", h.Auth.VerifyEmail)
		authGroup.POST("/resend-verification", strict, h.Auth.ResendVerification)
		authGroup.POST("/logout", authenticate, h.Auth.Logout)
		authGroup.GET("/me", authenticate, h.Auth.Me)
	}

	users := api.Group("/users", authenticate)
	{
		users.GET("/me", h.Users.Profile)
		users.PUT("/me", h.Users.UpdateProfile)
		users.PUT("/change-password", h.Users.ChangePassword)
		users.POST("/upload-avatar", h.Users.UploadAvatar)
		users.DELETE("/avatar", h.Users.DeleteAvatar)
		users.PATCH("/theme", h.Users.UpdateTheme)
		users.PATCH("/language", h.Users.UpdateLanguage)
		users.DELETE("/delete-account", h.Users.DeleteAccount)
	}

	admin := users.Group("", middleware.Authorize(opts.Sessions, models.RoleAdmin))
	{
		admin.GET("", h.Users.List)
		admin.GET("/export", h.Users.Export)
		admin.GET("/:id", h.Users.Get)
		admin.DELETE("/:id", h.Users.Delete)
	}

	return r
}

func apiPrefix(prefix string) string {
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		return ""
	}
	return prefix
}
