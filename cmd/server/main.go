package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/account-api/api/swagger"
	"github.com/noah-isme/account-api/internal/auth"
	"github.com/noah-isme/account-api/internal/handler"
	"github.com/noah-isme/account-api/internal/repository"
	"github.com/noah-isme/account-api/internal/server"
	"github.com/noah-isme/account-api/internal/service"
	"github.com/noah-isme/account-api/migrations"
	"github.com/noah-isme/account-api/pkg/cache"
	"github.com/noah-isme/account-api/pkg/config"
	"github.com/noah-isme/account-api/pkg/database"
	"github.com/noah-isme/account-api/pkg/jobs"
	"github.com/noah-isme/account-api/pkg/logger"
	"github.com/noah-isme/account-api/pkg/mailer"
	"github.com/noah-isme/account-api/pkg/storage"
)

const version = "1.0.0"

// @title Account API
// @version 1.0.0
// @description Registration, login, token refresh, password recovery and profile management
// @BasePath /api
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Env,
			Release:          "account-api@" + version,
			EnableTracing:    cfg.Sentry.TracesSampleRate > 0,
			TracesSampleRate: cfg.Sentry.TracesSampleRate,
		}); err != nil {
			logr.Warn("sentry init failed", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(ctx, db.DB, migrations.FS); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
		logr.Info("migrations applied")
	}

	var (
		redisClient *redis.Client
		limiter     redis.Scripter
	)
	if client, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Warn("redis unavailable, caching and rate limiting disabled", zap.Error(err))
	} else {
		redisClient = client
		limiter = client
		defer redisClient.Close()
	}

	files, err := storage.New(ctx, cfg.Upload, cfg.S3)
	if err != nil {
		logr.Fatal("failed to init upload storage", zap.Error(err))
	}

	sender, err := mailer.New(*cfg, logr)
	if err != nil {
		logr.Fatal("failed to init mailer", zap.Error(err))
	}
	if closer, ok := sender.(mailer.Closer); ok {
		defer closer.Close() //nolint:errcheck
	}

	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewRefreshTokenRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	codec := auth.NewCodec(cfg.JWT.Secret, auth.WithIssuer(cfg.JWT.Issuer))
	ledger := service.NewRefreshLedger(tokenRepo, userRepo, codec, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled && redisClient != nil)
	mailSvc := service.NewMailService(sender, service.MailConfig{
		From:        cfg.Mail.From,
		FrontendURL: cfg.FrontendURL,
		CompanyName: cfg.Mail.CompanyName,
		CompanyLogo: cfg.Mail.CompanyLogo,
	}, metricsSvc, logr)

	authSvc := service.NewAuthService(userRepo, ledger, codec, mailSvc, cacheSvc, metricsSvc, logr, service.DefaultAuthConfig())

	avatarSvc := service.NewAvatarService(userRepo, files, cacheSvc, nil, service.AvatarConfig{
		MaxFileSize:       cfg.Upload.MaxFileSize,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		AllowedMimeTypes:  cfg.Upload.AllowedMimeTypes,
	}, logr)
	cleanup := jobs.NewQueue("avatar_cleanup", avatarSvc.CleanupHandler(), jobs.QueueConfig{
		Workers:    cfg.Upload.CleanupWorkers,
		MaxRetries: 3,
		Logger:     logr,
	})
	cleanup.Start(ctx)
	defer cleanup.Stop()
	avatarSvc.SetQueue(cleanup)

	userSvc := service.NewUserService(userRepo, cacheSvc, avatarSvc, service.DefaultAuthConfig().BcryptCost, logr)

	if cfg.Tokens.PruneEnabled {
		go service.NewTokenJanitor(ledger, metricsSvc, cfg.Tokens.PruneInterval, logr).Run(ctx)
	}

	checks := map[string]handler.Pinger{"database": userRepo}
	if redisClient != nil {
		checks["redis"] = cacheRepo
	}
	info := handler.APIInfo{Name: "Account API", Version: version}
	if !cfg.IsProduction() {
		info.Docs = "/docs/index.html"
	}

	router := server.NewRouter(server.Options{
		Config:   cfg,
		Logger:   logr,
		Metrics:  metricsSvc,
		Sessions: authSvc,
		Limiter:  limiter,
		Handlers: server.Handlers{
			Auth:   handler.NewAuthHandler(authSvc),
			Users:  handler.NewUserHandler(userSvc, avatarSvc),
			System: handler.NewMetricsHandler(metricsSvc, info, checks),
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
