package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/noah-isme/account-api/pkg/config"
	"github.com/noah-isme/account-api/pkg/logger"
	"github.com/noah-isme/account-api/pkg/mailer"
)

// The mailer worker drains the AMQP outbox filled by the API when
// MAIL_DRIVER=amqp and delivers each message through Resend. Without a
// Resend key it logs the messages instead.
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

	var deliver mailer.Sender
	if cfg.Mail.ResendAPIKey != "" {
		deliver = mailer.NewResendSender(cfg.Mail.ResendAPIKey)
	} else {
		logr.Warn("RESEND_API_KEY is empty, outbox messages will only be logged")
		deliver = mailer.NewLogSender(logr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := mailer.NewConsumer(cfg.AMQP.URL, cfg.AMQP.MailQueue, cfg.AMQP.Prefetch, deliver, logr)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Fatal("mail consumer stopped", zap.Error(err))
	}
	logr.Info("mail consumer stopped")
}
