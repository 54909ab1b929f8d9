package service

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/pkg/mailer"
)

// MailConfig holds the values templates need besides the recipient.
type MailConfig struct {
	From        string
	FrontendURL string
	CompanyName string
	CompanyLogo string
}

// MailService renders the transactional emails and hands them to a sender.
type MailService struct {
	sender  mailer.Sender
	cfg     MailConfig
	metrics *MetricsService
	logger  *zap.Logger
}

// NewMailService constructs a MailService.
func NewMailService(sender mailer.Sender, cfg MailConfig, metrics *MetricsService, logger *zap.Logger) *MailService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailService{sender: sender, cfg: cfg, metrics: metrics, logger: logger}
}

// SendVerification mails the link that confirms user's address.
func (s *MailService) SendVerification(ctx context.Context, user *models.User, token string) error {
	link := s.link("/auth/verify-email", token)
	return s.send(ctx, user, TemplateVerification, link, "")
}

// SendPasswordReset mails the link that opens the reset form.
func (s *MailService) SendPasswordReset(ctx context.Context, user *models.User, token string) error {
	link := s.link("/auth/reset-password", token)
	return s.send(ctx, user, TemplatePasswordReset, link, "")
}

// SendWelcome greets a freshly verified user.
func (s *MailService) SendWelcome(ctx context.Context, user *models.User) error {
	return s.send(ctx, user, TemplateWelcome, s.cfg.FrontendURL, user.Name)
}

func (s *MailService) send(ctx context.Context, user *models.User, name, link, greeting string) error {
	msg, err := s.render(user, name, link, greeting)
	if err == nil {
		err = s.sender.Send(ctx, msg)
	}
	s.metrics.RecordMail(name, err)
	if err != nil {
		return fmt.Errorf("send %s email: %w", name, err)
	}
	s.logger.Info("email sent", zap.String("template", name), zap.String("user_id", user.ID))
	return nil
}

func (s *MailService) render(user *models.User, name, link, greeting string) (mailer.Message, error) {
	lang := user.Language
	if lang == "" {
		lang = models.LanguageEN
	}
	view := mailView{
		mailCopy:    copyFor(lang, name),
		Lang:        string(lang),
		Greeting:    greeting,
		ActionURL:   link,
		CompanyName: s.cfg.CompanyName,
		CompanyLogo: s.cfg.CompanyLogo,
	}

	var buf bytes.Buffer
	if err := mailLayout.Execute(&buf, view); err != nil {
		return mailer.Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	return mailer.Message{
		From:    s.cfg.From,
		To:      []string{user.Email},
		Subject: view.Subject,
		HTML:    buf.String(),
		Tag:     name,
	}, nil
}

func (s *MailService) link(path, token string) string {
	return s.cfg.FrontendURL + path + "?token=" + url.QueryEscape(token)
}
