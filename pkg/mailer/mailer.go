// Package mailer delivers rendered emails through Resend, a RabbitMQ outbox
// or the application log.
package mailer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/account-api/pkg/config"
)

const (
	DriverLog    = "log"
	DriverResend = "resend"
	DriverAMQP   = "amqp"
)

// Message is a fully rendered email.
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Tag     string   `json:"tag,omitempty"`
}

// Sender delivers a message or reports why it could not.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Closer is implemented by senders that hold connections.
type Closer interface {
	Close() error
}

// New selects a sender for MAIL_DRIVER.
func New(cfg config.Config, logger *zap.Logger) (Sender, error) {
	switch cfg.Mail.Driver {
	case "", DriverLog:
		return NewLogSender(logger), nil
	case DriverResend:
		if cfg.Mail.ResendAPIKey == "" {
			return nil, fmt.Errorf("RESEND_API_KEY must be set for the resend mail driver")
		}
		return NewResendSender(cfg.Mail.ResendAPIKey), nil
	case DriverAMQP:
		return NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.MailQueue, logger), nil
	default:
		return nil, fmt.Errorf("unknown mail driver %q", cfg.Mail.Driver)
	}
}
