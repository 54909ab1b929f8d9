package mailer

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes emails to the log instead of sending them. Used in
// development so verification and reset links can be copied from the output.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("email",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("tag", msg.Tag),
		zap.String("html", msg.HTML),
	)
	return nil
}
