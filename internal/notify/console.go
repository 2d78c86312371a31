package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConsoleSender logs messages instead of delivering them. Used in development
// and as the fallback when a channel provider is not configured.
type ConsoleSender struct {
	logger *zap.Logger
}

// NewConsoleSender creates a console sender.
func NewConsoleSender(logger *zap.Logger) *ConsoleSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleSender{logger: logger}
}

// Name implements Sender.
func (s *ConsoleSender) Name() string { return "console" }

// Send logs the message and fabricates a provider message id.
func (s *ConsoleSender) Send(ctx context.Context, msg Message) (string, error) {
	id := "console-" + uuid.NewString()
	s.logger.Info("console notification",
		zap.String("channel", string(msg.Channel)),
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
		zap.String("provider_message_id", id),
	)
	return id, nil
}
