package notify

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/presencepro/platform/internal/models"
	"github.com/presencepro/platform/pkg/config"
)

// NewEmailSender selects the email implementation for the configured
// provider. Anything other than "smtp" gets the console sender, so default
// config never dials an SMTP server.
func NewEmailSender(cfg config.SMTPConfig, logger *zap.Logger) Sender {
	if cfg.Provider == "smtp" && cfg.Host != "" {
		return NewSMTPSender(cfg)
	}
	return NewConsoleSender(logger)
}

// SMTPSender delivers email through a plain SMTP server.
type SMTPSender struct {
	cfg config.SMTPConfig
}

// NewSMTPSender creates an SMTP-backed email sender.
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Name implements Sender.
func (s *SMTPSender) Name() string { return "smtp" }

// Send delivers the message. Address errors are permanent; transport errors
// are retryable.
func (s *SMTPSender) Send(ctx context.Context, msg Message) (string, error) {
	if msg.Channel != models.ChannelEmail {
		return "", Permanent(fmt.Errorf("smtp sender cannot deliver channel %q", msg.Channel))
	}

	m := gomail.NewMsg()
	if err := m.FromFormat(s.cfg.FromName, s.cfg.FromEmail); err != nil {
		return "", Permanent(fmt.Errorf("smtp from: %w", err))
	}
	if err := m.To(msg.Recipient); err != nil {
		return "", Permanent(fmt.Errorf("smtp to: %w", err))
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextHTML, msg.Body)
	m.SetMessageID()

	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}

	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return "", fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}

	if ids := m.GetGenHeader(gomail.HeaderMessageID); len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}
