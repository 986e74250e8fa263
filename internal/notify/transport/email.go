package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/safewalk-io/safewalk/internal/config"
	"github.com/safewalk-io/safewalk/internal/notify"
)

// EmailChannel is the uncapped SMTP fallback at the bottom of the ranking.
type EmailChannel struct {
	cfg    config.SMTPConfig
	logger *slog.Logger
}

func NewEmailChannel(log *slog.Logger, cfg config.SMTPConfig) (*EmailChannel, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(cfg.Host) == "" || strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp host and from address are required")
	}
	return &EmailChannel{
		cfg:    cfg,
		logger: log.With(slog.String("channel", "email")),
	}, nil
}

func (c *EmailChannel) Kind() notify.ChannelKind {
	return notify.ChannelEmail
}

func (c *EmailChannel) Send(ctx context.Context, rcpt notify.Recipient, msg notify.Message) (notify.Result, error) {
	m := mail.NewMsg()
	if err := m.From(c.cfg.From); err != nil {
		return notify.Result{}, fmt.Errorf("email from: %w", err)
	}
	if err := m.To(rcpt.Email); err != nil {
		return notify.Result{}, fmt.Errorf("email to: %w", err)
	}
	m.Subject(msg.Title)
	m.SetBodyString(mail.TypeTextPlain, renderText(msg))

	opts := []mail.Option{mail.WithPort(c.cfg.Port)}
	if strings.TrimSpace(c.cfg.Username) != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(c.cfg.Username),
			mail.WithPassword(c.cfg.Password),
		)
	}
	client, err := mail.NewClient(c.cfg.Host, opts...)
	if err != nil {
		return notify.Result{}, fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return notify.Result{}, fmt.Errorf("smtp send: %w", err)
	}
	c.logger.Info("email sent", slog.String("recipient", rcpt.Ref))
	return notify.Result{Delivered: true}, nil
}
