package transport

import (
	"context"
	"log/slog"

	"github.com/safewalk-io/safewalk/internal/config"
	"github.com/safewalk-io/safewalk/internal/notify"
)

// PushChannel delivers alerts through an external push provider over HTTP.
// Push is the top of the ranking: free and effectively instant when the
// recipient has a registered device token.
type PushChannel struct {
	client *providerClient
	logger *slog.Logger
}

func NewPushChannel(log *slog.Logger, cfg config.ProviderConfig) (*PushChannel, error) {
	if log == nil {
		log = slog.Default()
	}
	client, err := newProviderClient(cfg)
	if err != nil {
		return nil, err
	}
	return &PushChannel{
		client: client,
		logger: log.With(slog.String("channel", "push")),
	}, nil
}

func (c *PushChannel) Kind() notify.ChannelKind {
	return notify.ChannelPush
}

func (c *PushChannel) Send(ctx context.Context, rcpt notify.Recipient, msg notify.Message) (notify.Result, error) {
	resp, err := c.client.send(ctx, map[string]any{
		"token":    rcpt.PushToken,
		"title":    msg.Title,
		"body":     renderText(msg),
		"priority": "high",
	})
	if err != nil {
		return notify.Result{}, err
	}
	c.logger.Info("push sent", slog.String("recipient", rcpt.Ref), slog.Bool("delivered", resp.Delivered))
	return notify.Result{Delivered: resp.Delivered, CostCents: resp.CostCents, Detail: resp.Detail}, nil
}
