package transport

import (
	"context"
	"log/slog"

	"github.com/safewalk-io/safewalk/internal/config"
	"github.com/safewalk-io/safewalk/internal/notify"
)

// DefaultSMSCostCents is the cost estimate recorded when the provider does
// not report one.
const DefaultSMSCostCents = 5

// SMSChannel delivers alerts through an external SMS provider over HTTP.
// SMS sends are costed and capped by the per-user weekly quota, which the
// dispatcher checks before calling Send.
type SMSChannel struct {
	client *providerClient
	logger *slog.Logger
}

func NewSMSChannel(log *slog.Logger, cfg config.ProviderConfig) (*SMSChannel, error) {
	if log == nil {
		log = slog.Default()
	}
	client, err := newProviderClient(cfg)
	if err != nil {
		return nil, err
	}
	return &SMSChannel{
		client: client,
		logger: log.With(slog.String("channel", "sms")),
	}, nil
}

func (c *SMSChannel) Kind() notify.ChannelKind {
	return notify.ChannelSMS
}

func (c *SMSChannel) Send(ctx context.Context, rcpt notify.Recipient, msg notify.Message) (notify.Result, error) {
	resp, err := c.client.send(ctx, map[string]any{
		"to":   rcpt.Phone,
		"text": renderText(msg),
	})
	if err != nil {
		return notify.Result{CostCents: DefaultSMSCostCents}, err
	}
	cost := resp.CostCents
	if cost == 0 {
		cost = DefaultSMSCostCents
	}
	c.logger.Info("sms sent", slog.String("recipient", rcpt.Ref), slog.Int("cost_cents", cost))
	return notify.Result{Delivered: resp.Delivered, CostCents: cost, Detail: resp.Detail}, nil
}
