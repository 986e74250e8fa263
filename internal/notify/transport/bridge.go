// Package transport provides the outbound channel implementations used by the
// notification dispatcher: push and SMS via external HTTP providers, the
// Telegram bridge, and SMTP email.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/safewalk-io/safewalk/internal/notify"
)

// BridgeChannel delivers alerts through the Telegram bridge bot. Bridge sends
// are free and uncapped; recipients are addressed by the chat id captured
// during the bridge handshake.
type BridgeChannel struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

// NewBridgeChannel creates the bridge channel from a bot token. Returns an
// error when the token is rejected by the Telegram API.
func NewBridgeChannel(log *slog.Logger, botToken string) (*BridgeChannel, error) {
	if log == nil {
		log = slog.Default()
	}
	token := strings.TrimSpace(botToken)
	if token == "" {
		return nil, fmt.Errorf("bridge bot token is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bridge bot: %w", err)
	}
	return &BridgeChannel{
		bot:    bot,
		logger: log.With(slog.String("channel", "bridge")),
	}, nil
}

func (c *BridgeChannel) Kind() notify.ChannelKind {
	return notify.ChannelBridge
}

func (c *BridgeChannel) Send(ctx context.Context, rcpt notify.Recipient, msg notify.Message) (notify.Result, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(rcpt.BridgeTarget), 10, 64)
	if err != nil {
		return notify.Result{}, fmt.Errorf("invalid bridge target %q: %w", rcpt.BridgeTarget, err)
	}
	if err := ctx.Err(); err != nil {
		return notify.Result{}, err
	}
	out := tgbotapi.NewMessage(chatID, renderText(msg))
	if _, err := c.bot.Send(out); err != nil {
		return notify.Result{}, fmt.Errorf("bridge send: %w", err)
	}
	c.logger.Info("bridge message sent", slog.String("recipient", rcpt.Ref))
	return notify.Result{Delivered: true}, nil
}

func renderText(msg notify.Message) string {
	var b strings.Builder
	b.WriteString(msg.Title)
	if msg.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(msg.Body)
	}
	if msg.Location != "" {
		b.WriteString("\n\nLast known location: ")
		b.WriteString(msg.Location)
	}
	return b.String()
}
