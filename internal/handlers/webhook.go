package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"

	"github.com/safewalk-io/safewalk/internal/auth"
	"github.com/safewalk-io/safewalk/internal/contacts"
)

// telegramSecretHeader is the header Telegram echoes back when a webhook is
// registered with a secret token.
const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookHandler receives bridge updates. A "/start <invite token>" message
// redeems the invite and registers the sender's chat as an ephemeral
// contact of the inviting user.
type WebhookHandler struct {
	service       *contacts.Service
	jwtSecret     string
	webhookSecret string
	logger        *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, service *contacts.Service, jwtSecret, webhookSecret string) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		service:       service,
		jwtSecret:     jwtSecret,
		webhookSecret: webhookSecret,
		logger:        log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/telegram", h.Telegram)
}

// Telegram always answers 200 once the secret checks out; a non-2xx would
// make Telegram redeliver the update indefinitely.
func (h *WebhookHandler) Telegram(c echo.Context) error {
	if h.webhookSecret != "" {
		got := c.Request().Header.Get(telegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
		}
	}

	var update tgbotapi.Update
	if err := c.Bind(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if update.Message == nil || update.Message.Chat == nil {
		return c.NoContent(http.StatusOK)
	}

	text := strings.TrimSpace(update.Message.Text)
	if !strings.HasPrefix(text, "/start ") {
		return c.NoContent(http.StatusOK)
	}
	inviteToken := strings.TrimSpace(strings.TrimPrefix(text, "/start "))
	claims, err := auth.ParseToken(inviteToken, h.jwtSecret)
	if err != nil {
		h.logger.Warn("bridge handshake with invalid invite token", slog.Any("error", err))
		return c.NoContent(http.StatusOK)
	}
	ownerID := claims.UserID
	if ownerID == "" {
		ownerID = claims.Subject
	}

	chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
	displayName := ""
	if update.Message.From != nil {
		displayName = strings.TrimSpace(update.Message.From.FirstName + " " + update.Message.From.LastName)
	}
	item, err := h.service.RegisterEphemeral(c.Request().Context(), ownerID, contacts.EphemeralBridge, chatID, displayName)
	if err != nil {
		h.logger.Error("bridge handshake registration failed",
			slog.String("owner_id", ownerID), slog.Any("error", err))
		return c.NoContent(http.StatusOK)
	}
	h.logger.Info("bridge contact connected",
		slog.String("owner_id", ownerID),
		slog.String("ephemeral_id", item.ID),
		slog.Time("expires_at", item.ExpiresAt),
	)
	return c.NoContent(http.StatusOK)
}
