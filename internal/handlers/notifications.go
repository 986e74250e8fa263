package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/safewalk-io/safewalk/internal/auth"
	"github.com/safewalk-io/safewalk/internal/notify"
)

type NotificationsHandler struct {
	inapp *notify.InApp
}

func NewNotificationsHandler(inapp *notify.InApp) *NotificationsHandler {
	return &NotificationsHandler{inapp: inapp}
}

func (h *NotificationsHandler) Register(e *echo.Echo) {
	group := e.Group("/notifications")
	group.GET("", h.ListUnread)
	group.POST("/:id/read", h.MarkRead)
}

func (h *NotificationsHandler) ListUnread(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	items, err := h.inapp.ListUnread(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (h *NotificationsHandler) MarkRead(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "notification id is required")
	}
	if err := h.inapp.MarkRead(c.Request().Context(), userID, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
