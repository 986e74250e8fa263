package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/safewalk-io/safewalk/internal/auth"
	"github.com/safewalk-io/safewalk/internal/escalation"
)

type AlertsHandler struct {
	engine *escalation.Engine
}

func NewAlertsHandler(engine *escalation.Engine) *AlertsHandler {
	return &AlertsHandler{engine: engine}
}

func (h *AlertsHandler) Register(e *echo.Echo) {
	group := e.Group("/alerts")
	group.POST("/sos", h.SOS)
	group.POST("/get-me-out", h.GetMeOut)
	group.GET("/events", h.ListEvents)
	group.GET("/events/:id", h.GetEvent)
}

func (h *AlertsHandler) SOS(c echo.Context) error {
	return h.trigger(c, escalation.AlertSOS)
}

func (h *AlertsHandler) GetMeOut(c echo.Context) error {
	return h.trigger(c, escalation.AlertGetMeOut)
}

func (h *AlertsHandler) trigger(c echo.Context, alertType escalation.AlertType) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req escalation.TriggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	event, err := h.engine.Trigger(c.Request().Context(), userID, alertType, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, event)
}

func (h *AlertsHandler) ListEvents(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	limit := 50
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		if _, err := parsePositive(raw, &limit); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
	}
	events, err := h.engine.Events(c.Request().Context(), userID, limit)
	if err != nil {
		return httpError(err)
	}
	if events == nil {
		events = []escalation.AlertEvent{}
	}
	return c.JSON(http.StatusOK, map[string]any{"items": events})
}

func (h *AlertsHandler) GetEvent(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event id is required")
	}
	event, err := h.engine.Event(c.Request().Context(), userID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, event)
}
