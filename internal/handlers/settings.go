package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/safewalk-io/safewalk/internal/auth"
	"github.com/safewalk-io/safewalk/internal/passcode"
	"github.com/safewalk-io/safewalk/internal/settings"
)

type SettingsHandler struct {
	service *settings.Service
	codes   *passcode.Service
}

func NewSettingsHandler(service *settings.Service, codes *passcode.Service) *SettingsHandler {
	return &SettingsHandler{service: service, codes: codes}
}

func (h *SettingsHandler) Register(e *echo.Echo) {
	group := e.Group("/settings")
	group.GET("", h.Get)
	group.PUT("/retention", h.SetRetention)
	group.PUT("/codes", h.SetCodes)
	group.GET("/sms-remaining", h.SMSRemaining)
}

func (h *SettingsHandler) Get(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	item, err := h.service.Get(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	safetySet, duressSet, err := h.codes.HasCodes(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"settings":        item,
		"safety_code_set": safetySet,
		"duress_code_set": duressSet,
	})
}

type retentionRequest struct {
	RetainCompleted bool `json:"retain_completed"`
}

func (h *SettingsHandler) SetRetention(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req retentionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item, err := h.service.SetRetainCompleted(c.Request().Context(), userID, req.RetainCompleted)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

type codesRequest struct {
	SafetyCode string `json:"safety_code"`
	DuressCode string `json:"duress_code"`
}

// SetCodes stores the safety and duress codes. The response never echoes
// which codes are configured beyond a confirmation.
func (h *SettingsHandler) SetCodes(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req codesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.codes.SetCodes(c.Request().Context(), userID, req.SafetyCode, req.DuressCode); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "updated"})
}

func (h *SettingsHandler) SMSRemaining(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	remaining, err := h.service.SMSRemaining(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"sms_remaining": remaining})
}
