package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/safewalk-io/safewalk/internal/auth"
	"github.com/safewalk-io/safewalk/internal/checkin"
	"github.com/safewalk-io/safewalk/internal/escalation"
	"github.com/safewalk-io/safewalk/internal/passcode"
)

type CheckInsHandler struct {
	service *checkin.Service
	codes   *passcode.Service
	engine  *escalation.Engine
	feed    *checkin.Feed
	logger  *slog.Logger
	now     func() time.Time
}

func NewCheckInsHandler(log *slog.Logger, service *checkin.Service, codes *passcode.Service, engine *escalation.Engine, feed *checkin.Feed) *CheckInsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CheckInsHandler{
		service: service,
		codes:   codes,
		engine:  engine,
		feed:    feed,
		logger:  log.With(slog.String("handler", "checkins")),
		now:     time.Now,
	}
}

func (h *CheckInsHandler) Register(e *echo.Echo) {
	group := e.Group("/checkins")
	group.POST("", h.Create)
	group.GET("", h.List)
	group.GET("/stream", h.Stream)
	group.GET("/:id", h.Get)
	group.POST("/:id/extend", h.Extend)
	group.POST("/:id/complete", h.Complete)
}

func (h *CheckInsHandler) Create(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req checkin.CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item, err := h.service.Create(c.Request().Context(), userID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *CheckInsHandler) List(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	items, err := h.service.List(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (h *CheckInsHandler) Get(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "check-in id is required")
	}
	item, err := h.service.Get(c.Request().Context(), id, userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

type extendRequest struct {
	AdditionalMinutes int `json:"additional_minutes"`
}

func (h *CheckInsHandler) Extend(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "check-in id is required")
	}
	var req extendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item, err := h.service.Extend(c.Request().Context(), id, userID, req.AdditionalMinutes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

// Stream pushes the caller's check-in changes as server-sent events until the
// client disconnects.
func (h *CheckInsHandler) Stream(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	if h.feed == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "live updates not available")
	}
	updates, cancel := h.feed.Subscribe(userID)
	defer cancel()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-updates:
			payload, err := json.Marshal(item)
			if err != nil {
				h.logger.Error("encode stream event", slog.Any("error", err))
				continue
			}
			if _, err := fmt.Fprintf(resp, "data: %s\n\n", payload); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}

type completeRequest struct {
	Code string `json:"code"`
}

// Complete finishes a check-in behind the code gate. A duress code never
// completes anything: the response mirrors a safety completion while the
// stored check-in keeps its real state and the alert fans out in the
// background on a detached context.
func (h *CheckInsHandler) Complete(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "check-in id is required")
	}
	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	verdict, err := h.codes.VerdictFor(c.Request().Context(), userID, req.Code)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if verdict == passcode.NoMatch {
		return httpError(passcode.ErrCodeMismatch)
	}
	if verdict == passcode.MatchDuress {
		return h.completeDuress(c, id, userID)
	}

	item, err := h.service.Complete(c.Request().Context(), id, userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

// completeDuress answers as if the completion succeeded without writing it.
// The check-in stays in its real state so the emergency is never retracted.
// The fabricated snapshot also goes out on the feed; live subscribers must
// see exactly what a safety completion would have published.
func (h *CheckInsHandler) completeDuress(c echo.Context, id, userID string) error {
	item, err := h.service.Get(c.Request().Context(), id, userID)
	if err != nil {
		return httpError(err)
	}

	if h.engine != nil {
		bg := context.WithoutCancel(c.Request().Context())
		go func() {
			if _, err := h.engine.Trigger(bg, userID, escalation.AlertDuress, escalation.TriggerRequest{
				CheckInID:           item.ID,
				ContactIDs:          item.ContactIDs,
				EphemeralContactIDs: item.EphemeralContactIDs,
				Note:                item.Note,
				Location:            item.Location,
			}); err != nil {
				h.logger.Error("duress escalation failed",
					slog.String("checkin_id", item.ID), slog.Any("error", err))
			}
		}()
	}

	if item.Status != checkin.StatusCompleted {
		completedAt := h.now().UTC()
		item.Status = checkin.StatusCompleted
		item.CompletedAt = &completedAt
		if h.feed != nil {
			h.feed.Publish(item)
		}
	}
	return c.JSON(http.StatusOK, item)
}
