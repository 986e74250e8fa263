// Package settings stores per-user preferences and the weekly SMS quota
// counter consumed by the notification dispatcher.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/safewalk-io/safewalk/internal/notify"
)

// UserSettings is the per-user preference row. The SMS counter rolls
// forward lazily: any consume in a new ISO week resets it before counting.
type UserSettings struct {
	UserID          string    `json:"user_id"`
	SMSSentThisWeek int       `json:"sms_sent_this_week"`
	SMSWeekStart    time.Time `json:"sms_week_start"`
	RetainCompleted bool      `json:"retain_completed"`
}

// Store is the persistence boundary for user settings.
type Store interface {
	Get(ctx context.Context, userID string) (UserSettings, error)
	SetRetainCompleted(ctx context.Context, userID string, retain bool) (UserSettings, error)
	// ConsumeSMSCredit atomically increments the weekly counter if capacity
	// remains, rolling the week forward when it is stale. Returns
	// notify.ErrSMSQuotaExhausted at the cap.
	ConsumeSMSCredit(ctx context.Context, userID string, weeklyCap int) error
	// RefundSMSCredit decrements the current week's counter. Refunds that
	// arrive after the week rolled over are dropped.
	RefundSMSCredit(ctx context.Context, userID string) error
	// ResetWeeklySMS zeroes every stale counter. Returns rows touched.
	ResetWeeklySMS(ctx context.Context, weekStart time.Time) (int64, error)
}

// Service wraps the store with the configured weekly cap.
type Service struct {
	store     Store
	weeklyCap int
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(log *slog.Logger, store Store, weeklyCap int) *Service {
	if log == nil {
		log = slog.Default()
	}
	if weeklyCap <= 0 {
		weeklyCap = 25
	}
	return &Service{
		store:     store,
		weeklyCap: weeklyCap,
		logger:    log.With(slog.String("service", "settings")),
		now:       time.Now,
	}
}

// Get returns the user's settings, materializing defaults on first read.
func (s *Service) Get(ctx context.Context, userID string) (UserSettings, error) {
	if s.store == nil {
		return UserSettings{}, fmt.Errorf("settings store not configured")
	}
	return s.store.Get(ctx, userID)
}

// SetRetainCompleted updates the retention opt-out.
func (s *Service) SetRetainCompleted(ctx context.Context, userID string, retain bool) (UserSettings, error) {
	if s.store == nil {
		return UserSettings{}, fmt.Errorf("settings store not configured")
	}
	updated, err := s.store.SetRetainCompleted(ctx, userID, retain)
	if err != nil {
		return UserSettings{}, err
	}
	s.logger.Info("retention preference updated",
		slog.String("user_id", userID), slog.Bool("retain_completed", retain))
	return updated, nil
}

// ConsumeSMSCredit implements notify.SMSQuota against the configured cap.
func (s *Service) ConsumeSMSCredit(ctx context.Context, userID string) error {
	if s.store == nil {
		return fmt.Errorf("settings store not configured")
	}
	return s.store.ConsumeSMSCredit(ctx, userID, s.weeklyCap)
}

// RefundSMSCredit implements notify.SMSQuota; it hands back a credit for a
// send that never reached the provider.
func (s *Service) RefundSMSCredit(ctx context.Context, userID string) error {
	if s.store == nil {
		return fmt.Errorf("settings store not configured")
	}
	return s.store.RefundSMSCredit(ctx, userID)
}

// ResetWeeklySMS zeroes stale counters. The consume path rolls weeks
// forward on its own; this job just keeps the stored counters honest for
// reads.
func (s *Service) ResetWeeklySMS(ctx context.Context) (int64, error) {
	if s.store == nil {
		return 0, fmt.Errorf("settings store not configured")
	}
	return s.store.ResetWeeklySMS(ctx, startOfWeek(s.now()))
}

// SMSRemaining reports how many SMS sends the user has left this week.
func (s *Service) SMSRemaining(ctx context.Context, userID string) (int, error) {
	item, err := s.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	if item.SMSWeekStart.Before(startOfWeek(s.now())) {
		return s.weeklyCap, nil
	}
	remaining := s.weeklyCap - item.SMSSentThisWeek
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

var _ notify.SMSQuota = (*Service)(nil)

// startOfWeek returns midnight UTC of the Monday of t's week.
func startOfWeek(t time.Time) time.Time {
	t = t.UTC()
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	day := t.Truncate(24 * time.Hour)
	return day.AddDate(0, 0, -(weekday - 1))
}
