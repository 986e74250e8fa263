package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/safewalk-io/safewalk/internal/notify"
)

type memStore struct {
	items map[string]UserSettings
}

func newMemStore() *memStore {
	return &memStore{items: map[string]UserSettings{}}
}

func (s *memStore) get(userID string, weekStart time.Time) UserSettings {
	item, ok := s.items[userID]
	if !ok {
		item = UserSettings{UserID: userID, SMSWeekStart: weekStart, RetainCompleted: true}
		s.items[userID] = item
	}
	return item
}

func (s *memStore) Get(_ context.Context, userID string) (UserSettings, error) {
	return s.get(userID, startOfWeek(time.Now())), nil
}

func (s *memStore) SetRetainCompleted(_ context.Context, userID string, retain bool) (UserSettings, error) {
	item := s.get(userID, startOfWeek(time.Now()))
	item.RetainCompleted = retain
	s.items[userID] = item
	return item, nil
}

func (s *memStore) ConsumeSMSCredit(_ context.Context, userID string, weeklyCap int) error {
	now := startOfWeek(time.Now())
	item := s.get(userID, now)
	if item.SMSWeekStart.Before(now) {
		item.SMSWeekStart = now
		item.SMSSentThisWeek = 0
	}
	if item.SMSSentThisWeek >= weeklyCap {
		return notify.ErrSMSQuotaExhausted
	}
	item.SMSSentThisWeek++
	s.items[userID] = item
	return nil
}

func (s *memStore) RefundSMSCredit(_ context.Context, userID string) error {
	now := startOfWeek(time.Now())
	item := s.get(userID, now)
	if item.SMSSentThisWeek > 0 && !item.SMSWeekStart.Before(now) {
		item.SMSSentThisWeek--
		s.items[userID] = item
	}
	return nil
}

func (s *memStore) ResetWeeklySMS(_ context.Context, weekStart time.Time) (int64, error) {
	var touched int64
	for id, item := range s.items {
		if item.SMSWeekStart.Before(weekStart) || item.SMSSentThisWeek > 0 {
			item.SMSSentThisWeek = 0
			item.SMSWeekStart = weekStart
			s.items[id] = item
			touched++
		}
	}
	return touched, nil
}

func TestConsumeSMSCreditHitsCap(t *testing.T) {
	svc := NewService(nil, newMemStore(), 3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := svc.ConsumeSMSCredit(ctx, "user-1"); err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
	}
	if err := svc.ConsumeSMSCredit(ctx, "user-1"); !errors.Is(err, notify.ErrSMSQuotaExhausted) {
		t.Fatalf("expected quota exhausted, got %v", err)
	}
}

func TestRefundSMSCreditRestoresCapacity(t *testing.T) {
	svc := NewService(nil, newMemStore(), 1)
	ctx := context.Background()
	if err := svc.ConsumeSMSCredit(ctx, "user-1"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := svc.ConsumeSMSCredit(ctx, "user-1"); !errors.Is(err, notify.ErrSMSQuotaExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if err := svc.RefundSMSCredit(ctx, "user-1"); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if err := svc.ConsumeSMSCredit(ctx, "user-1"); err != nil {
		t.Fatalf("expected capacity after refund, got %v", err)
	}
}

func TestRefundSMSCreditNeverGoesNegative(t *testing.T) {
	svc := NewService(nil, newMemStore(), 2)
	ctx := context.Background()
	if err := svc.RefundSMSCredit(ctx, "user-1"); err != nil {
		t.Fatalf("refund on empty counter: %v", err)
	}
	remaining, err := svc.SMSRemaining(ctx, "user-1")
	if err != nil || remaining != 2 {
		t.Fatalf("expected 2 remaining, got %d err=%v", remaining, err)
	}
}

func TestQuotaIsPerUser(t *testing.T) {
	svc := NewService(nil, newMemStore(), 1)
	ctx := context.Background()
	if err := svc.ConsumeSMSCredit(ctx, "user-1"); err != nil {
		t.Fatalf("user-1: %v", err)
	}
	if err := svc.ConsumeSMSCredit(ctx, "user-2"); err != nil {
		t.Fatalf("user-2 must have its own quota: %v", err)
	}
}

func TestResetWeeklySMSRestoresCapacity(t *testing.T) {
	store := newMemStore()
	svc := NewService(nil, store, 1)
	ctx := context.Background()
	if err := svc.ConsumeSMSCredit(ctx, "user-1"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := svc.ConsumeSMSCredit(ctx, "user-1"); !errors.Is(err, notify.ErrSMSQuotaExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	touched, err := svc.ResetWeeklySMS(ctx)
	if err != nil || touched != 1 {
		t.Fatalf("reset: touched=%d err=%v", touched, err)
	}
	if err := svc.ConsumeSMSCredit(ctx, "user-1"); err != nil {
		t.Fatalf("expected capacity after reset, got %v", err)
	}
}

func TestSMSRemaining(t *testing.T) {
	svc := NewService(nil, newMemStore(), 5)
	ctx := context.Background()
	remaining, err := svc.SMSRemaining(ctx, "user-1")
	if err != nil || remaining != 5 {
		t.Fatalf("expected 5 remaining, got %d err=%v", remaining, err)
	}
	if err := svc.ConsumeSMSCredit(ctx, "user-1"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	remaining, _ = svc.SMSRemaining(ctx, "user-1")
	if remaining != 4 {
		t.Fatalf("expected 4 remaining, got %d", remaining)
	}
}

func TestStartOfWeekIsMonday(t *testing.T) {
	// 2026-03-04 is a Wednesday; its week starts Monday 2026-03-02.
	wed := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if got := startOfWeek(wed); !got.Equal(want) {
		t.Fatalf("startOfWeek(wed) = %v, want %v", got, want)
	}
	// Sunday still belongs to the week that started the previous Monday.
	sun := time.Date(2026, 3, 8, 23, 0, 0, 0, time.UTC)
	if got := startOfWeek(sun); !got.Equal(want) {
		t.Fatalf("startOfWeek(sun) = %v, want %v", got, want)
	}
	// Monday midnight is its own week start.
	mon := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if got := startOfWeek(mon); !got.Equal(mon) {
		t.Fatalf("startOfWeek(mon) = %v, want %v", got, mon)
	}
}

func TestSetRetainCompleted(t *testing.T) {
	svc := NewService(nil, newMemStore(), 5)
	ctx := context.Background()
	item, err := svc.Get(ctx, "user-1")
	if err != nil || !item.RetainCompleted {
		t.Fatalf("expected retention on by default, got %+v err=%v", item, err)
	}
	item, err = svc.SetRetainCompleted(ctx, "user-1", false)
	if err != nil || item.RetainCompleted {
		t.Fatalf("expected retention off, got %+v err=%v", item, err)
	}
}
