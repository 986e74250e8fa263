package checkin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ContactGate validates a contact selection server-side: every persistent
// contact must exist, belong to the owner, and have at least one usable
// channel; every ephemeral contact must still be unexpired at call time.
type ContactGate interface {
	ValidateSelection(ctx context.Context, ownerID string, contactIDs, ephemeralIDs []string) error
}

// ReminderCleaner removes pending check-in reminder notifications for an owner.
type ReminderCleaner interface {
	DeleteCheckInReminders(ctx context.Context, ownerID, checkInID string) error
}

// Service owns the check-in lifecycle: create, extend, complete.
type Service struct {
	store       Store
	gate        ContactGate
	reminders   ReminderCleaner
	feed        *Feed
	maxContacts int
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(log *slog.Logger, store Store, gate ContactGate, reminders ReminderCleaner, feed *Feed, maxContacts int) *Service {
	if log == nil {
		log = slog.Default()
	}
	if maxContacts <= 0 {
		maxContacts = 5
	}
	return &Service{
		store:       store,
		gate:        gate,
		reminders:   reminders,
		feed:        feed,
		maxContacts: maxContacts,
		logger:      log.With(slog.String("service", "checkin")),
		now:         time.Now,
	}
}

// Create starts a new check-in with alert_time = now + duration.
func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest) (CheckIn, error) {
	if s.store == nil {
		return CheckIn{}, fmt.Errorf("checkin store not configured")
	}
	if req.DurationMinutes <= 0 {
		return CheckIn{}, ErrInvalidDuration
	}
	contactIDs := dedupe(req.ContactIDs)
	ephemeralIDs := dedupe(req.EphemeralContactIDs)
	if len(contactIDs) > s.maxContacts {
		return CheckIn{}, ErrTooManyContacts
	}
	if s.gate != nil {
		if err := s.gate.ValidateSelection(ctx, ownerID, contactIDs, ephemeralIDs); err != nil {
			return CheckIn{}, err
		}
	}

	now := s.now()
	item, err := s.store.Insert(ctx, CheckIn{
		OwnerID:             ownerID,
		Status:              StatusActive,
		DurationMinutes:     req.DurationMinutes,
		AlertTime:           now.Add(time.Duration(req.DurationMinutes) * time.Minute),
		ContactIDs:          contactIDs,
		EphemeralContactIDs: ephemeralIDs,
		Note:                strings.TrimSpace(req.Note),
		Location:            strings.TrimSpace(req.Location),
		PhotoURLs:           req.PhotoURLs,
	})
	if err != nil {
		return CheckIn{}, err
	}
	s.logger.Info("check-in created",
		slog.String("checkin_id", item.ID),
		slog.String("owner_id", ownerID),
		slog.Int("duration_minutes", req.DurationMinutes),
	)
	s.publish(item)
	return item, nil
}

// Extend adds minutes to the current authoritative alert_time. The stored
// deadline is read server-side under a row lock; a client-supplied absolute
// time is never trusted. Returns ErrNotActive once the check-in has been
// alerted or completed.
func (s *Service) Extend(ctx context.Context, checkInID, ownerID string, additionalMinutes int) (CheckIn, error) {
	if s.store == nil {
		return CheckIn{}, fmt.Errorf("checkin store not configured")
	}
	if additionalMinutes <= 0 {
		return CheckIn{}, ErrInvalidExtension
	}
	if err := s.requireOwner(ctx, checkInID, ownerID); err != nil {
		return CheckIn{}, err
	}
	item, err := s.store.ExtendDeadline(ctx, checkInID, time.Duration(additionalMinutes)*time.Minute)
	if err != nil {
		return CheckIn{}, err
	}
	s.logger.Info("check-in extended",
		slog.String("checkin_id", checkInID),
		slog.Int("additional_minutes", additionalMinutes),
		slog.Time("alert_time", item.AlertTime),
	)
	s.publish(item)
	return item, nil
}

// Complete marks the check-in completed. Idempotent: a second call returns
// success with no side effects. After the write the stored status is read
// back; a mismatch is ErrVerifyFailed and the caller must retry.
func (s *Service) Complete(ctx context.Context, checkInID, ownerID string) (CheckIn, error) {
	if s.store == nil {
		return CheckIn{}, fmt.Errorf("checkin store not configured")
	}
	if err := s.requireOwner(ctx, checkInID, ownerID); err != nil {
		return CheckIn{}, err
	}

	_, transitioned, err := s.store.CompleteCAS(ctx, checkInID)
	if err != nil {
		return CheckIn{}, err
	}
	if !transitioned {
		// Another caller got there first; the only non-matching state the CAS
		// can leave behind is completed, which is the idempotent success case.
		current, err := s.store.Get(ctx, checkInID)
		if err != nil {
			return CheckIn{}, err
		}
		if current.Status != StatusCompleted {
			return CheckIn{}, ErrVerifyFailed
		}
		return current, nil
	}

	if s.reminders != nil {
		if err := s.reminders.DeleteCheckInReminders(ctx, ownerID, checkInID); err != nil {
			s.logger.Warn("delete reminders failed",
				slog.String("checkin_id", checkInID), slog.Any("error", err))
		}
	}

	// Read back the stored status: a safety-critical write is never trusted
	// on the strength of the write call alone.
	verified, err := s.store.Get(ctx, checkInID)
	if err != nil {
		return CheckIn{}, fmt.Errorf("complete verification read: %w", err)
	}
	if verified.Status != StatusCompleted {
		return CheckIn{}, ErrVerifyFailed
	}

	s.logger.Info("check-in completed", slog.String("checkin_id", checkInID))
	s.publish(verified)
	return verified, nil
}

// Get returns a check-in, enforcing ownership.
func (s *Service) Get(ctx context.Context, checkInID, ownerID string) (CheckIn, error) {
	item, err := s.store.Get(ctx, checkInID)
	if err != nil {
		return CheckIn{}, err
	}
	if item.OwnerID != ownerID {
		return CheckIn{}, ErrNotOwner
	}
	return item, nil
}

// List returns the owner's check-ins, newest first. Transient read failures
// degrade to an empty list rather than an error.
func (s *Service) List(ctx context.Context, ownerID string) ([]CheckIn, error) {
	items, err := s.store.ListByOwner(ctx, ownerID, 50)
	if err != nil {
		s.logger.Warn("list check-ins degraded to empty",
			slog.String("owner_id", ownerID), slog.Any("error", err))
		return []CheckIn{}, nil
	}
	return items, nil
}

// PurgeCompleted strips payload content from completed check-ins older than
// the retention window for owners that opted out of retention.
func (s *Service) PurgeCompleted(ctx context.Context, window time.Duration) (int64, error) {
	return s.store.PurgeCompleted(ctx, s.now().Add(-window))
}

func (s *Service) requireOwner(ctx context.Context, checkInID, ownerID string) error {
	item, err := s.store.Get(ctx, checkInID)
	if err != nil {
		return err
	}
	if item.OwnerID != ownerID {
		return ErrNotOwner
	}
	return nil
}

func (s *Service) publish(item CheckIn) {
	if s.feed != nil {
		s.feed.Publish(item)
	}
}

func dedupe(ids []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
