package contacts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/safewalk-io/safewalk/internal/notify"
)

// Service owns the contact book: persistent CRUD, ephemeral registration
// with lazy expiry, selection validation, and recipient resolution.
type Service struct {
	store        Store
	ephemeralTTL time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(log *slog.Logger, store Store, ephemeralTTL time.Duration) *Service {
	if log == nil {
		log = slog.Default()
	}
	if ephemeralTTL <= 0 {
		ephemeralTTL = 20 * time.Hour
	}
	return &Service{
		store:        store,
		ephemeralTTL: ephemeralTTL,
		logger:       log.With(slog.String("service", "contacts")),
		now:          time.Now,
	}
}

// Create adds a persistent contact. At least one address field must be set;
// a contact nobody can reach is rejected at write time, not discovered
// during an alert.
func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest) (Contact, error) {
	if s.store == nil {
		return Contact{}, fmt.Errorf("contact store not configured")
	}
	item := contactFromRequest(ownerID, req)
	if item.DisplayName == "" {
		return Contact{}, ErrNameRequired
	}
	if !item.HasUsableChannel() {
		return Contact{}, ErrNoUsableChannel
	}
	created, err := s.store.Insert(ctx, item)
	if err != nil {
		return Contact{}, err
	}
	s.logger.Info("contact created",
		slog.String("contact_id", created.ID), slog.String("owner_id", ownerID))
	return created, nil
}

// Update replaces a contact's fields, enforcing ownership.
func (s *Service) Update(ctx context.Context, contactID, ownerID string, req CreateRequest) (Contact, error) {
	existing, err := s.requireOwned(ctx, contactID, ownerID)
	if err != nil {
		return Contact{}, err
	}
	item := contactFromRequest(ownerID, req)
	item.ID = existing.ID
	if item.DisplayName == "" {
		return Contact{}, ErrNameRequired
	}
	if !item.HasUsableChannel() {
		return Contact{}, ErrNoUsableChannel
	}
	return s.store.Update(ctx, item)
}

// Delete removes a contact, enforcing ownership.
func (s *Service) Delete(ctx context.Context, contactID, ownerID string) error {
	if _, err := s.requireOwned(ctx, contactID, ownerID); err != nil {
		return err
	}
	return s.store.Delete(ctx, contactID)
}

// Get returns a contact, enforcing ownership.
func (s *Service) Get(ctx context.Context, contactID, ownerID string) (Contact, error) {
	return s.requireOwned(ctx, contactID, ownerID)
}

// List returns the owner's persistent contacts, highest priority first.
func (s *Service) List(ctx context.Context, ownerID string) ([]Contact, error) {
	items, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Contact{}
	}
	return items, nil
}

// RegisterEphemeral records a session contact connected through a channel
// handshake. The contact expires on its own after the configured TTL.
func (s *Service) RegisterEphemeral(ctx context.Context, ownerID, channelType, externalRef, displayName string) (EphemeralContact, error) {
	if s.store == nil {
		return EphemeralContact{}, fmt.Errorf("contact store not configured")
	}
	channelType = strings.TrimSpace(channelType)
	externalRef = strings.TrimSpace(externalRef)
	switch channelType {
	case EphemeralBridge, EphemeralSMS, EphemeralEmail:
	default:
		return EphemeralContact{}, fmt.Errorf("unknown ephemeral channel type %q", channelType)
	}
	if externalRef == "" {
		return EphemeralContact{}, ErrNoUsableChannel
	}
	item, err := s.store.InsertEphemeral(ctx, EphemeralContact{
		OwnerID:     ownerID,
		ChannelType: channelType,
		ExternalRef: externalRef,
		DisplayName: strings.TrimSpace(displayName),
		ExpiresAt:   s.now().Add(s.ephemeralTTL),
	})
	if err != nil {
		return EphemeralContact{}, err
	}
	s.logger.Info("ephemeral contact connected",
		slog.String("ephemeral_id", item.ID),
		slog.String("owner_id", ownerID),
		slog.String("channel_type", channelType),
		slog.Time("expires_at", item.ExpiresAt),
	)
	return item, nil
}

// ListActiveEphemeral returns the owner's unexpired ephemeral contacts.
func (s *Service) ListActiveEphemeral(ctx context.Context, ownerID string) ([]EphemeralContact, error) {
	items, err := s.store.ListActiveEphemeral(ctx, ownerID, s.now())
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []EphemeralContact{}
	}
	return items, nil
}

// ValidateSelection checks a contact selection server-side: every persistent
// contact must exist, belong to the owner, and be reachable; every ephemeral
// contact must still be unexpired at call time.
func (s *Service) ValidateSelection(ctx context.Context, ownerID string, contactIDs, ephemeralIDs []string) error {
	for _, id := range contactIDs {
		item, err := s.requireOwned(ctx, id, ownerID)
		if err != nil {
			return err
		}
		if !item.HasUsableChannel() {
			return fmt.Errorf("contact %s: %w", id, ErrNoUsableChannel)
		}
	}
	now := s.now()
	for _, id := range ephemeralIDs {
		item, err := s.store.GetEphemeral(ctx, id)
		if err != nil {
			return err
		}
		if item.OwnerID != ownerID {
			return ErrNotOwner
		}
		if !item.ExpiresAt.After(now) {
			return fmt.Errorf("ephemeral contact %s: %w", id, ErrContactExpired)
		}
	}
	return nil
}

// Recipients resolves a selection into delivery targets. Empty selections
// resolve to all of the owner's contacts. Ephemeral contacts are
// re-checked against the clock here; ones that expired since selection are
// dropped silently rather than failing the alert.
func (s *Service) Recipients(ctx context.Context, ownerID string, contactIDs, ephemeralIDs []string) ([]notify.Recipient, error) {
	var recipients []notify.Recipient

	if len(contactIDs) == 0 && len(ephemeralIDs) == 0 {
		persistent, err := s.store.ListByOwner(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		for _, item := range persistent {
			recipients = append(recipients, recipientFromContact(item))
		}
		ephemerals, err := s.store.ListActiveEphemeral(ctx, ownerID, s.now())
		if err != nil {
			return nil, err
		}
		for _, item := range ephemerals {
			recipients = append(recipients, recipientFromEphemeral(item))
		}
		return recipients, nil
	}

	for _, id := range contactIDs {
		item, err := s.store.Get(ctx, id)
		if err != nil {
			s.logger.Warn("recipient resolution skipped contact",
				slog.String("contact_id", id), slog.Any("error", err))
			continue
		}
		if item.OwnerID != ownerID {
			continue
		}
		recipients = append(recipients, recipientFromContact(item))
	}
	now := s.now()
	for _, id := range ephemeralIDs {
		item, err := s.store.GetEphemeral(ctx, id)
		if err != nil {
			s.logger.Warn("recipient resolution skipped ephemeral contact",
				slog.String("ephemeral_id", id), slog.Any("error", err))
			continue
		}
		if item.OwnerID != ownerID || !item.ExpiresAt.After(now) {
			continue
		}
		recipients = append(recipients, recipientFromEphemeral(item))
	}
	return recipients, nil
}

// PurgeExpiredEphemeral deletes expired ephemeral rows. Reads never depend
// on it; it keeps the table small.
func (s *Service) PurgeExpiredEphemeral(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredEphemeral(ctx, s.now())
}

func (s *Service) requireOwned(ctx context.Context, contactID, ownerID string) (Contact, error) {
	item, err := s.store.Get(ctx, contactID)
	if err != nil {
		return Contact{}, err
	}
	if item.OwnerID != ownerID {
		return Contact{}, ErrNotOwner
	}
	return item, nil
}

func contactFromRequest(ownerID string, req CreateRequest) Contact {
	return Contact{
		OwnerID:        ownerID,
		DisplayName:    strings.TrimSpace(req.DisplayName),
		Phone:          strings.TrimSpace(req.Phone),
		Email:          strings.TrimSpace(req.Email),
		PushToken:      strings.TrimSpace(req.PushToken),
		TelegramChatID: strings.TrimSpace(req.TelegramChatID),
		Priority:       req.Priority,
	}
}

func recipientFromContact(item Contact) notify.Recipient {
	return notify.Recipient{
		Ref:          item.ID,
		DisplayName:  item.DisplayName,
		PushToken:    item.PushToken,
		BridgeTarget: item.TelegramChatID,
		Phone:        item.Phone,
		Email:        item.Email,
	}
}

func recipientFromEphemeral(item EphemeralContact) notify.Recipient {
	rcpt := notify.Recipient{
		Ref:         item.ID,
		DisplayName: item.DisplayName,
		Ephemeral:   true,
	}
	switch item.ChannelType {
	case EphemeralBridge:
		rcpt.BridgeTarget = item.ExternalRef
	case EphemeralSMS:
		rcpt.Phone = item.ExternalRef
	case EphemeralEmail:
		rcpt.Email = item.ExternalRef
	}
	return rcpt
}
