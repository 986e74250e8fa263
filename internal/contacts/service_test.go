package contacts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu         sync.Mutex
	contacts   map[string]Contact
	ephemerals map[string]EphemeralContact
	nextID     int
}

func newMemStore() *memStore {
	return &memStore{
		contacts:   map[string]Contact{},
		ephemerals: map[string]EphemeralContact{},
	}
}

func (s *memStore) Insert(_ context.Context, item Contact) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	item.ID = fmt.Sprintf("contact-%d", s.nextID)
	item.CreatedAt = time.Now()
	s.contacts[item.ID] = item
	return item, nil
}

func (s *memStore) Get(_ context.Context, id string) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.contacts[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return item, nil
}

func (s *memStore) ListByOwner(_ context.Context, ownerID string) ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Contact
	for _, item := range s.contacts {
		if item.OwnerID == ownerID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *memStore) Update(_ context.Context, item Contact) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.contacts[item.ID]
	if !ok {
		return Contact{}, ErrNotFound
	}
	item.OwnerID = existing.OwnerID
	item.CreatedAt = existing.CreatedAt
	s.contacts[item.ID] = item
	return item, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[id]; !ok {
		return ErrNotFound
	}
	delete(s.contacts, id)
	return nil
}

func (s *memStore) InsertEphemeral(_ context.Context, item EphemeralContact) (EphemeralContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	item.ID = fmt.Sprintf("ephemeral-%d", s.nextID)
	item.ConnectedAt = time.Now()
	s.ephemerals[item.ID] = item
	return item, nil
}

func (s *memStore) GetEphemeral(_ context.Context, id string) (EphemeralContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.ephemerals[id]
	if !ok {
		return EphemeralContact{}, ErrNotFound
	}
	return item, nil
}

func (s *memStore) ListActiveEphemeral(_ context.Context, ownerID string, now time.Time) ([]EphemeralContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []EphemeralContact
	for _, item := range s.ephemerals {
		if item.OwnerID == ownerID && item.ExpiresAt.After(now) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *memStore) DeleteExpiredEphemeral(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, item := range s.ephemerals {
		if !item.ExpiresAt.After(now) {
			delete(s.ephemerals, id)
			deleted++
		}
	}
	return deleted, nil
}

func TestCreateRequiresUsableChannel(t *testing.T) {
	svc := NewService(nil, newMemStore(), 20*time.Hour)
	_, err := svc.Create(context.Background(), "owner-1", CreateRequest{DisplayName: "Sam"})
	if !errors.Is(err, ErrNoUsableChannel) {
		t.Fatalf("expected ErrNoUsableChannel, got %v", err)
	}
	_, err = svc.Create(context.Background(), "owner-1", CreateRequest{Phone: "+15550001111"})
	if !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
}

func TestEphemeralExpiresAfterTTL(t *testing.T) {
	store := newMemStore()
	svc := NewService(nil, store, 20*time.Hour)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	item, err := svc.RegisterEphemeral(context.Background(), "owner-1", EphemeralBridge, "424242", "Sam")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !item.ExpiresAt.Equal(base.Add(20 * time.Hour)) {
		t.Fatalf("expected expiry at ttl, got %v", item.ExpiresAt)
	}

	active, err := svc.ListActiveEphemeral(context.Background(), "owner-1")
	if err != nil || len(active) != 1 {
		t.Fatalf("expected 1 active ephemeral, got %d err=%v", len(active), err)
	}

	// Past expiry the contact disappears from reads with no deletion job.
	svc.now = func() time.Time { return base.Add(21 * time.Hour) }
	active, err = svc.ListActiveEphemeral(context.Background(), "owner-1")
	if err != nil || len(active) != 0 {
		t.Fatalf("expected lazy expiry to hide the contact, got %d err=%v", len(active), err)
	}
}

func TestValidateSelectionRejectsExpiredEphemeral(t *testing.T) {
	store := newMemStore()
	svc := NewService(nil, store, time.Hour)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	item, err := svc.RegisterEphemeral(context.Background(), "owner-1", EphemeralBridge, "424242", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.ValidateSelection(context.Background(), "owner-1", nil, []string{item.ID}); err != nil {
		t.Fatalf("fresh ephemeral should validate: %v", err)
	}

	svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	err = svc.ValidateSelection(context.Background(), "owner-1", nil, []string{item.ID})
	if !errors.Is(err, ErrContactExpired) {
		t.Fatalf("expected ErrContactExpired, got %v", err)
	}
}

func TestValidateSelectionRejectsForeignContact(t *testing.T) {
	store := newMemStore()
	svc := NewService(nil, store, time.Hour)
	item, err := svc.Create(context.Background(), "owner-2", CreateRequest{DisplayName: "Sam", Phone: "+15550001111"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.ValidateSelection(context.Background(), "owner-1", []string{item.ID}, nil); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestRecipientsEmptySelectionMeansEveryone(t *testing.T) {
	store := newMemStore()
	svc := NewService(nil, store, time.Hour)
	if _, err := svc.Create(context.Background(), "owner-1", CreateRequest{DisplayName: "A", Phone: "+15550001111"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(context.Background(), "owner-1", CreateRequest{DisplayName: "B", Email: "b@example.com"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.RegisterEphemeral(context.Background(), "owner-1", EphemeralBridge, "424242", ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	recipients, err := svc.Recipients(context.Background(), "owner-1", nil, nil)
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(recipients) != 3 {
		t.Fatalf("expected 3 recipients, got %d", len(recipients))
	}
}

func TestRecipientsDropExpiredEphemeralSilently(t *testing.T) {
	store := newMemStore()
	svc := NewService(nil, store, time.Hour)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	persistent, _ := svc.Create(context.Background(), "owner-1", CreateRequest{DisplayName: "A", Phone: "+15550001111"})
	ephemeral, _ := svc.RegisterEphemeral(context.Background(), "owner-1", EphemeralBridge, "424242", "")

	svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	recipients, err := svc.Recipients(context.Background(), "owner-1", []string{persistent.ID}, []string{ephemeral.ID})
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(recipients) != 1 {
		t.Fatalf("expected expired ephemeral dropped, got %d recipients", len(recipients))
	}
	if recipients[0].Ref != persistent.ID {
		t.Fatalf("unexpected recipient %s", recipients[0].Ref)
	}
}

func TestEphemeralRecipientAddressMapping(t *testing.T) {
	store := newMemStore()
	svc := NewService(nil, store, time.Hour)
	item, _ := svc.RegisterEphemeral(context.Background(), "owner-1", EphemeralSMS, "+15559998888", "")

	recipients, err := svc.Recipients(context.Background(), "owner-1", nil, []string{item.ID})
	if err != nil || len(recipients) != 1 {
		t.Fatalf("recipients: %v (%d)", err, len(recipients))
	}
	if recipients[0].Phone != "+15559998888" {
		t.Fatalf("expected sms ref mapped to phone, got %+v", recipients[0])
	}
	if !recipients[0].Ephemeral {
		t.Fatal("expected ephemeral flag set")
	}
}

func TestRegisterEphemeralRejectsUnknownChannel(t *testing.T) {
	svc := NewService(nil, newMemStore(), time.Hour)
	if _, err := svc.RegisterEphemeral(context.Background(), "owner-1", "pigeon", "ref", ""); err == nil {
		t.Fatal("expected error for unknown channel type")
	}
}
