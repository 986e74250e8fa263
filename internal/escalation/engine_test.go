package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/safewalk-io/safewalk/internal/checkin"
	"github.com/safewalk-io/safewalk/internal/notify"
)

type stubCheckIns struct {
	mu     sync.Mutex
	items  map[string]checkin.CheckIn
	events *memEventStore
}

func newStubCheckIns(items ...checkin.CheckIn) *stubCheckIns {
	s := &stubCheckIns{items: map[string]checkin.CheckIn{}}
	for _, item := range items {
		s.items[item.ID] = item
	}
	return s
}

func (s *stubCheckIns) Get(_ context.Context, id string) (checkin.CheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return checkin.CheckIn{}, checkin.ErrNotFound
	}
	return item, nil
}

func (s *stubCheckIns) MarkAlertedCAS(_ context.Context, id string) (checkin.CheckIn, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.Status != checkin.StatusActive {
		return checkin.CheckIn{}, false, nil
	}
	item.Status = checkin.StatusAlerted
	s.items[id] = item
	return item, true, nil
}

// ListDue mirrors the SQL store: overdue active rows plus alerted rows whose
// missed_checkin event was never recorded.
func (s *stubCheckIns) ListDue(ctx context.Context, now time.Time, _ int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, item := range s.items {
		switch item.Status {
		case checkin.StatusActive:
			if !item.AlertTime.After(now) {
				ids = append(ids, id)
			}
		case checkin.StatusAlerted:
			if s.events != nil {
				if recorded, _ := s.events.HasMissedCheckinEvent(ctx, id); !recorded {
					ids = append(ids, id)
				}
			}
		}
	}
	return ids, nil
}

type memEventStore struct {
	mu          sync.Mutex
	events      []AlertEvent
	deliveries  map[string][]notify.Delivery
	nextID      int
	failInserts int
}

func newMemEventStore() *memEventStore {
	return &memEventStore{deliveries: map[string][]notify.Delivery{}}
}

func (s *memEventStore) InsertEvent(_ context.Context, event AlertEvent) (AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInserts > 0 {
		s.failInserts--
		return AlertEvent{}, errors.New("insert failed")
	}
	if event.Type == AlertMissedCheckin && event.CheckInID != "" {
		for _, existing := range s.events {
			if existing.Type == AlertMissedCheckin && existing.CheckInID == event.CheckInID {
				return AlertEvent{}, &pgconn.PgError{Code: "23505", ConstraintName: "alert_events_missed_checkin_once"}
			}
		}
	}
	s.nextID++
	event.ID = fmt.Sprintf("event-%d", s.nextID)
	event.CreatedAt = time.Now()
	s.events = append(s.events, event)
	return event, nil
}

func (s *memEventStore) HasMissedCheckinEvent(_ context.Context, checkInID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range s.events {
		if event.Type == AlertMissedCheckin && event.CheckInID == checkInID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memEventStore) RecordDeliveries(_ context.Context, eventID string, deliveries []notify.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[eventID] = deliveries
	return nil
}

func (s *memEventStore) ListByOwner(_ context.Context, ownerID string, _ int) ([]AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AlertEvent
	for _, event := range s.events {
		if event.OwnerID == ownerID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (s *memEventStore) GetEvent(_ context.Context, id string) (AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range s.events {
		if event.ID == id {
			return event, nil
		}
	}
	return AlertEvent{}, ErrEventNotFound
}

func (s *memEventStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type stubRecipients struct {
	all []notify.Recipient
}

func (s *stubRecipients) Recipients(_ context.Context, _ string, contactIDs, ephemeralIDs []string) ([]notify.Recipient, error) {
	if len(contactIDs) == 0 && len(ephemeralIDs) == 0 {
		return s.all, nil
	}
	var out []notify.Recipient
	for _, id := range append(contactIDs, ephemeralIDs...) {
		out = append(out, notify.Recipient{Ref: id, PushToken: "tok"})
	}
	return out, nil
}

type recordingDispatcher struct {
	mu       sync.Mutex
	messages []notify.Message
	batches  [][]notify.Recipient
}

func (d *recordingDispatcher) Dispatch(_ context.Context, _ string, recipients []notify.Recipient, msg notify.Message) []notify.Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
	d.batches = append(d.batches, recipients)
	deliveries := make([]notify.Delivery, 0, len(recipients))
	for _, rcpt := range recipients {
		deliveries = append(deliveries, notify.Delivery{
			ContactRef: rcpt.Ref,
			Channel:    notify.ChannelPush,
			Status:     notify.DeliveryDelivered,
		})
	}
	return deliveries
}

func activeCheckIn(id string) checkin.CheckIn {
	return checkin.CheckIn{
		ID:              id,
		OwnerID:         "owner-1",
		Status:          checkin.StatusActive,
		DurationMinutes: 30,
		AlertTime:       time.Now().Add(-time.Minute),
		ContactIDs:      []string{"c1", "c2", "c3"},
		EphemeralContactIDs: []string{
			"e1", "e2",
		},
	}
}

func TestEscalateDeadlineExactlyOnce(t *testing.T) {
	checkins := newStubCheckIns(activeCheckIn("checkin-1"))
	store := newMemEventStore()
	engine := NewEngine(nil, checkins, store, &stubRecipients{}, &recordingDispatcher{}, nil)

	_, first, err := engine.EscalateDeadline(context.Background(), "checkin-1")
	if err != nil {
		t.Fatalf("first escalation: %v", err)
	}
	if !first {
		t.Fatal("first escalation should transition")
	}

	_, second, err := engine.EscalateDeadline(context.Background(), "checkin-1")
	if err != nil {
		t.Fatalf("second escalation: %v", err)
	}
	if second {
		t.Fatal("second escalation must be a no-op")
	}
	if store.eventCount() != 1 {
		t.Fatalf("expected exactly 1 event, got %d", store.eventCount())
	}
}

func TestEscalateDeadlineConcurrentScans(t *testing.T) {
	checkins := newStubCheckIns(activeCheckIn("checkin-1"))
	store := newMemEventStore()
	engine := NewEngine(nil, checkins, store, &stubRecipients{}, &recordingDispatcher{}, nil)

	var wg sync.WaitGroup
	transitions := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, did, err := engine.EscalateDeadline(context.Background(), "checkin-1")
			if err != nil {
				t.Errorf("escalation error: %v", err)
				return
			}
			transitions <- did
		}()
	}
	wg.Wait()
	close(transitions)

	won := 0
	for did := range transitions {
		if did {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly 1 winning scan, got %d", won)
	}
	if store.eventCount() != 1 {
		t.Fatalf("expected exactly 1 event, got %d", store.eventCount())
	}
}

func TestEscalateDeadlineDeliversToAllSelectedContacts(t *testing.T) {
	checkins := newStubCheckIns(activeCheckIn("checkin-1"))
	store := newMemEventStore()
	dispatcher := &recordingDispatcher{}
	engine := NewEngine(nil, checkins, store, &stubRecipients{}, dispatcher, nil)

	event, did, err := engine.EscalateDeadline(context.Background(), "checkin-1")
	if err != nil || !did {
		t.Fatalf("escalation: did=%v err=%v", did, err)
	}
	// 3 persistent + 2 ephemeral selected on the check-in.
	if event.RecipientCount != 5 {
		t.Fatalf("expected 5 recipients, got %d", event.RecipientCount)
	}
	if len(store.deliveries[event.ID]) != 5 {
		t.Fatalf("expected 5 recorded deliveries, got %d", len(store.deliveries[event.ID]))
	}
	if event.Type != AlertMissedCheckin {
		t.Fatalf("expected missed_checkin, got %s", event.Type)
	}
}

func TestEscalateDeadlinePublishesAlertedSnapshot(t *testing.T) {
	checkins := newStubCheckIns(activeCheckIn("checkin-1"))
	feed := checkin.NewFeed()
	updates, cancel := feed.Subscribe("owner-1")
	defer cancel()
	engine := NewEngine(nil, checkins, newMemEventStore(), &stubRecipients{}, &recordingDispatcher{}, feed)

	_, did, err := engine.EscalateDeadline(context.Background(), "checkin-1")
	if err != nil || !did {
		t.Fatalf("escalation: did=%v err=%v", did, err)
	}

	select {
	case item := <-updates:
		if item.ID != "checkin-1" || item.Status != checkin.StatusAlerted {
			t.Fatalf("expected alerted snapshot for checkin-1, got %+v", item)
		}
	default:
		t.Fatal("the alerted transition must publish a snapshot")
	}

	// Losing scans publish nothing.
	if _, did, _ := engine.EscalateDeadline(context.Background(), "checkin-1"); did {
		t.Fatal("second escalation must be a no-op")
	}
	select {
	case item := <-updates:
		t.Fatalf("losing scan must not publish, got %+v", item)
	default:
	}
}

func TestScanDueRecoversStrandedAlertedRow(t *testing.T) {
	checkins := newStubCheckIns(activeCheckIn("checkin-1"))
	store := newMemEventStore()
	store.failInserts = 1
	checkins.events = store
	engine := NewEngine(nil, checkins, store, &stubRecipients{}, &recordingDispatcher{}, nil)

	// The first escalation transitions the row but its event insert fails,
	// leaving the check-in alerted with nobody notified.
	_, did, err := engine.EscalateDeadline(context.Background(), "checkin-1")
	if err == nil {
		t.Fatal("expected the first escalation to fail")
	}
	if !did {
		t.Fatal("the transition itself should have happened")
	}
	item, _ := checkins.Get(context.Background(), "checkin-1")
	if item.Status != checkin.StatusAlerted {
		t.Fatalf("expected alerted, got %s", item.Status)
	}
	if store.eventCount() != 0 {
		t.Fatalf("expected no recorded event yet, got %d", store.eventCount())
	}

	// The next scan picks the stranded row back up and records the alert.
	escalated, err := engine.ScanDue(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if escalated != 1 {
		t.Fatalf("expected the stranded row to escalate, got %d", escalated)
	}
	if store.eventCount() != 1 {
		t.Fatalf("expected 1 event after recovery, got %d", store.eventCount())
	}

	// A further scan finds nothing left to do.
	escalated, err = engine.ScanDue(context.Background())
	if err != nil || escalated != 0 {
		t.Fatalf("expected idle scan, got escalated=%d err=%v", escalated, err)
	}
	if store.eventCount() != 1 {
		t.Fatalf("recovery must alert exactly once, got %d events", store.eventCount())
	}
}

// racingEventStore simulates a concurrent re-drive inserting the event
// between the existence check and this engine's own insert.
type racingEventStore struct {
	*memEventStore
}

func (s *racingEventStore) HasMissedCheckinEvent(context.Context, string) (bool, error) {
	return false, nil
}

func TestRedriveLostRaceIsQuietNoOp(t *testing.T) {
	stranded := activeCheckIn("checkin-1")
	stranded.Status = checkin.StatusAlerted
	checkins := newStubCheckIns(stranded)
	store := &racingEventStore{memEventStore: newMemEventStore()}
	if _, err := store.memEventStore.InsertEvent(context.Background(), AlertEvent{
		OwnerID:   "owner-1",
		CheckInID: "checkin-1",
		Type:      AlertMissedCheckin,
	}); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	engine := NewEngine(nil, checkins, store, &stubRecipients{}, &recordingDispatcher{}, nil)

	_, did, err := engine.EscalateDeadline(context.Background(), "checkin-1")
	if err != nil {
		t.Fatalf("losing a re-drive race must not error: %v", err)
	}
	if did {
		t.Fatal("the loser must not claim the escalation")
	}
	if store.eventCount() != 1 {
		t.Fatalf("expected the single seeded event, got %d", store.eventCount())
	}
}

func TestTriggerRejectsUnknownType(t *testing.T) {
	engine := NewEngine(nil, newStubCheckIns(), newMemEventStore(), &stubRecipients{}, &recordingDispatcher{}, nil)
	if _, err := engine.Trigger(context.Background(), "owner-1", AlertType("bogus"), TriggerRequest{}); !errors.Is(err, ErrInvalidAlertType) {
		t.Fatalf("expected ErrInvalidAlertType, got %v", err)
	}
	if _, err := engine.Trigger(context.Background(), "owner-1", AlertMissedCheckin, TriggerRequest{}); !errors.Is(err, ErrInvalidAlertType) {
		t.Fatalf("missed_checkin is not an explicit trigger, got %v", err)
	}
}

func TestTriggerDefaultsToAllContacts(t *testing.T) {
	all := []notify.Recipient{
		{Ref: "c1", PushToken: "tok"},
		{Ref: "c2", PushToken: "tok"},
		{Ref: "e1", PushToken: "tok", Ephemeral: true},
	}
	store := newMemEventStore()
	engine := NewEngine(nil, newStubCheckIns(), store, &stubRecipients{all: all}, &recordingDispatcher{}, nil)

	event, err := engine.Trigger(context.Background(), "owner-1", AlertSOS, TriggerRequest{})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if event.RecipientCount != 3 {
		t.Fatalf("expected all 3 contacts, got %d", event.RecipientCount)
	}
}

func TestTriggerDoesNotTouchCheckInState(t *testing.T) {
	checkins := newStubCheckIns(activeCheckIn("checkin-1"))
	engine := NewEngine(nil, checkins, newMemEventStore(), &stubRecipients{}, &recordingDispatcher{}, nil)

	if _, err := engine.Trigger(context.Background(), "owner-1", AlertGetMeOut, TriggerRequest{CheckInID: "checkin-1"}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	item, _ := checkins.Get(context.Background(), "checkin-1")
	if item.Status != checkin.StatusActive {
		t.Fatalf("trigger must not transition the check-in, got %s", item.Status)
	}
}

func TestDuressMessageMatchesSOS(t *testing.T) {
	sos := buildMessage(AlertSOS, TriggerRequest{Note: "note", Location: "loc"})
	duress := buildMessage(AlertDuress, TriggerRequest{Note: "note", Location: "loc"})
	if sos != duress {
		t.Fatalf("duress message must be indistinguishable from sos: %+v vs %+v", sos, duress)
	}
}

func TestScanDueEscalatesOverdueOnly(t *testing.T) {
	due := activeCheckIn("due-1")
	future := activeCheckIn("future-1")
	future.AlertTime = time.Now().Add(time.Hour)
	checkins := newStubCheckIns(due, future)
	store := newMemEventStore()
	engine := NewEngine(nil, checkins, store, &stubRecipients{}, &recordingDispatcher{}, nil)

	escalated, err := engine.ScanDue(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if escalated != 1 {
		t.Fatalf("expected 1 escalation, got %d", escalated)
	}
	item, _ := checkins.Get(context.Background(), "future-1")
	if item.Status != checkin.StatusActive {
		t.Fatal("future check-in must stay active")
	}
}

func TestEventEnforcesOwnership(t *testing.T) {
	store := newMemEventStore()
	engine := NewEngine(nil, newStubCheckIns(), store, &stubRecipients{}, &recordingDispatcher{}, nil)

	event, err := engine.Trigger(context.Background(), "owner-1", AlertSOS, TriggerRequest{})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	got, err := engine.Event(context.Background(), "owner-1", event.ID)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	if got.ID != event.ID {
		t.Fatalf("expected event %s, got %s", event.ID, got.ID)
	}
	if _, err := engine.Event(context.Background(), "owner-2", event.ID); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("another owner's event must read as not found, got %v", err)
	}
}
