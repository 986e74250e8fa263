package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/safewalk-io/safewalk/internal/checkin"
	"github.com/safewalk-io/safewalk/internal/db"
	"github.com/safewalk-io/safewalk/internal/notify"
)

// CheckInStore is the slice of the check-in store the engine needs: the
// alerted transition plus deadline scans.
type CheckInStore interface {
	Get(ctx context.Context, id string) (checkin.CheckIn, error)
	MarkAlertedCAS(ctx context.Context, id string) (checkin.CheckIn, bool, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// RecipientSource resolves contact selections into delivery targets. Empty
// selections resolve to every contact the owner has, persistent and
// unexpired ephemeral alike.
type RecipientSource interface {
	Recipients(ctx context.Context, ownerID string, contactIDs, ephemeralIDs []string) ([]notify.Recipient, error)
}

// Dispatcher fans a message out to recipients over ranked channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, ownerID string, recipients []notify.Recipient, msg notify.Message) []notify.Delivery
}

const dueBatchSize = 200

// Engine drives escalation: deadline-triggered alerts with an exactly-once
// transition, and explicit triggers that never touch check-in state.
type Engine struct {
	checkins   CheckInStore
	store      Store
	recipients RecipientSource
	dispatcher Dispatcher
	feed       *checkin.Feed
	logger     *slog.Logger
	now        func() time.Time
}

func NewEngine(log *slog.Logger, checkins CheckInStore, store Store, recipients RecipientSource, dispatcher Dispatcher, feed *checkin.Feed) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		checkins:   checkins,
		store:      store,
		recipients: recipients,
		dispatcher: dispatcher,
		feed:       feed,
		logger:     log.With(slog.String("service", "escalation")),
		now:        time.Now,
	}
}

// EscalateDeadline alerts the contacts of a check-in whose deadline passed.
// The active-to-alerted transition is compare-and-set, so concurrent scans
// of the same check-in produce exactly one alert event; losers are no-ops.
// A row that already carries the alerted status but has no recorded event is
// a stranded escalation and gets its fan-out re-driven here. The bool
// reports whether this call performed the escalation.
func (e *Engine) EscalateDeadline(ctx context.Context, checkInID string) (AlertEvent, bool, error) {
	if e.checkins == nil || e.store == nil {
		return AlertEvent{}, false, fmt.Errorf("escalation engine not configured")
	}
	item, transitioned, err := e.checkins.MarkAlertedCAS(ctx, checkInID)
	if err != nil {
		return AlertEvent{}, false, fmt.Errorf("mark alerted: %w", err)
	}
	if !transitioned {
		return e.redriveStranded(ctx, checkInID)
	}
	if e.feed != nil {
		e.feed.Publish(item)
	}

	event, err := e.fanOut(ctx, item.OwnerID, AlertMissedCheckin, TriggerRequest{
		CheckInID:           item.ID,
		ContactIDs:          item.ContactIDs,
		EphemeralContactIDs: item.EphemeralContactIDs,
		Note:                item.Note,
		Location:            item.Location,
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			// A re-drive of the same check-in recorded the event first.
			return AlertEvent{}, false, nil
		}
		return AlertEvent{}, true, err
	}
	return event, true, nil
}

// redriveStranded finishes an escalation that marked the check-in alerted
// but failed before its event was recorded, leaving contacts unnotified.
// Rows that are not alerted, or whose event already exists, are no-ops.
func (e *Engine) redriveStranded(ctx context.Context, checkInID string) (AlertEvent, bool, error) {
	item, err := e.checkins.Get(ctx, checkInID)
	if err != nil {
		if errors.Is(err, checkin.ErrNotFound) {
			return AlertEvent{}, false, nil
		}
		return AlertEvent{}, false, err
	}
	if item.Status != checkin.StatusAlerted {
		return AlertEvent{}, false, nil
	}
	recorded, err := e.store.HasMissedCheckinEvent(ctx, item.ID)
	if err != nil || recorded {
		return AlertEvent{}, false, err
	}

	e.logger.Warn("re-driving stranded escalation", slog.String("checkin_id", item.ID))
	event, err := e.fanOut(ctx, item.OwnerID, AlertMissedCheckin, TriggerRequest{
		CheckInID:           item.ID,
		ContactIDs:          item.ContactIDs,
		EphemeralContactIDs: item.EphemeralContactIDs,
		Note:                item.Note,
		Location:            item.Location,
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			// Lost the race against a concurrent re-drive.
			return AlertEvent{}, false, nil
		}
		return AlertEvent{}, false, err
	}
	return event, true, nil
}

// Trigger fires an explicit alert. It records the event and fans out without
// transitioning any check-in; a duress trigger in particular must leave the
// check-in exactly as it was.
func (e *Engine) Trigger(ctx context.Context, ownerID string, alertType AlertType, req TriggerRequest) (AlertEvent, error) {
	switch alertType {
	case AlertSOS, AlertGetMeOut, AlertDuress:
	default:
		return AlertEvent{}, ErrInvalidAlertType
	}
	if e.store == nil {
		return AlertEvent{}, fmt.Errorf("escalation engine not configured")
	}
	return e.fanOut(ctx, ownerID, alertType, req)
}

// ScanDue escalates every overdue active check-in once. Per-item failures
// are logged and skipped so one bad row never stalls the scan.
func (e *Engine) ScanDue(ctx context.Context) (int, error) {
	ids, err := e.checkins.ListDue(ctx, e.now(), dueBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due check-ins: %w", err)
	}
	escalated := 0
	for _, id := range ids {
		if _, did, err := e.EscalateDeadline(ctx, id); err != nil {
			e.logger.Error("deadline escalation failed",
				slog.String("checkin_id", id), slog.Any("error", err))
		} else if did {
			escalated++
		}
	}
	return escalated, nil
}

// Events returns the owner's alert history, newest first.
func (e *Engine) Events(ctx context.Context, ownerID string, limit int) ([]AlertEvent, error) {
	return e.store.ListByOwner(ctx, ownerID, limit)
}

// Event returns one alert event with its delivery records. Events belonging
// to another owner read as not found.
func (e *Engine) Event(ctx context.Context, ownerID, eventID string) (AlertEvent, error) {
	event, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return AlertEvent{}, err
	}
	if event.OwnerID != ownerID {
		return AlertEvent{}, ErrEventNotFound
	}
	return event, nil
}

func (e *Engine) fanOut(ctx context.Context, ownerID string, alertType AlertType, req TriggerRequest) (AlertEvent, error) {
	event, err := e.store.InsertEvent(ctx, AlertEvent{
		OwnerID:   ownerID,
		CheckInID: req.CheckInID,
		Type:      alertType,
	})
	if err != nil {
		return AlertEvent{}, fmt.Errorf("insert alert event: %w", err)
	}

	var recipients []notify.Recipient
	if e.recipients != nil {
		recipients, err = e.recipients.Recipients(ctx, ownerID, req.ContactIDs, req.EphemeralContactIDs)
		if err != nil {
			e.logger.Error("resolve recipients failed",
				slog.String("event_id", event.ID), slog.Any("error", err))
		}
	}
	if len(recipients) == 0 {
		e.logger.Warn("alert has no reachable recipients",
			slog.String("event_id", event.ID),
			slog.String("owner_id", ownerID),
			slog.String("type", string(alertType)),
		)
		return event, nil
	}

	msg := buildMessage(alertType, req)
	var deliveries []notify.Delivery
	if e.dispatcher != nil {
		deliveries = e.dispatcher.Dispatch(ctx, ownerID, recipients, msg)
	}
	if err := e.store.RecordDeliveries(ctx, event.ID, deliveries); err != nil {
		e.logger.Error("record deliveries failed",
			slog.String("event_id", event.ID), slog.Any("error", err))
	}

	event.RecipientCount = len(deliveries)
	for _, d := range deliveries {
		event.CostEstimateCents += d.CostCents
	}
	event.Deliveries = deliveries

	e.logger.Info("alert dispatched",
		slog.String("event_id", event.ID),
		slog.String("type", string(alertType)),
		slog.Int("recipients", len(deliveries)),
		slog.Int("cost_cents", event.CostEstimateCents),
	)
	return event, nil
}

func buildMessage(alertType AlertType, req TriggerRequest) notify.Message {
	msg := notify.Message{Body: req.Note, Location: req.Location}
	switch alertType {
	case AlertMissedCheckin:
		msg.Title = "Safety alert: missed check-in"
	case AlertSOS, AlertDuress:
		// A duress alert reads as SOS to contacts; nothing may reveal that a
		// duress code triggered it.
		msg.Title = "SOS: immediate help needed"
	case AlertGetMeOut:
		msg.Title = "Get me out: please call with an excuse"
	default:
		msg.Title = "Safety alert"
	}
	return msg
}
