package escalation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safewalk-io/safewalk/internal/db"
	"github.com/safewalk-io/safewalk/internal/notify"
)

// Store persists alert events and their per-recipient delivery records.
type Store interface {
	InsertEvent(ctx context.Context, event AlertEvent) (AlertEvent, error)
	// RecordDeliveries appends delivery rows and updates the event summary
	// (recipient count, channels used, cost) in one transaction.
	RecordDeliveries(ctx context.Context, eventID string, deliveries []notify.Delivery) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]AlertEvent, error)
	GetEvent(ctx context.Context, id string) (AlertEvent, error)
	// HasMissedCheckinEvent reports whether a missed_checkin event was
	// already recorded for the check-in.
	HasMissedCheckinEvent(ctx context.Context, checkInID string) (bool, error)
}

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates the PostgreSQL-backed alert event store.
func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) InsertEvent(ctx context.Context, event AlertEvent) (AlertEvent, error) {
	pgOwner, err := db.ParseUUID(event.OwnerID)
	if err != nil {
		return AlertEvent{}, err
	}
	var pgCheckin pgtype.UUID
	if event.CheckInID != "" {
		pgCheckin, err = db.ParseUUID(event.CheckInID)
		if err != nil {
			return AlertEvent{}, err
		}
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO alert_events (owner_id, checkin_id, type)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		pgOwner, pgCheckin, string(event.Type))
	var id pgtype.UUID
	var createdAt time.Time
	if err := row.Scan(&id, &createdAt); err != nil {
		return AlertEvent{}, err
	}
	event.ID = db.UUIDString(id)
	event.CreatedAt = createdAt
	return event, nil
}

func (s *pgStore) RecordDeliveries(ctx context.Context, eventID string, deliveries []notify.Delivery) error {
	pgEvent, err := db.ParseUUID(eventID)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	channels := make(map[string]struct{}, 2)
	totalCost := 0
	for _, d := range deliveries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO alert_deliveries (alert_event_id, contact_ref, channel, status, detail, cost_cents)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			pgEvent, d.ContactRef, string(d.Channel), string(d.Status), db.PgText(d.Detail), d.CostCents,
		); err != nil {
			return err
		}
		channels[string(d.Channel)] = struct{}{}
		totalCost += d.CostCents
	}

	used := make([]string, 0, len(channels))
	for ch := range channels {
		used = append(used, ch)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE alert_events
		SET recipient_count = $2, channels_used = $3, cost_estimate_cents = $4
		WHERE id = $1`,
		pgEvent, len(deliveries), used, totalCost,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *pgStore) HasMissedCheckinEvent(ctx context.Context, checkInID string) (bool, error) {
	pgCheckin, err := db.ParseUUID(checkInID)
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM alert_events
			WHERE checkin_id = $1 AND type = 'missed_checkin')`,
		pgCheckin).Scan(&exists)
	return exists, err
}

const eventColumns = `id, owner_id, checkin_id, type, recipient_count, channels_used, cost_estimate_cents, created_at`

func (s *pgStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]AlertEvent, error) {
	pgOwner, err := db.ParseUUID(ownerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM alert_events
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, pgOwner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]AlertEvent, 0, limit)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *pgStore) GetEvent(ctx context.Context, id string) (AlertEvent, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return AlertEvent{}, err
	}
	event, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM alert_events WHERE id = $1`, pgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return AlertEvent{}, ErrEventNotFound
	}
	if err != nil {
		return AlertEvent{}, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT contact_ref, channel, status, detail, cost_cents
		FROM alert_deliveries WHERE alert_event_id = $1
		ORDER BY created_at`, pgID)
	if err != nil {
		return AlertEvent{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			d       notify.Delivery
			channel string
			status  string
			detail  pgtype.Text
		)
		if err := rows.Scan(&d.ContactRef, &channel, &status, &detail, &d.CostCents); err != nil {
			return AlertEvent{}, err
		}
		d.Channel = notify.ChannelKind(channel)
		d.Status = notify.DeliveryStatus(status)
		d.Detail = db.TextToString(detail)
		event.Deliveries = append(event.Deliveries, d)
	}
	return event, rows.Err()
}

func scanEvent(row pgx.Row) (AlertEvent, error) {
	var (
		id        pgtype.UUID
		ownerID   pgtype.UUID
		checkinID pgtype.UUID
		alertType string
		count     int
		channels  []string
		cost      int
		createdAt time.Time
	)
	if err := row.Scan(&id, &ownerID, &checkinID, &alertType, &count, &channels, &cost, &createdAt); err != nil {
		return AlertEvent{}, err
	}
	event := AlertEvent{
		ID:                db.UUIDString(id),
		OwnerID:           db.UUIDString(ownerID),
		Type:              AlertType(alertType),
		RecipientCount:    count,
		ChannelsUsed:      channels,
		CostEstimateCents: cost,
		CreatedAt:         createdAt,
	}
	if checkinID.Valid {
		event.CheckInID = db.UUIDString(checkinID)
	}
	return event, nil
}
