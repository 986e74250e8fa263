package checkin

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safewalk-io/safewalk/internal/db"
)

// Store is the persistence boundary for check-in records. All state
// transitions are compare-and-set against the stored status so concurrent
// invocations resolve to no-ops instead of double transitions.
type Store interface {
	Insert(ctx context.Context, item CheckIn) (CheckIn, error)
	Get(ctx context.Context, id string) (CheckIn, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]CheckIn, error)
	// ExtendDeadline adds delta to the current authoritative alert_time under a
	// row lock, only while the check-in is still active.
	ExtendDeadline(ctx context.Context, id string, delta time.Duration) (CheckIn, error)
	// CompleteCAS transitions active|alerted to completed. The bool reports
	// whether this call performed the transition.
	CompleteCAS(ctx context.Context, id string) (CheckIn, bool, error)
	// MarkAlertedCAS transitions active to alerted. The bool reports whether
	// this call performed the transition.
	MarkAlertedCAS(ctx context.Context, id string) (CheckIn, bool, error)
	// ListDue returns ids of active check-ins whose deadline has passed.
	ListDue(ctx context.Context, now time.Time, limit int) ([]string, error)
	// PurgeCompleted strips payload fields from completed check-ins older than
	// cutoff for owners that opted out of retention.
	PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error)
}

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates the PostgreSQL-backed check-in store.
func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

const checkinColumns = `id, owner_id, status, duration_minutes, alert_time, extension_count,
	note, location, photo_urls, created_at, completed_at, alerted_at`

func (s *pgStore) Insert(ctx context.Context, item CheckIn) (CheckIn, error) {
	pgOwner, err := db.ParseUUID(item.OwnerID)
	if err != nil {
		return CheckIn{}, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CheckIn{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO checkins (owner_id, status, duration_minutes, alert_time, note, location, photo_urls)
		VALUES ($1, 'active', $2, $3, $4, $5, $6)
		RETURNING `+checkinColumns,
		pgOwner, item.DurationMinutes, item.AlertTime,
		db.PgText(item.Note), db.PgText(item.Location), item.PhotoURLs,
	)
	stored, err := scanCheckIn(row)
	if err != nil {
		return CheckIn{}, err
	}

	pgID, err := db.ParseUUID(stored.ID)
	if err != nil {
		return CheckIn{}, err
	}
	for _, contactID := range item.ContactIDs {
		pgContact, err := db.ParseUUID(contactID)
		if err != nil {
			return CheckIn{}, err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO checkin_contacts (checkin_id, contact_id) VALUES ($1, $2)`,
			pgID, pgContact,
		); err != nil {
			return CheckIn{}, err
		}
	}
	for _, ephemeralID := range item.EphemeralContactIDs {
		pgEphemeral, err := db.ParseUUID(ephemeralID)
		if err != nil {
			return CheckIn{}, err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO checkin_ephemeral_contacts (checkin_id, ephemeral_contact_id) VALUES ($1, $2)`,
			pgID, pgEphemeral,
		); err != nil {
			return CheckIn{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return CheckIn{}, err
	}
	stored.ContactIDs = item.ContactIDs
	stored.EphemeralContactIDs = item.EphemeralContactIDs
	return stored, nil
}

func (s *pgStore) Get(ctx context.Context, id string) (CheckIn, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return CheckIn{}, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+checkinColumns+` FROM checkins WHERE id = $1`, pgID)
	item, err := scanCheckIn(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CheckIn{}, ErrNotFound
		}
		return CheckIn{}, err
	}
	return s.attachContactIDs(ctx, item)
}

func (s *pgStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]CheckIn, error) {
	pgOwner, err := db.ParseUUID(ownerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+checkinColumns+` FROM checkins
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, pgOwner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]CheckIn, 0, limit)
	for rows.Next() {
		item, err := scanCheckIn(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *pgStore) ExtendDeadline(ctx context.Context, id string, delta time.Duration) (CheckIn, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return CheckIn{}, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CheckIn{}, err
	}
	defer tx.Rollback(ctx)

	// Row lock serializes concurrent extends so no addition is dropped, and
	// the stored alert_time stays the single source of truth.
	var status Status
	var alertTime time.Time
	err = tx.QueryRow(ctx,
		`SELECT status, alert_time FROM checkins WHERE id = $1 FOR UPDATE`, pgID,
	).Scan(&status, &alertTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CheckIn{}, ErrNotFound
		}
		return CheckIn{}, err
	}
	if status != StatusActive {
		return CheckIn{}, ErrNotActive
	}

	row := tx.QueryRow(ctx, `
		UPDATE checkins
		SET alert_time = $2, extension_count = extension_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING `+checkinColumns,
		pgID, alertTime.Add(delta),
	)
	item, err := scanCheckIn(row)
	if err != nil {
		return CheckIn{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return CheckIn{}, err
	}
	return s.attachContactIDs(ctx, item)
}

func (s *pgStore) CompleteCAS(ctx context.Context, id string) (CheckIn, bool, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return CheckIn{}, false, err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE checkins
		SET status = 'completed', completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('active', 'alerted')
		RETURNING `+checkinColumns, pgID)
	item, err := scanCheckIn(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CheckIn{}, false, nil
		}
		return CheckIn{}, false, err
	}
	item, err = s.attachContactIDs(ctx, item)
	return item, true, err
}

func (s *pgStore) MarkAlertedCAS(ctx context.Context, id string) (CheckIn, bool, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return CheckIn{}, false, err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE checkins
		SET status = 'alerted', alerted_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'active'
		RETURNING `+checkinColumns, pgID)
	item, err := scanCheckIn(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CheckIn{}, false, nil
		}
		return CheckIn{}, false, err
	}
	item, err = s.attachContactIDs(ctx, item)
	return item, true, err
}

func (s *pgStore) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	// Alerted rows without a missed_checkin event are escalations that
	// crashed between the status transition and the event insert; the scan
	// picks them up so their contacts still get notified.
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM checkins
		WHERE (status = 'active' AND alert_time <= $1)
		   OR (status = 'alerted' AND NOT EXISTS (
		       SELECT 1 FROM alert_events e
		       WHERE e.checkin_id = checkins.id AND e.type = 'missed_checkin'))
		ORDER BY alert_time
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, db.UUIDString(id))
	}
	return ids, rows.Err()
}

func (s *pgStore) PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE checkins
		SET note = NULL, location = NULL, photo_urls = '{}', updated_at = now()
		WHERE status = 'completed'
		  AND completed_at < $1
		  AND owner_id IN (SELECT user_id FROM user_settings WHERE retain_completed = FALSE)`,
		cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *pgStore) attachContactIDs(ctx context.Context, item CheckIn) (CheckIn, error) {
	pgID, err := db.ParseUUID(item.ID)
	if err != nil {
		return CheckIn{}, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT contact_id FROM checkin_contacts WHERE checkin_id = $1`, pgID)
	if err != nil {
		return CheckIn{}, err
	}
	item.ContactIDs, err = collectUUIDs(rows)
	if err != nil {
		return CheckIn{}, err
	}
	rows, err = s.pool.Query(ctx,
		`SELECT ephemeral_contact_id FROM checkin_ephemeral_contacts WHERE checkin_id = $1`, pgID)
	if err != nil {
		return CheckIn{}, err
	}
	item.EphemeralContactIDs, err = collectUUIDs(rows)
	if err != nil {
		return CheckIn{}, err
	}
	return item, nil
}

func collectUUIDs(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, db.UUIDString(id))
	}
	return ids, rows.Err()
}

func scanCheckIn(row pgx.Row) (CheckIn, error) {
	var (
		id          pgtype.UUID
		ownerID     pgtype.UUID
		status      string
		duration    int
		alertTime   time.Time
		extensions  int
		note        pgtype.Text
		location    pgtype.Text
		photoURLs   []string
		createdAt   time.Time
		completedAt pgtype.Timestamptz
		alertedAt   pgtype.Timestamptz
	)
	err := row.Scan(&id, &ownerID, &status, &duration, &alertTime, &extensions,
		&note, &location, &photoURLs, &createdAt, &completedAt, &alertedAt)
	if err != nil {
		return CheckIn{}, err
	}
	return CheckIn{
		ID:              db.UUIDString(id),
		OwnerID:         db.UUIDString(ownerID),
		Status:          Status(status),
		DurationMinutes: duration,
		AlertTime:       alertTime,
		ExtensionCount:  extensions,
		Note:            db.TextToString(note),
		Location:        db.TextToString(location),
		PhotoURLs:       photoURLs,
		CreatedAt:       createdAt,
		CompletedAt:     db.TimePtrFromPg(completedAt),
		AlertedAt:       db.TimePtrFromPg(alertedAt),
	}, nil
}
