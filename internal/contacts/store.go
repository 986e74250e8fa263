package contacts

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safewalk-io/safewalk/internal/db"
)

// Store is the persistence boundary for persistent and ephemeral contacts.
// Ephemeral expiry is lazy: reads filter on expires_at instead of relying
// on a deletion job having run.
type Store interface {
	Insert(ctx context.Context, item Contact) (Contact, error)
	Get(ctx context.Context, id string) (Contact, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Contact, error)
	Update(ctx context.Context, item Contact) (Contact, error)
	Delete(ctx context.Context, id string) error

	InsertEphemeral(ctx context.Context, item EphemeralContact) (EphemeralContact, error)
	GetEphemeral(ctx context.Context, id string) (EphemeralContact, error)
	// ListActiveEphemeral returns the owner's ephemeral contacts that are
	// still unexpired as of now.
	ListActiveEphemeral(ctx context.Context, ownerID string, now time.Time) ([]EphemeralContact, error)
	// DeleteExpiredEphemeral removes rows whose expiry has passed. Correctness
	// never depends on this running; it only reclaims space.
	DeleteExpiredEphemeral(ctx context.Context, now time.Time) (int64, error)
}

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates the PostgreSQL-backed contact store.
func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

const contactColumns = `id, owner_id, display_name, phone, email, push_token, telegram_chat_id, priority, created_at`

func (s *pgStore) Insert(ctx context.Context, item Contact) (Contact, error) {
	pgOwner, err := db.ParseUUID(item.OwnerID)
	if err != nil {
		return Contact{}, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO contacts (owner_id, display_name, phone, email, push_token, telegram_chat_id, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+contactColumns,
		pgOwner, item.DisplayName,
		db.PgText(item.Phone), db.PgText(item.Email),
		db.PgText(item.PushToken), db.PgText(item.TelegramChatID),
		item.Priority)
	return scanContact(row)
}

func (s *pgStore) Get(ctx context.Context, id string) (Contact, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Contact{}, err
	}
	item, err := scanContact(s.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, pgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	return item, nil
}

func (s *pgStore) ListByOwner(ctx context.Context, ownerID string) ([]Contact, error) {
	pgOwner, err := db.ParseUUID(ownerID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+contactColumns+` FROM contacts
		WHERE owner_id = $1
		ORDER BY priority DESC, created_at`, pgOwner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Contact
	for rows.Next() {
		item, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *pgStore) Update(ctx context.Context, item Contact) (Contact, error) {
	pgID, err := db.ParseUUID(item.ID)
	if err != nil {
		return Contact{}, err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE contacts
		SET display_name = $2, phone = $3, email = $4, push_token = $5,
		    telegram_chat_id = $6, priority = $7, updated_at = now()
		WHERE id = $1
		RETURNING `+contactColumns,
		pgID, item.DisplayName,
		db.PgText(item.Phone), db.PgText(item.Email),
		db.PgText(item.PushToken), db.PgText(item.TelegramChatID),
		item.Priority)
	updated, err := scanContact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	return updated, nil
}

func (s *pgStore) Delete(ctx context.Context, id string) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM contacts WHERE id = $1`, pgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const ephemeralColumns = `id, owner_id, channel_type, external_ref, display_name, connected_at, expires_at`

func (s *pgStore) InsertEphemeral(ctx context.Context, item EphemeralContact) (EphemeralContact, error) {
	pgOwner, err := db.ParseUUID(item.OwnerID)
	if err != nil {
		return EphemeralContact{}, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO ephemeral_contacts (owner_id, channel_type, external_ref, display_name, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+ephemeralColumns,
		pgOwner, item.ChannelType, item.ExternalRef, db.PgText(item.DisplayName), item.ExpiresAt)
	return scanEphemeral(row)
}

func (s *pgStore) GetEphemeral(ctx context.Context, id string) (EphemeralContact, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return EphemeralContact{}, err
	}
	item, err := scanEphemeral(s.pool.QueryRow(ctx,
		`SELECT `+ephemeralColumns+` FROM ephemeral_contacts WHERE id = $1`, pgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EphemeralContact{}, ErrNotFound
		}
		return EphemeralContact{}, err
	}
	return item, nil
}

func (s *pgStore) ListActiveEphemeral(ctx context.Context, ownerID string, now time.Time) ([]EphemeralContact, error) {
	pgOwner, err := db.ParseUUID(ownerID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+ephemeralColumns+` FROM ephemeral_contacts
		WHERE owner_id = $1 AND expires_at > $2
		ORDER BY connected_at`, pgOwner, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []EphemeralContact
	for rows.Next() {
		item, err := scanEphemeral(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *pgStore) DeleteExpiredEphemeral(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM ephemeral_contacts WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanContact(row pgx.Row) (Contact, error) {
	var (
		id        pgtype.UUID
		ownerID   pgtype.UUID
		name      string
		phone     pgtype.Text
		email     pgtype.Text
		pushToken pgtype.Text
		chatID    pgtype.Text
		priority  int
		createdAt time.Time
	)
	if err := row.Scan(&id, &ownerID, &name, &phone, &email, &pushToken, &chatID, &priority, &createdAt); err != nil {
		return Contact{}, err
	}
	return Contact{
		ID:             db.UUIDString(id),
		OwnerID:        db.UUIDString(ownerID),
		DisplayName:    name,
		Phone:          db.TextToString(phone),
		Email:          db.TextToString(email),
		PushToken:      db.TextToString(pushToken),
		TelegramChatID: db.TextToString(chatID),
		Priority:       priority,
		CreatedAt:      createdAt,
	}, nil
}

func scanEphemeral(row pgx.Row) (EphemeralContact, error) {
	var (
		id          pgtype.UUID
		ownerID     pgtype.UUID
		channelType string
		externalRef string
		name        pgtype.Text
		connectedAt time.Time
		expiresAt   time.Time
	)
	if err := row.Scan(&id, &ownerID, &channelType, &externalRef, &name, &connectedAt, &expiresAt); err != nil {
		return EphemeralContact{}, err
	}
	return EphemeralContact{
		ID:          db.UUIDString(id),
		OwnerID:     db.UUIDString(ownerID),
		ChannelType: channelType,
		ExternalRef: externalRef,
		DisplayName: db.TextToString(name),
		ConnectedAt: connectedAt,
		ExpiresAt:   expiresAt,
	}, nil
}
