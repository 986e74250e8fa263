package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safewalk-io/safewalk/internal/db"
)

// Notification is an in-app record shown to the user; a downstream side
// effect of the core flows, not state-bearing for them.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}

// NotificationTypeReminder marks check-in reminder rows, which are deleted
// when the check-in completes.
const NotificationTypeReminder = "checkin_reminder"

// InApp writes and removes in-app notification records.
type InApp struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewInApp(log *slog.Logger, pool *pgxpool.Pool) *InApp {
	if log == nil {
		log = slog.Default()
	}
	return &InApp{pool: pool, logger: log.With(slog.String("service", "inapp"))}
}

// Create inserts an in-app notification for the user.
func (n *InApp) Create(ctx context.Context, userID, notifType string, payload map[string]any) (Notification, error) {
	pgUser, err := db.ParseUUID(userID)
	if err != nil {
		return Notification{}, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Notification{}, err
	}
	row := n.pool.QueryRow(ctx, `
		INSERT INTO notifications (user_id, type, payload)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, type, payload, read, created_at`,
		pgUser, notifType, encoded)
	return scanNotification(row)
}

// ListUnread returns the user's unread notifications, newest first. Read
// failures degrade to an empty list.
func (n *InApp) ListUnread(ctx context.Context, userID string) ([]Notification, error) {
	pgUser, err := db.ParseUUID(userID)
	if err != nil {
		return nil, err
	}
	rows, err := n.pool.Query(ctx, `
		SELECT id, user_id, type, payload, read, created_at
		FROM notifications
		WHERE user_id = $1 AND read = FALSE
		ORDER BY created_at DESC`, pgUser)
	if err != nil {
		n.logger.Warn("list notifications degraded to empty",
			slog.String("user_id", userID), slog.Any("error", err))
		return []Notification{}, nil
	}
	defer rows.Close()

	var items []Notification
	for rows.Next() {
		item, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkRead flags a notification as read.
func (n *InApp) MarkRead(ctx context.Context, userID, notificationID string) error {
	pgUser, err := db.ParseUUID(userID)
	if err != nil {
		return err
	}
	pgID, err := db.ParseUUID(notificationID)
	if err != nil {
		return err
	}
	tag, err := n.pool.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, pgID, pgUser)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("notification not found")
	}
	return nil
}

// DeleteCheckInReminders removes outstanding reminder notifications for a
// check-in; called when the owner completes it.
func (n *InApp) DeleteCheckInReminders(ctx context.Context, ownerID, checkInID string) error {
	pgUser, err := db.ParseUUID(ownerID)
	if err != nil {
		return err
	}
	_, err = n.pool.Exec(ctx, `
		DELETE FROM notifications
		WHERE user_id = $1 AND type = $2 AND payload->>'checkin_id' = $3`,
		pgUser, NotificationTypeReminder, checkInID)
	return err
}

func scanNotification(row pgx.Row) (Notification, error) {
	var (
		id        pgtype.UUID
		userID    pgtype.UUID
		notifType string
		payload   []byte
		read      bool
		createdAt time.Time
	)
	if err := row.Scan(&id, &userID, &notifType, &payload, &read, &createdAt); err != nil {
		return Notification{}, err
	}
	decoded := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return Notification{}, err
		}
	}
	return Notification{
		ID:        db.UUIDString(id),
		UserID:    db.UUIDString(userID),
		Type:      notifType,
		Payload:   decoded,
		Read:      read,
		CreatedAt: createdAt,
	}, nil
}
