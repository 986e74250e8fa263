package settings

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

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates the PostgreSQL-backed settings store.
func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Get(ctx context.Context, userID string) (UserSettings, error) {
	pgUser, err := db.ParseUUID(userID)
	if err != nil {
		return UserSettings{}, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO user_settings (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING user_id, sms_sent_this_week, sms_week_start, retain_completed`,
		pgUser)
	return scanSettings(row)
}

func (s *pgStore) SetRetainCompleted(ctx context.Context, userID string, retain bool) (UserSettings, error) {
	pgUser, err := db.ParseUUID(userID)
	if err != nil {
		return UserSettings{}, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO user_settings (user_id, retain_completed) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET retain_completed = EXCLUDED.retain_completed, updated_at = now()
		RETURNING user_id, sms_sent_this_week, sms_week_start, retain_completed`,
		pgUser, retain)
	return scanSettings(row)
}

func (s *pgStore) ConsumeSMSCredit(ctx context.Context, userID string, weeklyCap int) error {
	pgUser, err := db.ParseUUID(userID)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO user_settings (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`, pgUser); err != nil {
		return err
	}

	// Single-statement check-and-increment: a stale week rolls forward to a
	// fresh counter, otherwise the increment only lands below the cap.
	// Zero rows updated means the cap is hit.
	var sent int
	err = s.pool.QueryRow(ctx, `
		UPDATE user_settings
		SET sms_sent_this_week = CASE
		        WHEN sms_week_start < date_trunc('week', now())::date THEN 1
		        ELSE sms_sent_this_week + 1
		    END,
		    sms_week_start = GREATEST(sms_week_start, date_trunc('week', now())::date),
		    updated_at = now()
		WHERE user_id = $1
		  AND (sms_week_start < date_trunc('week', now())::date OR sms_sent_this_week < $2)
		RETURNING sms_sent_this_week`,
		pgUser, weeklyCap).Scan(&sent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notify.ErrSMSQuotaExhausted
		}
		return err
	}
	return nil
}

func (s *pgStore) RefundSMSCredit(ctx context.Context, userID string) error {
	pgUser, err := db.ParseUUID(userID)
	if err != nil {
		return err
	}
	// Only the current week's counter is decremented. A refund landing after
	// the week rolled over would hand capacity to the wrong week, so it is
	// dropped instead.
	_, err = s.pool.Exec(ctx, `
		UPDATE user_settings
		SET sms_sent_this_week = sms_sent_this_week - 1, updated_at = now()
		WHERE user_id = $1
		  AND sms_sent_this_week > 0
		  AND sms_week_start >= date_trunc('week', now())::date`,
		pgUser)
	return err
}

func (s *pgStore) ResetWeeklySMS(ctx context.Context, weekStart time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_settings
		SET sms_sent_this_week = 0, sms_week_start = $1, updated_at = now()
		WHERE sms_week_start < $1 OR sms_sent_this_week > 0`,
		weekStart)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanSettings(row pgx.Row) (UserSettings, error) {
	var (
		userID    pgtype.UUID
		sent      int
		weekStart time.Time
		retain    bool
	)
	if err := row.Scan(&userID, &sent, &weekStart, &retain); err != nil {
		return UserSettings{}, err
	}
	return UserSettings{
		UserID:          db.UUIDString(userID),
		SMSSentThisWeek: sent,
		SMSWeekStart:    weekStart,
		RetainCompleted: retain,
	}, nil
}
