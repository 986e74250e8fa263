package passcode

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safewalk-io/safewalk/internal/db"
)

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates the PostgreSQL-backed credentials store.
func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Get(ctx context.Context, userID string) (Credentials, error) {
	pgUser, err := db.ParseUUID(userID)
	if err != nil {
		return Credentials{}, err
	}
	var safety, duress pgtype.Text
	err = s.pool.QueryRow(ctx,
		`SELECT safety_code_hash, duress_code_hash FROM safety_credentials WHERE user_id = $1`,
		pgUser,
	).Scan(&safety, &duress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credentials{}, nil
		}
		return Credentials{}, err
	}
	return Credentials{
		SafetyHash: db.TextToString(safety),
		DuressHash: db.TextToString(duress),
	}, nil
}

func (s *pgStore) Upsert(ctx context.Context, userID string, creds Credentials) error {
	pgUser, err := db.ParseUUID(userID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO safety_credentials (user_id, safety_code_hash, duress_code_hash, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE
		SET safety_code_hash = EXCLUDED.safety_code_hash,
		    duress_code_hash = EXCLUDED.duress_code_hash,
		    updated_at = now()`,
		pgUser, db.PgText(creds.SafetyHash), db.PgText(creds.DuressHash))
	return err
}
