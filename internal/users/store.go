package users

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

// NewPGStore creates the PostgreSQL-backed account store.
func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Insert(ctx context.Context, username, email, displayName, passwordHash string) (User, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, email, display_name, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, username, email, display_name, is_active`,
		username, db.PgText(email), db.PgText(displayName), passwordHash)
	item, _, err := scanUser(row, false)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return User{}, ErrUsernameTaken
		}
		return User{}, err
	}
	return item, nil
}

func (s *pgStore) GetByID(ctx context.Context, id string) (User, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return User{}, err
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, email, display_name, is_active
		FROM users WHERE id = $1`, pgID)
	item, _, err := scanUser(row, false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return item, nil
}

func (s *pgStore) GetByUsername(ctx context.Context, username string) (User, string, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, email, display_name, is_active, password_hash
		FROM users WHERE username = $1`, username)
	item, hash, err := scanUser(row, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, "", ErrNotFound
		}
		return User{}, "", err
	}
	return item, hash, nil
}

func scanUser(row pgx.Row, withHash bool) (User, string, error) {
	var (
		id          pgtype.UUID
		username    string
		email       pgtype.Text
		displayName pgtype.Text
		isActive    bool
		hash        string
	)
	dests := []any{&id, &username, &email, &displayName, &isActive}
	if withHash {
		dests = append(dests, &hash)
	}
	if err := row.Scan(dests...); err != nil {
		return User{}, "", err
	}
	return User{
		ID:          db.UUIDString(id),
		Username:    username,
		Email:       db.TextToString(email),
		DisplayName: db.TextToString(displayName),
		IsActive:    isActive,
	}, hash, nil
}
