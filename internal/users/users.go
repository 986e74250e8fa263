// Package users manages accounts and credential checks for login.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInactive           = errors.New("account is deactivated")
)

// User is an account record. PasswordHash never leaves the package.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	IsActive    bool   `json:"is_active"`
}

// Store is the persistence boundary for accounts.
type Store interface {
	Insert(ctx context.Context, username, email, displayName, passwordHash string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	// GetByUsername also returns the stored password hash for verification.
	GetByUsername(ctx context.Context, username string) (User, string, error)
}

// Service owns account creation and password verification.
type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(log *slog.Logger, store Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		logger: log.With(slog.String("service", "users")),
	}
}

// Create registers an account with a bcrypt-hashed password.
func (s *Service) Create(ctx context.Context, username, email, displayName, password string) (User, error) {
	if s.store == nil {
		return User{}, fmt.Errorf("user store not configured")
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return User{}, fmt.Errorf("username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	item, err := s.store.Insert(ctx, username, strings.TrimSpace(email), strings.TrimSpace(displayName), string(hash))
	if err != nil {
		return User{}, err
	}
	s.logger.Info("user created", slog.String("user_id", item.ID), slog.String("username", username))
	return item, nil
}

// Authenticate verifies a username and password pair. Failures are uniform
// ErrInvalidCredentials so the response never reveals which part was wrong.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	if s.store == nil {
		return User{}, fmt.Errorf("user store not configured")
	}
	item, hash, err := s.store.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if !item.IsActive {
		return User{}, ErrInactive
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	return item, nil
}

// Get returns an account by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	if s.store == nil {
		return User{}, fmt.Errorf("user store not configured")
	}
	return s.store.GetByID(ctx, id)
}

// EnsureUser creates the account if the username is free, otherwise returns
// the existing one. Used to bootstrap a first account on startup.
func (s *Service) EnsureUser(ctx context.Context, username, password string) (User, error) {
	item, err := s.Create(ctx, username, "", "", password)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, ErrUsernameTaken) {
		return User{}, err
	}
	existing, _, err := s.store.GetByUsername(ctx, username)
	return existing, err
}
