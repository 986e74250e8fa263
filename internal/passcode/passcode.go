// Package passcode manages the safety and duress codes and classifies
// submitted codes at completion time.
package passcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Verdict classifies a submitted code. Handlers must treat MatchSafety and
// MatchDuress identically on the response path.
type Verdict int

const (
	NoMatch Verdict = iota
	MatchSafety
	MatchDuress
)

var (
	ErrCodeTooShort   = errors.New("code is below the minimum length")
	ErrCodesIdentical = errors.New("safety and duress codes must differ")
	ErrCodeMismatch   = errors.New("code does not match")
)

// Credentials is the stored hash pair. Either code may be unset.
type Credentials struct {
	SafetyHash string
	DuressHash string
}

// Store is the persistence boundary for per-user code hashes.
type Store interface {
	Get(ctx context.Context, userID string) (Credentials, error)
	Upsert(ctx context.Context, userID string, creds Credentials) error
}

// Service hashes, stores, and verifies safety and duress codes.
type Service struct {
	store         Store
	minCodeLength int
	logger        *slog.Logger
}

func NewService(log *slog.Logger, store Store, minCodeLength int) *Service {
	if log == nil {
		log = slog.Default()
	}
	if minCodeLength <= 0 {
		minCodeLength = 6
	}
	return &Service{
		store:         store,
		minCodeLength: minCodeLength,
		logger:        log.With(slog.String("service", "passcode")),
	}
}

// SetCodes replaces the user's codes. Empty strings clear the corresponding
// code; set codes must meet the length policy and must differ from each
// other.
func (s *Service) SetCodes(ctx context.Context, userID, safetyCode, duressCode string) error {
	if s.store == nil {
		return fmt.Errorf("passcode store not configured")
	}
	safetyCode = strings.TrimSpace(safetyCode)
	duressCode = strings.TrimSpace(duressCode)
	if safetyCode != "" && len(safetyCode) < s.minCodeLength {
		return ErrCodeTooShort
	}
	if duressCode != "" && len(duressCode) < s.minCodeLength {
		return ErrCodeTooShort
	}
	if safetyCode != "" && safetyCode == duressCode {
		return ErrCodesIdentical
	}

	var creds Credentials
	if safetyCode != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(safetyCode), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash safety code: %w", err)
		}
		creds.SafetyHash = string(hash)
	}
	if duressCode != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(duressCode), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash duress code: %w", err)
		}
		creds.DuressHash = string(hash)
	}
	if err := s.store.Upsert(ctx, userID, creds); err != nil {
		return err
	}
	s.logger.Info("codes updated",
		slog.String("user_id", userID),
		slog.Bool("safety_set", creds.SafetyHash != ""),
		slog.Bool("duress_set", creds.DuressHash != ""),
	)
	return nil
}

// VerdictFor classifies a submitted code against the user's stored hashes.
// A user with no safety code configured passes with any input, including an
// empty string; the duress hash is still checked first so a configured
// duress code always wins.
func (s *Service) VerdictFor(ctx context.Context, userID, code string) (Verdict, error) {
	if s.store == nil {
		return NoMatch, fmt.Errorf("passcode store not configured")
	}
	creds, err := s.store.Get(ctx, userID)
	if err != nil {
		return NoMatch, err
	}
	code = strings.TrimSpace(code)

	if creds.DuressHash != "" && code != "" {
		if bcrypt.CompareHashAndPassword([]byte(creds.DuressHash), []byte(code)) == nil {
			return MatchDuress, nil
		}
	}
	if creds.SafetyHash == "" {
		return MatchSafety, nil
	}
	if code == "" {
		return NoMatch, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(creds.SafetyHash), []byte(code)) == nil {
		return MatchSafety, nil
	}
	return NoMatch, nil
}

// HasCodes reports which codes the user has configured.
func (s *Service) HasCodes(ctx context.Context, userID string) (safety, duress bool, err error) {
	creds, err := s.store.Get(ctx, userID)
	if err != nil {
		return false, false, err
	}
	return creds.SafetyHash != "", creds.DuressHash != "", nil
}
