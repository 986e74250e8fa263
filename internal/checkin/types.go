package checkin

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a check-in. Transitions are monotonic:
// active may become completed or alerted, alerted may become completed,
// completed is terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAlerted   Status = "alerted"
)

var (
	ErrNotFound         = errors.New("check-in not found")
	ErrInvalidDuration  = errors.New("duration must be positive")
	ErrTooManyContacts  = errors.New("too many persistent contacts selected")
	ErrNotActive        = errors.New("check-in is no longer active")
	ErrNotOwner         = errors.New("check-in belongs to another user")
	ErrVerifyFailed     = errors.New("check-in state could not be verified after write")
	ErrInvalidExtension = errors.New("extension minutes must be positive")
)

// CheckIn is the core timed safety session record.
type CheckIn struct {
	ID                  string     `json:"id"`
	OwnerID             string     `json:"owner_id"`
	Status              Status     `json:"status"`
	DurationMinutes     int        `json:"duration_minutes"`
	AlertTime           time.Time  `json:"alert_time"`
	ExtensionCount      int        `json:"extension_count"`
	ContactIDs          []string   `json:"contact_ids"`
	EphemeralContactIDs []string   `json:"ephemeral_contact_ids"`
	Note                string     `json:"note,omitempty"`
	Location            string     `json:"location,omitempty"`
	PhotoURLs           []string   `json:"photo_urls,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	AlertedAt           *time.Time `json:"alerted_at,omitempty"`
}

// CreateRequest is the input for starting a check-in.
type CreateRequest struct {
	DurationMinutes     int      `json:"duration_minutes"`
	ContactIDs          []string `json:"contact_ids"`
	EphemeralContactIDs []string `json:"ephemeral_contact_ids"`
	Note                string   `json:"note,omitempty"`
	Location            string   `json:"location,omitempty"`
	PhotoURLs           []string `json:"photo_urls,omitempty"`
}
