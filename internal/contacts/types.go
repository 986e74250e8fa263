// Package contacts manages a user's emergency contacts: the persistent
// address book and the ephemeral session contacts connected through a bridge
// handshake.
package contacts

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("contact not found")
	ErrNotOwner        = errors.New("contact belongs to another user")
	ErrContactExpired  = errors.New("ephemeral contact has expired")
	ErrNoUsableChannel = errors.New("contact has no usable channel")
	ErrNameRequired    = errors.New("display name is required")
)

// Contact is a persistent emergency contact. Which address fields are set
// determines the channels it can be reached on.
type Contact struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	DisplayName    string    `json:"display_name"`
	Phone          string    `json:"phone,omitempty"`
	Email          string    `json:"email,omitempty"`
	PushToken      string    `json:"push_token,omitempty"`
	TelegramChatID string    `json:"telegram_chat_id,omitempty"`
	Priority       int       `json:"priority"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasUsableChannel reports whether any address field is set.
func (c Contact) HasUsableChannel() bool {
	return c.Phone != "" || c.Email != "" || c.PushToken != "" || c.TelegramChatID != ""
}

// Ephemeral contact channel types.
const (
	EphemeralBridge = "bridge"
	EphemeralSMS    = "sms"
	EphemeralEmail  = "email"
)

// EphemeralContact is a session-scoped contact that expires on its own
// rather than being deleted. ExternalRef is the channel-specific address:
// a bridge chat id, a phone number, or an email address.
type EphemeralContact struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	ChannelType string    `json:"channel_type"`
	ExternalRef string    `json:"external_ref"`
	DisplayName string    `json:"display_name,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CreateRequest is the input for adding or updating a persistent contact.
type CreateRequest struct {
	DisplayName    string `json:"display_name"`
	Phone          string `json:"phone,omitempty"`
	Email          string `json:"email,omitempty"`
	PushToken      string `json:"push_token,omitempty"`
	TelegramChatID string `json:"telegram_chat_id,omitempty"`
	Priority       int    `json:"priority"`
}
