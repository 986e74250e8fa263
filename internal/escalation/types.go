// Package escalation turns missed deadlines and explicit panic triggers into
// alert events fanned out to the selected contacts.
package escalation

import (
	"errors"
	"time"

	"github.com/safewalk-io/safewalk/internal/notify"
)

// AlertType classifies what triggered an alert event.
type AlertType string

const (
	// AlertMissedCheckin fires when an active check-in passes its deadline.
	AlertMissedCheckin AlertType = "missed_checkin"
	// AlertSOS is the explicit panic trigger.
	AlertSOS AlertType = "sos"
	// AlertGetMeOut is the low-urgency extraction request.
	AlertGetMeOut AlertType = "get_me_out"
	// AlertDuress fires when a duress code is entered. It must never be
	// distinguishable from a normal completion on the user-facing path.
	AlertDuress AlertType = "duress"
)

var (
	ErrInvalidAlertType = errors.New("unknown alert type")
	ErrEventNotFound    = errors.New("alert event not found")
)

// AlertEvent is one recorded escalation with its fan-out summary.
type AlertEvent struct {
	ID                string            `json:"id"`
	OwnerID           string            `json:"owner_id"`
	CheckInID         string            `json:"checkin_id,omitempty"`
	Type              AlertType         `json:"type"`
	RecipientCount    int               `json:"recipient_count"`
	ChannelsUsed      []string          `json:"channels_used"`
	CostEstimateCents int               `json:"cost_estimate_cents"`
	Deliveries        []notify.Delivery `json:"deliveries,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// TriggerRequest is the input for an explicit alert (sos, get_me_out,
// duress). Empty contact selections mean "everyone the owner has".
type TriggerRequest struct {
	CheckInID           string   `json:"checkin_id,omitempty"`
	ContactIDs          []string `json:"contact_ids,omitempty"`
	EphemeralContactIDs []string `json:"ephemeral_contact_ids,omitempty"`
	Note                string   `json:"note,omitempty"`
	Location            string   `json:"location,omitempty"`
}
