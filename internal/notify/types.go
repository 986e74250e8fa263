package notify

import (
	"context"
	"errors"
)

// ChannelKind identifies an outbound notification transport.
type ChannelKind string

const (
	ChannelPush   ChannelKind = "push"
	ChannelBridge ChannelKind = "bridge"
	ChannelSMS    ChannelKind = "sms"
	ChannelEmail  ChannelKind = "email"
)

// Ranking is the fixed channel preference order: push first, then the free
// uncapped bridge, then capped and costed SMS, then the email fallback.
var Ranking = []ChannelKind{ChannelPush, ChannelBridge, ChannelSMS, ChannelEmail}

var ErrUnreachable = errors.New("recipient has no usable channel")

// Recipient is a resolved delivery target. Which address fields are set
// determines the channels the recipient is reachable on.
type Recipient struct {
	Ref          string // contact or ephemeral contact id
	DisplayName  string
	PushToken    string
	BridgeTarget string // bridge chat id
	Phone        string
	Email        string
	Ephemeral    bool
}

// ReachableOn reports whether the recipient can be addressed on the channel.
func (r Recipient) ReachableOn(kind ChannelKind) bool {
	switch kind {
	case ChannelPush:
		return r.PushToken != ""
	case ChannelBridge:
		return r.BridgeTarget != ""
	case ChannelSMS:
		return r.Phone != ""
	case ChannelEmail:
		return r.Email != ""
	default:
		return false
	}
}

// Message is the channel-agnostic alert payload.
type Message struct {
	Title    string
	Body     string
	Location string
}

// Result reports the outcome of a single transport send.
type Result struct {
	Delivered bool
	CostCents int
	Detail    string
}

// Channel is one outbound transport. Implementations perform exactly one
// delivery attempt per Send call; retries are the caller's decision.
type Channel interface {
	Kind() ChannelKind
	Send(ctx context.Context, rcpt Recipient, msg Message) (Result, error)
}

// DeliveryStatus is the recorded outcome of one recipient attempt.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Delivery is the per-recipient attempt record appended to an alert event.
type Delivery struct {
	ContactRef string         `json:"contact_ref"`
	Channel    ChannelKind    `json:"channel"`
	Status     DeliveryStatus `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	CostCents  int            `json:"cost_cents"`
}
