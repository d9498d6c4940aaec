// Package notify delivers buyer/seller notifications for offer and
// appointment state changes. Delivery is best effort: callers never roll
// back a state change because a notification failed.
package notify

import (
	"context"
	"crypto/rand"
	"log"
	"time"

	"github.com/oklog/ulid/v2"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// AllChannels is the fan-out used when an event goes to every channel.
var AllChannels = []Channel{ChannelEmail, ChannelSMS, ChannelPush}

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

type EventType string

const (
	EventOfferCreated         EventType = "offer_created"
	EventOfferAccepted        EventType = "offer_accepted"
	EventOfferRejected        EventType = "offer_rejected"
	EventOfferCountered       EventType = "offer_countered"
	EventAppointmentScheduled EventType = "appointment_scheduled"
	EventAppointmentCancelled EventType = "appointment_cancelled"
)

type Notification struct {
	ID        string         `json:"id"`
	PartyID   string         `json:"party_id"`
	Role      Role           `json:"role"`
	Channel   Channel        `json:"channel"`
	Event     EventType      `json:"event"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// New stamps a notification with a sortable id.
func New(partyID string, role Role, ch Channel, ev EventType, payload map[string]any) Notification {
	now := time.Now().UTC()
	return Notification{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		PartyID:   partyID,
		Role:      role,
		Channel:   ch,
		Event:     ev,
		Payload:   payload,
		CreatedAt: now,
	}
}

// Dispatcher accepts a single delivery request.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, n Notification) error

func (f DispatcherFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogDispatcher writes deliveries to the process log.
type LogDispatcher struct{}

func (LogDispatcher) Notify(_ context.Context, n Notification) error {
	log.Printf("[notify] id=%s event=%s channel=%s role=%s party=%s", n.ID, n.Event, n.Channel, n.Role, n.PartyID)
	return nil
}

// Discard drops every notification.
var Discard Dispatcher = DispatcherFunc(func(context.Context, Notification) error { return nil })
