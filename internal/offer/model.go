package offer

import (
	"time"

	"github.com/google/uuid"
)

type OfferStatus string

const (
	StatusPending   OfferStatus = "pending"
	StatusAccepted  OfferStatus = "accepted"
	StatusRejected  OfferStatus = "rejected"
	StatusCountered OfferStatus = "countered"
	StatusExpired   OfferStatus = "expired"
)

// DefaultTTL is how long a pending offer stays open.
const DefaultTTL = 7 * 24 * time.Hour

// Terminal reports whether no further transition is allowed.
func (s OfferStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusExpired
}

// Open reports whether the offer occupies its (listing, buyer) thread.
func (s OfferStatus) Open() bool {
	return s == StatusPending || s == StatusAccepted
}

func (s OfferStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusCountered, StatusExpired:
		return true
	}
	return false
}

// Counter is the seller's alternative price attached to an offer.
type Counter struct {
	Amount    int64
	Message   string
	CreatedAt time.Time
}

type Offer struct {
	ID           uuid.UUID
	ListingID    string
	BuyerID      string
	BuyerName    string
	Amount       int64 // minor currency units
	Message      string
	Status       OfferStatus
	CounterOffer *Counter
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ExpiresAt    time.Time
}

// AgreedAmount is the price both parties settled on: the counter amount when
// the buyer accepted a counter, otherwise the original amount.
func (o *Offer) AgreedAmount() int64 {
	if o.CounterOffer != nil && o.Status == StatusAccepted {
		return o.CounterOffer.Amount
	}
	return o.Amount
}

func (o *Offer) expiredAt(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

type EventLog struct {
	ID        int64
	EventType string
	OfferID   *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
