// Package negotiation drives a buyer/seller thread from offer to meeting.
// It keeps no state of its own: offers and appointments live in their
// stores, and this package enforces who may act and in which order.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/hackgods/classifieds-negotiation/internal/appointment"
	"github.com/hackgods/classifieds-negotiation/internal/listing"
	"github.com/hackgods/classifieds-negotiation/internal/notify"
	"github.com/hackgods/classifieds-negotiation/internal/offer"
)

var (
	ErrNotListingSeller = errors.New("only the listing's seller may do this")
	ErrOwnListing       = errors.New("sellers cannot make offers on their own listing")
	ErrNotParticipant   = errors.New("only the buyer or seller may change this appointment")
	ErrUnknownAction    = errors.New("unknown offer response")
)

// Action is a seller's response to a pending offer.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionCounter Action = "counter"
)

type OfferStore interface {
	CreateOffer(ctx context.Context, listingID, buyerID, buyerName string, amount int64, message string) (*offer.Offer, error)
	UpdateOfferStatus(ctx context.Context, id uuid.UUID, to offer.OfferStatus, counter *offer.CounterInput) (*offer.Offer, error)
	AcceptCounter(ctx context.Context, id uuid.UUID, buyerID string) (*offer.Offer, error)
	DeclineCounter(ctx context.Context, id uuid.UUID, buyerID string) (*offer.Offer, error)
	GetOffer(ctx context.Context, id uuid.UUID) (*offer.Offer, error)
	GetOffersForListings(ctx context.Context, listingIDs []string) ([]offer.Offer, error)
}

type AppointmentStore interface {
	ScheduleAppointment(ctx context.Context, in appointment.ScheduleInput) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, to appointment.AppointmentStatus) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error)
}

type SubmitInput struct {
	ListingID string
	BuyerID   string
	BuyerName string
	Amount    int64
	Message   string
}

// MeetingInput is what the seller proposes when scheduling.
type MeetingInput struct {
	Date     string
	Time     string
	Duration int
	Location appointment.Location
}

type Coordinator struct {
	offers       OfferStore
	appointments AppointmentStore
	listings     listing.Reader
	dispatcher   notify.Dispatcher
}

func NewCoordinator(offers OfferStore, appointments AppointmentStore, listings listing.Reader, dispatcher notify.Dispatcher) *Coordinator {
	if dispatcher == nil {
		dispatcher = notify.Discard
	}
	return &Coordinator{
		offers:       offers,
		appointments: appointments,
		listings:     listings,
		dispatcher:   dispatcher,
	}
}

// SubmitOffer records a buyer's offer and tells the seller.
func (c *Coordinator) SubmitOffer(ctx context.Context, in SubmitInput) (*offer.Offer, error) {
	l, err := c.listings.GetListing(ctx, in.ListingID)
	if err != nil {
		return nil, err
	}
	if l.SellerID == in.BuyerID {
		return nil, ErrOwnListing
	}

	o, err := c.offers.CreateOffer(ctx, in.ListingID, in.BuyerID, in.BuyerName, in.Amount, in.Message)
	if err != nil {
		return nil, err
	}

	c.notify(ctx, l.SellerID, notify.RoleSeller, notify.EventOfferCreated, offerPayload(o, l))
	return o, nil
}

// Respond applies the seller's accept, reject or counter to a pending offer
// and tells the buyer.
func (c *Coordinator) Respond(ctx context.Context, offerID uuid.UUID, sellerID string, action Action, counter *offer.CounterInput) (*offer.Offer, error) {
	var to offer.OfferStatus
	var ev notify.EventType
	switch action {
	case ActionAccept:
		to, ev = offer.StatusAccepted, notify.EventOfferAccepted
	case ActionReject:
		to, ev = offer.StatusRejected, notify.EventOfferRejected
	case ActionCounter:
		to, ev = offer.StatusCountered, notify.EventOfferCountered
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	o, l, err := c.loadForSeller(ctx, offerID, sellerID)
	if err != nil {
		return nil, err
	}

	updated, err := c.offers.UpdateOfferStatus(ctx, o.ID, to, counter)
	if err != nil {
		return nil, err
	}

	c.notify(ctx, updated.BuyerID, notify.RoleBuyer, ev, offerPayload(updated, l))
	return updated, nil
}

// AcceptCounter is the buyer taking the seller's counter; the seller hears
// about it as an accepted offer.
func (c *Coordinator) AcceptCounter(ctx context.Context, offerID uuid.UUID, buyerID string) (*offer.Offer, error) {
	return c.answerCounter(ctx, offerID, buyerID, c.offers.AcceptCounter, notify.EventOfferAccepted)
}

// DeclineCounter is the buyer walking away from the seller's counter.
func (c *Coordinator) DeclineCounter(ctx context.Context, offerID uuid.UUID, buyerID string) (*offer.Offer, error) {
	return c.answerCounter(ctx, offerID, buyerID, c.offers.DeclineCounter, notify.EventOfferRejected)
}

func (c *Coordinator) answerCounter(
	ctx context.Context,
	offerID uuid.UUID,
	buyerID string,
	answer func(context.Context, uuid.UUID, string) (*offer.Offer, error),
	ev notify.EventType,
) (*offer.Offer, error) {
	updated, err := answer(ctx, offerID, buyerID)
	if err != nil {
		return nil, err
	}

	l, err := c.listings.GetListing(ctx, updated.ListingID)
	if err != nil {
		// the offer already moved; only the seller notification is lost
		log.Printf("counter answered on offer %s but listing lookup failed: %v", updated.ID, err)
		return updated, nil
	}

	payload := offerPayload(updated, l)
	payload["by_buyer"] = true
	c.notify(ctx, l.SellerID, notify.RoleSeller, ev, payload)
	return updated, nil
}

// GetOffersForSeller is the seller's inbox: offers on every listing the
// seller owns, newest first.
func (c *Coordinator) GetOffersForSeller(ctx context.Context, sellerID string) ([]offer.Offer, error) {
	listings, err := c.listings.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(listings))
	for _, l := range listings {
		ids = append(ids, l.ID)
	}
	return c.offers.GetOffersForListings(ctx, ids)
}

// ScheduleAppointment books the meeting for an accepted offer. A failure
// leaves the offer accepted so the seller can retry with another slot.
func (c *Coordinator) ScheduleAppointment(ctx context.Context, offerID uuid.UUID, sellerID string, in MeetingInput) (*appointment.Appointment, error) {
	o, l, err := c.loadForSeller(ctx, offerID, sellerID)
	if err != nil {
		return nil, err
	}
	if o.Status != offer.StatusAccepted {
		return nil, fmt.Errorf("%w: offer %s is %s", appointment.ErrOfferNotAccepted, o.ID, o.Status)
	}

	return c.appointments.ScheduleAppointment(ctx, appointment.ScheduleInput{
		OfferID:  o.ID,
		SellerID: l.SellerID,
		BuyerID:  o.BuyerID,
		Date:     in.Date,
		Time:     in.Time,
		Duration: in.Duration,
		Location: in.Location,
	})
}

// UpdateAppointmentStatus closes an appointment on behalf of either party.
func (c *Coordinator) UpdateAppointmentStatus(ctx context.Context, appointmentID uuid.UUID, actorID string, to appointment.AppointmentStatus) (*appointment.Appointment, error) {
	if err := c.checkParticipant(ctx, appointmentID, actorID); err != nil {
		return nil, err
	}
	return c.appointments.UpdateAppointmentStatus(ctx, appointmentID, to)
}

// CancelAppointment cancels on behalf of either party.
func (c *Coordinator) CancelAppointment(ctx context.Context, appointmentID uuid.UUID, actorID, reason string) (*appointment.Appointment, error) {
	if err := c.checkParticipant(ctx, appointmentID, actorID); err != nil {
		return nil, err
	}
	return c.appointments.CancelAppointment(ctx, appointmentID, reason)
}

func (c *Coordinator) checkParticipant(ctx context.Context, appointmentID uuid.UUID, actorID string) error {
	a, err := c.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if actorID != a.SellerID && actorID != a.BuyerID {
		return ErrNotParticipant
	}
	return nil
}

func (c *Coordinator) loadForSeller(ctx context.Context, offerID uuid.UUID, sellerID string) (*offer.Offer, *listing.Listing, error) {
	o, err := c.offers.GetOffer(ctx, offerID)
	if err != nil {
		return nil, nil, err
	}
	l, err := c.listings.GetListing(ctx, o.ListingID)
	if err != nil {
		return nil, nil, err
	}
	if l.SellerID != sellerID {
		return nil, nil, ErrNotListingSeller
	}
	return o, l, nil
}

func (c *Coordinator) notify(ctx context.Context, partyID string, role notify.Role, ev notify.EventType, payload map[string]any) {
	for _, ch := range notify.AllChannels {
		n := notify.New(partyID, role, ch, ev, payload)
		if err := c.dispatcher.Notify(ctx, n); err != nil {
			log.Printf("failed to dispatch %s to %s %s via %s: %v", ev, role, partyID, ch, err)
		}
	}
}

func offerPayload(o *offer.Offer, l *listing.Listing) map[string]any {
	p := map[string]any{
		"offer_id":      o.ID.String(),
		"listing_id":    o.ListingID,
		"listing_title": l.Title,
		"buyer_id":      o.BuyerID,
		"buyer_name":    o.BuyerName,
		"amount":        o.Amount,
		"agreed_amount": o.AgreedAmount(),
		"status":        string(o.Status),
		"expires_at":    o.ExpiresAt,
	}
	if o.CounterOffer != nil {
		p["counter_amount"] = o.CounterOffer.Amount
		p["counter_message"] = o.CounterOffer.Message
	}
	return p
}
