package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/classifieds-negotiation/internal/appointment"
	"github.com/hackgods/classifieds-negotiation/internal/offer"
)

type CreateOfferRequest struct {
	BuyerID   string `json:"buyer_id"`
	BuyerName string `json:"buyer_name"`
	Amount    int64  `json:"amount"`
	Message   string `json:"message"`
}

// RespondRequest is the seller's accept, reject or counter.
type RespondRequest struct {
	SellerID string `json:"seller_id"`
	Amount   int64  `json:"amount,omitempty"`
	Message  string `json:"message,omitempty"`
}

type CounterAnswerRequest struct {
	BuyerID string `json:"buyer_id"`
}

type ScheduleRequest struct {
	SellerID    string `json:"seller_id"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Duration    int    `json:"duration"`
	Address     string `json:"address"`
	MeetingType string `json:"meeting_type"`
	Notes       string `json:"notes,omitempty"`
}

type AppointmentActionRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
}

type CounterResponse struct {
	Amount    int64     `json:"amount"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type OfferResponse struct {
	ID           uuid.UUID        `json:"id"`
	ListingID    string           `json:"listing_id"`
	BuyerID      string           `json:"buyer_id"`
	BuyerName    string           `json:"buyer_name,omitempty"`
	Amount       int64            `json:"amount"`
	Message      string           `json:"message,omitempty"`
	Status       string           `json:"status"`
	CounterOffer *CounterResponse `json:"counter_offer,omitempty"`
	AgreedAmount int64            `json:"agreed_amount,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	ExpiresAt    time.Time        `json:"expires_at"`
}

type LocationResponse struct {
	Address       string `json:"address"`
	MeetingType   string `json:"meeting_type"`
	Notes         string `json:"notes,omitempty"`
	NavigationURL string `json:"navigation_url"`
}

type AppointmentResponse struct {
	ID            uuid.UUID                 `json:"id"`
	ListingID     string                    `json:"listing_id"`
	OfferID       uuid.UUID                 `json:"offer_id"`
	SellerID      string                    `json:"seller_id"`
	BuyerID       string                    `json:"buyer_id"`
	Date          string                    `json:"date"`
	Time          string                    `json:"time"`
	Duration      int                       `json:"duration"`
	Location      LocationResponse          `json:"location"`
	Status        string                    `json:"status"`
	CancelReason  string                    `json:"cancel_reason,omitempty"`
	Notifications appointment.Notifications `json:"notifications"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toOfferResponse(o *offer.Offer) OfferResponse {
	resp := OfferResponse{
		ID:        o.ID,
		ListingID: o.ListingID,
		BuyerID:   o.BuyerID,
		BuyerName: o.BuyerName,
		Amount:    o.Amount,
		Message:   o.Message,
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
		ExpiresAt: o.ExpiresAt,
	}
	if o.CounterOffer != nil {
		resp.CounterOffer = &CounterResponse{
			Amount:    o.CounterOffer.Amount,
			Message:   o.CounterOffer.Message,
			CreatedAt: o.CounterOffer.CreatedAt,
		}
	}
	if o.Status == offer.StatusAccepted {
		resp.AgreedAmount = o.AgreedAmount()
	}
	return resp
}

func toOfferResponses(offers []offer.Offer) []OfferResponse {
	out := make([]OfferResponse, 0, len(offers))
	for i := range offers {
		out = append(out, toOfferResponse(&offers[i]))
	}
	return out
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		ListingID: a.ListingID,
		OfferID:   a.OfferID,
		SellerID:  a.SellerID,
		BuyerID:   a.BuyerID,
		Date:      a.ScheduledDate,
		Time:      a.ScheduledTime,
		Duration:  a.Duration,
		Location: LocationResponse{
			Address:       a.Location.Address,
			MeetingType:   string(a.Location.MeetingType),
			Notes:         a.Location.Notes,
			NavigationURL: appointment.NavigationURL(a.Location.Address),
		},
		Status:        string(a.Status),
		CancelReason:  a.CancelReason,
		Notifications: a.Notifications,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func toAppointmentResponses(appts []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toAppointmentResponse(&appts[i]))
	}
	return out
}
