package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/classifieds-negotiation/internal/appointment"
	"github.com/hackgods/classifieds-negotiation/internal/listing"
	"github.com/hackgods/classifieds-negotiation/internal/negotiation"
	"github.com/hackgods/classifieds-negotiation/internal/offer"
	redisclient "github.com/hackgods/classifieds-negotiation/internal/redis"
)

type handlers struct {
	coord        *negotiation.Coordinator
	offers       *offer.Service
	appointments *appointment.Service
}

func (h *handlers) createOffer(w http.ResponseWriter, r *http.Request) {
	var req CreateOfferRequest
	if !decode(w, r, &req) {
		return
	}

	o, err := h.coord.SubmitOffer(r.Context(), negotiation.SubmitInput{
		ListingID: chi.URLParam(r, "listingID"),
		BuyerID:   req.BuyerID,
		BuyerName: req.BuyerName,
		Amount:    req.Amount,
		Message:   req.Message,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOfferResponse(o))
}

func (h *handlers) listOffersForListing(w http.ResponseWriter, r *http.Request) {
	offers, err := h.offers.GetOffersForListing(r.Context(), chi.URLParam(r, "listingID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponses(offers))
}

func (h *handlers) listOffersForBuyer(w http.ResponseWriter, r *http.Request) {
	offers, err := h.offers.GetOffersForBuyer(r.Context(), chi.URLParam(r, "buyerID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponses(offers))
}

func (h *handlers) listOffersForSeller(w http.ResponseWriter, r *http.Request) {
	offers, err := h.coord.GetOffersForSeller(r.Context(), chi.URLParam(r, "sellerID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponses(offers))
}

func (h *handlers) getOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	o, err := h.offers.GetOffer(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponse(o))
}

func (h *handlers) respond(action negotiation.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req RespondRequest
		if !decode(w, r, &req) {
			return
		}

		var counter *offer.CounterInput
		if action == negotiation.ActionCounter {
			counter = &offer.CounterInput{Amount: req.Amount, Message: req.Message}
		}

		o, err := h.coord.Respond(r.Context(), id, req.SellerID, action, counter)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOfferResponse(o))
	}
}

func (h *handlers) acceptCounter(w http.ResponseWriter, r *http.Request) {
	h.answerCounter(w, r, h.coord.AcceptCounter)
}

func (h *handlers) declineCounter(w http.ResponseWriter, r *http.Request) {
	h.answerCounter(w, r, h.coord.DeclineCounter)
}

func (h *handlers) answerCounter(w http.ResponseWriter, r *http.Request, answer func(ctx context.Context, id uuid.UUID, buyerID string) (*offer.Offer, error)) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req CounterAnswerRequest
	if !decode(w, r, &req) {
		return
	}

	o, err := answer(r.Context(), id, req.BuyerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponse(o))
}

func (h *handlers) scheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req ScheduleRequest
	if !decode(w, r, &req) {
		return
	}

	a, err := h.coord.ScheduleAppointment(r.Context(), id, req.SellerID, negotiation.MeetingInput{
		Date:     req.Date,
		Time:     req.Time,
		Duration: req.Duration,
		Location: appointment.Location{
			Address:     req.Address,
			MeetingType: appointment.MeetingType(req.MeetingType),
			Notes:       req.Notes,
		},
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(a))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	a, err := h.appointments.GetAppointment(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(a))
}

func (h *handlers) listAppointmentsForListing(w http.ResponseWriter, r *http.Request) {
	appts, err := h.appointments.GetAppointmentsForListing(r.Context(), chi.URLParam(r, "listingID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
}

func (h *handlers) upcomingAppointments(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_hours", "hours must be a positive integer")
			return
		}
		window = time.Duration(hours) * time.Hour
	}

	appts, err := h.appointments.UpcomingAppointments(r.Context(), window)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
}

// calendar serves ?date=YYYY-MM-DD, optionally narrowed with ?party_id=.
func (h *handlers) calendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("date") == "" {
		writeError(w, http.StatusBadRequest, "missing_date", "date query parameter is required")
		return
	}

	appts, err := h.appointments.GetAppointmentsForDate(r.Context(), q.Get("date"), q.Get("party_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
}

func (h *handlers) closeAppointment(to appointment.AppointmentStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req AppointmentActionRequest
		if !decode(w, r, &req) {
			return
		}

		var (
			a   *appointment.Appointment
			err error
		)
		if to == appointment.StatusCancelled {
			a, err = h.coord.CancelAppointment(r.Context(), id, req.ActorID, req.Reason)
		} else {
			a, err = h.coord.UpdateAppointmentStatus(r.Context(), id, req.ActorID, to)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(a))
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, listing.ErrListingNotFound):
		writeError(w, http.StatusNotFound, "listing_not_found", err.Error())
	case errors.Is(err, offer.ErrOfferNotFound):
		writeError(w, http.StatusNotFound, "offer_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())

	case errors.Is(err, negotiation.ErrNotListingSeller),
		errors.Is(err, negotiation.ErrNotParticipant),
		errors.Is(err, negotiation.ErrOwnListing),
		errors.Is(err, offer.ErrNotOfferBuyer),
		errors.Is(err, appointment.ErrBuyerMismatch):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())

	case errors.Is(err, offer.ErrOfferExpired):
		writeError(w, http.StatusConflict, "offer_expired", err.Error())
	case errors.Is(err, offer.ErrOpenOffer):
		writeError(w, http.StatusConflict, "open_offer_exists", err.Error())
	case errors.Is(err, offer.ErrConflictingUpdate),
		errors.Is(err, appointment.ErrConflictingUpdate):
		writeError(w, http.StatusConflict, "conflicting_update", err.Error())
	case errors.Is(err, offer.ErrInvalidTransition),
		errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrOfferNotAccepted):
		writeError(w, http.StatusConflict, "offer_not_accepted", err.Error())
	case errors.Is(err, appointment.ErrDuplicateAppointment):
		writeError(w, http.StatusConflict, "appointment_exists", err.Error())
	case errors.Is(err, appointment.ErrOfferBeingScheduled),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "offer_being_scheduled", "offer is currently being scheduled, please retry shortly")

	case errors.Is(err, offer.ErrInvalidAmount),
		errors.Is(err, offer.ErrInvalidOffer),
		errors.Is(err, offer.ErrCounterRequired),
		errors.Is(err, negotiation.ErrUnknownAction),
		errors.Is(err, appointment.ErrInvalidLocation),
		errors.Is(err, appointment.ErrPastDate),
		errors.Is(err, appointment.ErrInvalidDate),
		errors.Is(err, appointment.ErrInvalidTime),
		errors.Is(err, appointment.ErrInvalidDuration):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())

	default:
		log.Printf("unhandled error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
