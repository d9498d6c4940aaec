package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/classifieds-negotiation/internal/config"
	"github.com/hackgods/classifieds-negotiation/internal/notify"
	"github.com/hackgods/classifieds-negotiation/internal/offer"
	redisclient "github.com/hackgods/classifieds-negotiation/internal/redis"
)

const (
	EventAppointmentScheduled = "APPOINTMENT_SCHEDULED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
)

var (
	ErrOfferNotAccepted      = errors.New("offer is not accepted")
	ErrBuyerMismatch         = errors.New("buyer does not match the offer")
	ErrInvalidLocation       = errors.New("meeting location requires an address and a known meeting type")
	ErrPastDate              = errors.New("appointment date is in the past")
	ErrInvalidDate           = errors.New("appointment date must be YYYY-MM-DD")
	ErrInvalidTime           = errors.New("appointment time must be HH:MM")
	ErrInvalidDuration       = errors.New("appointment duration is not one of the allowed lengths")
	ErrInvalidTransition     = errors.New("invalid appointment status transition")
	ErrOfferBeingScheduled   = errors.New("offer is currently being scheduled, please retry")
	ErrUnknownRecipientField = errors.New("unknown notification role or channel")
)

// OfferReader is the slice of the offer store scheduling depends on.
type OfferReader interface {
	GetOffer(ctx context.Context, id uuid.UUID) (*offer.Offer, error)
}

type ScheduleInput struct {
	OfferID  uuid.UUID
	SellerID string
	BuyerID  string
	Date     string // 2006-01-02
	Time     string // 15:04
	Duration int    // minutes
	Location Location
}

type Service struct {
	repo       Repository
	offers     OfferReader
	locker     redisclient.Locker
	dispatcher notify.Dispatcher
	loc        *time.Location
	now        func() time.Time
}

func NewService(repo Repository, offers OfferReader, locker redisclient.Locker, dispatcher notify.Dispatcher, cfg config.Config) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	if dispatcher == nil {
		dispatcher = notify.Discard
	}
	return &Service{
		repo:       repo,
		offers:     offers,
		locker:     locker,
		dispatcher: dispatcher,
		loc:        loc,
		now:        time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ScheduleAppointment books a meeting for an accepted offer.
// The duplicate check and insert run under a per-offer lock so two
// concurrent requests cannot both schedule the same offer.
func (s *Service) ScheduleAppointment(ctx context.Context, in ScheduleInput) (*Appointment, error) {
	o, err := s.offers.GetOffer(ctx, in.OfferID)
	if err != nil {
		if errors.Is(err, offer.ErrOfferNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load offer: %w", err)
	}
	if o.Status != offer.StatusAccepted {
		return nil, fmt.Errorf("%w: offer %s is %s", ErrOfferNotAccepted, o.ID, o.Status)
	}
	if in.BuyerID != o.BuyerID {
		return nil, ErrBuyerMismatch
	}

	if err := s.validate(&in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	appt := &Appointment{
		ID:            uuid.New(),
		ListingID:     o.ListingID,
		OfferID:       o.ID,
		SellerID:      in.SellerID,
		BuyerID:       in.BuyerID,
		ScheduledDate: in.Date,
		ScheduledTime: in.Time,
		Duration:      in.Duration,
		Location: Location{
			Address:     strings.TrimSpace(in.Location.Address),
			MeetingType: in.Location.MeetingType,
			Notes:       in.Location.Notes,
		},
		Status:    StatusScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.locker.WithLock(ctx, "offer:"+o.ID.String(), func(lockCtx context.Context) error {
		// Inside the critical section re-check for a scheduled appointment
		existing, err := s.repo.FindScheduledForOffer(lockCtx, o.ID)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check scheduled appointment: %w", err)
		}
		if existing != nil {
			return ErrDuplicateAppointment
		}

		if err := s.repo.Insert(lockCtx, appt); err != nil {
			if errors.Is(err, ErrDuplicateAppointment) {
				return err
			}
			return fmt.Errorf("insert appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrOfferBeingScheduled
		}
		return nil, err
	}

	s.logEvent(ctx, appt.ID, EventAppointmentScheduled, map[string]any{
		"offer_id":   o.ID.String(),
		"listing_id": o.ListingID,
		"date":       appt.ScheduledDate,
		"time":       appt.ScheduledTime,
	})
	s.notifyBoth(ctx, appt, notify.EventAppointmentScheduled)

	return appt, nil
}

// validate checks the proposed meeting and rewrites Date and Time in their
// zero-padded form so stored values sort chronologically ("9:00" -> "09:00").
func (s *Service) validate(in *ScheduleInput) error {
	if strings.TrimSpace(in.Location.Address) == "" || !in.Location.MeetingType.Valid() {
		return ErrInvalidLocation
	}
	if !slices.Contains(AllowedDurations, in.Duration) {
		return ErrInvalidDuration
	}
	at, err := time.Parse(timeLayout, strings.TrimSpace(in.Time))
	if err != nil {
		return ErrInvalidTime
	}
	in.Time = at.Format(timeLayout)

	date, err := time.ParseInLocation(dateLayout, strings.TrimSpace(in.Date), s.loc)
	if err != nil {
		return ErrInvalidDate
	}
	in.Date = date.Format(dateLayout)
	y, m, d := s.now().In(s.loc).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	if date.Before(today) {
		return ErrPastDate
	}
	return nil
}

// UpdateAppointmentStatus closes a scheduled appointment as completed,
// cancelled or no_show. Every other transition fails.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	return s.transition(ctx, id, to, "")
}

// CancelAppointment cancels a scheduled appointment and keeps the reason.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	return s.transition(ctx, id, StatusCancelled, strings.TrimSpace(reason))
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to AppointmentStatus, reason string) (*Appointment, error) {
	var eventType string
	switch to {
	case StatusCompleted:
		eventType = EventAppointmentCompleted
	case StatusCancelled:
		eventType = EventAppointmentCancelled
	case StatusNoShow:
		eventType = EventAppointmentNoShow
	default:
		return nil, fmt.Errorf("%w: -> %s", ErrInvalidTransition, to)
	}

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status != StatusScheduled {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, StatusScheduled, to, reason, s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrConflictingUpdate) || errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	payload := map[string]any{"to": to}
	if reason != "" {
		payload["reason"] = reason
	}
	s.logEvent(ctx, updated.ID, eventType, payload)

	if to == StatusCancelled {
		s.notifyBoth(ctx, updated, notify.EventAppointmentCancelled)
	}

	return updated, nil
}

// GetAppointment returns one appointment.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// GetAppointmentsForListing returns the listing's appointments, soonest first.
func (s *Service) GetAppointmentsForListing(ctx context.Context, listingID string) ([]Appointment, error) {
	appts, err := s.repo.ListByListing(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by listing: %w", err)
	}
	return appts, nil
}

// GetAppointmentsForDate is the calendar for one day: every appointment on
// date that was not cancelled, soonest first. A non-empty partyID keeps only
// meetings where that party is the seller or the buyer.
func (s *Service) GetAppointmentsForDate(ctx context.Context, date, partyID string) ([]Appointment, error) {
	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), s.loc)
	if err != nil {
		return nil, ErrInvalidDate
	}
	appts, err := s.repo.ListForDate(ctx, day.Format(dateLayout), strings.TrimSpace(partyID))
	if err != nil {
		return nil, fmt.Errorf("list appointments for %s: %w", date, err)
	}
	return appts, nil
}

// UpcomingAppointments returns scheduled appointments starting within
// window from now.
func (s *Service) UpcomingAppointments(ctx context.Context, window time.Duration) ([]Appointment, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	now := s.now().In(s.loc)
	until := now.Add(window)

	candidates, err := s.repo.ListScheduledBetween(ctx, now, until)
	if err != nil {
		return nil, fmt.Errorf("list scheduled appointments: %w", err)
	}

	var upcoming []Appointment
	for _, a := range candidates {
		start, err := a.StartsAt(s.loc)
		if err != nil {
			log.Printf("skipping appointment with unreadable start: %v", err)
			continue
		}
		if start.Before(now) || start.After(until) {
			continue
		}
		upcoming = append(upcoming, a)
	}
	return upcoming, nil
}

// MarkNotificationSent records that role was reached on channel.
func (s *Service) MarkNotificationSent(ctx context.Context, id uuid.UUID, role notify.Role, ch notify.Channel) error {
	var probe Notifications
	if !probe.Mark(role, ch) {
		return ErrUnknownRecipientField
	}
	if err := s.repo.MarkNotification(ctx, id, role, ch, s.now().UTC()); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return err
		}
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// RecordDelivery implements notify.DeliveryRecorder for notifications that
// carry an appointment_id; other notifications are ignored.
func (s *Service) RecordDelivery(ctx context.Context, n notify.Notification) error {
	raw, ok := n.Payload["appointment_id"].(string)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("notification %s: bad appointment_id %q: %w", n.ID, raw, err)
	}
	return s.MarkNotificationSent(ctx, id, n.Role, n.Channel)
}

// notifyBoth fans an event out to both parties on every channel. Failures are
// logged; the appointment change stands regardless.
func (s *Service) notifyBoth(ctx context.Context, a *Appointment, ev notify.EventType) {
	payload := map[string]any{
		"appointment_id": a.ID.String(),
		"listing_id":     a.ListingID,
		"offer_id":       a.OfferID.String(),
		"date":           a.ScheduledDate,
		"time":           a.ScheduledTime,
		"duration":       a.Duration,
		"address":        a.Location.Address,
		"meeting_type":   string(a.Location.MeetingType),
		"navigation_url": NavigationURL(a.Location.Address),
	}
	if a.CancelReason != "" {
		payload["reason"] = a.CancelReason
	}

	parties := []struct {
		id   string
		role notify.Role
	}{
		{a.SellerID, notify.RoleSeller},
		{a.BuyerID, notify.RoleBuyer},
	}
	for _, p := range parties {
		for _, ch := range notify.AllChannels {
			n := notify.New(p.id, p.role, ch, ev, payload)
			if err := s.dispatcher.Notify(ctx, n); err != nil {
				log.Printf("failed to dispatch %s to %s %s via %s: %v", ev, p.role, p.id, ch, err)
			}
		}
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}
}
