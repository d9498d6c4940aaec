package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/classifieds-negotiation/internal/notify"
)

var (
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrDuplicateAppointment = errors.New("offer already has a scheduled appointment")
	ErrConflictingUpdate    = errors.New("appointment status changed concurrently")
)

// Repository contains all storage interactions needed by the service.
type Repository interface {
	// Insert returns ErrDuplicateAppointment if the offer already has a
	// scheduled appointment.
	Insert(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// For conflict checks
	FindScheduledForOffer(ctx context.Context, offerID uuid.UUID) (*Appointment, error)

	// Soonest first
	ListByListing(ctx context.Context, listingID string) ([]Appointment, error)
	// Non-cancelled appointments on date, optionally limited to those where
	// partyID is the seller or buyer; soonest first
	ListForDate(ctx context.Context, date, partyID string) ([]Appointment, error)
	// Scheduled appointments whose date falls in [from, to], soonest first
	ListScheduledBetween(ctx context.Context, from, to time.Time) ([]Appointment, error)

	// UpdateStatus is a compare-and-set on status; ErrConflictingUpdate when
	// the stored status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, cancelReason string, at time.Time) (*Appointment, error)
	MarkNotification(ctx context.Context, id uuid.UUID, role notify.Role, ch notify.Channel, at time.Time) error

	InsertEvent(ctx context.Context, ev EventLog) error
}
