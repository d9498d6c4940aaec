package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/classifieds-negotiation/internal/notify"
)

type MemoryRepository struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]*Appointment
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{appointments: make(map[uuid.UUID]*Appointment)}
}

func (r *MemoryRepository) Insert(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.Status == StatusScheduled && r.scheduledLocked(a.OfferID) != nil {
		return ErrDuplicateAppointment
	}
	cp := *a
	r.appointments[a.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) FindScheduledForOffer(_ context.Context, offerID uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.scheduledLocked(offerID)
	if a == nil {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) ListByListing(_ context.Context, listingID string) ([]Appointment, error) {
	return r.list(func(a *Appointment) bool { return a.ListingID == listingID }), nil
}

func (r *MemoryRepository) ListForDate(_ context.Context, date, partyID string) ([]Appointment, error) {
	return r.list(func(a *Appointment) bool {
		if a.ScheduledDate != date || a.Status == StatusCancelled {
			return false
		}
		return partyID == "" || a.SellerID == partyID || a.BuyerID == partyID
	}), nil
}

func (r *MemoryRepository) ListScheduledBetween(_ context.Context, from, to time.Time) ([]Appointment, error) {
	lo, hi := from.Format(dateLayout), to.Format(dateLayout)
	return r.list(func(a *Appointment) bool {
		return a.Status == StatusScheduled && a.ScheduledDate >= lo && a.ScheduledDate <= hi
	}), nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus, cancelReason string, at time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrConflictingUpdate
	}
	a.Status = to
	a.UpdatedAt = at
	if cancelReason != "" {
		a.CancelReason = cancelReason
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) MarkNotification(_ context.Context, id uuid.UUID, role notify.Role, ch notify.Channel, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.Notifications.Mark(role, ch)
	a.UpdatedAt = at
	return nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventLog(nil), r.events...)
}

func (r *MemoryRepository) scheduledLocked(offerID uuid.UUID) *Appointment {
	for _, a := range r.appointments {
		if a.OfferID == offerID && a.Status == StatusScheduled {
			return a
		}
	}
	return nil
}

func (r *MemoryRepository) list(match func(*Appointment) bool) []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, a := range r.appointments {
		if match(a) {
			out = append(out, *a)
		}
	}
	sortSoonestFirst(out)
	return out
}

func sortSoonestFirst(as []Appointment) {
	sort.Slice(as, func(i, j int) bool {
		if as[i].ScheduledDate != as[j].ScheduledDate {
			return as[i].ScheduledDate < as[j].ScheduledDate
		}
		if as[i].ScheduledTime != as[j].ScheduledTime {
			return as[i].ScheduledTime < as[j].ScheduledTime
		}
		return as[i].CreatedAt.Before(as[j].CreatedAt)
	})
}
