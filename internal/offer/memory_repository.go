package offer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps offers in process memory. Every method runs under
// one mutex, so UpdateStatus is a true compare-and-set.
type MemoryRepository struct {
	mu     sync.Mutex
	offers map[uuid.UUID]*memOffer
	seq    int64
	events []EventLog
}

type memOffer struct {
	Offer
	seq int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{offers: make(map[uuid.UUID]*memOffer)}
}

func (r *MemoryRepository) Insert(_ context.Context, o *Offer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o.Status.Open() && r.openLocked(o.ListingID, o.BuyerID, o.ID) != nil {
		return ErrOpenOffer
	}
	r.seq++
	r.offers[o.ID] = &memOffer{Offer: clone(*o), seq: r.seq}
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.offers[id]
	if !ok {
		return nil, ErrOfferNotFound
	}
	o := clone(m.Offer)
	return &o, nil
}

func (r *MemoryRepository) ListByListing(_ context.Context, listingID string) ([]Offer, error) {
	return r.list(func(o *Offer) bool { return o.ListingID == listingID }), nil
}

func (r *MemoryRepository) ListByBuyer(_ context.Context, buyerID string) ([]Offer, error) {
	return r.list(func(o *Offer) bool { return o.BuyerID == buyerID }), nil
}

func (r *MemoryRepository) ListByListings(_ context.Context, listingIDs []string) ([]Offer, error) {
	want := make(map[string]bool, len(listingIDs))
	for _, id := range listingIDs {
		want[id] = true
	}
	return r.list(func(o *Offer) bool { return want[o.ListingID] }), nil
}

func (r *MemoryRepository) FindOpenForThread(_ context.Context, listingID, buyerID string) (*Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.openLocked(listingID, buyerID, uuid.Nil)
	if m == nil {
		return nil, ErrOfferNotFound
	}
	o := clone(m.Offer)
	return &o, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to OfferStatus, counter *Counter, at time.Time) (*Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.offers[id]
	if !ok {
		return nil, ErrOfferNotFound
	}
	if m.Status != from {
		return nil, ErrConflictingUpdate
	}
	if to.Open() && !from.Open() && r.openLocked(m.ListingID, m.BuyerID, m.ID) != nil {
		return nil, ErrOpenOffer
	}

	m.Status = to
	m.UpdatedAt = at
	if counter != nil {
		c := *counter
		m.CounterOffer = &c
	}
	o := clone(m.Offer)
	return &o, nil
}

func (r *MemoryRepository) ExpirePending(_ context.Context, now time.Time, listingID string) ([]Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []Offer
	for _, m := range r.offers {
		if m.Status != StatusPending || !m.expiredAt(now) {
			continue
		}
		if listingID != "" && m.ListingID != listingID {
			continue
		}
		m.Status = StatusExpired
		m.UpdatedAt = now
		expired = append(expired, clone(m.Offer))
	}
	return expired, nil
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

func (r *MemoryRepository) openLocked(listingID, buyerID string, except uuid.UUID) *memOffer {
	for id, m := range r.offers {
		if id == except {
			continue
		}
		if m.ListingID == listingID && m.BuyerID == buyerID && m.Status.Open() {
			return m
		}
	}
	return nil
}

func (r *MemoryRepository) list(match func(*Offer) bool) []Offer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var hits []*memOffer
	for _, m := range r.offers {
		if match(&m.Offer) {
			hits = append(hits, m)
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].CreatedAt.Equal(hits[j].CreatedAt) {
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		}
		return hits[i].seq > hits[j].seq
	})

	out := make([]Offer, 0, len(hits))
	for _, m := range hits {
		out = append(out, clone(m.Offer))
	}
	return out
}

func clone(o Offer) Offer {
	if o.CounterOffer != nil {
		c := *o.CounterOffer
		o.CounterOffer = &c
	}
	return o
}
