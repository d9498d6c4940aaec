package offer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrOfferNotFound     = errors.New("offer not found")
	ErrConflictingUpdate = errors.New("offer status changed concurrently")
	ErrOpenOffer         = errors.New("buyer already has an open offer on this listing")
)

// Repository contains all storage interactions needed by the service.
// Implementations enforce at most one pending-or-accepted offer per
// (listing, buyer) on both Insert and UpdateStatus.
type Repository interface {
	Insert(ctx context.Context, o *Offer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Offer, error)

	// Newest first
	ListByListing(ctx context.Context, listingID string) ([]Offer, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]Offer, error)
	// ListByListings returns offers on any of the listings, newest first.
	ListByListings(ctx context.Context, listingIDs []string) ([]Offer, error)

	// FindOpenForThread returns ErrOfferNotFound when the thread is free.
	FindOpenForThread(ctx context.Context, listingID, buyerID string) (*Offer, error)

	// UpdateStatus is a compare-and-set: it only writes when the stored status
	// still equals from, and returns ErrConflictingUpdate otherwise. A non-nil
	// counter replaces the stored one.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to OfferStatus, counter *Counter, at time.Time) (*Offer, error)

	// ExpirePending moves pending offers with expires_at <= now to expired and
	// returns the ones it moved. An empty listingID sweeps every listing.
	ExpirePending(ctx context.Context, now time.Time, listingID string) ([]Offer, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
