package offer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/classifieds-negotiation/internal/config"
)

const (
	EventOfferCreated         = "OFFER_CREATED"
	EventOfferAccepted        = "OFFER_ACCEPTED"
	EventOfferRejected        = "OFFER_REJECTED"
	EventOfferCountered       = "OFFER_COUNTERED"
	EventOfferCounterAccepted = "OFFER_COUNTER_ACCEPTED"
	EventOfferCounterDeclined = "OFFER_COUNTER_DECLINED"
	EventOfferExpired         = "OFFER_EXPIRED"
)

var (
	ErrInvalidAmount     = errors.New("offer amount must be positive")
	ErrInvalidOffer      = errors.New("listing and buyer are required")
	ErrInvalidTransition = errors.New("invalid offer status transition")
	ErrCounterRequired   = errors.New("counter offer requires an amount")
	ErrOfferExpired      = errors.New("offer has expired")
	ErrNotOfferBuyer     = errors.New("only the buyer who made the offer may respond to the counter")
)

// CounterInput is the seller's counter proposal.
type CounterInput struct {
	Amount  int64
	Message string
}

type Service struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time
}

func NewService(repo Repository, cfg config.Config) *Service {
	ttl := cfg.OfferTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		repo: repo,
		ttl:  ttl,
		now:  time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateOffer opens a new pending offer. A buyer may hold only one pending or
// accepted offer per listing; resubmitting after a counter, rejection or
// expiry is allowed.
func (s *Service) CreateOffer(ctx context.Context, listingID, buyerID, buyerName string, amount int64, message string) (*Offer, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	listingID = strings.TrimSpace(listingID)
	buyerID = strings.TrimSpace(buyerID)
	if listingID == "" || buyerID == "" {
		return nil, ErrInvalidOffer
	}

	now := s.now().UTC()

	// an offer that timed out but was not swept yet must not block the thread
	if _, err := s.expire(ctx, now, listingID, "create"); err != nil {
		return nil, err
	}

	if _, err := s.repo.FindOpenForThread(ctx, listingID, buyerID); err == nil {
		return nil, ErrOpenOffer
	} else if !errors.Is(err, ErrOfferNotFound) {
		return nil, fmt.Errorf("check open offer: %w", err)
	}

	o := &Offer{
		ID:        uuid.New(),
		ListingID: listingID,
		BuyerID:   buyerID,
		BuyerName: strings.TrimSpace(buyerName),
		Amount:    amount,
		Message:   message,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.Insert(ctx, o); err != nil {
		if errors.Is(err, ErrOpenOffer) {
			return nil, err
		}
		return nil, fmt.Errorf("create offer: %w", err)
	}

	s.logEvent(ctx, o.ID, EventOfferCreated, map[string]any{
		"listing_id": listingID,
		"buyer_id":   buyerID,
		"amount":     amount,
		"expires_at": o.ExpiresAt,
	})

	return o, nil
}

// UpdateOfferStatus applies the seller's response to a pending offer.
// to must be accepted, rejected or countered; countered needs a counter.
func (s *Service) UpdateOfferStatus(ctx context.Context, id uuid.UUID, to OfferStatus, counter *CounterInput) (*Offer, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load offer: %w", err)
	}

	if o.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}

	var eventType string
	var stored *Counter
	switch to {
	case StatusAccepted:
		eventType = EventOfferAccepted
	case StatusRejected:
		eventType = EventOfferRejected
	case StatusCountered:
		if counter == nil {
			return nil, ErrCounterRequired
		}
		if counter.Amount <= 0 {
			return nil, ErrInvalidAmount
		}
		eventType = EventOfferCountered
	default:
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}

	now := s.now().UTC()

	if o.expiredAt(now) {
		if _, err := s.repo.UpdateStatus(ctx, o.ID, StatusPending, StatusExpired, nil, now); err != nil &&
			!errors.Is(err, ErrConflictingUpdate) {
			log.Printf("failed to mark offer %s as expired during update: %v", o.ID, err)
		} else if err == nil {
			s.logEvent(ctx, o.ID, EventOfferExpired, map[string]any{"reason": "update_after_expiry"})
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, ErrOfferExpired)
	}

	if to == StatusCountered {
		stored = &Counter{Amount: counter.Amount, Message: counter.Message, CreatedAt: now}
	}

	updated, err := s.repo.UpdateStatus(ctx, o.ID, StatusPending, to, stored, now)
	if err != nil {
		if errors.Is(err, ErrConflictingUpdate) || errors.Is(err, ErrOfferNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update offer status: %w", err)
	}

	payload := map[string]any{"from": StatusPending, "to": to}
	if stored != nil {
		payload["counter_amount"] = stored.Amount
	}
	s.logEvent(ctx, updated.ID, eventType, payload)

	return updated, nil
}

// AcceptCounter is the buyer taking the seller's counter. The offer moves
// countered -> accepted and AgreedAmount becomes the counter amount.
func (s *Service) AcceptCounter(ctx context.Context, id uuid.UUID, buyerID string) (*Offer, error) {
	return s.answerCounter(ctx, id, buyerID, StatusAccepted, EventOfferCounterAccepted)
}

// DeclineCounter is the buyer turning the counter down; the thread closes as
// rejected.
func (s *Service) DeclineCounter(ctx context.Context, id uuid.UUID, buyerID string) (*Offer, error) {
	return s.answerCounter(ctx, id, buyerID, StatusRejected, EventOfferCounterDeclined)
}

func (s *Service) answerCounter(ctx context.Context, id uuid.UUID, buyerID string, to OfferStatus, eventType string) (*Offer, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load offer: %w", err)
	}
	if o.BuyerID != buyerID {
		return nil, ErrNotOfferBuyer
	}
	if o.Status != StatusCountered {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}

	now := s.now().UTC()
	if to == StatusAccepted && o.expiredAt(now) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, ErrOfferExpired)
	}

	updated, err := s.repo.UpdateStatus(ctx, o.ID, StatusCountered, to, nil, now)
	if err != nil {
		if errors.Is(err, ErrConflictingUpdate) || errors.Is(err, ErrOpenOffer) || errors.Is(err, ErrOfferNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("answer counter offer: %w", err)
	}

	s.logEvent(ctx, updated.ID, eventType, map[string]any{"buyer_id": buyerID})
	return updated, nil
}

// GetOffer returns one offer.
func (s *Service) GetOffer(ctx context.Context, id uuid.UUID) (*Offer, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get offer: %w", err)
	}
	return o, nil
}

// GetOffersForListing returns the listing's offers, newest first. Timed-out
// pending offers on the listing are expired before reading.
func (s *Service) GetOffersForListing(ctx context.Context, listingID string) ([]Offer, error) {
	if _, err := s.expire(ctx, s.now().UTC(), listingID, "read"); err != nil {
		return nil, err
	}
	offers, err := s.repo.ListByListing(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("list offers by listing: %w", err)
	}
	return offers, nil
}

// GetOffersForListings returns the offers on any of the listings, newest
// first, after expiring timed-out pending offers on each of them.
func (s *Service) GetOffersForListings(ctx context.Context, listingIDs []string) ([]Offer, error) {
	if len(listingIDs) == 0 {
		return nil, nil
	}
	now := s.now().UTC()
	for _, id := range listingIDs {
		if _, err := s.expire(ctx, now, id, "read"); err != nil {
			return nil, err
		}
	}
	offers, err := s.repo.ListByListings(ctx, listingIDs)
	if err != nil {
		return nil, fmt.Errorf("list offers by listings: %w", err)
	}
	return offers, nil
}

// GetOffersForBuyer returns every offer a buyer has made, newest first.
func (s *Service) GetOffersForBuyer(ctx context.Context, buyerID string) ([]Offer, error) {
	offers, err := s.repo.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("list offers by buyer: %w", err)
	}
	return offers, nil
}

// SweepExpired moves every pending offer with expires_at <= now to expired
// and returns how many it moved. Running it again with the same now is a
// no-op.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	return s.expire(ctx, now.UTC(), "", "worker")
}

func (s *Service) expire(ctx context.Context, now time.Time, listingID, reason string) (int, error) {
	expired, err := s.repo.ExpirePending(ctx, now, listingID)
	if err != nil {
		return 0, fmt.Errorf("expire pending offers: %w", err)
	}
	for _, o := range expired {
		s.logEvent(ctx, o.ID, EventOfferExpired, map[string]any{
			"reason":     reason,
			"expires_at": o.ExpiresAt,
		})
	}
	return len(expired), nil
}

func (s *Service) logEvent(ctx context.Context, offerID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	id := offerID

	ev := EventLog{
		EventType: eventType,
		OfferID:   &id,
		Payload:   data,
		CreatedAt: s.now().UTC(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for offer %s: %v", eventType, offerID, err)
	}
}
