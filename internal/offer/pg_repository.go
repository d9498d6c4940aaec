package offer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/classifieds-negotiation/internal/db"
)

const (
	offerColumns = `id, listing_id, buyer_id, buyer_name, amount, message, status,
		counter_amount, counter_message, counter_created_at, created_at, updated_at, expires_at`

	openThreadIndex = "offers_open_thread_uniq"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanOffer(row pgx.Row) (*Offer, error) {
	var o Offer
	var counterAmount *int64
	var counterMessage *string
	var counterCreatedAt *time.Time

	err := row.Scan(
		&o.ID,
		&o.ListingID,
		&o.BuyerID,
		&o.BuyerName,
		&o.Amount,
		&o.Message,
		&o.Status,
		&counterAmount,
		&counterMessage,
		&counterCreatedAt,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}

	if counterAmount != nil {
		o.CounterOffer = &Counter{Amount: *counterAmount}
		if counterMessage != nil {
			o.CounterOffer.Message = *counterMessage
		}
		if counterCreatedAt != nil {
			o.CounterOffer.CreatedAt = *counterCreatedAt
		}
	}
	return &o, nil
}

func collectOffers(rows pgx.Rows) ([]Offer, error) {
	defer rows.Close()

	var result []Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) Insert(ctx context.Context, o *Offer) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO offers (id, listing_id, buyer_id, buyer_name, amount, message, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)
	`, o.ID, o.ListingID, o.BuyerID, o.BuyerName, o.Amount, o.Message, o.Status, o.CreatedAt, o.ExpiresAt)
	if err != nil {
		if db.IsUniqueViolation(err, openThreadIndex) {
			return ErrOpenOffer
		}
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Offer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
	return scanOffer(row)
}

func (r *PgRepository) ListByListing(ctx context.Context, listingID string) ([]Offer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE listing_id = $1
		ORDER BY created_at DESC, id
	`, listingID)
	if err != nil {
		return nil, err
	}
	return collectOffers(rows)
}

func (r *PgRepository) ListByBuyer(ctx context.Context, buyerID string) ([]Offer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE buyer_id = $1
		ORDER BY created_at DESC, id
	`, buyerID)
	if err != nil {
		return nil, err
	}
	return collectOffers(rows)
}

func (r *PgRepository) ListByListings(ctx context.Context, listingIDs []string) ([]Offer, error) {
	if len(listingIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE listing_id = ANY($1)
		ORDER BY created_at DESC, id
	`, listingIDs)
	if err != nil {
		return nil, err
	}
	return collectOffers(rows)
}

func (r *PgRepository) FindOpenForThread(ctx context.Context, listingID, buyerID string) (*Offer, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE listing_id = $1
		  AND buyer_id = $2
		  AND status IN ('pending', 'accepted')
	`, listingID, buyerID)
	return scanOffer(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to OfferStatus, counter *Counter, at time.Time) (*Offer, error) {
	var counterAmount *int64
	var counterMessage *string
	var counterCreatedAt *time.Time
	if counter != nil {
		counterAmount = &counter.Amount
		counterMessage = &counter.Message
		counterCreatedAt = &counter.CreatedAt
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE offers
		SET status = $2,
		    counter_amount = COALESCE($4, counter_amount),
		    counter_message = COALESCE($5, counter_message),
		    counter_created_at = COALESCE($6, counter_created_at),
		    updated_at = $7
		WHERE id = $1
		  AND status = $3
		RETURNING `+offerColumns,
		id, to, from, counterAmount, counterMessage, counterCreatedAt, at)

	o, err := scanOffer(row)
	switch {
	case err == nil:
		return o, nil
	case errors.Is(err, ErrOfferNotFound):
		return nil, r.missOrConflict(ctx, id)
	case db.IsUniqueViolation(err, openThreadIndex):
		return nil, ErrOpenOffer
	default:
		return nil, fmt.Errorf("update offer status: %w", err)
	}
}

// missOrConflict explains why a compare-and-set matched no row.
func (r *PgRepository) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM offers WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check offer exists: %w", err)
	}
	if !exists {
		return ErrOfferNotFound
	}
	return ErrConflictingUpdate
}

func (r *PgRepository) ExpirePending(ctx context.Context, now time.Time, listingID string) ([]Offer, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE offers
		SET status = 'expired',
		    updated_at = $1
		WHERE status = 'pending'
		  AND expires_at <= $1
		  AND ($2::text = '' OR listing_id = $2::text)
		RETURNING `+offerColumns,
		now, listingID)
	if err != nil {
		return nil, fmt.Errorf("expire pending offers: %w", err)
	}
	return collectOffers(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, entity_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.OfferID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
