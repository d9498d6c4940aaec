// Package listing reads marketplace listings. Listings are owned by the
// listing subsystem; nothing here mutates them.
package listing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrListingNotFound = errors.New("listing not found")

type Listing struct {
	ID        string
	SellerID  string
	Title     string
	Price     int64 // minor currency units
	CreatedAt time.Time
}

type Reader interface {
	GetListing(ctx context.Context, id string) (*Listing, error)
	// ListBySeller returns the seller's listings, newest first.
	ListBySeller(ctx context.Context, sellerID string) ([]Listing, error)
}

type PgReader struct {
	pool *pgxpool.Pool
}

func NewPgReader(pool *pgxpool.Pool) *PgReader {
	return &PgReader{pool: pool}
}

func (r *PgReader) GetListing(ctx context.Context, id string) (*Listing, error) {
	var l Listing
	err := r.pool.QueryRow(ctx, `
		SELECT id, seller_id, title, price, created_at
		FROM listings
		WHERE id = $1
	`, id).Scan(&l.ID, &l.SellerID, &l.Title, &l.Price, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("load listing %s: %w", id, err)
	}
	return &l, nil
}

func (r *PgReader) ListBySeller(ctx context.Context, sellerID string) ([]Listing, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, seller_id, title, price, created_at
		FROM listings
		WHERE seller_id = $1
		ORDER BY created_at DESC, id
	`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list listings for seller %s: %w", sellerID, err)
	}
	defer rows.Close()

	var out []Listing
	for rows.Next() {
		var l Listing
		if err := rows.Scan(&l.ID, &l.SellerID, &l.Title, &l.Price, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MemoryReader is a fixed in-process listing catalogue.
type MemoryReader struct {
	mu       sync.RWMutex
	listings map[string]Listing
}

func NewMemoryReader(listings ...Listing) *MemoryReader {
	m := &MemoryReader{listings: make(map[string]Listing, len(listings))}
	for _, l := range listings {
		m.listings[l.ID] = l
	}
	return m
}

func (m *MemoryReader) Put(l Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.ID] = l
}

func (m *MemoryReader) GetListing(_ context.Context, id string) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	return &l, nil
}

func (m *MemoryReader) ListBySeller(_ context.Context, sellerID string) ([]Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Listing
	for _, l := range m.listings {
		if l.SellerID == sellerID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
