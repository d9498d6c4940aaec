package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/classifieds-negotiation/internal/db"
	"github.com/hackgods/classifieds-negotiation/internal/notify"
)

const (
	appointmentColumns = `id, listing_id, offer_id, seller_id, buyer_id, scheduled_date, scheduled_time,
		duration_min, address, meeting_type, notes, status, cancel_reason, notifications, created_at, updated_at`

	scheduledOfferIndex = "appointments_scheduled_offer_uniq"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var notifications []byte

	err := row.Scan(
		&a.ID,
		&a.ListingID,
		&a.OfferID,
		&a.SellerID,
		&a.BuyerID,
		&date,
		&a.ScheduledTime,
		&a.Duration,
		&a.Location.Address,
		&a.Location.MeetingType,
		&a.Location.Notes,
		&a.Status,
		&a.CancelReason,
		&notifications,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.ScheduledDate = date.Format(dateLayout)
	if len(notifications) > 0 {
		if err := json.Unmarshal(notifications, &a.Notifications); err != nil {
			return nil, fmt.Errorf("decode notifications for %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) Insert(ctx context.Context, a *Appointment) error {
	notifications, err := json.Marshal(a.Notifications)
	if err != nil {
		return fmt.Errorf("encode notifications: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO appointments (id, listing_id, offer_id, seller_id, buyer_id, scheduled_date, scheduled_time,
			duration_min, address, meeting_type, notes, status, cancel_reason, notifications, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $10, $11, $12, '', $13, $14, $14)
	`, a.ID, a.ListingID, a.OfferID, a.SellerID, a.BuyerID, a.ScheduledDate, a.ScheduledTime,
		a.Duration, a.Location.Address, a.Location.MeetingType, a.Location.Notes, a.Status, string(notifications), a.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, scheduledOfferIndex) {
			return ErrDuplicateAppointment
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindScheduledForOffer(ctx context.Context, offerID uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE offer_id = $1 AND status = 'scheduled'
	`, offerID)
	return scanAppointment(row)
}

func (r *PgRepository) ListByListing(ctx context.Context, listingID string) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE listing_id = $1
		ORDER BY scheduled_date, scheduled_time, created_at
	`, listingID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListForDate(ctx context.Context, date, partyID string) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE scheduled_date = $1::date
		  AND status <> 'cancelled'
		  AND ($2::text = '' OR seller_id = $2::text OR buyer_id = $2::text)
		ORDER BY scheduled_time, created_at
	`, date, partyID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListScheduledBetween(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND scheduled_date BETWEEN $1::date AND $2::date
		ORDER BY scheduled_date, scheduled_time, created_at
	`, from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, cancelReason string, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancel_reason = CASE WHEN $4::text = '' THEN cancel_reason ELSE $4::text END,
		    updated_at = $5
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from, cancelReason, at)

	a, err := scanAppointment(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check appointment exists: %w", err)
	}
	if !exists {
		return nil, ErrAppointmentNotFound
	}
	return nil, ErrConflictingUpdate
}

func (r *PgRepository) MarkNotification(ctx context.Context, id uuid.UUID, role notify.Role, ch notify.Channel, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET notifications = jsonb_set(notifications, ARRAY[$2::text, $3::text], 'true'::jsonb, true),
		    updated_at = $4
		WHERE id = $1
	`, id, string(role), string(ch), at)
	if err != nil {
		return fmt.Errorf("mark notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	var appID *uuid.UUID
	if ev.AppointmentID != nil {
		appID = ev.AppointmentID
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, entity_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, appID, ev.Payload, nullableTime(ev.CreatedAt))
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
