package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanMentor(row pgx.Row) (*Mentor, error) {
	var m Mentor
	var link *string

	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.Email,
		&link,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMentorNotFound
		}
		return nil, err
	}

	m.MeetingLink = link
	return &m, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var reservedBy *uuid.UUID
	var reservedUntil *time.Time

	err := row.Scan(
		&s.ID,
		&s.MentorID,
		&s.Day,
		&s.StartTime,
		&s.EndTime,
		&s.IsBooked,
		&s.IsReserved,
		&reservedBy,
		&reservedUntil,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.ReservedBy = reservedBy
	s.ReservedUntil = reservedUntil
	return &s, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order

	err := row.Scan(
		&o.ID,
		&o.Amount,
		&o.Currency,
		&o.SlotID,
		&o.MentorID,
		&o.SessionType,
		&o.Requester.Name,
		&o.Requester.Email,
		&o.Requester.Phone,
		&o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	return &o, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking

	err := row.Scan(
		&b.ID,
		&b.OrderID,
		&b.PaymentID,
		&b.SlotID,
		&b.MentorID,
		&b.SessionType,
		&b.Requester.Name,
		&b.Requester.Email,
		&b.Requester.Phone,
		&b.MeetingLink,
		&b.Status,
		&b.ConfirmedAt,
		&b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	return &b, nil
}

// Interface methods

func (r *PgRepository) GetMentorByID(ctx context.Context, id uuid.UUID) (*Mentor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, meeting_link, created_at, updated_at
		FROM mentors
		WHERE id = $1
	`, id)
	return scanMentor(row)
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, mentor_id, day, start_time, end_time, is_booked, is_reserved,
		       reserved_by, reserved_until, created_at, updated_at
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListSlotsByMentor(ctx context.Context, mentorID uuid.UUID) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, mentor_id, day, start_time, end_time, is_booked, is_reserved,
		       reserved_by, reserved_until, created_at, updated_at
		FROM slots
		WHERE mentor_id = $1
		ORDER BY day, start_time
	`, mentorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// HoldSlot admits the hold in one conditional UPDATE so the check-and-set is
// atomic in the store, not a read-then-write pair in this process.
func (r *PgRepository) HoldSlot(ctx context.Context, slotID, requesterID uuid.UUID, until time.Time) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE slots
		SET is_reserved = TRUE,
		    reserved_by = $2,
		    reserved_until = $3,
		    updated_at = now()
		WHERE id = $1
		  AND is_booked = FALSE
		  AND (is_reserved = FALSE OR reserved_until < now() OR reserved_by = $2)
		RETURNING id, mentor_id, day, start_time, end_time, is_booked, is_reserved,
		          reserved_by, reserved_until, created_at, updated_at
	`, slotID, requesterID, until)

	s, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, ErrHoldNotAdmitted
		}
		return nil, err
	}

	return s, nil
}

func (r *PgRepository) ReleaseHold(ctx context.Context, slotID, requesterID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET is_reserved = FALSE,
		    reserved_by = NULL,
		    reserved_until = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND reserved_by = $2
	`, slotID, requesterID)
	if err != nil {
		return fmt.Errorf("release hold: %w", err)
	}

	return nil
}

func (r *PgRepository) ClearExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET is_reserved = FALSE,
		    reserved_by = NULL,
		    reserved_until = NULL,
		    updated_at = now()
		WHERE is_reserved = TRUE
		  AND reserved_until < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("clear expired holds: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (r *PgRepository) MarkSlotBooked(ctx context.Context, slotID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET is_booked = TRUE,
		    is_reserved = FALSE,
		    reserved_by = NULL,
		    reserved_until = NULL,
		    updated_at = now()
		WHERE id = $1
	`, slotID)
	if err != nil {
		return fmt.Errorf("mark slot booked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}

	return nil
}

func (r *PgRepository) CreateOrder(ctx context.Context, o *Order) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO orders (id, amount, currency, slot_id, mentor_id, session_type,
		                    requester_name, requester_email, requester_phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()))
	`, o.ID, o.Amount, o.Currency, o.SlotID, o.MentorID, o.SessionType,
		o.Requester.Name, o.Requester.Email, o.Requester.Phone, nullableTime(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

func (r *PgRepository) GetOrderByID(ctx context.Context, id string) (*Order, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, amount, currency, slot_id, mentor_id, session_type,
		       requester_name, requester_email, requester_phone, created_at
		FROM orders
		WHERE id = $1
	`, id)
	return scanOrder(row)
}

func (r *PgRepository) CreateBooking(ctx context.Context, b *Booking) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bookings (id, order_id, payment_id, slot_id, mentor_id, session_type,
		                      requester_name, requester_email, requester_phone,
		                      meeting_link, status, confirmed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, b.ID, b.OrderID, b.PaymentID, b.SlotID, b.MentorID, b.SessionType,
		b.Requester.Name, b.Requester.Email, b.Requester.Phone,
		b.MeetingLink, b.Status, b.ConfirmedAt, b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateOrderBooking
		}
		return fmt.Errorf("insert booking: %w", err)
	}

	return nil
}

func (r *PgRepository) GetBookingByOrderID(ctx context.Context, orderID string) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, order_id, payment_id, slot_id, mentor_id, session_type,
		       requester_name, requester_email, requester_phone,
		       meeting_link, status, confirmed_at, created_at
		FROM bookings
		WHERE order_id = $1
	`, orderID)
	return scanBooking(row)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev BookingEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO booking_events (event_type, booking_id, slot_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.BookingID, ev.SlotID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert booking event: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
