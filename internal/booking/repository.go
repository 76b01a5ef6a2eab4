package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMentorNotFound  = errors.New("mentor not found")
	ErrSlotNotFound    = errors.New("slot not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrBookingNotFound = errors.New("booking not found")

	// ErrHoldNotAdmitted signals that the conditional hold write matched no
	// row: the slot is gone, booked, or live-held by someone else.
	ErrHoldNotAdmitted = errors.New("hold not admitted")

	// ErrDuplicateOrderBooking maps the unique constraint on bookings.order_id.
	// The violation is the idempotency signal, not a failure.
	ErrDuplicateOrderBooking = errors.New("booking already exists for order")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetMentorByID(ctx context.Context, id uuid.UUID) (*Mentor, error)

	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListSlotsByMentor(ctx context.Context, mentorID uuid.UUID) ([]Slot, error)

	// HoldSlot is a single conditional write: the hold is admitted only when
	// the slot is unbooked and carries no live hold by a different requester.
	// Renewal by the current holder extends the expiry.
	HoldSlot(ctx context.Context, slotID, requesterID uuid.UUID, until time.Time) (*Slot, error)
	// ReleaseHold clears the hold only when requesterID is the current holder.
	// Releasing an absent or foreign hold is a no-op.
	ReleaseHold(ctx context.Context, slotID, requesterID uuid.UUID) error
	// ClearExpiredHolds sweeps lapsed holds. Advisory: hold admission re-checks
	// expiry on every write, so correctness never depends on this running.
	ClearExpiredHolds(ctx context.Context, now time.Time) (int64, error)
	MarkSlotBooked(ctx context.Context, slotID uuid.UUID) error

	CreateOrder(ctx context.Context, o *Order) error
	GetOrderByID(ctx context.Context, id string) (*Order, error)

	CreateBooking(ctx context.Context, b *Booking) error
	GetBookingByOrderID(ctx context.Context, orderID string) (*Booking, error)

	// Event logging
	InsertEvent(ctx context.Context, ev BookingEvent) error
}
