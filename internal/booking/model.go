package booking

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	StatusConfirmed BookingStatus = "confirmed"
)

type Mentor struct {
	ID          uuid.UUID
	Name        string
	Email       string
	MeetingLink *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Slot is a bookable half-hour window for a mentor. Hold state lives on the
// slot row itself so every instance observes the same source of truth.
type Slot struct {
	ID            uuid.UUID
	MentorID      uuid.UUID
	Day           time.Time
	StartTime     string
	EndTime       string
	IsBooked      bool
	IsReserved    bool
	ReservedBy    *uuid.UUID
	ReservedUntil *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HoldActive reports whether the slot carries a non-expired hold. A hold whose
// expiry has passed is logically absent even before any sweep clears it.
func (s *Slot) HoldActive(now time.Time) bool {
	return s.IsReserved && s.ReservedUntil != nil && s.ReservedUntil.After(now)
}

// HeldBy reports whether the slot carries a live hold owned by requester.
func (s *Slot) HeldBy(requester uuid.UUID, now time.Time) bool {
	return s.HoldActive(now) && s.ReservedBy != nil && *s.ReservedBy == requester
}

// SlotHold is the caller-facing view of a granted hold.
type SlotHold struct {
	SlotID      uuid.UUID
	MentorID    uuid.UUID
	RequesterID uuid.UUID
	ExpiresAt   time.Time
}

func (h *SlotHold) RemainingSeconds(now time.Time) int {
	remaining := int(h.ExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

type RequesterInfo struct {
	Name  string
	Email string
	Phone string
}

// Order is the local record of a provider-minted payment order. The ID is
// assigned by the provider; booking context is duplicated into provider-side
// notes so a webhook arriving on another instance can recover it.
type Order struct {
	ID          string
	Amount      int64
	Currency    string
	SlotID      uuid.UUID
	MentorID    uuid.UUID
	SessionType string
	Requester   RequesterInfo
	CreatedAt   time.Time
}

type Booking struct {
	ID          uuid.UUID
	OrderID     string
	PaymentID   string
	SlotID      uuid.UUID
	MentorID    uuid.UUID
	SessionType string
	Requester   RequesterInfo
	MeetingLink string
	Status      BookingStatus
	ConfirmedAt time.Time
	CreatedAt   time.Time
}

type BookingEvent struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	SlotID    *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
