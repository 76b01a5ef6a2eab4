package api

import (
	"time"

	"github.com/google/uuid"
)

type HoldSlotRequest struct {
	SlotID      string `json:"slotId" validate:"required,uuid"`
	RequesterID string `json:"requesterId" validate:"required,uuid"`
	MentorID    string `json:"mentorId" validate:"required,uuid"`
}

type HoldSlotResponse struct {
	ExpiresAt        time.Time `json:"expiresAt"`
	RemainingSeconds int       `json:"remainingSeconds"`
}

type RequesterInfoPayload struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone"`
}

type CreateOrderRequest struct {
	Amount        int64                `json:"amount" validate:"required,gt=0"`
	Currency      string               `json:"currency"`
	SlotID        string               `json:"slotId" validate:"required,uuid"`
	MentorID      string               `json:"mentorId" validate:"required,uuid"`
	SessionType   string               `json:"sessionType" validate:"required"`
	RequesterInfo RequesterInfoPayload `json:"requesterInfo" validate:"required"`
}

type CreateOrderResponse struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type ConfirmBookingRequest struct {
	SlotID      string               `json:"slotId" validate:"required,uuid"`
	MentorID    string               `json:"mentorId" validate:"required,uuid"`
	SessionType string               `json:"sessionType" validate:"required"`
	UserDetails RequesterInfoPayload `json:"userDetails" validate:"required"`
	PaymentID   string               `json:"paymentId" validate:"required"`
	OrderID     string               `json:"orderId" validate:"required"`
}

type BookingResponse struct {
	ID          uuid.UUID `json:"id"`
	OrderID     string    `json:"orderId"`
	PaymentID   string    `json:"paymentId"`
	SlotID      uuid.UUID `json:"slotId"`
	MentorID    uuid.UUID `json:"mentorId"`
	SessionType string    `json:"sessionType"`
	MeetingLink string    `json:"meetingLink"`
	Status      string    `json:"status"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

type ConfirmBookingResponse struct {
	Booking BookingResponse `json:"booking"`
}

type SlotResponse struct {
	ID            uuid.UUID  `json:"id"`
	MentorID      uuid.UUID  `json:"mentorId"`
	Date          string     `json:"date"`
	StartTime     string     `json:"startTime"`
	EndTime       string     `json:"endTime"`
	IsBooked      bool       `json:"isBooked"`
	IsReserved    bool       `json:"isReserved"`
	ReservedUntil *time.Time `json:"reservedUntil,omitempty"`
}

type WebhookResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
