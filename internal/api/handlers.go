package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mentorbook/mentorship-booking/internal/booking"
	"github.com/mentorbook/mentorship-booking/internal/payment"
	redisclient "github.com/mentorbook/mentorship-booking/internal/redis"
)

// BookingService is the surface the handlers need from the booking core.
type BookingService interface {
	MentorAvailability(ctx context.Context, mentorID uuid.UUID) ([]booking.Slot, error)
	HoldSlot(ctx context.Context, slotID, requesterID, mentorID uuid.UUID) (*booking.SlotHold, error)
	ReleaseHold(ctx context.Context, slotID, requesterID uuid.UUID) error
	CreateOrder(ctx context.Context, in booking.CreateOrderInput) (*booking.Order, error)
	HandlePaymentEvent(ctx context.Context, body []byte, signature string) (*booking.WebhookOutcome, error)
	Finalize(ctx context.Context, in booking.FinalizeInput) (*booking.Booking, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func availabilityHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mentorID, err := uuid.Parse(chi.URLParam(r, "mentorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_mentor_id", "mentorID must be a valid UUID")
			return
		}

		slots, err := svc.MentorAvailability(r.Context(), mentorID)
		if err != nil {
			if errors.Is(err, booking.ErrMentorNotFound) {
				writeError(w, http.StatusNotFound, "mentor_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, SlotResponse{
				ID:            s.ID,
				MentorID:      s.MentorID,
				Date:          s.Day.Format("2006-01-02"),
				StartTime:     s.StartTime,
				EndTime:       s.EndTime,
				IsBooked:      s.IsBooked,
				IsReserved:    s.IsReserved,
				ReservedUntil: s.ReservedUntil,
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func holdSlotHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req HoldSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		slotID, _ := uuid.Parse(req.SlotID)
		requesterID, _ := uuid.Parse(req.RequesterID)
		mentorID, _ := uuid.Parse(req.MentorID)

		hold, err := svc.HoldSlot(r.Context(), slotID, requesterID, mentorID)
		if err != nil {
			handleHoldError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, HoldSlotResponse{
			ExpiresAt:        hold.ExpiresAt,
			RemainingSeconds: hold.RemainingSeconds(time.Now()),
		})
	}
}

func releaseHoldHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, err := uuid.Parse(r.URL.Query().Get("slotId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slotId must be a valid UUID")
			return
		}
		requesterID, err := uuid.Parse(r.URL.Query().Get("requesterId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_requester_id", "requesterId must be a valid UUID")
			return
		}

		if err := svc.ReleaseHold(r.Context(), slotID, requesterID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
	}
}

func createOrderHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		slotID, _ := uuid.Parse(req.SlotID)
		mentorID, _ := uuid.Parse(req.MentorID)

		order, err := svc.CreateOrder(r.Context(), booking.CreateOrderInput{
			Amount:      req.Amount,
			Currency:    req.Currency,
			SlotID:      slotID,
			MentorID:    mentorID,
			SessionType: req.SessionType,
			Requester: booking.RequesterInfo{
				Name:  req.RequesterInfo.Name,
				Email: req.RequesterInfo.Email,
				Phone: req.RequesterInfo.Phone,
			},
		})
		if err != nil {
			handleCreateOrderError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, CreateOrderResponse{
			OrderID:  order.ID,
			Amount:   order.Amount,
			Currency: order.Currency,
		})
	}
}

func webhookHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "read_body_failed", err.Error())
			return
		}

		signature := r.Header.Get("X-Razorpay-Signature")

		outcome, err := svc.HandlePaymentEvent(r.Context(), body, signature)
		if err != nil {
			// 500 on verification and system failures so the provider retries.
			if errors.Is(err, payment.ErrInvalidSignature) {
				writeError(w, http.StatusInternalServerError, "invalid_signature", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "webhook_failed", err.Error())
			return
		}

		status := "ignored"
		switch outcome.Kind {
		case payment.EventPaymentCaptured, payment.EventOrderPaid:
			status = "processed"
		case payment.EventPaymentFailed:
			status = "recorded"
		}

		writeJSON(w, http.StatusOK, WebhookResponse{Status: status})
	}
}

func confirmBookingHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConfirmBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		slotID, _ := uuid.Parse(req.SlotID)
		mentorID, _ := uuid.Parse(req.MentorID)

		b, err := svc.Finalize(r.Context(), booking.FinalizeInput{
			OrderID:     req.OrderID,
			PaymentID:   req.PaymentID,
			SlotID:      slotID,
			MentorID:    mentorID,
			SessionType: req.SessionType,
			Requester: booking.RequesterInfo{
				Name:  req.UserDetails.Name,
				Email: req.UserDetails.Email,
				Phone: req.UserDetails.Phone,
			},
		})
		if err != nil {
			handleConfirmError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, ConfirmBookingResponse{Booking: toBookingResponse(b)})
	}
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:          b.ID,
		OrderID:     b.OrderID,
		PaymentID:   b.PaymentID,
		SlotID:      b.SlotID,
		MentorID:    b.MentorID,
		SessionType: b.SessionType,
		MeetingLink: b.MeetingLink,
		Status:      string(b.Status),
		ConfirmedAt: b.ConfirmedAt,
	}
}

func handleHoldError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotBooked):
		writeError(w, http.StatusConflict, "slot_booked", err.Error())
	case errors.Is(err, booking.ErrSlotHeld):
		writeError(w, http.StatusConflict, "slot_held", err.Error())
	case errors.Is(err, booking.ErrSlotBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_busy", "slot is being held right now, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleCreateOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrInvalidOrder),
		errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, booking.ErrProviderUnavailable):
		writeError(w, http.StatusBadGateway, "upstream_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleConfirmError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrMentorNotFound),
		errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, booking.ErrHoldExpired):
		writeError(w, http.StatusConflict, "hold_expired", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
