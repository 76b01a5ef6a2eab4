package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mentorbook/mentorship-booking/internal/config"
	"github.com/mentorbook/mentorship-booking/internal/payment"
	redisclient "github.com/mentorbook/mentorship-booking/internal/redis"
)

const (
	EventHoldPlaced       = "HOLD_PLACED"
	EventHoldReleased     = "HOLD_RELEASED"
	EventBookingConfirmed = "BOOKING_CONFIRMED"
	EventPaymentFailed    = "PAYMENT_FAILED"
)

var (
	ErrSlotBooked          = errors.New("slot already booked")
	ErrSlotHeld            = errors.New("slot already held by another requester")
	ErrSlotBusy            = errors.New("slot is being held right now, please retry")
	ErrInvalidOrder        = errors.New("order request missing required fields")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrHoldExpired         = errors.New("slot hold expired before finalize")
	ErrMeetingLinkMissing  = errors.New("mentor has no meeting link configured")
)

// Notifier delivers the best-effort booking notifications. Failures are
// logged, never rolled back: the booking row is the durability boundary.
type Notifier interface {
	NotifyRequesterConfirmed(ctx context.Context, b *Booking, m *Mentor) error
	NotifyMentorBooked(ctx context.Context, b *Booking, m *Mentor) error
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	provider payment.Provider
	notifier Notifier
	cfg      config.Config
	log      *zap.SugaredLogger
}

func NewService(repo Repository, locker redisclient.Locker, provider payment.Provider, notifier Notifier, cfg config.Config, log *zap.SugaredLogger) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		provider: provider,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
}

// HoldSlot grants or renews a time-bounded exclusive hold on a slot. The Redis
// lock keeps concurrent attempts for one slot from interleaving; the store's
// conditional write decides the winner even if the lock is bypassed.
func (s *Service) HoldSlot(ctx context.Context, slotID, requesterID, mentorID uuid.UUID) (*SlotHold, error) {
	var hold *SlotHold

	err := s.locker.WithLock(ctx, redisclient.SlotKey(slotID), func(lockCtx context.Context) error {
		slot, err := s.repo.GetSlotByID(lockCtx, slotID)
		if err != nil {
			if errors.Is(err, ErrSlotNotFound) {
				return err
			}
			return fmt.Errorf("load slot: %w", err)
		}
		if slot.MentorID != mentorID {
			return ErrSlotNotFound
		}
		if slot.IsBooked {
			return ErrSlotBooked
		}

		now := time.Now()
		if slot.HoldActive(now) && !slot.HeldBy(requesterID, now) {
			return ErrSlotHeld
		}

		updated, err := s.repo.HoldSlot(lockCtx, slotID, requesterID, now.Add(s.cfg.HoldDuration))
		if err != nil {
			if errors.Is(err, ErrHoldNotAdmitted) {
				// Lost the store-level race despite the lock.
				return ErrSlotHeld
			}
			return fmt.Errorf("hold slot: %w", err)
		}

		hold = &SlotHold{
			SlotID:      updated.ID,
			MentorID:    updated.MentorID,
			RequesterID: requesterID,
			ExpiresAt:   *updated.ReservedUntil,
		}

		s.logEvent(lockCtx, nil, &slotID, EventHoldPlaced, map[string]any{
			"requester_id": requesterID.String(),
			"expires_at":   hold.ExpiresAt,
		})

		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBusy
		}
		return nil, err
	}

	// Opportunistic sweep of other expired holds; never load-bearing.
	if n, err := s.repo.ClearExpiredHolds(ctx, time.Now()); err != nil {
		s.log.Warnw("expired hold sweep failed", "error", err)
	} else if n > 0 {
		s.log.Debugw("cleared expired holds", "count", n)
	}

	return hold, nil
}

// ReleaseHold drops the requester's hold. Releasing an absent, expired, or
// foreign hold is a no-op success.
func (s *Service) ReleaseHold(ctx context.Context, slotID, requesterID uuid.UUID) error {
	if err := s.repo.ReleaseHold(ctx, slotID, requesterID); err != nil {
		return fmt.Errorf("release hold: %w", err)
	}

	s.logEvent(ctx, nil, &slotID, EventHoldReleased, map[string]any{
		"requester_id": requesterID.String(),
	})

	return nil
}

// MentorAvailability lists a mentor's slots. Holds whose expiry has passed are
// reported as free even before any sweep physically clears them.
func (s *Service) MentorAvailability(ctx context.Context, mentorID uuid.UUID) ([]Slot, error) {
	if _, err := s.repo.GetMentorByID(ctx, mentorID); err != nil {
		return nil, err
	}

	slots, err := s.repo.ListSlotsByMentor(ctx, mentorID)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	now := time.Now()
	for i := range slots {
		if slots[i].IsReserved && !slots[i].HoldActive(now) {
			slots[i].IsReserved = false
			slots[i].ReservedBy = nil
			slots[i].ReservedUntil = nil
		}
	}

	return slots, nil
}

// SweepExpiredHolds is the advisory bulk clear used by the expiry worker.
func (s *Service) SweepExpiredHolds(ctx context.Context) (int64, error) {
	return s.repo.ClearExpiredHolds(ctx, time.Now())
}

type CreateOrderInput struct {
	Amount      int64 // smallest currency unit
	Currency    string
	SlotID      uuid.UUID
	MentorID    uuid.UUID
	SessionType string
	Requester   RequesterInfo
}

// CreateOrder mints a provider-side order carrying full booking context in its
// notes, then persists the local order row. Nothing is persisted when the
// provider is unreachable.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if in.Amount <= 0 || in.SlotID == uuid.Nil || in.MentorID == uuid.Nil {
		return nil, ErrInvalidOrder
	}
	if in.Currency == "" {
		in.Currency = "INR"
	}

	slot, err := s.repo.GetSlotByID(ctx, in.SlotID)
	if err != nil {
		return nil, err
	}
	if slot.MentorID != in.MentorID {
		return nil, ErrSlotNotFound
	}

	po, err := s.provider.CreateOrder(ctx, payment.OrderRequest{
		AmountMinor: in.Amount,
		Currency:    in.Currency,
		Receipt:     in.SlotID.String(),
		Notes: map[string]string{
			"slot_id":         in.SlotID.String(),
			"mentor_id":       in.MentorID.String(),
			"session_type":    in.SessionType,
			"requester_name":  in.Requester.Name,
			"requester_email": in.Requester.Email,
			"requester_phone": in.Requester.Phone,
		},
	})
	if err != nil {
		s.log.Errorw("provider order create failed", "slot_id", in.SlotID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	order := &Order{
		ID:          po.ID,
		Amount:      po.Amount,
		Currency:    po.Currency,
		SlotID:      in.SlotID,
		MentorID:    in.MentorID,
		SessionType: in.SessionType,
		Requester:   in.Requester,
		CreatedAt:   time.Now(),
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	return order, nil
}

type WebhookOutcome struct {
	Kind    payment.EventKind
	Booking *Booking // set for success events
}

// HandlePaymentEvent relays a provider callback. Authenticity is verified
// before any field is trusted; the provider may deliver the same event more
// than once, so success events funnel into the idempotent Finalize.
func (s *Service) HandlePaymentEvent(ctx context.Context, body []byte, signature string) (*WebhookOutcome, error) {
	if !s.provider.VerifyWebhookSignature(body, signature) {
		return nil, payment.ErrInvalidSignature
	}

	ev, err := payment.ParseWebhookEvent(body)
	if err != nil {
		return nil, err
	}

	switch ev.Kind {
	case payment.EventPaymentCaptured, payment.EventOrderPaid:
		in, err := s.finalizeInputFromEvent(ctx, ev)
		if err != nil {
			return nil, err
		}
		b, err := s.Finalize(ctx, *in)
		if err != nil {
			return nil, err
		}
		return &WebhookOutcome{Kind: ev.Kind, Booking: b}, nil

	case payment.EventPaymentFailed:
		// The hold is left to expire on its own. Releasing it here could race
		// a retried success notification for the same order.
		s.logEvent(ctx, nil, nil, EventPaymentFailed, map[string]any{
			"order_id":   ev.OrderID,
			"payment_id": ev.PaymentID,
			"reason":     ev.ErrorReason,
		})
		return &WebhookOutcome{Kind: ev.Kind}, nil

	default:
		s.log.Infow("ignoring unrecognized webhook event", "event", ev.Raw)
		return &WebhookOutcome{Kind: payment.EventUnknown}, nil
	}
}

// finalizeInputFromEvent recovers booking context from order notes, falling
// back to the local order row when the notes are missing or incomplete.
func (s *Service) finalizeInputFromEvent(ctx context.Context, ev *payment.Event) (*FinalizeInput, error) {
	in := &FinalizeInput{
		OrderID:     ev.OrderID,
		PaymentID:   ev.PaymentID,
		SessionType: ev.Notes["session_type"],
		Requester: RequesterInfo{
			Name:  ev.Notes["requester_name"],
			Email: ev.Notes["requester_email"],
			Phone: ev.Notes["requester_phone"],
		},
	}

	slotID, slotErr := uuid.Parse(ev.Notes["slot_id"])
	mentorID, mentorErr := uuid.Parse(ev.Notes["mentor_id"])
	if slotErr == nil && mentorErr == nil {
		in.SlotID = slotID
		in.MentorID = mentorID
		return in, nil
	}

	order, err := s.repo.GetOrderByID(ctx, ev.OrderID)
	if err != nil {
		return nil, fmt.Errorf("recover order context: %w", err)
	}

	in.SlotID = order.SlotID
	in.MentorID = order.MentorID
	if in.SessionType == "" {
		in.SessionType = order.SessionType
	}
	if in.Requester.Email == "" {
		in.Requester = order.Requester
	}

	return in, nil
}

type FinalizeInput struct {
	OrderID     string
	PaymentID   string
	SlotID      uuid.UUID
	MentorID    uuid.UUID
	SessionType string
	Requester   RequesterInfo
}

// Finalize converts a verified payment signal into a confirmed booking exactly
// once per order, no matter how many times or via which channel it arrives.
// The per-order lock serializes the common case; the unique constraint on
// bookings.order_id is the final arbiter when two instances slip past it.
func (s *Service) Finalize(ctx context.Context, in FinalizeInput) (*Booking, error) {
	var result *Booking

	run := func(runCtx context.Context) error {
		b, err := s.finalizeOnce(runCtx, in)
		if err != nil {
			return err
		}
		result = b
		return nil
	}

	err := s.locker.WithLock(ctx, redisclient.OrderKey(in.OrderID), run)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		// Another channel is finalizing this order right now. Proceed without
		// the lock: the insert either wins or surfaces the winner.
		err = run(ctx)
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Service) finalizeOnce(ctx context.Context, in FinalizeInput) (*Booking, error) {
	existing, err := s.repo.GetBookingByOrderID(ctx, in.OrderID)
	if err == nil {
		// Duplicate invocation: return the original, no re-notification.
		return s.recoverExisting(ctx, existing)
	}
	if !errors.Is(err, ErrBookingNotFound) {
		return nil, fmt.Errorf("check existing booking: %w", err)
	}

	mentor, err := s.repo.GetMentorByID(ctx, in.MentorID)
	if err != nil {
		return nil, fmt.Errorf("load mentor: %w", err)
	}

	if s.cfg.RequireLiveHoldAtFinalize {
		slot, err := s.repo.GetSlotByID(ctx, in.SlotID)
		if err != nil {
			return nil, fmt.Errorf("load slot: %w", err)
		}
		if !slot.HoldActive(time.Now()) {
			return nil, ErrHoldExpired
		}
	}

	link, err := s.meetingLink(mentor)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	b := &Booking{
		ID:          uuid.New(),
		OrderID:     in.OrderID,
		PaymentID:   in.PaymentID,
		SlotID:      in.SlotID,
		MentorID:    in.MentorID,
		SessionType: in.SessionType,
		Requester:   in.Requester,
		MeetingLink: link,
		Status:      StatusConfirmed,
		ConfirmedAt: now,
		CreatedAt:   now,
	}

	if err := s.repo.CreateBooking(ctx, b); err != nil {
		if errors.Is(err, ErrDuplicateOrderBooking) {
			// Lost the dual-channel race after the idempotency check. The
			// violation itself is the signal: return the winning booking.
			winner, werr := s.repo.GetBookingByOrderID(ctx, in.OrderID)
			if werr != nil {
				return nil, fmt.Errorf("load winning booking: %w", werr)
			}
			return s.recoverExisting(ctx, winner)
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	if err := s.repo.MarkSlotBooked(ctx, in.SlotID); err != nil {
		return nil, fmt.Errorf("mark slot booked: %w", err)
	}

	s.logEvent(ctx, &b.ID, &in.SlotID, EventBookingConfirmed, map[string]any{
		"order_id":   in.OrderID,
		"payment_id": in.PaymentID,
	})

	s.sendNotifications(ctx, b, mentor)

	return b, nil
}

// recoverExisting returns a booking created earlier, after re-asserting that
// its slot is marked booked. A failure between the booking insert and the slot
// update leaves the slot reservable; the update is idempotent, so every retry
// that finds the booking heals that state.
func (s *Service) recoverExisting(ctx context.Context, b *Booking) (*Booking, error) {
	if err := s.repo.MarkSlotBooked(ctx, b.SlotID); err != nil {
		return nil, fmt.Errorf("mark slot booked: %w", err)
	}
	return b, nil
}

func (s *Service) meetingLink(m *Mentor) (string, error) {
	if m.MeetingLink != nil && *m.MeetingLink != "" {
		return *m.MeetingLink, nil
	}
	if s.cfg.MeetingLinkFallback == config.MeetingLinkIfMissing {
		return fmt.Sprintf("https://meet.jit.si/mentorbook-%s", uuid.NewString()[:8]), nil
	}
	return "", ErrMeetingLinkMissing
}

func (s *Service) sendNotifications(ctx context.Context, b *Booking, m *Mentor) {
	if err := s.notifier.NotifyRequesterConfirmed(ctx, b, m); err != nil {
		s.log.Errorw("requester notification failed", "booking_id", b.ID, "error", err)
	}
	if err := s.notifier.NotifyMentorBooked(ctx, b, m); err != nil {
		s.log.Errorw("mentor notification failed", "booking_id", b.ID, "error", err)
	}
}

func (s *Service) logEvent(ctx context.Context, bookingID, slotID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Errorw("marshal event payload failed", "event_type", eventType, "error", err)
		data = nil
	}

	ev := BookingEvent{
		EventType: eventType,
		BookingID: bookingID,
		SlotID:    slotID,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Errorw("insert booking event failed", "event_type", eventType, "error", err)
	}
}
