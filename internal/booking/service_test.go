package booking

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mentorbook/mentorship-booking/internal/config"
	"github.com/mentorbook/mentorship-booking/internal/payment"
	redisclient "github.com/mentorbook/mentorship-booking/internal/redis"
)

type testEnv struct {
	svc      *Service
	repo     *memRepo
	locker   *fakeLocker
	provider *fakeProvider
	notifier *fakeNotifier
	cfg      config.Config
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Config{
		HoldDuration:        10 * time.Minute,
		LockTTL:             5 * time.Second,
		MeetingLinkFallback: config.MeetingLinkIfMissing,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		repo:     newMemRepo(),
		locker:   newFakeLocker(),
		provider: &fakeProvider{verifyOK: true},
		notifier: &fakeNotifier{},
		cfg:      cfg,
	}
	env.svc = NewService(env.repo, env.locker, env.provider, env.notifier, cfg, zap.NewNop().Sugar())
	return env
}

func (e *testEnv) addMentor(link string) *Mentor {
	m := &Mentor{
		ID:    uuid.New(),
		Name:  "Asha Verma",
		Email: "asha@example.com",
	}
	if link != "" {
		m.MeetingLink = &link
	}
	e.repo.mentors[m.ID] = m
	return m
}

func (e *testEnv) addSlot(mentorID uuid.UUID) *Slot {
	s := &Slot{
		ID:        uuid.New(),
		MentorID:  mentorID,
		Day:       time.Now().AddDate(0, 0, 1).Truncate(24 * time.Hour),
		StartTime: "10:00",
		EndTime:   "10:30",
	}
	e.repo.slots[s.ID] = s
	return s
}

func TestHoldSlot_MutualExclusion(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)

	a, b := uuid.New(), uuid.New()

	hold, err := env.svc.HoldSlot(context.Background(), slot.ID, a, mentor.ID)
	require.NoError(t, err)
	assert.Equal(t, a, hold.RequesterID)
	assert.Greater(t, hold.RemainingSeconds(time.Now()), 590)

	_, err = env.svc.HoldSlot(context.Background(), slot.ID, b, mentor.ID)
	assert.ErrorIs(t, err, ErrSlotHeld)
}

func TestHoldSlot_SelfRenewalExtendsExpiry(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)
	a := uuid.New()

	first, err := env.svc.HoldSlot(context.Background(), slot.ID, a, mentor.ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	second, err := env.svc.HoldSlot(context.Background(), slot.ID, a, mentor.ID)
	require.NoError(t, err)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))
}

func TestHoldSlot_ExpiredHoldCanBeTaken(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)

	a := uuid.New()
	past := time.Now().Add(-time.Minute)
	slot.IsReserved = true
	slot.ReservedBy = &a
	slot.ReservedUntil = &past

	b := uuid.New()
	hold, err := env.svc.HoldSlot(context.Background(), slot.ID, b, mentor.ID)
	require.NoError(t, err)
	assert.Equal(t, b, hold.RequesterID)
}

func TestHoldSlot_BookedSlotAlwaysConflicts(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)
	slot.IsBooked = true

	_, err := env.svc.HoldSlot(context.Background(), slot.ID, uuid.New(), mentor.ID)
	assert.ErrorIs(t, err, ErrSlotBooked)
}

func TestHoldSlot_LockContention(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)
	env.locker.deny[redisclient.SlotKey(slot.ID)] = true

	_, err := env.svc.HoldSlot(context.Background(), slot.ID, uuid.New(), mentor.ID)
	assert.ErrorIs(t, err, ErrSlotBusy)
}

func TestHoldSlot_WrongMentor(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)

	_, err := env.svc.HoldSlot(context.Background(), slot.ID, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestReleaseHold_OwnerScopedAndIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)
	a, b := uuid.New(), uuid.New()

	_, err := env.svc.HoldSlot(context.Background(), slot.ID, a, mentor.ID)
	require.NoError(t, err)

	// B cannot release A's hold.
	require.NoError(t, env.svc.ReleaseHold(context.Background(), slot.ID, b))
	stored, err := env.repo.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsReserved)

	require.NoError(t, env.svc.ReleaseHold(context.Background(), slot.ID, a))
	stored, err = env.repo.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsReserved)

	// Releasing again is a no-op success.
	require.NoError(t, env.svc.ReleaseHold(context.Background(), slot.ID, a))
}

func TestMentorAvailability_ExpiredHoldReportedFree(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)

	a := uuid.New()
	past := time.Now().Add(-time.Second)
	slot.IsReserved = true
	slot.ReservedBy = &a
	slot.ReservedUntil = &past

	slots, err := env.svc.MentorAvailability(context.Background(), mentor.ID)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.False(t, slots[0].IsReserved)
	assert.Nil(t, slots[0].ReservedUntil)
}

func TestCreateOrder_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)

	_, err := env.svc.CreateOrder(context.Background(), CreateOrderInput{
		Amount: 0, SlotID: slot.ID, MentorID: mentor.ID,
	})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = env.svc.CreateOrder(context.Background(), CreateOrderInput{
		Amount: 150000, MentorID: mentor.ID,
	})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	assert.Zero(t, env.provider.calls)
}

func TestCreateOrder_ProviderDownLeavesNoState(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)
	env.provider.createErr = errors.New("connect timeout")

	_, err := env.svc.CreateOrder(context.Background(), CreateOrderInput{
		Amount:      150000,
		SlotID:      slot.ID,
		MentorID:    mentor.ID,
		SessionType: "mentorship",
		Requester:   RequesterInfo{Name: "Ravi", Email: "ravi@example.com"},
	})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Empty(t, env.repo.orders)
}

func TestCreateOrder_CarriesContextInNotes(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)
	env.provider.nextID = "order_abc123"

	order, err := env.svc.CreateOrder(context.Background(), CreateOrderInput{
		Amount:      150000,
		SlotID:      slot.ID,
		MentorID:    mentor.ID,
		SessionType: "mentorship",
		Requester:   RequesterInfo{Name: "Ravi", Email: "ravi@example.com", Phone: "+911234567890"},
	})
	require.NoError(t, err)
	assert.Equal(t, "order_abc123", order.ID)
	assert.Equal(t, "INR", order.Currency)

	notes := env.provider.lastReq.Notes
	assert.Equal(t, slot.ID.String(), notes["slot_id"])
	assert.Equal(t, mentor.ID.String(), notes["mentor_id"])
	assert.Equal(t, "ravi@example.com", notes["requester_email"])

	stored, err := env.repo.GetOrderByID(context.Background(), "order_abc123")
	require.NoError(t, err)
	assert.Equal(t, slot.ID, stored.SlotID)
}

func finalizeInput(order string, slot *Slot) FinalizeInput {
	return FinalizeInput{
		OrderID:     order,
		PaymentID:   "pay_xyz",
		SlotID:      slot.ID,
		MentorID:    slot.MentorID,
		SessionType: "mentorship",
		Requester:   RequesterInfo{Name: "Ravi", Email: "ravi@example.com"},
	}
}

func TestFinalize_CreatesBookingAndBooksSlot(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("https://meet.google.com/abc-defg-hij")
	slot := env.addSlot(mentor.ID)

	b, err := env.svc.Finalize(context.Background(), finalizeInput("order_1", slot))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.Equal(t, "https://meet.google.com/abc-defg-hij", b.MeetingLink)

	stored, err := env.repo.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsBooked)
	assert.False(t, stored.IsReserved)

	assert.Equal(t, 1, env.notifier.requesterSends)
	assert.Equal(t, 1, env.notifier.mentorSends)
	assert.Equal(t, 1, env.repo.eventCount(EventBookingConfirmed))
}

func TestFinalize_IdempotentAcrossChannels(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)

	first, err := env.svc.Finalize(context.Background(), finalizeInput("order_2", slot))
	require.NoError(t, err)

	second, err := env.svc.Finalize(context.Background(), finalizeInput("order_2", slot))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, env.repo.bookings, 1)
	// No re-notification on the duplicate.
	assert.Equal(t, 1, env.notifier.requesterSends)
	assert.Equal(t, 1, env.notifier.mentorSends)
}

func TestFinalize_UniqueViolationReturnsWinner(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)

	rival := &Booking{
		ID:      uuid.New(),
		OrderID: "order_3",
		SlotID:  slot.ID,
		Status:  StatusConfirmed,
	}
	env.repo.raceBooking = rival

	b, err := env.svc.Finalize(context.Background(), finalizeInput("order_3", slot))
	require.NoError(t, err)
	assert.Equal(t, rival.ID, b.ID)
	// The loser must not notify for a booking it did not create.
	assert.Zero(t, env.notifier.requesterSends)
}

func TestFinalize_RetryHealsUnbookedSlot(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)
	env.repo.failMarkBooked = 1

	// The booking row lands but the slot update fails.
	_, err := env.svc.Finalize(context.Background(), finalizeInput("order_13", slot))
	require.Error(t, err)
	require.Len(t, env.repo.bookings, 1)

	stored, err := env.repo.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	require.False(t, stored.IsBooked)

	// The retry finds the existing booking and must re-assert the slot update
	// so the slot cannot be held and sold again.
	b, err := env.svc.Finalize(context.Background(), finalizeInput("order_13", slot))
	require.NoError(t, err)
	assert.Equal(t, "order_13", b.OrderID)

	stored, err = env.repo.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsBooked)

	_, err = env.svc.HoldSlot(context.Background(), slot.ID, uuid.New(), mentor.ID)
	assert.ErrorIs(t, err, ErrSlotBooked)
}

func TestFinalize_MeetingLinkFallback(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)

	b, err := env.svc.Finalize(context.Background(), finalizeInput("order_4", slot))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(b.MeetingLink, "https://meet.jit.si/"))
}

func TestFinalize_MeetingLinkNeverPolicy(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.MeetingLinkFallback = config.MeetingLinkNever
	})
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)

	_, err := env.svc.Finalize(context.Background(), finalizeInput("order_5", slot))
	assert.ErrorIs(t, err, ErrMeetingLinkMissing)
	assert.Empty(t, env.repo.bookings)
}

func TestFinalize_RequireLiveHold(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.RequireLiveHoldAtFinalize = true
	})
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)

	_, err := env.svc.Finalize(context.Background(), finalizeInput("order_6", slot))
	assert.ErrorIs(t, err, ErrHoldExpired)

	a := uuid.New()
	_, err = env.svc.HoldSlot(context.Background(), slot.ID, a, mentor.ID)
	require.NoError(t, err)

	_, err = env.svc.Finalize(context.Background(), finalizeInput("order_6", slot))
	require.NoError(t, err)
}

func TestFinalize_ProceedsWhenOrderLockContended(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)
	env.locker.deny[redisclient.OrderKey("order_7")] = true

	b, err := env.svc.Finalize(context.Background(), finalizeInput("order_7", slot))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, b.Status)
}

func webhookBody(t *testing.T, event, orderID, paymentID string, notes map[string]string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": event,
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       paymentID,
					"order_id": orderID,
					"amount":   150000,
					"notes":    notes,
				},
			},
		},
	})
	require.NoError(t, err)
	return body
}

func TestHandlePaymentEvent_FailClosedOnBadSignature(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.verifyOK = false
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)

	body := webhookBody(t, "payment.captured", "order_8", "pay_1", map[string]string{
		"slot_id":   slot.ID.String(),
		"mentor_id": mentor.ID.String(),
	})

	_, err := env.svc.HandlePaymentEvent(context.Background(), body, "tampered")
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)
	assert.Empty(t, env.repo.bookings)
}

func TestHandlePaymentEvent_CapturedCreatesBooking(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)

	body := webhookBody(t, "payment.captured", "order_9", "pay_2", map[string]string{
		"slot_id":         slot.ID.String(),
		"mentor_id":       mentor.ID.String(),
		"session_type":    "mentorship",
		"requester_name":  "Ravi",
		"requester_email": "ravi@example.com",
	})

	out, err := env.svc.HandlePaymentEvent(context.Background(), body, "valid")
	require.NoError(t, err)
	require.NotNil(t, out.Booking)
	assert.Equal(t, "order_9", out.Booking.OrderID)
	assert.Equal(t, "pay_2", out.Booking.PaymentID)

	stored, err := env.repo.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsBooked)
}

func TestHandlePaymentEvent_RecoversContextFromOrderRow(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)

	require.NoError(t, env.repo.CreateOrder(context.Background(), &Order{
		ID:          "order_10",
		Amount:      150000,
		Currency:    "INR",
		SlotID:      slot.ID,
		MentorID:    mentor.ID,
		SessionType: "mentorship",
		Requester:   RequesterInfo{Name: "Ravi", Email: "ravi@example.com"},
	}))

	// Notes stripped: webhook arrived on an instance with no other context.
	body := webhookBody(t, "payment.captured", "order_10", "pay_3", nil)

	out, err := env.svc.HandlePaymentEvent(context.Background(), body, "valid")
	require.NoError(t, err)
	require.NotNil(t, out.Booking)
	assert.Equal(t, slot.ID, out.Booking.SlotID)
	assert.Equal(t, "mentorship", out.Booking.SessionType)
	assert.Equal(t, "ravi@example.com", out.Booking.Requester.Email)
}

func TestHandlePaymentEvent_FailureLeavesHoldInPlace(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)

	a := uuid.New()
	_, err := env.svc.HoldSlot(context.Background(), slot.ID, a, mentor.ID)
	require.NoError(t, err)

	body := webhookBody(t, "payment.failed", "order_11", "pay_4", nil)

	out, err := env.svc.HandlePaymentEvent(context.Background(), body, "valid")
	require.NoError(t, err)
	assert.Equal(t, payment.EventPaymentFailed, out.Kind)
	assert.Nil(t, out.Booking)

	// The hold is deliberately left to expire, not released.
	stored, err := env.repo.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsReserved)
	assert.Equal(t, 1, env.repo.eventCount(EventPaymentFailed))
}

func TestHandlePaymentEvent_UnknownEventIgnored(t *testing.T) {
	env := newTestEnv(t, nil)

	body := webhookBody(t, "refund.processed", "order_12", "pay_5", nil)

	out, err := env.svc.HandlePaymentEvent(context.Background(), body, "valid")
	require.NoError(t, err)
	assert.Equal(t, payment.EventUnknown, out.Kind)
	assert.Empty(t, env.repo.bookings)
}

// Full walk through the contested-slot lifecycle: hold, rival conflict,
// finalize, duplicate finalize, rival conflict against the booked slot.
func TestScenario_ContestedSlotLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	mentor := env.addMentor("")
	slot := env.addSlot(mentor.ID)
	a, b := uuid.New(), uuid.New()

	hold, err := env.svc.HoldSlot(context.Background(), slot.ID, a, mentor.ID)
	require.NoError(t, err)
	assert.InDelta(t, 600, hold.RemainingSeconds(time.Now()), 2)

	_, err = env.svc.HoldSlot(context.Background(), slot.ID, b, mentor.ID)
	assert.ErrorIs(t, err, ErrSlotHeld)

	first, err := env.svc.Finalize(context.Background(), finalizeInput("order_s1", slot))
	require.NoError(t, err)

	stored, err := env.repo.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsBooked)
	assert.False(t, stored.IsReserved)

	second, err := env.svc.Finalize(context.Background(), finalizeInput("order_s1", slot))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, env.repo.bookings, 1)

	_, err = env.svc.HoldSlot(context.Background(), slot.ID, b, mentor.ID)
	assert.ErrorIs(t, err, ErrSlotBooked)
}
