package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mentorbook/mentorship-booking/internal/payment"
	redisclient "github.com/mentorbook/mentorship-booking/internal/redis"
)

// memRepo reproduces the store's conditional-update and unique-constraint
// semantics in memory so service behavior can be tested without Postgres.
type memRepo struct {
	mu       sync.Mutex
	mentors  map[uuid.UUID]*Mentor
	slots    map[uuid.UUID]*Slot
	orders   map[string]*Order
	bookings map[string]*Booking // keyed by order id
	events   []BookingEvent

	// raceBooking, when set, is committed by a rival just before the next
	// CreateBooking, which then fails with the unique violation.
	raceBooking *Booking

	// failMarkBooked makes the next N MarkSlotBooked calls fail, simulating a
	// store outage between the booking insert and the slot update.
	failMarkBooked int
}

func newMemRepo() *memRepo {
	return &memRepo{
		mentors:  make(map[uuid.UUID]*Mentor),
		slots:    make(map[uuid.UUID]*Slot),
		orders:   make(map[string]*Order),
		bookings: make(map[string]*Booking),
	}
}

func (r *memRepo) GetMentorByID(ctx context.Context, id uuid.UUID) (*Mentor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mentors[id]
	if !ok {
		return nil, ErrMentorNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *memRepo) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memRepo) ListSlotsByMentor(ctx context.Context, mentorID uuid.UUID) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Slot
	for _, s := range r.slots {
		if s.MentorID == mentorID {
			result = append(result, *s)
		}
	}
	return result, nil
}

func (r *memRepo) HoldSlot(ctx context.Context, slotID, requesterID uuid.UUID, until time.Time) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[slotID]
	if !ok || s.IsBooked {
		return nil, ErrHoldNotAdmitted
	}
	now := time.Now()
	if s.IsReserved && s.ReservedUntil != nil && s.ReservedUntil.After(now) &&
		s.ReservedBy != nil && *s.ReservedBy != requesterID {
		return nil, ErrHoldNotAdmitted
	}

	req := requesterID
	u := until
	s.IsReserved = true
	s.ReservedBy = &req
	s.ReservedUntil = &u
	s.UpdatedAt = now

	cp := *s
	return &cp, nil
}

func (r *memRepo) ReleaseHold(ctx context.Context, slotID, requesterID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[slotID]
	if !ok || s.ReservedBy == nil || *s.ReservedBy != requesterID {
		return nil
	}
	s.IsReserved = false
	s.ReservedBy = nil
	s.ReservedUntil = nil
	return nil
}

func (r *memRepo) ClearExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, s := range r.slots {
		if s.IsReserved && s.ReservedUntil != nil && s.ReservedUntil.Before(now) {
			s.IsReserved = false
			s.ReservedBy = nil
			s.ReservedUntil = nil
			n++
		}
	}
	return n, nil
}

func (r *memRepo) MarkSlotBooked(ctx context.Context, slotID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failMarkBooked > 0 {
		r.failMarkBooked--
		return errors.New("store unavailable")
	}

	s, ok := r.slots[slotID]
	if !ok {
		return ErrSlotNotFound
	}
	s.IsBooked = true
	s.IsReserved = false
	s.ReservedBy = nil
	s.ReservedUntil = nil
	return nil
}

func (r *memRepo) CreateOrder(ctx context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *memRepo) GetOrderByID(ctx context.Context, id string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memRepo) CreateBooking(ctx context.Context, b *Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.raceBooking != nil {
		rival := r.raceBooking
		r.raceBooking = nil
		r.bookings[rival.OrderID] = rival
	}
	if _, exists := r.bookings[b.OrderID]; exists {
		return ErrDuplicateOrderBooking
	}
	cp := *b
	r.bookings[b.OrderID] = &cp
	return nil
}

func (r *memRepo) GetBookingByOrderID(ctx context.Context, orderID string) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[orderID]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *memRepo) InsertEvent(ctx context.Context, ev BookingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) eventCount(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

// fakeLocker runs critical sections inline; keys in deny simulate contention.
type fakeLocker struct {
	mu   sync.Mutex
	deny map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{deny: make(map[string]bool)}
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	denied := l.deny[key]
	l.mu.Unlock()
	if denied {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

type fakeProvider struct {
	mu        sync.Mutex
	nextID    string
	createErr error
	verifyOK  bool
	lastReq   payment.OrderRequest
	calls     int
}

func (p *fakeProvider) CreateOrder(ctx context.Context, req payment.OrderRequest) (*payment.ProviderOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastReq = req
	if p.createErr != nil {
		return nil, p.createErr
	}
	id := p.nextID
	if id == "" {
		id = "order_test_" + uuid.NewString()[:8]
	}
	return &payment.ProviderOrder{ID: id, Amount: req.AmountMinor, Currency: req.Currency}, nil
}

func (p *fakeProvider) VerifyWebhookSignature(body []byte, signature string) bool {
	return p.verifyOK
}

type fakeNotifier struct {
	mu             sync.Mutex
	requesterSends int
	mentorSends    int
}

func (n *fakeNotifier) NotifyRequesterConfirmed(ctx context.Context, b *Booking, m *Mentor) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requesterSends++
	return nil
}

func (n *fakeNotifier) NotifyMentorBooked(ctx context.Context, b *Booking, m *Mentor) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mentorSends++
	return nil
}
