package payment

import (
	"encoding/json"
	"fmt"
)

type EventKind string

const (
	EventPaymentCaptured EventKind = "payment.captured"
	EventOrderPaid       EventKind = "order.paid"
	EventPaymentFailed   EventKind = "payment.failed"
	EventUnknown         EventKind = "unknown"
)

// webhookEnvelope mirrors the provider's event wrapper. Only the fields the
// booking flow needs are decoded.
type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity orderEntity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID          string            `json:"id"`
	OrderID     string            `json:"order_id"`
	Amount      int64             `json:"amount"`
	Notes       map[string]string `json:"notes"`
	ErrorReason string            `json:"error_reason"`
}

type orderEntity struct {
	ID     string            `json:"id"`
	Amount int64             `json:"amount"`
	Notes  map[string]string `json:"notes"`
}

// Event is the tagged form of a provider callback. Unrecognized event names
// parse into EventUnknown rather than being guessed at.
type Event struct {
	Kind        EventKind
	Raw         string // provider's event name as received
	OrderID     string
	PaymentID   string
	Amount      int64
	Notes       map[string]string
	ErrorReason string
}

func ParseWebhookEvent(body []byte) (*Event, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode webhook envelope: %w", err)
	}

	ev := &Event{Raw: env.Event}

	switch env.Event {
	case string(EventPaymentCaptured), string(EventPaymentFailed):
		p := env.Payload.Payment.Entity
		if p.OrderID == "" {
			return nil, fmt.Errorf("%s event missing payment order_id", env.Event)
		}
		ev.Kind = EventKind(env.Event)
		ev.OrderID = p.OrderID
		ev.PaymentID = p.ID
		ev.Amount = p.Amount
		ev.Notes = p.Notes
		ev.ErrorReason = p.ErrorReason

	case string(EventOrderPaid):
		// order.paid carries both entities; prefer the payment entity.
		p := env.Payload.Payment.Entity
		o := env.Payload.Order.Entity

		orderID := p.OrderID
		if orderID == "" {
			orderID = o.ID
		}
		if orderID == "" {
			return nil, fmt.Errorf("order.paid event missing order id")
		}

		ev.Kind = EventOrderPaid
		ev.OrderID = orderID
		ev.PaymentID = p.ID
		ev.Amount = o.Amount
		if ev.Amount == 0 {
			ev.Amount = p.Amount
		}
		ev.Notes = p.Notes
		if len(ev.Notes) == 0 {
			ev.Notes = o.Notes
		}

	default:
		ev.Kind = EventUnknown
	}

	return ev, nil
}
