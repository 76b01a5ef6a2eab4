package payment

import (
	"context"
	"errors"
)

var (
	// ErrInvalidSignature means the webhook payload failed authenticity
	// verification. Fail closed: nothing downstream may trust the payload.
	ErrInvalidSignature = errors.New("webhook signature verification failed")
)

type OrderRequest struct {
	AmountMinor int64 // smallest currency unit
	Currency    string
	Receipt     string
	// Notes carry full booking context provider-side so an asynchronous
	// callback on another instance can recover it from the order alone.
	Notes map[string]string
}

type ProviderOrder struct {
	ID       string
	Amount   int64
	Currency string
}

// Provider is the payment gateway used to mint orders and authenticate
// asynchronous payment-result callbacks.
type Provider interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*ProviderOrder, error)
	VerifyWebhookSignature(body []byte, signature string) bool
}
