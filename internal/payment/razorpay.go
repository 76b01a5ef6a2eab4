package payment

import (
	"context"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
)

type RazorpayProvider struct {
	client        *razorpay.Client
	webhookSecret string
}

func NewRazorpayProvider(keyID, keySecret, webhookSecret string) *RazorpayProvider {
	return &RazorpayProvider{
		client:        razorpay.NewClient(keyID, keySecret),
		webhookSecret: webhookSecret,
	}
}

func (p *RazorpayProvider) CreateOrder(ctx context.Context, req OrderRequest) (*ProviderOrder, error) {
	data := map[string]interface{}{
		"amount":   req.AmountMinor,
		"currency": req.Currency,
		"receipt":  req.Receipt,
		"notes":    req.Notes,
	}

	body, err := p.client.Order.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay order create: %w", err)
	}

	id, _ := body["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("razorpay order create: response missing id")
	}

	out := &ProviderOrder{
		ID:       id,
		Amount:   req.AmountMinor,
		Currency: req.Currency,
	}
	if amount, ok := body["amount"].(float64); ok {
		out.Amount = int64(amount)
	}
	if currency, ok := body["currency"].(string); ok && currency != "" {
		out.Currency = currency
	}

	return out, nil
}

func (p *RazorpayProvider) VerifyWebhookSignature(body []byte, signature string) bool {
	if signature == "" || p.webhookSecret == "" {
		return false
	}
	return utils.VerifyWebhookSignature(string(body), signature, p.webhookSecret)
}
