package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// DefaultLookupTimeout bounds every Stripe API round-trip so a slow provider
// cannot stall a request handler indefinitely.
const DefaultLookupTimeout = 10 * time.Second

// StripeConfig describes the fixed product sold through Stripe Checkout.
type StripeConfig struct {
	SecretKey     string
	Currency      string
	UnitAmount    int64
	ProductName   string
	LookupTimeout time.Duration
}

// StripeProvider implements Provider on top of Stripe Checkout sessions.
type StripeProvider struct {
	api         *client.API
	currency    string
	unitAmount  int64
	productName string
	timeout     time.Duration
}

// NewStripeProvider builds a Stripe-backed checkout provider.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("stripe: secret key is required")
	}
	if cfg.UnitAmount <= 0 {
		return nil, errors.New("stripe: unit amount must be positive")
	}

	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}

	productName := strings.TrimSpace(cfg.ProductName)
	if productName == "" {
		productName = "Account registration"
	}

	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, nil)

	return &StripeProvider{
		api:         api,
		currency:    currency,
		unitAmount:  cfg.UnitAmount,
		productName: productName,
		timeout:     timeout,
	}, nil
}

// CreateCheckout opens a hosted checkout session for the configured product.
func (p *StripeProvider) CreateCheckout(ctx context.Context, input CheckoutInput) (*Checkout, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(p.currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.productName),
					},
					UnitAmount: stripe.Int64(p.unitAmount),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(input.SuccessURL),
		CancelURL:  stripe.String(input.CancelURL),
	}
	params.Context = ctx
	for key, value := range input.Metadata {
		params.AddMetadata(key, value)
	}

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	if sess.URL == "" {
		return nil, errors.New("stripe: checkout session has no URL")
	}

	return &Checkout{
		ID:   sess.ID,
		URL:  sess.URL,
		Paid: sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}, nil
}

// GetCheckout re-fetches the authoritative payment status for a session.
func (p *StripeProvider) GetCheckout(ctx context.Context, id string) (*Checkout, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("stripe: checkout session id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := p.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: retrieve checkout session: %w", err)
	}

	return &Checkout{
		ID:   sess.ID,
		URL:  sess.URL,
		Paid: sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}, nil
}
