package payment

import "context"

// CheckoutInput describes a hosted checkout session request. Amount and
// currency are fixed by provider configuration; the caller only supplies the
// return URLs and opaque correlation metadata.
type CheckoutInput struct {
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// Checkout is the provider-side view of a checkout session. Paid reflects the
// provider's authoritative payment status at the time of the lookup.
type Checkout struct {
	ID   string
	URL  string
	Paid bool
}

// Provider creates hosted checkout sessions and reports their authoritative
// payment status. This service never handles card data; the provider's hosted
// page does.
type Provider interface {
	CreateCheckout(ctx context.Context, input CheckoutInput) (*Checkout, error)
	GetCheckout(ctx context.Context, id string) (*Checkout, error)
}
