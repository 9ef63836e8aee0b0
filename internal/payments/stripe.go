// Package payments wraps the settlement collaborator. Settlement runs once
// per completed ride; failures are surfaced to the caller, never retried
// here.
package payments

import (
	"context"
	"fmt"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Settler settles the fare for a completed ride.
type Settler interface {
	Settle(ctx context.Context, bookingID string, amount float64, currency string) error
}

// StripeSettler is a thin wrapper around stripe-go PaymentIntents.
type StripeSettler struct{}

// NewStripeSettler initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripeSettler() *StripeSettler {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeSettler{}
}

// Settle creates and confirms a PaymentIntent for the fare. amount is in
// major units and converted to the minor unit stripe expects.
func (s *StripeSettler) Settle(ctx context.Context, bookingID string, amount float64, currency string) error {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(amount * 100)),
		Currency: stripe.String(currency),
		Confirm:  stripe.Bool(true),
	}
	params.AddMetadata("booking_id", bookingID)
	if _, err := paymentintent.New(params); err != nil {
		return fmt.Errorf("payments: settle booking %s: %w", bookingID, err)
	}
	return nil
}
