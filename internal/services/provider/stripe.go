package provider

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	domain "corapay/internal/errors"
	"corapay/internal/models"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/payout"
)

type stripeAdapter struct{}

// NewStripeAdapter sets up the Stripe payout rail. The secret key comes from
// the environment like the rest of the Stripe integration.
func NewStripeAdapter() Adapter {
	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
	return &stripeAdapter{}
}

func (a *stripeAdapter) Name() string {
	return "stripe"
}

func (a *stripeAdapter) InitiateWithdrawal(ctx context.Context, req WithdrawalRequest) (*WithdrawalAck, error) {
	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Asset)),
	}
	params.Context = ctx
	// Our transaction reference doubles as the Stripe idempotency key, so a
	// crashed-and-retried initiate cannot create a second payout.
	params.IdempotencyKey = stripe.String(req.Reference)
	if dest, ok := req.Destination["stripe_account"].(string); ok && dest != "" {
		params.Destination = stripe.String(dest)
	}

	p, err := payout.New(params)
	if err != nil {
		log.Printf("stripe payout failed for %s: %v", req.Reference, err)
		return nil, domain.ErrProviderError.Wrap(err)
	}

	status := AckProcessing
	if p.Status == stripe.PayoutStatusPaid {
		status = AckCompleted
	}

	return &WithdrawalAck{
		ProviderReference: p.ID,
		Status:            status,
		Raw: models.NewJSON(map[string]interface{}{
			"payout_status": string(p.Status),
			"arrival_date":  p.ArrivalDate,
			"method":        fmt.Sprint(p.Method),
		}),
	}, nil
}
