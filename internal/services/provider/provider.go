// Package provider defines the external payment rail boundary. Adapters
// acknowledge synchronously; final settlement arrives out of band through the
// payout webhook, which resolves status through the transaction state machine.
package provider

import (
	"context"

	"corapay/internal/models"
)

// Acknowledgment statuses returned by InitiateWithdrawal.
const (
	AckProcessing = "processing"
	AckCompleted  = "completed"
)

// WithdrawalRequest describes one payout to an external account.
type WithdrawalRequest struct {
	Reference   string // our unique transaction reference, reused as the provider idempotency key
	Asset       string
	Amount      int64 // smallest denomination
	Destination models.JSON
}

// WithdrawalAck is the provider's synchronous acknowledgment.
type WithdrawalAck struct {
	ProviderReference string
	Status            string // AckProcessing or AckCompleted
	Fee               int64
	Raw               models.JSON
}

// Adapter is the rail-facing interface the orchestrator calls through the
// circuit breaker.
type Adapter interface {
	Name() string
	InitiateWithdrawal(ctx context.Context, req WithdrawalRequest) (*WithdrawalAck, error)
}
