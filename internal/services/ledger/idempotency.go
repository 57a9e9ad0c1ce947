package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"

	domain "corapay/internal/errors"
	"corapay/internal/models"
	"corapay/internal/repositories"
)

// ResolutionOutcome is the guard's decision for a key.
type ResolutionOutcome int

const (
	// OutcomeProceed: no prior attempt, the operation may execute.
	OutcomeProceed ResolutionOutcome = iota
	// OutcomeExisting: a prior attempt owns this key; return its result
	// without re-executing side effects.
	OutcomeExisting
	// OutcomeRetryFailed: the prior attempt terminated in FAILED, so no
	// external side effect is guaranteed to have occurred; a fresh attempt
	// may bind the same key.
	OutcomeRetryFailed
)

// Resolution is the guard's answer for one key.
type Resolution struct {
	Outcome ResolutionOutcome
	Leg     *models.WalletTransaction // set unless Outcome is OutcomeProceed
}

// IdempotencyGuard decides whether a money-creating call may execute. The
// decisive mechanism is the store's unique index on idempotency_key, not this
// lookup: the key is persisted in the same atomic write as the balance debit,
// so a crash between check and reserve can never leave two rows for one key.
type IdempotencyGuard struct {
	repo repositories.LedgerRepository
}

func NewIdempotencyGuard(repo repositories.LedgerRepository) *IdempotencyGuard {
	if repo == nil {
		panic("repo is required")
	}
	return &IdempotencyGuard{repo: repo}
}

// ValidateKey enforces the key shape of the request header contract.
func ValidateKey(key string) error {
	if key == "" || len(key) > models.MaxIdempotencyKeyLength {
		return ErrInvalidKey
	}
	return nil
}

// Fingerprint condenses the logically-requested operation for diagnostic
// mismatch detection. It is never used to generate or resolve keys.
func Fingerprint(userID uint, asset string, amount int64, detail string) string {
	return fmt.Sprintf("%d|%s|%d|%s", userID, asset, amount, detail)
}

// Resolve classifies the key. A fingerprint mismatch against an existing row
// means the client reused a key for a different operation; that is logged and
// the prior result still wins.
func (g *IdempotencyGuard) Resolve(ctx context.Context, key, fingerprint string) (*Resolution, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	leg, err := g.repo.FindWalletTransactionByKey(ctx, key)
	if err != nil {
		if errors.Is(err, repositories.ErrLegNotFound) {
			return &Resolution{Outcome: OutcomeProceed}, nil
		}
		return nil, fmt.Errorf("failed to resolve idempotency key: %w", err)
	}

	if leg.Fingerprint != "" && fingerprint != "" && leg.Fingerprint != fingerprint {
		log.Printf("idempotency key %q reused with a different request fingerprint (have %q, got %q)",
			key, leg.Fingerprint, fingerprint)
	}

	if leg.Status == models.StatusFailed {
		return &Resolution{Outcome: OutcomeRetryFailed, Leg: leg}, nil
	}
	return &Resolution{Outcome: OutcomeExisting, Leg: leg}, nil
}

// ResolveExisting re-fetches the winning row after a duplicate-key race on
// insert. The race is proof another attempt holds the key, so absence here is
// an inconsistency rather than a miss.
func (g *IdempotencyGuard) ResolveExisting(ctx context.Context, key string) (*models.WalletTransaction, error) {
	leg, err := g.repo.FindWalletTransactionByKey(ctx, key)
	if err != nil {
		if errors.Is(err, repositories.ErrLegNotFound) {
			return nil, domain.ErrInconsistent.WithMessage("duplicate idempotency key with no surviving row")
		}
		return nil, fmt.Errorf("failed to re-fetch idempotency key: %w", err)
	}
	return leg, nil
}
