package ledger

import (
	"fmt"

	domain "corapay/internal/errors"
	"corapay/internal/models"
)

// transitions is the authoritative set of legal lifecycle moves. Anything
// absent here is illegal; terminal states are never overwritten. The table is
// consulted before issuing the conditional UPDATE, and the UPDATE's
// `WHERE status IN (fromStates)` clause is what actually enforces it under
// concurrency.
var transitions = map[string][]string{
	models.StatusPending: {
		models.StatusInitiated,
		models.StatusProcessing,
		models.StatusCompleted,
		models.StatusFailed,
		models.StatusCancelled,
		models.StatusReview,
	},
	models.StatusInitiated: {
		models.StatusProcessing,
		models.StatusCompleted,
		models.StatusFailed,
		models.StatusReview,
	},
	models.StatusProcessing: {
		models.StatusCompleted,
		models.StatusFailed,
		models.StatusCancelled,
		models.StatusReview,
		models.StatusReconcile,
	},
	models.StatusCompleted: {
		models.StatusSettled,
	},
	models.StatusReview: {
		models.StatusCompleted,
		models.StatusFailed,
	},
	models.StatusReconcile: {
		models.StatusCompleted,
		models.StatusFailed,
	},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidStateTransition for an illegal move.
func ValidateTransition(from, to string) error {
	if !CanTransition(from, to) {
		return domain.ErrInvalidStateTransition.WithMessage(
			fmt.Sprintf("illegal transition %s -> %s", from, to))
	}
	return nil
}

// CheckBalanceInvariant verifies balance_after = balance_before + signed
// amount for a transaction row. A violation is fatal for the enclosing store
// transaction: the write must abort entirely, never partially commit.
func CheckBalanceInvariant(t *models.Transaction) error {
	if t.Amount < 0 {
		return domain.ErrInconsistent.WithMessage("transaction amount is negative")
	}
	if t.BalanceAfter != t.BalanceBefore+t.SignedAmount() {
		return domain.ErrInconsistent.WithMessage(fmt.Sprintf(
			"balance invariant violated for %s: before=%d after=%d amount=%d",
			t.Reference, t.BalanceBefore, t.BalanceAfter, t.SignedAmount()))
	}
	return nil
}
