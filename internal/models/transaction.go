package models

import (
	"time"

	"gorm.io/gorm"
)

// Transaction types
const (
	TransactionTypeDeposit     = "deposit"
	TransactionTypeWithdrawal  = "withdrawal"
	TransactionTypeTransferOut = "transfer_out"
	TransactionTypeTransferIn  = "transfer_in"
	TransactionTypeExchange    = "exchange"
	TransactionTypeFee         = "fee"
	TransactionTypeRefund      = "refund"
	TransactionTypePayment     = "payment"
	TransactionTypeReward      = "reward"
)

// Transaction statuses
const (
	StatusPending    = "PENDING"
	StatusInitiated  = "INITIATED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
	StatusReview     = "REVIEW"
	StatusReconcile  = "RECONCILE"
	StatusSettled    = "SETTLED"
)

// Transaction categories
const (
	CategoryFiat       = "fiat"
	CategoryBlockchain = "blockchain"
	CategoryCard       = "card"
)

// Transaction scopes
const (
	ScopeInternal = "internal"
	ScopeExternal = "external"
)

// Transaction is the canonical ledger entry. Every money movement writes
// exactly one Transaction per affected wallet; a two-leg operation (exchange,
// transfer) links its destination row to the source via ParentTransactionID.
type Transaction struct {
	ID                  uint    `gorm:"primarykey"`
	UserID              *uint   `gorm:"index"` // nil for system transactions
	ParentTransactionID *uint   `gorm:"index"`
	Reference           string  `gorm:"uniqueIndex;not null"`
	ExternalReference   *string `gorm:"index"`
	Asset               string  `gorm:"not null"`
	Amount              int64   `gorm:"not null"` // smallest denomination
	BalanceBefore       int64   `gorm:"not null"`
	BalanceAfter        int64   `gorm:"not null"`
	Type                string  `gorm:"column:transaction_type;not null"`
	Status              string  `gorm:"not null;default:'PENDING'"`
	Category            string  `gorm:"not null;default:'fiat'"`
	Scope               string  `gorm:"column:transaction_scope;not null;default:'internal'"`
	Metadata            JSON    `gorm:"type:jsonb"`
	FailureReason       string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ProcessedAt         *time.Time
	CompletedAt         *time.Time
	FailedAt            *time.Time
	DeletedAt           gorm.DeletedAt `gorm:"index"`
}

// IsDebit reports whether this transaction reduces the wallet balance.
// An exchange row is a debit on its source leg and a credit on the linked
// destination leg.
func (t *Transaction) IsDebit() bool {
	switch t.Type {
	case TransactionTypeWithdrawal, TransactionTypeTransferOut,
		TransactionTypeFee, TransactionTypePayment:
		return true
	case TransactionTypeExchange:
		return t.ParentTransactionID == nil
	default:
		return false
	}
}

// SignedAmount returns the amount with the sign the balance moved by.
func (t *Transaction) SignedAmount() int64 {
	if t.IsDebit() {
		return -t.Amount
	}
	return t.Amount
}

// TerminalStatus reports whether a status admits no further transitions
// other than explicit administrative or settlement moves.
func TerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusSettled:
		return true
	}
	return false
}
