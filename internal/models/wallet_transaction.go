package models

import (
	"time"

	"gorm.io/gorm"
)

// MaxIdempotencyKeyLength is the store-level bound on client keys.
const MaxIdempotencyKeyLength = 40

// WalletTransaction is the per-rail leg of a canonical Transaction. A simple
// withdrawal has one leg; an exchange or transfer has two, linked through the
// Transaction's ParentTransactionID. The idempotency key, once bound to a
// row, is permanent. The partial unique index admits at most one non-FAILED
// row per key: a retry after a FAILED attempt binds the same key to a fresh
// row while the failed row keeps its key for audit.
type WalletTransaction struct {
	ID               uint    `gorm:"primarykey"`
	TransactionID    uint    `gorm:"index;not null"`
	UserID           uint    `gorm:"index;not null"`
	IdempotencyKey   *string `gorm:"size:40;uniqueIndex:idx_leg_idempotency_key,where:status <> 'FAILED'"`
	Fingerprint      string  // diagnostic only, never part of key resolution
	Asset            string  `gorm:"not null"`
	Amount           int64   `gorm:"not null"`
	BalanceBefore    int64   `gorm:"not null"`
	BalanceAfter     int64   `gorm:"not null"`
	Type             string  `gorm:"not null"`
	Status           string  `gorm:"not null;default:'PENDING'"`
	Provider         string
	ProviderRef      string `gorm:"column:provider_reference;index"`
	ProviderFee      int64
	ProviderMetadata JSON `gorm:"type:jsonb"`
	Source           JSON `gorm:"type:jsonb"`
	Destination      JSON `gorm:"type:jsonb"`
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        gorm.DeletedAt `gorm:"index"`
}
