package models

import (
	"time"
)

// Wallet statuses
const (
	WalletStatusActive = "active"
	WalletStatusLocked = "locked"
)

// Wallet holds one user's balance for one asset, in the asset's smallest
// denomination. Balance is mutated only inside a store transaction, after the
// caller holds the relevant lock, as part of a legal state transition.
type Wallet struct {
	ID           uint   `gorm:"primarykey"`
	UserID       uint   `gorm:"uniqueIndex:idx_wallet_user_asset;not null"`
	Asset        string `gorm:"uniqueIndex:idx_wallet_user_asset;not null;default:'USD'"`
	Balance      int64  `gorm:"not null;default:0"`
	Status       string `gorm:"default:'active'"`
	StatusReason string `gorm:"default:''"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
