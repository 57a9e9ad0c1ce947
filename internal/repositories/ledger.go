package repositories

import (
	"context"
	"errors"

	"corapay/internal/models"
)

// Repository-level errors. Services translate these into domain errors.
var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrLegNotFound         = errors.New("wallet transaction not found")

	// ErrStateConflict is returned when a conditional status update matched
	// no row: the row is gone or its status is outside the allowed set.
	ErrStateConflict = errors.New("transaction state conflict")
)

// TransactionFilter selects a canonical transaction. Zero fields are ignored.
type TransactionFilter struct {
	ID        uint
	UserID    *uint
	Reference string
	Type      string
	ParentID  *uint
}

// LedgerRepository is the transactional store behind the orchestration
// engine. ExecuteInTransaction yields a repository bound to one database
// transaction; every balance mutation goes through such a closure.
//
// The two conditional update methods implement the state machine's
// enforcement contract: the legal from-states travel with the UPDATE
// (`... WHERE status IN (fromStates)`), never as a prior read.
type LedgerRepository interface {
	ExecuteInTransaction(ctx context.Context, fn func(tx LedgerRepository) error) error

	// Wallets
	CreateWallet(ctx context.Context, wallet *models.Wallet) error
	GetWallet(ctx context.Context, userID uint, asset string) (*models.Wallet, error)
	GetWalletForUpdate(ctx context.Context, userID uint, asset string) (*models.Wallet, error)
	SaveWallet(ctx context.Context, wallet *models.Wallet) error

	// Canonical transactions and legs
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	CreateWalletTransaction(ctx context.Context, leg *models.WalletTransaction) error
	FindTransaction(ctx context.Context, filter TransactionFilter) (*models.Transaction, error)
	FindWalletTransactionByKey(ctx context.Context, key string) (*models.WalletTransaction, error)
	FindWalletTransactionByTransactionID(ctx context.Context, transactionID uint) (*models.WalletTransaction, error)
	FindWalletTransactionByProviderRef(ctx context.Context, providerRef string) (*models.WalletTransaction, error)
	ListUserTransactions(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, error)

	// Conditional status updates
	UpdateTransactionStatus(ctx context.Context, id uint, fromStates []string, toState string, patch map[string]interface{}) error
	UpdateWalletTransactionStatus(ctx context.Context, id uint, fromStates []string, toState string, patch map[string]interface{}) error
}
