package ledger

import (
	"context"
	"time"

	"corapay/internal/models"
)

// Service is the orchestration engine's public surface. Money-creating
// operations (Withdraw, Exchange, Transfer) require a caller-supplied
// idempotency key and are safe to retry with the same key.
type Service interface {
	// Money-creating operations
	Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error)
	Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResult, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)

	// Exchange lifecycle
	CancelExchange(ctx context.Context, userID, transactionID uint) (*CancelResult, error)
	CompleteExchange(ctx context.Context, userID, transactionID uint) error

	// Out-of-band resolution
	ResolveProviderResult(ctx context.Context, providerRef string, success bool, failureReason string, payload models.JSON) error
	ResolveReview(ctx context.Context, transactionID uint, toStatus, failureReason string) error
	FlagForReview(ctx context.Context, transactionID uint, reason string) error
	Settle(ctx context.Context, transactionID uint) error

	// Read side
	GetTransaction(ctx context.Context, userID, transactionID uint) (*models.Transaction, error)
	ListTransactions(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, error)

	// Wallet bootstrap
	CreateWallet(ctx context.Context, userID uint, asset string) (*models.Wallet, error)
	GetWallet(ctx context.Context, userID uint, asset string) (*models.Wallet, error)
}

// WithdrawRequest moves funds from a user's wallet to an external account.
type WithdrawRequest struct {
	UserID         uint
	Asset          string
	Amount         int64
	IdempotencyKey string
	Destination    map[string]interface{}
	Category       string // defaults to fiat
}

// WithdrawResult carries the canonical row and its rail leg. Reused is true
// when the call resolved to a prior attempt with the same idempotency key.
type WithdrawResult struct {
	Transaction *models.Transaction
	Leg         *models.WalletTransaction
	Reused      bool
}

// ExchangeRequest converts between two of a user's asset wallets at a
// caller-quoted rate. DebitAmount leaves the source wallet immediately
// (reservation); CreditAmount lands in the destination wallet on completion.
type ExchangeRequest struct {
	UserID         uint
	FromAsset      string
	ToAsset        string
	DebitAmount    int64
	CreditAmount   int64
	IdempotencyKey string
	Rate           string // caller-quoted, recorded in metadata for audit
	Metadata       map[string]interface{}
}

type ExchangeResult struct {
	Source      *models.Transaction
	Destination *models.Transaction
	Reused      bool
}

// TransferRequest moves funds between two users' wallets in one asset.
type TransferRequest struct {
	FromUserID     uint
	ToUserID       uint
	Asset          string
	Amount         int64
	IdempotencyKey string
	Description    string
}

type TransferResult struct {
	Outbound *models.Transaction
	Inbound  *models.Transaction
	Reused   bool
}

// CancelResult lists every row a cancellation touched.
type CancelResult struct {
	TransactionIDs       []uint
	WalletTransactionIDs []uint
}

// Cache is the read-side cache the orchestrator uses for lookups. The write
// path never consults it.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
