package ledger

import "time"

// Default configuration values
const (
	DefaultAsset     = "USD"
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Cache keys and durations
const (
	TransactionCachePrefix = "transaction:"
	WalletCachePrefix      = "wallet:"
	CacheDuration          = 5 * time.Minute
)

// Metadata keys
const (
	metaWebhookHistory = "webhook_history"
	metaDestination    = "destination"
	metaRate           = "rate"
)
