package locks

import "fmt"

// Lock keys follow "<operation>:<scope-id>:<resource-id>". Operations against
// the same key are strictly serialized; keys never nest within one call.

// WithdrawKey serializes withdrawals per user.
func WithdrawKey(userID uint) string {
	return fmt.Sprintf("withdraw:%d", userID)
}

// TransferKey serializes outbound transfers per user.
func TransferKey(userID uint) string {
	return fmt.Sprintf("transfer:%d", userID)
}

// ExchangeKey serializes exchange creation per user.
func ExchangeKey(userID uint) string {
	return fmt.Sprintf("exchange:%d", userID)
}

// CancelExchangeKey serializes cancellation of one exchange transaction.
func CancelExchangeKey(userID uint, transactionID uint) string {
	return fmt.Sprintf("cancel-exchange:%d:%d", userID, transactionID)
}
