package errors

var (
	ErrValidation = &DomainError{
		Code:    "VALIDATION_ERROR",
		Message: "invalid request",
	}
	ErrNotFound = &DomainError{
		Code:    "NOT_FOUND",
		Message: "resource not found",
	}
	ErrInvalidStateTransition = &DomainError{
		Code:    "INVALID_STATE_TRANSITION",
		Message: "illegal transaction state transition",
	}
	ErrLocked = &DomainError{
		Code:    "LOCKED",
		Message: "resource is locked by another operation",
	}
	ErrDuplicateIdempotencyKey = &DomainError{
		Code:    "DUPLICATE_IDEMPOTENCY_KEY",
		Message: "idempotency key already used",
	}
	ErrProviderUnavailable = &DomainError{
		Code:    "PROVIDER_UNAVAILABLE",
		Message: "provider unavailable",
	}
	ErrProviderError = &DomainError{
		Code:    "PROVIDER_ERROR",
		Message: "provider rejected the operation",
	}
	ErrInconsistent = &DomainError{
		Code:    "INCONSISTENT",
		Message: "balance invariant violated",
	}
	ErrInsufficientBalance = &DomainError{
		Code:    "INSUFFICIENT_BALANCE",
		Message: "insufficient wallet balance",
	}
	ErrWalletNotFound = &DomainError{
		Code:    "WALLET_NOT_FOUND",
		Message: "wallet not found",
	}
	ErrWalletLocked = &DomainError{
		Code:    "WALLET_LOCKED",
		Message: "wallet is locked",
	}
)
