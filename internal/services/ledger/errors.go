package ledger

import (
	domain "corapay/internal/errors"
)

// Service errors. All are DomainError copies so errors.Is matches the
// taxonomy sentinels and the handler layer can map them to status codes.
var (
	ErrInvalidAmount       = domain.ErrValidation.WithMessage("amount must be a positive integer")
	ErrInvalidAsset        = domain.ErrValidation.WithMessage("invalid asset")
	ErrSameAsset           = domain.ErrValidation.WithMessage("cannot exchange an asset for itself")
	ErrSelfTransfer        = domain.ErrValidation.WithMessage("cannot transfer to self")
	ErrMissingDestination  = domain.ErrValidation.WithMessage("withdrawal destination is required")
	ErrInvalidKey          = domain.ErrValidation.WithMessage("idempotency key must be 1-40 characters")
	ErrTransactionNotFound = domain.ErrNotFound.WithMessage("transaction not found")
)
