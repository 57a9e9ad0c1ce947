package repositories

import (
	"context"
	"errors"
	"fmt"

	"corapay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository wraps a gorm handle in the ledger store interface.
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) ExecuteInTransaction(ctx context.Context, fn func(tx LedgerRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ledgerRepository{db: tx})
	})
}

// IsDuplicateKey reports whether err is a unique constraint violation.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// Wallets

func (r *ledgerRepository) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	if err := r.db.WithContext(ctx).Create(wallet).Error; err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func (r *ledgerRepository) GetWallet(ctx context.Context, userID uint, asset string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND asset = ?", userID, asset).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

// GetWalletForUpdate reads the wallet row under SELECT ... FOR UPDATE. Only
// meaningful inside ExecuteInTransaction; the row lock is held to commit.
func (r *ledgerRepository) GetWalletForUpdate(ctx context.Context, userID uint, asset string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND asset = ?", userID, asset).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return &wallet, nil
}

func (r *ledgerRepository) SaveWallet(ctx context.Context, wallet *models.Wallet) error {
	if err := r.db.WithContext(ctx).Save(wallet).Error; err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	return nil
}

// Transactions and legs

func (r *ledgerRepository) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *ledgerRepository) CreateWalletTransaction(ctx context.Context, leg *models.WalletTransaction) error {
	if err := r.db.WithContext(ctx).Create(leg).Error; err != nil {
		if IsDuplicateKey(err) {
			return err
		}
		return fmt.Errorf("failed to create wallet transaction: %w", err)
	}
	return nil
}

func (r *ledgerRepository) FindTransaction(ctx context.Context, filter TransactionFilter) (*models.Transaction, error) {
	q := r.db.WithContext(ctx).Model(&models.Transaction{})
	if filter.ID != 0 {
		q = q.Where("id = ?", filter.ID)
	}
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if filter.Reference != "" {
		q = q.Where("reference = ?", filter.Reference)
	}
	if filter.Type != "" {
		q = q.Where("transaction_type = ?", filter.Type)
	}
	if filter.ParentID != nil {
		q = q.Where("parent_transaction_id = ?", *filter.ParentID)
	}

	var txn models.Transaction
	if err := q.First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return &txn, nil
}

// FindWalletTransactionByKey returns the row owning an idempotency key. The
// partial unique index admits FAILED rows plus at most one live row per key;
// the live binding is the operation, so it wins over any earlier FAILED
// attempt still holding the key.
func (r *ledgerRepository) FindWalletTransactionByKey(ctx context.Context, key string) (*models.WalletTransaction, error) {
	var leg models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ? AND status <> ?", key, models.StatusFailed).
		First(&leg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = r.db.WithContext(ctx).
			Where("idempotency_key = ?", key).
			First(&leg).Error
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLegNotFound
		}
		return nil, fmt.Errorf("failed to find wallet transaction by key: %w", err)
	}
	return &leg, nil
}

func (r *ledgerRepository) FindWalletTransactionByTransactionID(ctx context.Context, transactionID uint) (*models.WalletTransaction, error) {
	var leg models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		First(&leg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLegNotFound
		}
		return nil, fmt.Errorf("failed to find wallet transaction: %w", err)
	}
	return &leg, nil
}

func (r *ledgerRepository) FindWalletTransactionByProviderRef(ctx context.Context, providerRef string) (*models.WalletTransaction, error) {
	var leg models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("provider_reference = ?", providerRef).
		First(&leg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLegNotFound
		}
		return nil, fmt.Errorf("failed to find wallet transaction by provider ref: %w", err)
	}
	return &leg, nil
}

func (r *ledgerRepository) ListUserTransactions(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}

// Conditional updates

func (r *ledgerRepository) UpdateTransactionStatus(ctx context.Context, id uint, fromStates []string, toState string, patch map[string]interface{}) error {
	return r.conditionalUpdate(ctx, &models.Transaction{}, id, fromStates, toState, patch)
}

func (r *ledgerRepository) UpdateWalletTransactionStatus(ctx context.Context, id uint, fromStates []string, toState string, patch map[string]interface{}) error {
	return r.conditionalUpdate(ctx, &models.WalletTransaction{}, id, fromStates, toState, patch)
}

// conditionalUpdate applies `UPDATE ... SET status = toState, patch WHERE id
// AND status IN (fromStates)`. Zero rows affected means the transition raced
// with another writer or was illegal; the caller decides which.
func (r *ledgerRepository) conditionalUpdate(ctx context.Context, model interface{}, id uint, fromStates []string, toState string, patch map[string]interface{}) error {
	updates := map[string]interface{}{"status": toState}
	for k, v := range patch {
		updates[k] = v
	}

	res := r.db.WithContext(ctx).
		Model(model).
		Where("id = ? AND status IN ?", id, fromStates).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStateConflict
	}
	return nil
}
