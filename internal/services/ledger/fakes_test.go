package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"corapay/internal/models"
	"corapay/internal/repositories"
	"corapay/internal/services/provider"

	"gorm.io/gorm"
)

// fakeRepo is an in-memory LedgerRepository. ExecuteInTransaction snapshots
// the state and restores it when the closure fails, so the atomic-write
// contract holds the same way it does against Postgres.
type fakeRepo struct {
	mu      sync.Mutex
	wallets map[string]*models.Wallet
	txns    map[uint]*models.Transaction
	legs    map[uint]*models.WalletTransaction
	nextID  uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		wallets: make(map[string]*models.Wallet),
		txns:    make(map[uint]*models.Transaction),
		legs:    make(map[uint]*models.WalletTransaction),
		nextID:  1,
	}
}

func (f *fakeRepo) seedWallet(userID uint, asset string, balance int64) *models.Wallet {
	w := &models.Wallet{ID: f.id(), UserID: userID, Asset: asset, Balance: balance, Status: models.WalletStatusActive}
	f.wallets[walletKey(userID, asset)] = w
	return w
}

func walletKey(userID uint, asset string) string {
	return fmt.Sprintf("%d:%s", userID, asset)
}

func (f *fakeRepo) id() uint {
	id := f.nextID
	f.nextID++
	return id
}

func (f *fakeRepo) snapshot() (map[string]*models.Wallet, map[uint]*models.Transaction, map[uint]*models.WalletTransaction, uint) {
	wallets := make(map[string]*models.Wallet, len(f.wallets))
	for k, v := range f.wallets {
		cp := *v
		wallets[k] = &cp
	}
	txns := make(map[uint]*models.Transaction, len(f.txns))
	for k, v := range f.txns {
		cp := *v
		txns[k] = &cp
	}
	legs := make(map[uint]*models.WalletTransaction, len(f.legs))
	for k, v := range f.legs {
		cp := *v
		legs[k] = &cp
	}
	return wallets, txns, legs, f.nextID
}

func (f *fakeRepo) ExecuteInTransaction(ctx context.Context, fn func(tx repositories.LedgerRepository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	wallets, txns, legs, nextID := f.snapshot()
	if err := fn((*fakeRepoTx)(f)); err != nil {
		f.wallets, f.txns, f.legs, f.nextID = wallets, txns, legs, nextID
		return err
	}
	return nil
}

// fakeRepoTx is the in-transaction view. It shares state with fakeRepo but
// skips the mutex, which the outer ExecuteInTransaction already holds.
type fakeRepoTx fakeRepo

func (f *fakeRepoTx) ExecuteInTransaction(ctx context.Context, fn func(tx repositories.LedgerRepository) error) error {
	return fn(f)
}

func (f *fakeRepo) lock() func() {
	f.mu.Lock()
	return f.mu.Unlock
}

func (f *fakeRepoTx) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	wallet.ID = (*fakeRepo)(f).id()
	f.wallets[walletKey(wallet.UserID, wallet.Asset)] = wallet
	return nil
}

func (f *fakeRepoTx) GetWallet(ctx context.Context, userID uint, asset string) (*models.Wallet, error) {
	w, ok := f.wallets[walletKey(userID, asset)]
	if !ok {
		return nil, repositories.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (f *fakeRepoTx) GetWalletForUpdate(ctx context.Context, userID uint, asset string) (*models.Wallet, error) {
	return f.GetWallet(ctx, userID, asset)
}

func (f *fakeRepoTx) SaveWallet(ctx context.Context, wallet *models.Wallet) error {
	cp := *wallet
	f.wallets[walletKey(wallet.UserID, wallet.Asset)] = &cp
	return nil
}

func (f *fakeRepoTx) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	txn.ID = (*fakeRepo)(f).id()
	txn.CreatedAt = time.Now()
	cp := *txn
	f.txns[txn.ID] = &cp
	return nil
}

func (f *fakeRepoTx) CreateWalletTransaction(ctx context.Context, leg *models.WalletTransaction) error {
	if leg.IdempotencyKey != nil {
		for _, existing := range f.legs {
			if existing.IdempotencyKey != nil &&
				*existing.IdempotencyKey == *leg.IdempotencyKey &&
				existing.Status != models.StatusFailed {
				return gorm.ErrDuplicatedKey
			}
		}
	}
	leg.ID = (*fakeRepo)(f).id()
	cp := *leg
	f.legs[leg.ID] = &cp
	return nil
}

func (f *fakeRepoTx) FindTransaction(ctx context.Context, filter repositories.TransactionFilter) (*models.Transaction, error) {
	for _, txn := range f.txns {
		if filter.ID != 0 && txn.ID != filter.ID {
			continue
		}
		if filter.UserID != nil && (txn.UserID == nil || *txn.UserID != *filter.UserID) {
			continue
		}
		if filter.Reference != "" && txn.Reference != filter.Reference {
			continue
		}
		if filter.Type != "" && txn.Type != filter.Type {
			continue
		}
		if filter.ParentID != nil && (txn.ParentTransactionID == nil || *txn.ParentTransactionID != *filter.ParentID) {
			continue
		}
		cp := *txn
		return &cp, nil
	}
	return nil, repositories.ErrTransactionNotFound
}

func (f *fakeRepoTx) FindWalletTransactionByKey(ctx context.Context, key string) (*models.WalletTransaction, error) {
	// Mirrors the production lookup: the live (non-FAILED) binding wins;
	// FAILED rows are the fallback, lowest ID first.
	var failed *models.WalletTransaction
	for _, leg := range f.legs {
		if leg.IdempotencyKey == nil || *leg.IdempotencyKey != key {
			continue
		}
		if leg.Status != models.StatusFailed {
			cp := *leg
			return &cp, nil
		}
		if failed == nil || leg.ID < failed.ID {
			cp := *leg
			failed = &cp
		}
	}
	if failed != nil {
		return failed, nil
	}
	return nil, repositories.ErrLegNotFound
}

func (f *fakeRepoTx) FindWalletTransactionByTransactionID(ctx context.Context, transactionID uint) (*models.WalletTransaction, error) {
	for _, leg := range f.legs {
		if leg.TransactionID == transactionID {
			cp := *leg
			return &cp, nil
		}
	}
	return nil, repositories.ErrLegNotFound
}

func (f *fakeRepoTx) FindWalletTransactionByProviderRef(ctx context.Context, providerRef string) (*models.WalletTransaction, error) {
	for _, leg := range f.legs {
		if leg.ProviderRef == providerRef {
			cp := *leg
			return &cp, nil
		}
	}
	return nil, repositories.ErrLegNotFound
}

func (f *fakeRepoTx) ListUserTransactions(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, txn := range f.txns {
		if txn.UserID != nil && *txn.UserID == userID {
			out = append(out, *txn)
		}
	}
	return out, nil
}

func (f *fakeRepoTx) UpdateTransactionStatus(ctx context.Context, id uint, fromStates []string, toState string, patch map[string]interface{}) error {
	txn, ok := f.txns[id]
	if !ok || !statusIn(txn.Status, fromStates) {
		return repositories.ErrStateConflict
	}
	txn.Status = toState
	for k, v := range patch {
		switch k {
		case "failure_reason":
			txn.FailureReason, _ = v.(string)
		case "metadata":
			if m, ok := v.(models.JSON); ok {
				txn.Metadata = m
			}
		case "external_reference":
			if s, ok := v.(string); ok {
				txn.ExternalReference = &s
			}
		case "balance_before":
			if n, ok := v.(int64); ok {
				txn.BalanceBefore = n
			}
		case "balance_after":
			if n, ok := v.(int64); ok {
				txn.BalanceAfter = n
			}
		case "completed_at":
			if t, ok := v.(time.Time); ok {
				txn.CompletedAt = &t
			}
		case "failed_at":
			if t, ok := v.(time.Time); ok {
				txn.FailedAt = &t
			}
		case "processed_at":
			if t, ok := v.(time.Time); ok {
				txn.ProcessedAt = &t
			}
		}
	}
	return nil
}

func (f *fakeRepoTx) UpdateWalletTransactionStatus(ctx context.Context, id uint, fromStates []string, toState string, patch map[string]interface{}) error {
	leg, ok := f.legs[id]
	if !ok || !statusIn(leg.Status, fromStates) {
		return repositories.ErrStateConflict
	}
	leg.Status = toState
	for k, v := range patch {
		switch k {
		case "failure_reason":
			leg.FailureReason, _ = v.(string)
		case "provider_reference":
			leg.ProviderRef, _ = v.(string)
		case "provider_fee":
			if n, ok := v.(int64); ok {
				leg.ProviderFee = n
			}
		case "provider_metadata":
			if m, ok := v.(models.JSON); ok {
				leg.ProviderMetadata = m
			}
		case "balance_before":
			if n, ok := v.(int64); ok {
				leg.BalanceBefore = n
			}
		case "balance_after":
			if n, ok := v.(int64); ok {
				leg.BalanceAfter = n
			}
		}
	}
	return nil
}

func statusIn(status string, states []string) bool {
	for _, s := range states {
		if s == status {
			return true
		}
	}
	return false
}

// Outside-transaction reads delegate to the tx view under the mutex.

func (f *fakeRepo) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	defer f.lock()()
	return (*fakeRepoTx)(f).CreateWallet(ctx, wallet)
}

func (f *fakeRepo) GetWallet(ctx context.Context, userID uint, asset string) (*models.Wallet, error) {
	defer f.lock()()
	return (*fakeRepoTx)(f).GetWallet(ctx, userID, asset)
}

func (f *fakeRepo) GetWalletForUpdate(ctx context.Context, userID uint, asset string) (*models.Wallet, error) {
	defer f.lock()()
	return (*fakeRepoTx)(f).GetWalletForUpdate(ctx, userID, asset)
}

func (f *fakeRepo) SaveWallet(ctx context.Context, wallet *models.Wallet) error {
	defer f.lock()()
	return (*fakeRepoTx)(f).SaveWallet(ctx, wallet)
}

func (f *fakeRepo) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	defer f.lock()()
	return (*fakeRepoTx)(f).CreateTransaction(ctx, txn)
}

func (f *fakeRepo) CreateWalletTransaction(ctx context.Context, leg *models.WalletTransaction) error {
	defer f.lock()()
	return (*fakeRepoTx)(f).CreateWalletTransaction(ctx, leg)
}

func (f *fakeRepo) FindTransaction(ctx context.Context, filter repositories.TransactionFilter) (*models.Transaction, error) {
	defer f.lock()()
	return (*fakeRepoTx)(f).FindTransaction(ctx, filter)
}

func (f *fakeRepo) FindWalletTransactionByKey(ctx context.Context, key string) (*models.WalletTransaction, error) {
	defer f.lock()()
	return (*fakeRepoTx)(f).FindWalletTransactionByKey(ctx, key)
}

func (f *fakeRepo) FindWalletTransactionByTransactionID(ctx context.Context, transactionID uint) (*models.WalletTransaction, error) {
	defer f.lock()()
	return (*fakeRepoTx)(f).FindWalletTransactionByTransactionID(ctx, transactionID)
}

func (f *fakeRepo) FindWalletTransactionByProviderRef(ctx context.Context, providerRef string) (*models.WalletTransaction, error) {
	defer f.lock()()
	return (*fakeRepoTx)(f).FindWalletTransactionByProviderRef(ctx, providerRef)
}

func (f *fakeRepo) ListUserTransactions(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, error) {
	defer f.lock()()
	return (*fakeRepoTx)(f).ListUserTransactions(ctx, userID, limit, offset)
}

func (f *fakeRepo) UpdateTransactionStatus(ctx context.Context, id uint, fromStates []string, toState string, patch map[string]interface{}) error {
	defer f.lock()()
	return (*fakeRepoTx)(f).UpdateTransactionStatus(ctx, id, fromStates, toState, patch)
}

func (f *fakeRepo) UpdateWalletTransactionStatus(ctx context.Context, id uint, fromStates []string, toState string, patch map[string]interface{}) error {
	defer f.lock()()
	return (*fakeRepoTx)(f).UpdateWalletTransactionStatus(ctx, id, fromStates, toState, patch)
}

func repositoriesFilterID(id uint) repositories.TransactionFilter {
	return repositories.TransactionFilter{ID: id}
}

// walletBalance reads a wallet balance for assertions.
func (f *fakeRepo) walletBalance(userID uint, asset string) int64 {
	defer f.lock()()
	return f.wallets[walletKey(userID, asset)].Balance
}

// fakeLocker records acquired keys and runs the callback inline. onAcquire,
// when set, fires once between acquisition and the callback, simulating work
// a competing process completed while this caller waited for the lock.
type fakeLocker struct {
	keys      []string
	err       error
	onAcquire func(ctx context.Context)
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if l.err != nil {
		return l.err
	}
	l.keys = append(l.keys, key)
	if l.onAcquire != nil {
		hook := l.onAcquire
		l.onAcquire = nil
		hook(ctx)
	}
	return fn(ctx)
}

// mutexLocker provides real per-key mutual exclusion for concurrency tests.
type mutexLocker struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

func newMutexLocker() *mutexLocker {
	return &mutexLocker{mutexes: make(map[string]*sync.Mutex)}
}

func (l *mutexLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.mutexes[key]
	if !ok {
		m = &sync.Mutex{}
		l.mutexes[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// passthroughBreaker executes directly, keeping breaker behavior out of
// orchestration tests.
type passthroughBreaker struct{}

func (passthroughBreaker) Execute(name string, fn func() (interface{}, error)) (interface{}, error) {
	return fn()
}

// fakeProvider returns a scripted ack or error and counts calls.
type fakeProvider struct {
	ack   *provider.WithdrawalAck
	err   error
	calls int
	last  provider.WithdrawalRequest
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) InitiateWithdrawal(ctx context.Context, req provider.WithdrawalRequest) (*provider.WithdrawalAck, error) {
	p.calls++
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	ack := *p.ack
	if ack.ProviderReference == "" {
		ack.ProviderReference = "po_" + req.Reference
	}
	return &ack, nil
}

func newTestService(repo *fakeRepo, locker *fakeLocker, p *fakeProvider) Service {
	return NewService(repo, locker, passthroughBreaker{}, p, nil, &NoopMetricsCollector{})
}
