package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	domain "corapay/internal/errors"
	"corapay/internal/locks"
	"corapay/internal/models"
	"corapay/internal/repositories"
	"corapay/internal/services/provider"

	"github.com/google/uuid"
)

type service struct {
	repo     repositories.LedgerRepository
	locker   locks.Locker
	guard    *IdempotencyGuard
	breaker  BreakerExecutor
	provider provider.Adapter
	cache    Cache
	metrics  MetricsCollector
}

// NewService creates the orchestration engine. All coordination state (locks,
// idempotency keys, statuses) lives in the shared stores, so the service
// itself is stateless and safe across process instances.
func NewService(
	repo repositories.LedgerRepository,
	locker locks.Locker,
	breaker BreakerExecutor,
	providerAdapter provider.Adapter,
	cache Cache,
	metrics MetricsCollector,
) Service {
	if repo == nil {
		panic("repo is required")
	}
	if locker == nil {
		panic("locker is required")
	}
	if breaker == nil {
		panic("breaker is required")
	}
	if providerAdapter == nil {
		panic("provider adapter is required")
	}
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}

	return &service{
		repo:     repo,
		locker:   locker,
		guard:    NewIdempotencyGuard(repo),
		breaker:  breaker,
		provider: providerAdapter,
		cache:    cache,
		metrics:  metrics,
	}
}

// Withdraw moves funds from a user's wallet to an external account through
// the payout provider. The sequence is: idempotency resolution, per-user
// lock, atomic PENDING write with the balance debit, INITIATED, provider call
// through the breaker, then PROCESSING (async ack) or COMPLETED (sync), or
// FAILED with an exact reversal of the debit.
func (s *service) Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordOperationDuration("withdraw", time.Since(start))
	}()

	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Asset == "" {
		return nil, ErrInvalidAsset
	}
	if len(req.Destination) == 0 {
		return nil, ErrMissingDestination
	}

	fp := Fingerprint(req.UserID, req.Asset, req.Amount, fmt.Sprint(req.Destination["account_number"]))
	res, err := s.guard.Resolve(ctx, req.IdempotencyKey, fp)
	if err != nil {
		return nil, err
	}
	if res.Outcome == OutcomeExisting {
		return s.replayWithdrawal(ctx, res.Leg)
	}

	var result *WithdrawResult
	err = s.locker.WithLock(ctx, locks.WithdrawKey(req.UserID), func(ctx context.Context) error {
		r, err := s.executeWithdraw(ctx, req, fp)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		s.metrics.RecordError("withdraw", errCode(err))
		return nil, err
	}

	s.invalidateCaches(ctx, req.UserID)
	s.metrics.RecordTransaction(models.TransactionTypeWithdrawal, req.Amount)
	return result, nil
}

func (s *service) executeWithdraw(ctx context.Context, req WithdrawRequest, fp string) (*WithdrawResult, error) {
	category := req.Category
	if category == "" {
		category = models.CategoryFiat
	}

	txn := &models.Transaction{}
	leg := &models.WalletTransaction{}

	// Atomic PENDING write: the wallet debit, the canonical row and the leg
	// carrying the idempotency key commit together or not at all.
	err := s.repo.ExecuteInTransaction(ctx, func(tx repositories.LedgerRepository) error {
		wallet, err := s.debitWallet(ctx, tx, req.UserID, req.Asset, req.Amount)
		if err != nil {
			return err
		}

		userID := req.UserID
		*txn = models.Transaction{
			UserID:        &userID,
			Reference:     newReference(),
			Asset:         req.Asset,
			Amount:        req.Amount,
			BalanceBefore: wallet.Balance + req.Amount,
			BalanceAfter:  wallet.Balance,
			Type:          models.TransactionTypeWithdrawal,
			Status:        models.StatusPending,
			Category:      category,
			Scope:         models.ScopeExternal,
			Metadata:      models.NewJSON(map[string]interface{}{metaDestination: req.Destination}),
		}
		if err := CheckBalanceInvariant(txn); err != nil {
			return err
		}
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return err
		}

		key := req.IdempotencyKey
		*leg = models.WalletTransaction{
			TransactionID:  txn.ID,
			UserID:         req.UserID,
			IdempotencyKey: &key,
			Fingerprint:    fp,
			Asset:          req.Asset,
			Amount:         req.Amount,
			BalanceBefore:  txn.BalanceBefore,
			BalanceAfter:   txn.BalanceAfter,
			Type:           models.TransactionTypeWithdrawal,
			Status:         models.StatusPending,
			Provider:       s.provider.Name(),
			Destination:    models.JSON(req.Destination),
		}
		return tx.CreateWalletTransaction(ctx, leg)
	})
	if err != nil {
		if repositories.IsDuplicateKey(err) {
			// Lost the insert race for this key: the winner's row is the
			// operation. Resolved as "existing", never surfaced as an error.
			winner, rerr := s.guard.ResolveExisting(ctx, req.IdempotencyKey)
			if rerr != nil {
				return nil, rerr
			}
			return s.replayWithdrawal(ctx, winner)
		}
		return nil, err
	}

	// Mark "about to call the provider" before leaving the store.
	if err := s.transitionPair(ctx, txn, leg, []string{models.StatusPending}, models.StatusInitiated, nil, nil); err != nil {
		return nil, err
	}

	ack, err := s.callProvider(ctx, txn, leg)
	if err != nil {
		reason := failureReason(err)
		if ferr := s.failAndReverse(ctx, txn.ID, leg.ID, reason, nil); ferr != nil {
			log.Printf("withdrawal %s failed and reversal did not apply: %v (provider error: %v)", txn.Reference, ferr, err)
			return nil, ferr
		}
		s.metrics.RecordReversal(models.TransactionTypeWithdrawal, txn.Amount)
		return nil, err
	}

	toState := models.StatusProcessing
	now := time.Now()
	txnPatch := map[string]interface{}{
		"external_reference": ack.ProviderReference,
		"processed_at":       now,
	}
	legPatch := map[string]interface{}{
		"provider_reference": ack.ProviderReference,
		"provider_fee":       ack.Fee,
		"provider_metadata":  ack.Raw,
	}
	if ack.Status == provider.AckCompleted {
		toState = models.StatusCompleted
		txnPatch["completed_at"] = now
	}
	if err := s.transitionPair(ctx, txn, leg, []string{models.StatusInitiated}, toState, txnPatch, legPatch); err != nil {
		return nil, err
	}

	ref := ack.ProviderReference
	txn.ExternalReference = &ref
	leg.ProviderRef = ack.ProviderReference

	return &WithdrawResult{Transaction: txn, Leg: leg}, nil
}

func (s *service) callProvider(ctx context.Context, txn *models.Transaction, leg *models.WalletTransaction) (*provider.WithdrawalAck, error) {
	out, err := s.breaker.Execute(s.provider.Name(), func() (interface{}, error) {
		return s.provider.InitiateWithdrawal(ctx, provider.WithdrawalRequest{
			Reference:   txn.Reference,
			Asset:       txn.Asset,
			Amount:      txn.Amount,
			Destination: leg.Destination,
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrProviderUnavailable) {
			return nil, err
		}
		if errors.Is(err, domain.ErrProviderError) {
			return nil, err
		}
		return nil, domain.ErrProviderError.Wrap(err)
	}
	return out.(*provider.WithdrawalAck), nil
}

func (s *service) replayWithdrawal(ctx context.Context, leg *models.WalletTransaction) (*WithdrawResult, error) {
	txn, err := s.repo.FindTransaction(ctx, repositories.TransactionFilter{ID: leg.TransactionID})
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			return nil, domain.ErrInconsistent.WithMessage("wallet transaction without canonical row")
		}
		return nil, err
	}
	return &WithdrawResult{Transaction: txn, Leg: leg, Reused: true}, nil
}

// Exchange creates both legs of a currency conversion in one atomic write.
// The source wallet is debited immediately (the reservation); the destination
// wallet is credited when the exchange completes. Both rows start PENDING and
// the destination points at the source via parent_transaction_id.
func (s *service) Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordOperationDuration("exchange", time.Since(start))
	}()

	if req.DebitAmount <= 0 || req.CreditAmount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.FromAsset == "" || req.ToAsset == "" {
		return nil, ErrInvalidAsset
	}
	if req.FromAsset == req.ToAsset {
		return nil, ErrSameAsset
	}

	fp := Fingerprint(req.UserID, req.FromAsset, req.DebitAmount, req.ToAsset)
	res, err := s.guard.Resolve(ctx, req.IdempotencyKey, fp)
	if err != nil {
		return nil, err
	}
	if res.Outcome == OutcomeExisting {
		return s.replayExchange(ctx, res.Leg)
	}

	var result *ExchangeResult
	err = s.locker.WithLock(ctx, locks.ExchangeKey(req.UserID), func(ctx context.Context) error {
		r, err := s.executeExchange(ctx, req, fp)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		s.metrics.RecordError("exchange", errCode(err))
		return nil, err
	}

	s.invalidateCaches(ctx, req.UserID)
	s.metrics.RecordTransaction(models.TransactionTypeExchange, req.DebitAmount)
	return result, nil
}

func (s *service) executeExchange(ctx context.Context, req ExchangeRequest, fp string) (*ExchangeResult, error) {
	source := &models.Transaction{}
	dest := &models.Transaction{}

	err := s.repo.ExecuteInTransaction(ctx, func(tx repositories.LedgerRepository) error {
		srcWallet, err := s.debitWallet(ctx, tx, req.UserID, req.FromAsset, req.DebitAmount)
		if err != nil {
			return err
		}
		// Destination balance is read for the projected credit; the wallet
		// itself is only credited on completion.
		dstWallet, err := tx.GetWallet(ctx, req.UserID, req.ToAsset)
		if err != nil {
			if errors.Is(err, repositories.ErrWalletNotFound) {
				return domain.ErrWalletNotFound.WithMessage(
					fmt.Sprintf("no %s wallet for user %d", req.ToAsset, req.UserID))
			}
			return err
		}

		metadata := models.NewJSON(map[string]interface{}{
			"from_asset": req.FromAsset,
			"to_asset":   req.ToAsset,
		})
		if req.Rate != "" {
			metadata[metaRate] = req.Rate
		}
		for k, v := range req.Metadata {
			metadata[k] = v
		}

		userID := req.UserID
		*source = models.Transaction{
			UserID:        &userID,
			Reference:     newReference(),
			Asset:         req.FromAsset,
			Amount:        req.DebitAmount,
			BalanceBefore: srcWallet.Balance + req.DebitAmount,
			BalanceAfter:  srcWallet.Balance,
			Type:          models.TransactionTypeExchange,
			Status:        models.StatusPending,
			Category:      models.CategoryFiat,
			Scope:         models.ScopeInternal,
			Metadata:      metadata,
		}
		if err := CheckBalanceInvariant(source); err != nil {
			return err
		}
		if err := tx.CreateTransaction(ctx, source); err != nil {
			return err
		}

		key := req.IdempotencyKey
		sourceLeg := &models.WalletTransaction{
			TransactionID:  source.ID,
			UserID:         req.UserID,
			IdempotencyKey: &key,
			Fingerprint:    fp,
			Asset:          req.FromAsset,
			Amount:         req.DebitAmount,
			BalanceBefore:  source.BalanceBefore,
			BalanceAfter:   source.BalanceAfter,
			Type:           models.TransactionTypeExchange,
			Status:         models.StatusPending,
		}
		if err := tx.CreateWalletTransaction(ctx, sourceLeg); err != nil {
			return err
		}

		parentID := source.ID
		*dest = models.Transaction{
			UserID:              &userID,
			ParentTransactionID: &parentID,
			Reference:           newReference(),
			Asset:               req.ToAsset,
			Amount:              req.CreditAmount,
			BalanceBefore:       dstWallet.Balance,
			BalanceAfter:        dstWallet.Balance + req.CreditAmount,
			Type:                models.TransactionTypeExchange,
			Status:              models.StatusPending,
			Category:            models.CategoryFiat,
			Scope:               models.ScopeInternal,
			Metadata:            metadata,
		}
		if err := CheckBalanceInvariant(dest); err != nil {
			return err
		}
		if err := tx.CreateTransaction(ctx, dest); err != nil {
			return err
		}

		destLeg := &models.WalletTransaction{
			TransactionID: dest.ID,
			UserID:        req.UserID,
			Asset:         req.ToAsset,
			Amount:        req.CreditAmount,
			BalanceBefore: dest.BalanceBefore,
			BalanceAfter:  dest.BalanceAfter,
			Type:          models.TransactionTypeExchange,
			Status:        models.StatusPending,
		}
		return tx.CreateWalletTransaction(ctx, destLeg)
	})
	if err != nil {
		if repositories.IsDuplicateKey(err) {
			winner, rerr := s.guard.ResolveExisting(ctx, req.IdempotencyKey)
			if rerr != nil {
				return nil, rerr
			}
			return s.replayExchange(ctx, winner)
		}
		return nil, err
	}

	return &ExchangeResult{Source: source, Destination: dest}, nil
}

func (s *service) replayExchange(ctx context.Context, leg *models.WalletTransaction) (*ExchangeResult, error) {
	source, err := s.repo.FindTransaction(ctx, repositories.TransactionFilter{ID: leg.TransactionID})
	if err != nil {
		return nil, err
	}
	result := &ExchangeResult{Source: source, Reused: true}

	parentID := source.ID
	dest, err := s.repo.FindTransaction(ctx, repositories.TransactionFilter{ParentID: &parentID})
	if err == nil {
		result.Destination = dest
	} else if !errors.Is(err, repositories.ErrTransactionNotFound) {
		return nil, err
	}
	return result, nil
}

// CompleteExchange finishes a pending exchange: the destination wallet is
// credited and all four rows move PENDING -> COMPLETED in one atomic write.
func (s *service) CompleteExchange(ctx context.Context, userID, transactionID uint) error {
	return s.locker.WithLock(ctx, locks.CancelExchangeKey(userID, transactionID), func(ctx context.Context) error {
		source, destination, sourceLeg, destLeg, err := s.loadExchange(ctx, userID, transactionID)
		if err != nil {
			return err
		}
		if err := ValidateTransition(source.Status, models.StatusCompleted); err != nil {
			return err
		}

		now := time.Now()
		err = s.repo.ExecuteInTransaction(ctx, func(tx repositories.LedgerRepository) error {
			from := []string{models.StatusPending}
			patch := map[string]interface{}{"completed_at": now}
			if err := s.conditionalTransition(ctx, tx, source.ID, from, models.StatusCompleted, patch); err != nil {
				return err
			}
			if sourceLeg != nil {
				if err := tx.UpdateWalletTransactionStatus(ctx, sourceLeg.ID, from, models.StatusCompleted, nil); err != nil {
					return stateErr(err)
				}
			}

			if destination == nil {
				return nil
			}

			wallet, err := tx.GetWalletForUpdate(ctx, userID, destination.Asset)
			if err != nil {
				return err
			}
			before := wallet.Balance
			wallet.Balance += destination.Amount
			if err := tx.SaveWallet(ctx, wallet); err != nil {
				return err
			}

			// The credit's balance pair is written atomically with the
			// COMPLETED transition, reflecting the balance at credit time.
			destPatch := map[string]interface{}{
				"completed_at":   now,
				"balance_before": before,
				"balance_after":  wallet.Balance,
			}
			if err := s.conditionalTransition(ctx, tx, destination.ID, from, models.StatusCompleted, destPatch); err != nil {
				return err
			}
			if destLeg != nil {
				legPatch := map[string]interface{}{
					"balance_before": before,
					"balance_after":  wallet.Balance,
				}
				if err := tx.UpdateWalletTransactionStatus(ctx, destLeg.ID, from, models.StatusCompleted, legPatch); err != nil {
					return stateErr(err)
				}
			}
			return nil
		})
		if err != nil {
			s.metrics.RecordError("complete_exchange", errCode(err))
			return err
		}

		s.invalidateCaches(ctx, userID)
		return nil
	})
}

// CancelExchange unwinds a pending exchange: the source and, when present,
// destination rows move to CANCELLED and the source debit is credited back,
// all inside one atomic write. Partial cancellation is impossible.
func (s *service) CancelExchange(ctx context.Context, userID, transactionID uint) (*CancelResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordOperationDuration("cancel_exchange", time.Since(start))
	}()

	var result *CancelResult
	err := s.locker.WithLock(ctx, locks.CancelExchangeKey(userID, transactionID), func(ctx context.Context) error {
		source, destination, sourceLeg, destLeg, err := s.loadExchange(ctx, userID, transactionID)
		if err != nil {
			return err
		}
		if source.Status != models.StatusPending {
			return domain.ErrInvalidStateTransition.WithMessage(
				fmt.Sprintf("exchange %d is %s, only PENDING exchanges can be cancelled", transactionID, source.Status))
		}

		now := time.Now()
		cancelled := &CancelResult{}
		err = s.repo.ExecuteInTransaction(ctx, func(tx repositories.LedgerRepository) error {
			from := []string{models.StatusPending}
			patch := map[string]interface{}{"failed_at": now, "failure_reason": "cancelled by user"}

			if err := s.conditionalTransition(ctx, tx, source.ID, from, models.StatusCancelled, patch); err != nil {
				return err
			}
			cancelled.TransactionIDs = append(cancelled.TransactionIDs, source.ID)

			if sourceLeg != nil {
				if err := tx.UpdateWalletTransactionStatus(ctx, sourceLeg.ID, from, models.StatusCancelled, nil); err != nil {
					return stateErr(err)
				}
				cancelled.WalletTransactionIDs = append(cancelled.WalletTransactionIDs, sourceLeg.ID)
			}
			if destination != nil {
				if err := s.conditionalTransition(ctx, tx, destination.ID, from, models.StatusCancelled, patch); err != nil {
					return err
				}
				cancelled.TransactionIDs = append(cancelled.TransactionIDs, destination.ID)
			}
			if destLeg != nil {
				if err := tx.UpdateWalletTransactionStatus(ctx, destLeg.ID, from, models.StatusCancelled, nil); err != nil {
					return stateErr(err)
				}
				cancelled.WalletTransactionIDs = append(cancelled.WalletTransactionIDs, destLeg.ID)
			}

			// Reverse the reservation: credit back exactly what PENDING debited.
			return s.reverseDebit(ctx, tx, source)
		})
		if err != nil {
			return err
		}

		s.metrics.RecordReversal(models.TransactionTypeExchange, source.Amount)
		result = cancelled
		return nil
	})
	if err != nil {
		s.metrics.RecordError("cancel_exchange", errCode(err))
		return nil, err
	}

	s.invalidateCaches(ctx, userID)
	return result, nil
}

// loadExchange fetches the source transaction plus its optional linked rows.
// A missing destination or leg is tolerated; a missing source is NotFound.
func (s *service) loadExchange(ctx context.Context, userID, transactionID uint) (source, destination *models.Transaction, sourceLeg, destLeg *models.WalletTransaction, err error) {
	uid := userID
	source, err = s.repo.FindTransaction(ctx, repositories.TransactionFilter{
		ID:     transactionID,
		UserID: &uid,
		Type:   models.TransactionTypeExchange,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			return nil, nil, nil, nil, ErrTransactionNotFound
		}
		return nil, nil, nil, nil, err
	}

	sourceLeg, err = s.repo.FindWalletTransactionByTransactionID(ctx, source.ID)
	if err != nil {
		if !errors.Is(err, repositories.ErrLegNotFound) {
			return nil, nil, nil, nil, err
		}
		sourceLeg = nil
	}

	parentID := source.ID
	destination, err = s.repo.FindTransaction(ctx, repositories.TransactionFilter{ParentID: &parentID})
	if err != nil {
		if !errors.Is(err, repositories.ErrTransactionNotFound) {
			return nil, nil, nil, nil, err
		}
		destination = nil
	}
	if destination != nil {
		destLeg, err = s.repo.FindWalletTransactionByTransactionID(ctx, destination.ID)
		if err != nil {
			if !errors.Is(err, repositories.ErrLegNotFound) {
				return nil, nil, nil, nil, err
			}
			destLeg = nil
		}
	}
	return source, destination, sourceLeg, destLeg, nil
}

// Transfer moves funds between two users' wallets. Both balance moves and all
// four ledger rows commit in one store transaction; the rows pass through
// PENDING to COMPLETED inside that same write.
func (s *service) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordOperationDuration("transfer", time.Since(start))
	}()

	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Asset == "" {
		return nil, ErrInvalidAsset
	}
	if req.FromUserID == req.ToUserID {
		return nil, ErrSelfTransfer
	}

	fp := Fingerprint(req.FromUserID, req.Asset, req.Amount, fmt.Sprintf("to:%d", req.ToUserID))
	res, err := s.guard.Resolve(ctx, req.IdempotencyKey, fp)
	if err != nil {
		return nil, err
	}
	if res.Outcome == OutcomeExisting {
		return s.replayTransfer(ctx, res.Leg)
	}

	var result *TransferResult
	err = s.locker.WithLock(ctx, locks.TransferKey(req.FromUserID), func(ctx context.Context) error {
		r, err := s.executeTransfer(ctx, req, fp)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		s.metrics.RecordError("transfer", errCode(err))
		return nil, err
	}

	s.invalidateCaches(ctx, req.FromUserID)
	s.invalidateCaches(ctx, req.ToUserID)
	s.metrics.RecordTransaction(models.TransactionTypeTransferOut, req.Amount)
	return result, nil
}

func (s *service) executeTransfer(ctx context.Context, req TransferRequest, fp string) (*TransferResult, error) {
	outbound := &models.Transaction{}
	inbound := &models.Transaction{}

	err := s.repo.ExecuteInTransaction(ctx, func(tx repositories.LedgerRepository) error {
		// Lock both wallets in userID order so two opposing transfers cannot
		// deadlock each other.
		firstID, secondID := req.FromUserID, req.ToUserID
		if firstID > secondID {
			firstID, secondID = secondID, firstID
		}
		if _, err := tx.GetWalletForUpdate(ctx, firstID, req.Asset); err != nil {
			return walletErr(err)
		}
		if _, err := tx.GetWalletForUpdate(ctx, secondID, req.Asset); err != nil {
			return walletErr(err)
		}

		srcWallet, err := s.debitWallet(ctx, tx, req.FromUserID, req.Asset, req.Amount)
		if err != nil {
			return err
		}
		dstWallet, err := tx.GetWalletForUpdate(ctx, req.ToUserID, req.Asset)
		if err != nil {
			return walletErr(err)
		}
		dstBefore := dstWallet.Balance
		dstWallet.Balance += req.Amount
		if err := tx.SaveWallet(ctx, dstWallet); err != nil {
			return err
		}

		now := time.Now()
		metadata := models.NewJSON(map[string]interface{}{"description": req.Description})

		fromID, toID := req.FromUserID, req.ToUserID
		*outbound = models.Transaction{
			UserID:        &fromID,
			Reference:     newReference(),
			Asset:         req.Asset,
			Amount:        req.Amount,
			BalanceBefore: srcWallet.Balance + req.Amount,
			BalanceAfter:  srcWallet.Balance,
			Type:          models.TransactionTypeTransferOut,
			Status:        models.StatusPending,
			Category:      models.CategoryFiat,
			Scope:         models.ScopeInternal,
			Metadata:      metadata,
		}
		if err := CheckBalanceInvariant(outbound); err != nil {
			return err
		}
		if err := tx.CreateTransaction(ctx, outbound); err != nil {
			return err
		}

		key := req.IdempotencyKey
		outLeg := &models.WalletTransaction{
			TransactionID:  outbound.ID,
			UserID:         req.FromUserID,
			IdempotencyKey: &key,
			Fingerprint:    fp,
			Asset:          req.Asset,
			Amount:         req.Amount,
			BalanceBefore:  outbound.BalanceBefore,
			BalanceAfter:   outbound.BalanceAfter,
			Type:           models.TransactionTypeTransferOut,
			Status:         models.StatusPending,
		}
		if err := tx.CreateWalletTransaction(ctx, outLeg); err != nil {
			return err
		}

		parentID := outbound.ID
		*inbound = models.Transaction{
			UserID:              &toID,
			ParentTransactionID: &parentID,
			Reference:           newReference(),
			Asset:               req.Asset,
			Amount:              req.Amount,
			BalanceBefore:       dstBefore,
			BalanceAfter:        dstWallet.Balance,
			Type:                models.TransactionTypeTransferIn,
			Status:              models.StatusPending,
			Category:            models.CategoryFiat,
			Scope:               models.ScopeInternal,
			Metadata:            metadata,
		}
		if err := CheckBalanceInvariant(inbound); err != nil {
			return err
		}
		if err := tx.CreateTransaction(ctx, inbound); err != nil {
			return err
		}

		inLeg := &models.WalletTransaction{
			TransactionID: inbound.ID,
			UserID:        req.ToUserID,
			Asset:         req.Asset,
			Amount:        req.Amount,
			BalanceBefore: inbound.BalanceBefore,
			BalanceAfter:  inbound.BalanceAfter,
			Type:          models.TransactionTypeTransferIn,
			Status:        models.StatusPending,
		}
		if err := tx.CreateWalletTransaction(ctx, inLeg); err != nil {
			return err
		}

		// An internal transfer has no external settlement to wait for.
		from := []string{models.StatusPending}
		patch := map[string]interface{}{"completed_at": now}
		for _, id := range []uint{outbound.ID, inbound.ID} {
			if err := s.conditionalTransition(ctx, tx, id, from, models.StatusCompleted, patch); err != nil {
				return err
			}
		}
		for _, id := range []uint{outLeg.ID, inLeg.ID} {
			if err := tx.UpdateWalletTransactionStatus(ctx, id, from, models.StatusCompleted, nil); err != nil {
				return stateErr(err)
			}
		}
		outbound.Status = models.StatusCompleted
		inbound.Status = models.StatusCompleted
		return nil
	})
	if err != nil {
		if repositories.IsDuplicateKey(err) {
			winner, rerr := s.guard.ResolveExisting(ctx, req.IdempotencyKey)
			if rerr != nil {
				return nil, rerr
			}
			return s.replayTransfer(ctx, winner)
		}
		return nil, err
	}

	return &TransferResult{Outbound: outbound, Inbound: inbound}, nil
}

func (s *service) replayTransfer(ctx context.Context, leg *models.WalletTransaction) (*TransferResult, error) {
	outbound, err := s.repo.FindTransaction(ctx, repositories.TransactionFilter{ID: leg.TransactionID})
	if err != nil {
		return nil, err
	}
	result := &TransferResult{Outbound: outbound, Reused: true}

	parentID := outbound.ID
	inbound, err := s.repo.FindTransaction(ctx, repositories.TransactionFilter{ParentID: &parentID})
	if err == nil {
		result.Inbound = inbound
	} else if !errors.Is(err, repositories.ErrTransactionNotFound) {
		return nil, err
	}
	return result, nil
}

// ResolveProviderResult applies an out-of-band provider confirmation (payout
// webhook) to a PROCESSING withdrawal. The payload is appended to the row's
// webhook history; failures reverse the debit in the same write.
func (s *service) ResolveProviderResult(ctx context.Context, providerRef string, success bool, failureReason string, payload models.JSON) error {
	leg, err := s.repo.FindWalletTransactionByProviderRef(ctx, providerRef)
	if err != nil {
		if errors.Is(err, repositories.ErrLegNotFound) {
			return ErrTransactionNotFound.WithMessage(
				fmt.Sprintf("no wallet transaction for provider reference %q", providerRef))
		}
		return err
	}
	txn, err := s.repo.FindTransaction(ctx, repositories.TransactionFilter{ID: leg.TransactionID})
	if err != nil {
		return err
	}

	metadata := txn.Metadata
	if metadata == nil {
		metadata = models.JSON{}
	}
	history, _ := metadata[metaWebhookHistory].([]interface{})
	metadata[metaWebhookHistory] = append(history, map[string]interface{}(payload))

	if !success {
		if failureReason == "" {
			failureReason = "rejected by provider"
		}
		if err := s.failAndReverse(ctx, txn.ID, leg.ID, failureReason, metadata); err != nil {
			return err
		}
		s.metrics.RecordReversal(txn.Type, txn.Amount)
		s.invalidateCaches(ctx, leg.UserID)
		return nil
	}

	if err := ValidateTransition(txn.Status, models.StatusCompleted); err != nil {
		return err
	}
	now := time.Now()
	err = s.repo.ExecuteInTransaction(ctx, func(tx repositories.LedgerRepository) error {
		from := []string{models.StatusProcessing}
		patch := map[string]interface{}{"completed_at": now, "metadata": metadata}
		if err := s.conditionalTransition(ctx, tx, txn.ID, from, models.StatusCompleted, patch); err != nil {
			return err
		}
		return stateErr(tx.UpdateWalletTransactionStatus(ctx, leg.ID, from, models.StatusCompleted, nil))
	})
	if err != nil {
		return err
	}

	s.invalidateCaches(ctx, leg.UserID)
	return nil
}

// ResolveReview is the administrative exit from REVIEW: an operator routes
// the transaction to COMPLETED or FAILED. FAILED releases the reservation.
func (s *service) ResolveReview(ctx context.Context, transactionID uint, toStatus, failureReason string) error {
	if toStatus != models.StatusCompleted && toStatus != models.StatusFailed {
		return domain.ErrValidation.WithMessage("review can only resolve to COMPLETED or FAILED")
	}

	txn, err := s.repo.FindTransaction(ctx, repositories.TransactionFilter{ID: transactionID})
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			return ErrTransactionNotFound
		}
		return err
	}
	if err := ValidateTransition(txn.Status, toStatus); err != nil {
		return err
	}
	if txn.Status != models.StatusReview && txn.Status != models.StatusReconcile {
		return domain.ErrInvalidStateTransition.WithMessage("transaction is not under review")
	}

	leg, err := s.repo.FindWalletTransactionByTransactionID(ctx, transactionID)
	if err != nil && !errors.Is(err, repositories.ErrLegNotFound) {
		return err
	}

	from := []string{models.StatusReview, models.StatusReconcile}
	if toStatus == models.StatusFailed {
		var legID uint
		if leg != nil {
			legID = leg.ID
		}
		if err := s.failAndReverseFrom(ctx, txn.ID, legID, failureReason, nil, from); err != nil {
			return err
		}
		s.metrics.RecordReversal(txn.Type, txn.Amount)
	} else {
		now := time.Now()
		err = s.repo.ExecuteInTransaction(ctx, func(tx repositories.LedgerRepository) error {
			patch := map[string]interface{}{"completed_at": now}
			if err := s.conditionalTransition(ctx, tx, txn.ID, from, models.StatusCompleted, patch); err != nil {
				return err
			}
			if leg != nil {
				return stateErr(tx.UpdateWalletTransactionStatus(ctx, leg.ID, from, models.StatusCompleted, nil))
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if txn.UserID != nil {
		s.invalidateCaches(ctx, *txn.UserID)
	}
	return nil
}

// FlagForReview parks a live transaction for manual disposition. No balance
// movement: the reservation stays in place until an operator resolves it.
func (s *service) FlagForReview(ctx context.Context, transactionID uint, reason string) error {
	txn, err := s.repo.FindTransaction(ctx, repositories.TransactionFilter{ID: transactionID})
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			return ErrTransactionNotFound
		}
		return err
	}
	if err := ValidateTransition(txn.Status, models.StatusReview); err != nil {
		return err
	}

	leg, err := s.repo.FindWalletTransactionByTransactionID(ctx, transactionID)
	if err != nil && !errors.Is(err, repositories.ErrLegNotFound) {
		return err
	}

	from := []string{models.StatusPending, models.StatusInitiated, models.StatusProcessing}
	return s.repo.ExecuteInTransaction(ctx, func(tx repositories.LedgerRepository) error {
		patch := map[string]interface{}{"failure_reason": reason}
		if err := s.conditionalTransition(ctx, tx, txn.ID, from, models.StatusReview, patch); err != nil {
			return err
		}
		if leg != nil {
			return stateErr(tx.UpdateWalletTransactionStatus(ctx, leg.ID, from, models.StatusReview, nil))
		}
		return nil
	})
}

// Settle records downstream rail settlement, a separate concern from
// completion. Only COMPLETED rows settle.
func (s *service) Settle(ctx context.Context, transactionID uint) error {
	txn, err := s.repo.FindTransaction(ctx, repositories.TransactionFilter{ID: transactionID})
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			return ErrTransactionNotFound
		}
		return err
	}
	if err := ValidateTransition(txn.Status, models.StatusSettled); err != nil {
		return err
	}

	leg, err := s.repo.FindWalletTransactionByTransactionID(ctx, transactionID)
	if err != nil && !errors.Is(err, repositories.ErrLegNotFound) {
		return err
	}

	from := []string{models.StatusCompleted}
	return s.repo.ExecuteInTransaction(ctx, func(tx repositories.LedgerRepository) error {
		if err := s.conditionalTransition(ctx, tx, txn.ID, from, models.StatusSettled, nil); err != nil {
			return err
		}
		if leg != nil {
			return stateErr(tx.UpdateWalletTransactionStatus(ctx, leg.ID, from, models.StatusSettled, nil))
		}
		return nil
	})
}

// Read side

func (s *service) GetTransaction(ctx context.Context, userID, transactionID uint) (*models.Transaction, error) {
	cacheKey := fmt.Sprintf("%s%d:%d", TransactionCachePrefix, userID, transactionID)
	if s.cache != nil {
		var cached models.Transaction
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	uid := userID
	txn, err := s.repo.FindTransaction(ctx, repositories.TransactionFilter{ID: transactionID, UserID: &uid})
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetWithTTL(ctx, cacheKey, txn, CacheDuration); err != nil {
			log.Printf("failed to cache transaction %d: %v", transactionID, err)
		}
	}
	return txn, nil
}

func (s *service) ListTransactions(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListUserTransactions(ctx, userID, limit, offset)
}

// Wallet bootstrap

func (s *service) CreateWallet(ctx context.Context, userID uint, asset string) (*models.Wallet, error) {
	if asset == "" {
		asset = DefaultAsset
	}
	wallet := &models.Wallet{
		UserID: userID,
		Asset:  asset,
		Status: models.WalletStatusActive,
	}
	if err := s.repo.CreateWallet(ctx, wallet); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return wallet, nil
}

func (s *service) GetWallet(ctx context.Context, userID uint, asset string) (*models.Wallet, error) {
	if asset == "" {
		asset = DefaultAsset
	}
	wallet, err := s.repo.GetWallet(ctx, userID, asset)
	if err != nil {
		if errors.Is(err, repositories.ErrWalletNotFound) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, err
	}
	return wallet, nil
}

// Helpers

// debitWallet locks the wallet row, validates status and balance, and applies
// the debit. Callers are inside ExecuteInTransaction.
func (s *service) debitWallet(ctx context.Context, tx repositories.LedgerRepository, userID uint, asset string, amount int64) (*models.Wallet, error) {
	wallet, err := tx.GetWalletForUpdate(ctx, userID, asset)
	if err != nil {
		return nil, walletErr(err)
	}
	if wallet.Status != models.WalletStatusActive {
		return nil, domain.ErrWalletLocked
	}
	if wallet.Balance < amount {
		return nil, domain.ErrInsufficientBalance.WithMessage(
			fmt.Sprintf("insufficient balance: have %d, need %d", wallet.Balance, amount))
	}
	wallet.Balance -= amount
	if err := tx.SaveWallet(ctx, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

// reverseDebit credits back a debit-side transaction's amount. Runs inside
// the same store transaction as the terminal state change.
func (s *service) reverseDebit(ctx context.Context, tx repositories.LedgerRepository, txn *models.Transaction) error {
	if !txn.IsDebit() || txn.UserID == nil {
		return nil
	}
	wallet, err := tx.GetWalletForUpdate(ctx, *txn.UserID, txn.Asset)
	if err != nil {
		return walletErr(err)
	}
	wallet.Balance += txn.Amount
	return tx.SaveWallet(ctx, wallet)
}

// failAndReverse moves a live transaction to FAILED and credits back its
// reservation in one atomic write.
func (s *service) failAndReverse(ctx context.Context, txnID, legID uint, reason string, metadata models.JSON) error {
	live := []string{models.StatusPending, models.StatusInitiated, models.StatusProcessing}
	return s.failAndReverseFrom(ctx, txnID, legID, reason, metadata, live)
}

func (s *service) failAndReverseFrom(ctx context.Context, txnID, legID uint, reason string, metadata models.JSON, fromStates []string) error {
	return s.repo.ExecuteInTransaction(ctx, func(tx repositories.LedgerRepository) error {
		txn, err := tx.FindTransaction(ctx, repositories.TransactionFilter{ID: txnID})
		if err != nil {
			return err
		}
		if err := ValidateTransition(txn.Status, models.StatusFailed); err != nil {
			return err
		}

		patch := map[string]interface{}{
			"failed_at":      time.Now(),
			"failure_reason": reason,
		}
		if metadata != nil {
			patch["metadata"] = metadata
		}
		if err := s.conditionalTransition(ctx, tx, txnID, fromStates, models.StatusFailed, patch); err != nil {
			return err
		}
		if legID != 0 {
			legPatch := map[string]interface{}{"failure_reason": reason}
			if err := tx.UpdateWalletTransactionStatus(ctx, legID, fromStates, models.StatusFailed, legPatch); err != nil {
				return stateErr(err)
			}
		}
		return s.reverseDebit(ctx, tx, txn)
	})
}

// transitionPair applies the same conditional move to a canonical row and its
// leg in one atomic write, then mirrors the result in memory.
func (s *service) transitionPair(ctx context.Context, txn *models.Transaction, leg *models.WalletTransaction, from []string, to string, txnPatch, legPatch map[string]interface{}) error {
	if err := ValidateTransition(txn.Status, to); err != nil {
		return err
	}
	err := s.repo.ExecuteInTransaction(ctx, func(tx repositories.LedgerRepository) error {
		if err := s.conditionalTransition(ctx, tx, txn.ID, from, to, txnPatch); err != nil {
			return err
		}
		return stateErr(tx.UpdateWalletTransactionStatus(ctx, leg.ID, from, to, legPatch))
	})
	if err != nil {
		return err
	}
	txn.Status = to
	leg.Status = to
	return nil
}

// conditionalTransition issues the store-level conditional update and maps a
// zero-row result to InvalidStateTransition.
func (s *service) conditionalTransition(ctx context.Context, tx repositories.LedgerRepository, id uint, from []string, to string, patch map[string]interface{}) error {
	return stateErr(tx.UpdateTransactionStatus(ctx, id, from, to, patch))
}

func (s *service) invalidateCaches(ctx context.Context, userID uint) {
	if s.cache == nil {
		return
	}
	keys := []string{
		fmt.Sprintf("%s%d", WalletCachePrefix, userID),
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		log.Printf("failed to invalidate caches for user %d: %v", userID, err)
	}
}

func stateErr(err error) error {
	if errors.Is(err, repositories.ErrStateConflict) {
		return domain.ErrInvalidStateTransition.Wrap(err)
	}
	return err
}

func walletErr(err error) error {
	if errors.Is(err, repositories.ErrWalletNotFound) {
		return domain.ErrWalletNotFound
	}
	return err
}

func failureReason(err error) string {
	if errors.Is(err, domain.ErrProviderUnavailable) {
		return "provider unavailable"
	}
	var derr *domain.DomainError
	if errors.As(err, &derr) {
		return derr.Message
	}
	return err.Error()
}

func errCode(err error) string {
	var derr *domain.DomainError
	if errors.As(err, &derr) {
		return derr.Code
	}
	return "internal"
}

func newReference() string {
	return "TXN-" + uuid.NewString()
}
