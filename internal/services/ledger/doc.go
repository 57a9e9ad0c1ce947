/*
Package ledger implements the transaction orchestration engine: the component
that moves money between a user's wallet and the outside world (withdrawals to
external rails) or between internal ledger legs (exchange, transfer), while
guaranteeing each money-creating operation happens at most once.

The engine composes five pieces:

  - the transaction state machine (state.go): the authoritative transition
    table, enforced at the store with conditional updates
  - the idempotency guard (idempotency.go): at-most-once execution per
    client-supplied key, backed by a unique index
  - the distributed lock (internal/locks): serializes operations per
    (operation, user, resource)
  - the circuit breaker (breaker.go): fails fast when a payment provider is
    unhealthy instead of queueing debits indefinitely
  - the orchestrator (orchestrator.go): the operations themselves

Usage:

	svc := ledger.NewService(repo, locker, breaker, providerAdapter, cache, metrics)

	result, err := svc.Withdraw(ctx, ledger.WithdrawRequest{
	    UserID:         userID,
	    Asset:          "USD",
	    Amount:         70000,
	    IdempotencyKey: key,
	    Destination:    map[string]interface{}{"account_number": "..."},
	})

All amounts are integers in the asset's smallest denomination. Balance is
mutated only inside a store transaction, only while holding the relevant
lock, and only as part of a legal state transition.
*/
package ledger
