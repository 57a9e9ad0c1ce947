package handlers

import (
	"corapay/internal/middleware"
	"corapay/internal/models"
	"corapay/internal/services/ledger"
	"corapay/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

// IdempotencyKeyHeader carries the client-chosen key for money-creating
// requests. Requests without it are rejected before any state is touched.
const IdempotencyKeyHeader = "Idempotency-Key"

// LedgerHandler exposes the wallet orchestration endpoints.
type LedgerHandler struct {
	service ledger.Service
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(s ledger.Service) *LedgerHandler { return &LedgerHandler{service: s} }

func requestClaims(c *fiber.Ctx) (*models.UserClaims, bool) {
	claims, ok := c.Locals(middleware.ClaimsKey).(*models.UserClaims)
	return claims, ok
}

// Withdraw handles POST /withdrawals.
func (h *LedgerHandler) Withdraw(c *fiber.Ctx) error {
	claims, ok := requestClaims(c)
	if !ok {
		return response.Unauthorized(c)
	}

	var req struct {
		Asset       string                 `json:"asset"`
		Amount      int64                  `json:"amount"`
		Destination map[string]interface{} `json:"destination"`
		Category    string                 `json:"category"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request")
	}

	result, err := h.service.Withdraw(c.Context(), ledger.WithdrawRequest{
		UserID:         claims.UserID,
		Asset:          req.Asset,
		Amount:         req.Amount,
		IdempotencyKey: c.Get(IdempotencyKeyHeader),
		Destination:    req.Destination,
		Category:       req.Category,
	})
	if err != nil {
		return response.DomainError(c, err)
	}
	if result.Reused {
		return response.Success(c, "withdrawal already processed", result)
	}
	return response.Created(c, "withdrawal accepted", result)
}

// Exchange handles POST /exchanges.
func (h *LedgerHandler) Exchange(c *fiber.Ctx) error {
	claims, ok := requestClaims(c)
	if !ok {
		return response.Unauthorized(c)
	}

	var req struct {
		FromAsset    string                 `json:"from_asset"`
		ToAsset      string                 `json:"to_asset"`
		DebitAmount  int64                  `json:"debit_amount"`
		CreditAmount int64                  `json:"credit_amount"`
		Rate         string                 `json:"rate"`
		Metadata     map[string]interface{} `json:"metadata"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request")
	}

	result, err := h.service.Exchange(c.Context(), ledger.ExchangeRequest{
		UserID:         claims.UserID,
		FromAsset:      req.FromAsset,
		ToAsset:        req.ToAsset,
		DebitAmount:    req.DebitAmount,
		CreditAmount:   req.CreditAmount,
		IdempotencyKey: c.Get(IdempotencyKeyHeader),
		Rate:           req.Rate,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return response.DomainError(c, err)
	}
	if result.Reused {
		return response.Success(c, "exchange already processed", result)
	}
	return response.Created(c, "exchange created", result)
}

// CancelExchange handles POST /exchanges/:id/cancel.
func (h *LedgerHandler) CancelExchange(c *fiber.Ctx) error {
	claims, ok := requestClaims(c)
	if !ok {
		return response.Unauthorized(c)
	}
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return response.BadRequest(c, "invalid transaction id")
	}

	result, err := h.service.CancelExchange(c.Context(), claims.UserID, uint(id))
	if err != nil {
		return response.DomainError(c, err)
	}
	return response.Success(c, "exchange cancelled", result)
}

// CompleteExchange handles POST /exchanges/:id/complete.
func (h *LedgerHandler) CompleteExchange(c *fiber.Ctx) error {
	claims, ok := requestClaims(c)
	if !ok {
		return response.Unauthorized(c)
	}
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return response.BadRequest(c, "invalid transaction id")
	}

	if err := h.service.CompleteExchange(c.Context(), claims.UserID, uint(id)); err != nil {
		return response.DomainError(c, err)
	}
	return response.Success(c, "exchange completed", nil)
}

// Transfer handles POST /transfers.
func (h *LedgerHandler) Transfer(c *fiber.Ctx) error {
	claims, ok := requestClaims(c)
	if !ok {
		return response.Unauthorized(c)
	}

	var req struct {
		ReceiverID  uint   `json:"receiver_id"`
		Asset       string `json:"asset"`
		Amount      int64  `json:"amount"`
		Description string `json:"description"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request")
	}

	result, err := h.service.Transfer(c.Context(), ledger.TransferRequest{
		FromUserID:     claims.UserID,
		ToUserID:       req.ReceiverID,
		Asset:          req.Asset,
		Amount:         req.Amount,
		IdempotencyKey: c.Get(IdempotencyKeyHeader),
		Description:    req.Description,
	})
	if err != nil {
		return response.DomainError(c, err)
	}
	if result.Reused {
		return response.Success(c, "transfer already processed", result)
	}
	return response.Created(c, "transfer completed", result)
}

// GetTransaction handles GET /transactions/:id.
func (h *LedgerHandler) GetTransaction(c *fiber.Ctx) error {
	claims, ok := requestClaims(c)
	if !ok {
		return response.Unauthorized(c)
	}
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return response.BadRequest(c, "invalid transaction id")
	}

	txn, err := h.service.GetTransaction(c.Context(), claims.UserID, uint(id))
	if err != nil {
		return response.DomainError(c, err)
	}
	return response.Success(c, "transaction retrieved", txn)
}

// ListTransactions handles GET /transactions.
func (h *LedgerHandler) ListTransactions(c *fiber.Ctx) error {
	claims, ok := requestClaims(c)
	if !ok {
		return response.Unauthorized(c)
	}

	limit := c.QueryInt("limit", ledger.DefaultListLimit)
	offset := c.QueryInt("offset", 0)

	txns, err := h.service.ListTransactions(c.Context(), claims.UserID, limit, offset)
	if err != nil {
		return response.DomainError(c, err)
	}
	return response.Success(c, "transactions retrieved", fiber.Map{
		"transactions": txns,
		"limit":        limit,
		"offset":       offset,
	})
}

// CreateWallet handles POST /wallets.
func (h *LedgerHandler) CreateWallet(c *fiber.Ctx) error {
	claims, ok := requestClaims(c)
	if !ok {
		return response.Unauthorized(c)
	}

	var req struct {
		Asset string `json:"asset"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request")
	}

	wallet, err := h.service.CreateWallet(c.Context(), claims.UserID, req.Asset)
	if err != nil {
		return response.DomainError(c, err)
	}
	return response.Created(c, "wallet created", wallet)
}

// GetWallet handles GET /wallets/:asset.
func (h *LedgerHandler) GetWallet(c *fiber.Ctx) error {
	claims, ok := requestClaims(c)
	if !ok {
		return response.Unauthorized(c)
	}

	wallet, err := h.service.GetWallet(c.Context(), claims.UserID, c.Params("asset"))
	if err != nil {
		return response.DomainError(c, err)
	}
	return response.Success(c, "wallet retrieved", wallet)
}
