package handlers

import (
	"corapay/internal/services/ledger"
	"corapay/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

// AdminHandler exposes the operator endpoints: review disposition, manual
// holds, and settlement confirmation.
type AdminHandler struct {
	service ledger.Service
}

func NewAdminHandler(s ledger.Service) *AdminHandler { return &AdminHandler{service: s} }

// ResolveReview handles POST /admin/transactions/:id/resolve.
func (h *AdminHandler) ResolveReview(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return response.BadRequest(c, "invalid transaction id")
	}

	var req struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request")
	}

	if err := h.service.ResolveReview(c.Context(), uint(id), req.Status, req.Reason); err != nil {
		return response.DomainError(c, err)
	}
	return response.Success(c, "review resolved", nil)
}

// FlagForReview handles POST /admin/transactions/:id/review.
func (h *AdminHandler) FlagForReview(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return response.BadRequest(c, "invalid transaction id")
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request")
	}

	if err := h.service.FlagForReview(c.Context(), uint(id), req.Reason); err != nil {
		return response.DomainError(c, err)
	}
	return response.Success(c, "transaction flagged for review", nil)
}

// Settle handles POST /admin/transactions/:id/settle.
func (h *AdminHandler) Settle(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return response.BadRequest(c, "invalid transaction id")
	}

	if err := h.service.Settle(c.Context(), uint(id)); err != nil {
		return response.DomainError(c, err)
	}
	return response.Success(c, "transaction settled", nil)
}
