package handlers

import (
	"encoding/json"
	"log"

	"corapay/internal/config"
	"corapay/internal/models"
	"corapay/internal/services/ledger"
	"corapay/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
)

// WebhookHandler receives asynchronous provider results. Payout settlement is
// the only way a PROCESSING withdrawal leaves that state.
type WebhookHandler struct {
	service       ledger.Service
	signingSecret string
}

func NewWebhookHandler(s ledger.Service) *WebhookHandler {
	return &WebhookHandler{
		service:       s,
		signingSecret: config.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
	}
}

// HandleStripe handles POST /webhooks/stripe. Unknown event types and events
// for unknown references are acknowledged with 200 so the provider does not
// retry them forever; signature failures are rejected.
func (h *WebhookHandler) HandleStripe(c *fiber.Ctx) error {
	payload := c.Body()

	var event stripe.Event
	if h.signingSecret != "" {
		verified, err := webhook.ConstructEvent(payload, c.Get("Stripe-Signature"), h.signingSecret)
		if err != nil {
			log.Printf("webhook signature verification failed: %v", err)
			return response.BadRequest(c, "invalid signature")
		}
		event = verified
	} else if err := json.Unmarshal(payload, &event); err != nil {
		return response.BadRequest(c, "invalid payload")
	}

	switch event.Type {
	case "payout.paid", "payout.failed", "payout.canceled":
	default:
		return response.Success(c, "event ignored", nil)
	}

	var payout stripe.Payout
	if err := json.Unmarshal(event.Data.Raw, &payout); err != nil {
		return response.BadRequest(c, "invalid payout payload")
	}

	success := event.Type == "payout.paid"
	failureReason := payout.FailureMessage
	if failureReason == "" && !success {
		failureReason = string(event.Type)
	}

	raw := models.JSON{}
	if err := json.Unmarshal(event.Data.Raw, (*map[string]interface{})(&raw)); err != nil {
		raw = models.JSON{"event_type": string(event.Type)}
	}

	err := h.service.ResolveProviderResult(c.Context(), payout.ID, success, failureReason, raw)
	if err != nil {
		// An unknown reference is not a delivery failure on the provider's
		// side; acknowledge so it stops retrying.
		log.Printf("webhook for payout %s not applied: %v", payout.ID, err)
		return response.Success(c, "event acknowledged", nil)
	}
	return response.Success(c, "event processed", nil)
}
