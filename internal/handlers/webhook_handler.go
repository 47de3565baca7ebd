package handlers

import (
	"crypto/subtle"
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/dto"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/events"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/services"
	"github.com/gofiber/fiber/v2"
)

const webhookSecretHeader = "X-Webhook-Secret"

type WebhookHandler struct {
	payments *services.PaymentService
	secret   string
}

func NewWebhookHandler(payments *services.PaymentService, secret string) *WebhookHandler {
	return &WebhookHandler{payments: payments, secret: secret}
}

// HandlePayment applies a payment notification. Redeliveries of the same
// (provider, external_id) answer 200 with duplicate=true.
func (h *WebhookHandler) HandlePayment(c *fiber.Ctx) error {
	if h.secret == "" {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: "Payment webhook is not configured",
		})
	}
	if subtle.ConstantTimeCompare([]byte(c.Get(webhookSecretHeader)), []byte(h.secret)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	var ev events.PaymentSucceeded
	if err := c.BodyParser(&ev); err != nil {
		return badRequest(c, "Invalid webhook payload")
	}

	result, err := h.payments.HandlePaymentSucceeded(c.UserContext(), ev, "webhook")
	if err != nil {
		return respondError(c, err)
	}

	resp := dto.PaymentWebhookResponse{Received: true, Duplicate: result.Duplicate}
	if result.Subscription != nil {
		resp.SubscriptionID = &result.Subscription.ID
	}
	slog.Info("payment webhook processed", "op", "webhook.payment", "provider", ev.Provider, "external_id", ev.ExternalID, "duplicate", result.Duplicate)
	return c.JSON(resp)
}
