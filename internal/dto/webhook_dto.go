package dto

import "github.com/google/uuid"

type PaymentWebhookResponse struct {
	Received       bool       `json:"received"`
	Duplicate      bool       `json:"duplicate"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
}
