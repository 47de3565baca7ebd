// Package events publishes lifecycle notifications and consumes payment
// events over NATS JetStream.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	SubjectSubscriptionActivated = "subscriptions.activated"
	SubjectSubscriptionExpired   = "subscriptions.expired"
	SubjectSubscriptionRevoked   = "subscriptions.revoked"
	SubjectInviteIssued          = "invites.issued"
	SubjectInviteRedeemed        = "invites.redeemed"
	SubjectMemberEvicted         = "members.evicted"
)

// Publisher is satisfied by *Bus and Noop.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Noop drops every event. It stands in when NATS is not configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }

type SubscriptionEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	PlatformID     int64     `json:"platform_id,omitempty"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type InviteEvent struct {
	InviteID             uuid.UUID `json:"invite_id"`
	IssuedToUserID       uuid.UUID `json:"issued_to_user_id"`
	RedeemedByPlatformID int64     `json:"redeemed_by_platform_id,omitempty"`
	ExpiresAt            time.Time `json:"expires_at"`
	OccurredAt           time.Time `json:"occurred_at"`
}

type EvictionEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	PlatformID     int64     `json:"platform_id"`
	Outcome        string    `json:"outcome"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// PaymentSucceeded is the payload expected on the payment subject and on the
// payment webhook. Exactly one of UserID and PlatformID identifies the payer;
// the duration comes from PlanID, Months or Days, in that order.
type PaymentSucceeded struct {
	Provider   string         `json:"provider" validate:"required,max=64"`
	ExternalID string         `json:"external_id" validate:"required,max=255"`
	UserID     string         `json:"user_id,omitempty"`
	PlatformID int64          `json:"platform_id,omitempty"`
	PlanID     string         `json:"plan_id,omitempty"`
	Months     int            `json:"months,omitempty" validate:"gte=0"`
	Days       int            `json:"days,omitempty" validate:"gte=0"`
	Amount     int64          `json:"amount,omitempty"`
	Currency   string         `json:"currency,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
