package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentEvent records a successful payment notification so that redelivered
// events do not create a second subscription.
type PaymentEvent struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Provider       string         `gorm:"not null;size:50;uniqueIndex:idx_payment_events_provider_external" json:"provider"`
	ExternalID     string         `gorm:"not null;size:255;uniqueIndex:idx_payment_events_provider_external" json:"external_id"`
	UserID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	SubscriptionID *uuid.UUID     `gorm:"type:uuid" json:"subscription_id,omitempty"`
	PlanID         string         `gorm:"size:50" json:"plan_id,omitempty"`
	Days           int            `gorm:"not null" json:"days"`
	Amount         int64          `json:"amount"`
	Currency       string         `gorm:"size:3" json:"currency,omitempty"`
	Payload        datatypes.JSON `json:"payload,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	User           User           `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

func (p *PaymentEvent) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
