package repository

import (
	"context"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

// CreatePaymentEvent inserts the event. A redelivery of the same
// (provider, external_id) fails with a duplicate key error.
func (r *Repository) CreatePaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	return r.conn(ctx).Omit(clause.Associations).Create(event).Error
}

func (r *Repository) GetPaymentEvent(ctx context.Context, provider, externalID string) (*models.PaymentEvent, error) {
	var event models.PaymentEvent
	err := r.conn(ctx).
		Where("provider = ? AND external_id = ?", provider, externalID).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *Repository) AttachSubscription(ctx context.Context, eventID, subscriptionID uuid.UUID) error {
	return r.conn(ctx).Model(&models.PaymentEvent{}).
		Where("id = ?", eventID).
		Update("subscription_id", subscriptionID).Error
}
