package repository

import (
	"context"
	"time"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActiveSubscriptions returns the rows still flagged active for the user,
// latest end date first. Expired rows are included until something
// deactivates them.
func (r *Repository) ActiveSubscriptions(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.conn(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("end_date DESC").
		Find(&subs).Error
	return subs, err
}

// CurrentSubscription returns the active row with the latest end date, or
// gorm.ErrRecordNotFound.
func (r *Repository) CurrentSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.conn(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("end_date DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *Repository) GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.conn(ctx).First(&sub, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *Repository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.conn(ctx).Omit(clause.Associations).Create(sub).Error
}

// DeactivateActive flips every active row of the user to inactive and returns
// how many rows changed.
func (r *Repository) DeactivateActive(ctx context.Context, userID uuid.UUID, reason string, at time.Time) (int64, error) {
	result := r.conn(ctx).Model(&models.Subscription{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Updates(map[string]interface{}{
			"is_active":           false,
			"deactivation_reason": reason,
			"deactivated_at":      at,
		})
	return result.RowsAffected, result.Error
}

// Deactivate flips one row to inactive. It is conditional on the row still
// being active, so a concurrent deactivation is reported as false rather than
// overwriting the first reason.
func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error) {
	result := r.conn(ctx).Model(&models.Subscription{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]interface{}{
			"is_active":           false,
			"deactivation_reason": reason,
			"deactivated_at":      at,
		})
	return result.RowsAffected > 0, result.Error
}

// DueForEviction returns rows whose holder must leave the channel: active rows
// past their end date, plus rows already deactivated as expired or revoked
// whose member removal has not been settled yet.
func (r *Repository) DueForEviction(ctx context.Context, now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.conn(ctx).
		Preload("User").
		Where("evicted_at IS NULL").
		Where("((is_active = ? AND end_date <= ?) OR (is_active = ? AND deactivation_reason IN ?))",
			true, now, false, []string{models.ReasonExpired, models.ReasonRevoked}).
		Order("end_date ASC").
		Find(&subs).Error
	return subs, err
}

func (r *Repository) MarkEvicted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.conn(ctx).Model(&models.Subscription{}).
		Where("id = ?", id).
		Update("evicted_at", at).Error
}

// IncrementEvictionAttempts bumps the failure counter and returns its new value.
func (r *Repository) IncrementEvictionAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	err := r.conn(ctx).Model(&models.Subscription{}).
		Where("id = ?", id).
		UpdateColumn("eviction_attempts", gorm.Expr("eviction_attempts + ?", 1)).Error
	if err != nil {
		return 0, err
	}
	var attempts int
	err = r.conn(ctx).Model(&models.Subscription{}).
		Where("id = ?", id).
		Pluck("eviction_attempts", &attempts).Error
	return attempts, err
}

// DueForReminder returns active rows ending in (now, to] that a reminder pass
// covering up to coveredTo, run at since, has not seen: rows ending after
// coveredTo plus rows created after since. A zero coveredTo selects the whole
// range.
func (r *Repository) DueForReminder(ctx context.Context, now, to, coveredTo, since time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	q := r.conn(ctx).
		Preload("User").
		Where("is_active = ? AND end_date > ? AND end_date <= ?", true, now, to)
	if coveredTo.After(now) {
		q = q.Where("(end_date > ? OR created_at > ?)", coveredTo, since)
	}
	err := q.Order("end_date ASC").Find(&subs).Error
	return subs, err
}

// HasActiveSubscription reports whether the user holds an active, unexpired
// row other than excludeID.
func (r *Repository) HasActiveSubscription(ctx context.Context, userID uuid.UUID, now time.Time, excludeID uuid.UUID) (bool, error) {
	var count int64
	err := r.conn(ctx).Model(&models.Subscription{}).
		Where("user_id = ? AND is_active = ? AND end_date > ? AND id <> ?", userID, true, now, excludeID).
		Count(&count).Error
	return count > 0, err
}

// SubscriptionHistory returns every row for the user, newest first.
func (r *Repository) SubscriptionHistory(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.conn(ctx).
		Where("user_id = ?", userID).
		Order("start_date DESC, created_at DESC").
		Find(&subs).Error
	return subs, err
}
