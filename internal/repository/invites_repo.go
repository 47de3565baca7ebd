package repository

import (
	"context"
	"time"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

func (r *Repository) CreateInvite(ctx context.Context, invite *models.InviteLink) error {
	return r.conn(ctx).Omit(clause.Associations).Create(invite).Error
}

// OutstandingInvite returns the newest unused, unexpired link issued to the
// user, or gorm.ErrRecordNotFound.
func (r *Repository) OutstandingInvite(ctx context.Context, userID uuid.UUID, now time.Time) (*models.InviteLink, error) {
	var invite models.InviteLink
	err := r.conn(ctx).
		Where("issued_to_user_id = ? AND is_used = ? AND expires_at > ?", userID, false, now).
		Order("created_at DESC").
		First(&invite).Error
	if err != nil {
		return nil, err
	}
	return &invite, nil
}

func (r *Repository) GetInviteByCode(ctx context.Context, code string) (*models.InviteLink, error) {
	var invite models.InviteLink
	if err := r.conn(ctx).First(&invite, "code = ?", code).Error; err != nil {
		return nil, err
	}
	return &invite, nil
}

func (r *Repository) GetInviteByLink(ctx context.Context, link string) (*models.InviteLink, error) {
	var invite models.InviteLink
	if err := r.conn(ctx).First(&invite, "link = ?", link).Error; err != nil {
		return nil, err
	}
	return &invite, nil
}

// MarkInviteUsed consumes the link if nobody has yet. It returns false when
// another redemption won the race; the stored redeemer is never overwritten.
func (r *Repository) MarkInviteUsed(ctx context.Context, id uuid.UUID, redeemerID *uuid.UUID, platformID int64, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"is_used":                 true,
		"used_at":                 at,
		"redeemed_by_platform_id": platformID,
	}
	if redeemerID != nil {
		updates["redeemed_by_user_id"] = *redeemerID
	}
	result := r.conn(ctx).Model(&models.InviteLink{}).
		Where("id = ? AND is_used = ?", id, false).
		Updates(updates)
	return result.RowsAffected > 0, result.Error
}

func (r *Repository) CountInvitesIssued(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.conn(ctx).Model(&models.InviteLink{}).Where("issued_to_user_id = ?", userID).Count(&count).Error
	return count, err
}
