package repository

import (
	"context"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	return r.conn(ctx).Omit(clause.Associations).Create(user).Error
}

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.conn(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// LockUser loads the user row and holds a row lock on it until the enclosing
// transaction ends. Every per-user entitlement mutation starts here.
func (r *Repository) LockUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.forUpdate(r.conn(ctx)).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Repository) GetUserByPlatformID(ctx context.Context, platformID int64) (*models.User, error) {
	var user models.User
	if err := r.conn(ctx).First(&user, "platform_id = ?", platformID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.conn(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser writes the profile fields of user.
func (r *Repository) UpdateUser(ctx context.Context, user *models.User) error {
	return r.conn(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"full_name": user.FullName,
			"phone":     user.Phone,
			"email":     user.Email,
		}).Error
}

// DeleteUser removes the user; subscriptions, issued invites and payment
// events go with it through ON DELETE CASCADE.
func (r *Repository) DeleteUser(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.conn(ctx).Delete(&models.User{}, "id = ?", id)
	return result.RowsAffected > 0, result.Error
}

func (r *Repository) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.conn(ctx).Order("created_at ASC").Find(&users).Error
	return users, err
}

func (r *Repository) ListUserPlatformIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.conn(ctx).Model(&models.User{}).Order("created_at ASC").Pluck("platform_id", &ids).Error
	return ids, err
}
