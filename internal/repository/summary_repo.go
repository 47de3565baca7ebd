package repository

import (
	"context"
	"time"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
	"github.com/google/uuid"
)

// UserSummaryRow joins a user with their current entitlement and invite count.
// Current is nil unless the user holds an active row that has not ended at now.
type UserSummaryRow struct {
	User          models.User
	Current       *models.Subscription
	InvitesIssued int64
}

type Stats struct {
	Users               int64 `json:"users"`
	ActiveSubscriptions int64 `json:"active_subscriptions"`
	InvitesIssued       int64 `json:"invites_issued"`
	InvitesUsed         int64 `json:"invites_used"`
	PendingEvictions    int64 `json:"pending_evictions"`
}

func (r *Repository) UserSummaries(ctx context.Context, now time.Time) ([]UserSummaryRow, error) {
	users, err := r.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	var active []models.Subscription
	if err := r.conn(ctx).
		Where("is_active = ? AND end_date > ?", true, now).
		Order("end_date ASC").
		Find(&active).Error; err != nil {
		return nil, err
	}
	// Ascending order leaves the latest end date in the map.
	current := make(map[uuid.UUID]models.Subscription, len(active))
	for _, s := range active {
		current[s.UserID] = s
	}

	var counts []struct {
		IssuedToUserID uuid.UUID
		Total          int64
	}
	if err := r.conn(ctx).Model(&models.InviteLink{}).
		Select("issued_to_user_id, COUNT(*) AS total").
		Group("issued_to_user_id").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	issued := make(map[uuid.UUID]int64, len(counts))
	for _, c := range counts {
		issued[c.IssuedToUserID] = c.Total
	}

	rows := make([]UserSummaryRow, 0, len(users))
	for _, u := range users {
		row := UserSummaryRow{User: u, InvitesIssued: issued[u.ID]}
		if s, ok := current[u.ID]; ok {
			row.Current = &s
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (r *Repository) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	var st Stats
	db := r.conn(ctx)

	if err := db.Model(&models.User{}).Count(&st.Users).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Subscription{}).
		Where("is_active = ? AND end_date > ?", true, now).
		Count(&st.ActiveSubscriptions).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.InviteLink{}).Count(&st.InvitesIssued).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.InviteLink{}).Where("is_used = ?", true).Count(&st.InvitesUsed).Error; err != nil {
		return nil, err
	}
	due, err := r.DueForEviction(ctx, now)
	if err != nil {
		return nil, err
	}
	st.PendingEvictions = int64(len(due))
	return &st, nil
}
