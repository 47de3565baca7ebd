package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/gateway"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/repository"
)

type UserSummary struct {
	User          models.User `json:"user"`
	IsSubscribed  bool        `json:"is_subscribed"`
	EndDate       *time.Time  `json:"end_date,omitempty"`
	DaysRemaining int         `json:"days_remaining"`
	InvitesIssued int64       `json:"invites_issued"`
}

type BroadcastResult struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

type AdminService struct {
	repo     *repository.Repository
	gw       gateway.Gateway
	clock    Clock
	adminIDs []int64
}

func NewAdminService(repo *repository.Repository, gw gateway.Gateway, clock Clock, adminIDs []int64) *AdminService {
	return &AdminService{repo: repo, gw: gw, clock: clock, adminIDs: adminIDs}
}

func (s *AdminService) IsAdmin(platformID int64) bool {
	for _, id := range s.adminIDs {
		if id == platformID {
			return true
		}
	}
	return false
}

func (s *AdminService) ListUsersWithSubscriptionSummary(ctx context.Context) ([]UserSummary, error) {
	now := s.clock.Now()
	rows, err := s.repo.UserSummaries(ctx, now)
	if err != nil {
		return nil, err
	}

	result := make([]UserSummary, 0, len(rows))
	for _, row := range rows {
		summary := UserSummary{User: row.User, InvitesIssued: row.InvitesIssued}
		if row.Current != nil {
			end := row.Current.EndDate
			summary.IsSubscribed = true
			summary.EndDate = &end
			summary.DaysRemaining = daysRemaining(end, now)
		}
		result = append(result, summary)
	}
	return result, nil
}

func (s *AdminService) Stats(ctx context.Context) (*repository.Stats, error) {
	return s.repo.Stats(ctx, s.clock.Now())
}

// Broadcast messages every registered user. Delivery failures are counted,
// not returned.
func (s *AdminService) Broadcast(ctx context.Context, text string) (*BroadcastResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ConstraintError{Field: "text", Reason: "is required"}
	}

	ids, err := s.repo.ListUserPlatformIDs(ctx)
	if err != nil {
		return nil, err
	}

	result := &BroadcastResult{Total: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if notify(ctx, s.gw, id, text, "admin.broadcast") {
			result.Sent++
		} else {
			result.Failed++
		}
	}
	slog.Info("broadcast finished", "op", "admin.broadcast", "total", result.Total, "sent", result.Sent, "failed", result.Failed)
	return result, nil
}

// NotifyAdmins forwards text to every configured admin and returns how many
// received it.
func (s *AdminService) NotifyAdmins(ctx context.Context, text string) int {
	sent := 0
	for _, id := range s.adminIDs {
		if notify(ctx, s.gw, id, text, "admin.notify") {
			sent++
		}
	}
	return sent
}

// RequestPaymentReview asks the admins to confirm a payment the user reported
// for plan. They activate it with /activate_sub.
func (s *AdminService) RequestPaymentReview(ctx context.Context, user *models.User, planTitle string) int {
	sent := s.NotifyAdmins(ctx, msgAdminPaymentRequest(user, planTitle, user.PlatformID))
	slog.Info("payment review requested", "op", "admin.payment_review", "user_id", user.ID, "platform_id", user.PlatformID, "admins_notified", sent)
	return sent
}
