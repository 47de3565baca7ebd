package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/events"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/gateway"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/repository"
	"github.com/google/uuid"
)

// Status is the derived entitlement of a user at one instant.
type Status struct {
	Active         bool       `json:"is_active"`
	DaysRemaining  int        `json:"days_remaining"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	AutoRenewal    bool       `json:"auto_renewal"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
}

type GrantRequest struct {
	UserID      uuid.UUID
	Days        int
	StartAt     *time.Time
	AutoRenewal bool
}

type SubscriptionService struct {
	repo      *repository.Repository
	gw        gateway.Gateway
	events    events.Publisher
	clock     Clock
	channelID int64
}

func NewSubscriptionService(repo *repository.Repository, gw gateway.Gateway, pub events.Publisher, clock Clock, channelID int64) *SubscriptionService {
	return &SubscriptionService{repo: repo, gw: gw, events: pub, clock: clock, channelID: channelID}
}

// CreateOrReplace supersedes every active row of the user with a new one
// running from now for days.
func (s *SubscriptionService) CreateOrReplace(ctx context.Context, userID uuid.UUID, days int, autoRenewal bool) (*models.Subscription, error) {
	if days <= 0 {
		return nil, ErrInvalidDuration
	}
	now := s.clock.Now()
	return s.replace(ctx, userID, now, now.Add(daysToDuration(days)), autoRenewal)
}

// Extend restarts the window from now; remaining days of the current row are
// not carried over.
func (s *SubscriptionService) Extend(ctx context.Context, userID uuid.UUID, days int) (*models.Subscription, error) {
	autoRenewal := false
	cur, err := s.repo.CurrentSubscription(ctx, userID)
	switch {
	case err == nil:
		autoRenewal = cur.AutoRenewal
	case !repository.IsNotFound(err):
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return s.CreateOrReplace(ctx, userID, days, autoRenewal)
}

// Grant is the admin variant of CreateOrReplace. StartAt may backdate the
// window but the resulting window must not have ended already.
func (s *SubscriptionService) Grant(ctx context.Context, req GrantRequest) (*models.Subscription, error) {
	if req.Days <= 0 {
		return nil, ErrInvalidDuration
	}
	now := s.clock.Now()
	start := now
	if req.StartAt != nil {
		start = req.StartAt.UTC()
		if start.After(now) {
			return nil, &ConstraintError{Field: "start_date", Reason: "must not be in the future"}
		}
	}
	end := start.Add(daysToDuration(req.Days))
	if !end.After(now) {
		return nil, &ConstraintError{Field: "end_date", Reason: "window has already ended"}
	}
	return s.replace(ctx, req.UserID, start, end, req.AutoRenewal)
}

func (s *SubscriptionService) replace(ctx context.Context, userID uuid.UUID, start, end time.Time, autoRenewal bool) (*models.Subscription, error) {
	var (
		sub  *models.Subscription
		user *models.User
	)
	err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		var err error
		user, sub, err = s.replaceTx(ctx, tx, userID, start, end, autoRenewal)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.activated(ctx, user, sub)
	return sub, nil
}

// replaceTx does the work of replace inside a caller's transaction. The caller
// must call activated after commit.
func (s *SubscriptionService) replaceTx(ctx context.Context, tx *repository.Repository, userID uuid.UUID, start, end time.Time, autoRenewal bool) (*models.User, *models.Subscription, error) {
	if !end.After(start) {
		return nil, nil, &ConstraintError{Field: "end_date", Reason: "must be after start_date"}
	}

	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, fmt.Errorf("failed to lock user: %w", err)
	}

	now := s.clock.Now()
	if _, err := tx.DeactivateActive(ctx, userID, models.ReasonSuperseded, now); err != nil {
		return nil, nil, fmt.Errorf("failed to deactivate subscriptions: %w", err)
	}

	sub := &models.Subscription{
		UserID:      userID,
		StartDate:   start,
		EndDate:     end,
		IsActive:    true,
		AutoRenewal: autoRenewal,
		CreatedAt:   now,
	}
	if err := tx.CreateSubscription(ctx, sub); err != nil {
		return nil, nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return user, sub, nil
}

func (s *SubscriptionService) activated(ctx context.Context, user *models.User, sub *models.Subscription) {
	metrics.SubscriptionsTotal.WithLabelValues("activated").Inc()
	slog.Info("subscription activated", "op", "subscription.activate",
		"user_id", sub.UserID, "platform_id", user.PlatformID, "end_date", sub.EndDate)
	publish(ctx, s.events, events.SubjectSubscriptionActivated, subscriptionEvent(sub, user.PlatformID, s.clock.Now()))
}

// GetStatus reports the user's entitlement. A current row whose end date has
// passed is deactivated on the spot.
func (s *SubscriptionService) GetStatus(ctx context.Context, userID uuid.UUID) (*Status, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	cur, err := s.currentSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.statusOf(ctx, user, cur)
}

// statusOf answers from cur, which may be nil. When expiring cur loses to a
// concurrent writer, the current row is read again before answering.
func (s *SubscriptionService) statusOf(ctx context.Context, user *models.User, cur *models.Subscription) (*Status, error) {
	now := s.clock.Now()
	for attempt := 0; cur != nil; attempt++ {
		if !cur.Expired(now) {
			end := cur.EndDate
			id := cur.ID
			return &Status{
				Active:         true,
				DaysRemaining:  daysRemaining(cur.EndDate, now),
				EndDate:        &end,
				AutoRenewal:    cur.AutoRenewal,
				SubscriptionID: &id,
			}, nil
		}
		won, err := s.expire(ctx, user, cur, now)
		if err != nil {
			return nil, err
		}
		if won || attempt == maxStatusRereads {
			break
		}
		if cur, err = s.currentSubscription(ctx, user.ID); err != nil {
			return nil, err
		}
	}
	return &Status{}, nil
}

const maxStatusRereads = 2

// currentSubscription returns nil when the user has no active row.
func (s *SubscriptionService) currentSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	cur, err := s.repo.CurrentSubscription(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return cur, nil
}

func (s *SubscriptionService) expire(ctx context.Context, user *models.User, sub *models.Subscription, now time.Time) (bool, error) {
	won, err := s.repo.Deactivate(ctx, sub.ID, models.ReasonExpired, now)
	if err != nil {
		return false, fmt.Errorf("failed to expire subscription: %w", err)
	}
	if !won {
		return false, nil
	}
	sub.IsActive = false
	sub.DeactivationReason = models.ReasonExpired
	metrics.SubscriptionsTotal.WithLabelValues("expired").Inc()
	slog.Info("subscription expired", "op", "subscription.expire", "user_id", sub.UserID, "platform_id", user.PlatformID)
	publish(ctx, s.events, events.SubjectSubscriptionExpired, subscriptionEvent(sub, user.PlatformID, now))
	return true, nil
}

// IsSubscribed is the read-only projection: an active row that has not ended.
func (s *SubscriptionService) IsSubscribed(ctx context.Context, userID uuid.UUID) (bool, error) {
	return s.repo.HasActiveSubscription(ctx, userID, s.clock.Now(), uuid.Nil)
}

func (s *SubscriptionService) History(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return s.repo.SubscriptionHistory(ctx, userID)
}

// Revoke deactivates the user's active rows and removes them from the channel.
// A failed removal leaves the rows pending for the next sweep.
func (s *SubscriptionService) Revoke(ctx context.Context, userID uuid.UUID) error {
	var (
		user    *models.User
		revoked []models.Subscription
	)
	now := s.clock.Now()
	err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		var err error
		user, err = tx.LockUser(ctx, userID)
		if err != nil {
			if repository.IsNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}
		active, err := tx.ActiveSubscriptions(ctx, userID)
		if err != nil {
			return err
		}
		for _, sub := range active {
			won, err := tx.Deactivate(ctx, sub.ID, models.ReasonRevoked, now)
			if err != nil {
				return err
			}
			if won {
				sub.IsActive = false
				sub.DeactivationReason = models.ReasonRevoked
				revoked = append(revoked, sub)
			}
		}
		if len(revoked) == 0 {
			return ErrNotEntitled
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := range revoked {
		metrics.SubscriptionsTotal.WithLabelValues("revoked").Inc()
		publish(ctx, s.events, events.SubjectSubscriptionRevoked, subscriptionEvent(&revoked[i], user.PlatformID, now))
	}
	slog.Info("subscription revoked", "op", "subscription.revoke", "user_id", userID, "platform_id", user.PlatformID)

	if err := s.removeFromChannel(ctx, user.PlatformID); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, ErrConfiguration) {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "member removal after revoke failed, left for sweep",
			"op", "subscription.revoke", "platform_id", user.PlatformID, "error", err)
		return nil
	}
	for _, sub := range revoked {
		if err := s.repo.MarkEvicted(ctx, sub.ID, now); err != nil {
			slog.Error("failed to mark subscription evicted", "op", "subscription.revoke", "user_id", userID, "error", err)
		}
	}
	notify(ctx, s.gw, user.PlatformID, msgRevoked(), "subscription.revoke")
	return nil
}

func (s *SubscriptionService) removeFromChannel(ctx context.Context, platformID int64) error {
	if err := checkRemovePermission(ctx, s.gw, s.channelID); err != nil {
		return err
	}
	if _, err := s.gw.GetMember(ctx, s.channelID, platformID); err != nil {
		if errors.Is(err, gateway.ErrNotAMember) {
			return nil
		}
		return &GatewayError{Op: "getMember", Err: err}
	}
	if err := s.gw.RemoveMember(ctx, s.channelID, platformID); err != nil {
		return &GatewayError{Op: "removeMember", Err: err}
	}
	return nil
}
