package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/events"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/gateway"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/plans"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/repository"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type PaymentResult struct {
	Subscription *models.Subscription `json:"subscription,omitempty"`
	Duplicate    bool                 `json:"duplicate"`
}

type PaymentService struct {
	repo  *repository.Repository
	subs  *SubscriptionService
	plans *plans.Registry
	gw    gateway.Gateway
}

func NewPaymentService(repo *repository.Repository, subs *SubscriptionService, registry *plans.Registry, gw gateway.Gateway) *PaymentService {
	return &PaymentService{repo: repo, subs: subs, plans: registry, gw: gw}
}

// HandlePaymentSucceeded turns a payment notification into a subscription.
// Notifications are idempotent on (provider, external_id): a redelivery
// returns the subscription created the first time.
func (s *PaymentService) HandlePaymentSucceeded(ctx context.Context, ev events.PaymentSucceeded, source string) (*PaymentResult, error) {
	result, err := s.handle(ctx, ev)
	switch {
	case err != nil:
		metrics.PaymentsTotal.WithLabelValues(source, "error").Inc()
		slog.Warn("payment not applied", "op", "payment.succeeded", "provider", ev.Provider, "external_id", ev.ExternalID, "error", err)
	case result.Duplicate:
		metrics.PaymentsTotal.WithLabelValues(source, "duplicate").Inc()
	default:
		metrics.PaymentsTotal.WithLabelValues(source, "applied").Inc()
	}
	return result, err
}

func (s *PaymentService) handle(ctx context.Context, ev events.PaymentSucceeded) (*PaymentResult, error) {
	ev.Provider = strings.TrimSpace(ev.Provider)
	ev.ExternalID = strings.TrimSpace(ev.ExternalID)
	if err := ValidateStruct(ev); err != nil {
		return nil, err
	}

	if dup, err := s.duplicate(ctx, ev); dup != nil || err != nil {
		return dup, err
	}

	user, err := s.resolveUser(ctx, ev)
	if err != nil {
		return nil, err
	}
	days, err := s.resolveDays(ev)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	now := s.subs.clock.Now()
	var sub *models.Subscription
	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		record := &models.PaymentEvent{
			Provider:   ev.Provider,
			ExternalID: ev.ExternalID,
			UserID:     user.ID,
			PlanID:     ev.PlanID,
			Days:       days,
			Amount:     ev.Amount,
			Currency:   ev.Currency,
			Payload:    datatypes.JSON(payload),
		}
		if err := tx.CreatePaymentEvent(ctx, record); err != nil {
			return err
		}
		var err error
		user, sub, err = s.subs.replaceTx(ctx, tx, user.ID, now, now.Add(daysToDuration(days)), false)
		if err != nil {
			return err
		}
		return tx.AttachSubscription(ctx, record.ID, sub.ID)
	})
	if err != nil {
		if repository.IsDuplicateKey(err) {
			// Lost a race with a concurrent delivery of the same event.
			if dup, derr := s.duplicate(ctx, ev); dup != nil || derr != nil {
				return dup, derr
			}
		}
		return nil, err
	}

	s.subs.activated(ctx, user, sub)
	notify(ctx, s.gw, user.PlatformID, msgActivated(sub), "payment.succeeded")
	slog.Info("payment applied", "op", "payment.succeeded", "provider", ev.Provider,
		"external_id", ev.ExternalID, "user_id", user.ID, "platform_id", user.PlatformID, "days", days)
	return &PaymentResult{Subscription: sub}, nil
}

// duplicate returns a result when the event was already applied, nil otherwise.
func (s *PaymentService) duplicate(ctx context.Context, ev events.PaymentSucceeded) (*PaymentResult, error) {
	existing, err := s.repo.GetPaymentEvent(ctx, ev.Provider, ev.ExternalID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	result := &PaymentResult{Duplicate: true}
	if existing.SubscriptionID != nil {
		sub, err := s.repo.GetSubscription(ctx, *existing.SubscriptionID)
		if err != nil && !repository.IsNotFound(err) {
			return nil, err
		}
		result.Subscription = sub
	}
	return result, nil
}

func (s *PaymentService) resolveUser(ctx context.Context, ev events.PaymentSucceeded) (*models.User, error) {
	var (
		user *models.User
		err  error
	)
	switch {
	case ev.UserID != "":
		id, perr := uuid.Parse(ev.UserID)
		if perr != nil {
			return nil, &ConstraintError{Field: "user_id", Reason: "is not a valid id"}
		}
		user, err = s.repo.GetUser(ctx, id)
	case ev.PlatformID != 0:
		user, err = s.repo.GetUserByPlatformID(ctx, ev.PlatformID)
	default:
		return nil, &ConstraintError{Field: "user_id", Reason: "user_id or platform_id is required"}
	}
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *PaymentService) resolveDays(ev events.PaymentSucceeded) (int, error) {
	switch {
	case ev.PlanID != "":
		plan, ok := s.plans.Get(ev.PlanID)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrPlanNotFound, ev.PlanID)
		}
		return plan.DurationDays(), nil
	case ev.Months > 0:
		return ev.Months * plans.DaysPerMonth, nil
	case ev.Days > 0:
		return ev.Days, nil
	}
	return 0, ErrInvalidDuration
}

// HandleEvent decodes a payment message from the event bus.
func (s *PaymentService) HandleEvent(ctx context.Context, data []byte) error {
	var ev events.PaymentSucceeded
	if err := json.Unmarshal(data, &ev); err != nil {
		// Acked and dropped: a redelivery would decode the same bytes.
		slog.Error("dropping malformed payment event", "op", "payment.consume", "error", err)
		return nil
	}
	_, err := s.HandlePaymentSucceeded(ctx, ev, "nats")
	if err != nil && !isRetryable(err) {
		return nil
	}
	return err
}

// isRetryable is false for errors that a redelivery cannot fix.
func isRetryable(err error) bool {
	return !errors.Is(err, ErrConstraintViolation) &&
		!errors.Is(err, ErrUserNotFound) &&
		!errors.Is(err, ErrPlanNotFound) &&
		!errors.Is(err, ErrInvalidDuration)
}
