package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/events"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/gateway"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/repository"
)

// Eviction outcomes, also used as metric labels.
const (
	OutcomeRemoved       = "removed"
	OutcomeNotMember     = "not_member"
	OutcomeStillEntitled = "still_entitled"
	OutcomeFailed        = "failed"
	OutcomeGaveUp        = "gave_up"
	OutcomeDeferred      = "deferred"
)

type ReconcilerConfig struct {
	ChannelID           int64
	Interval            time.Duration
	ReminderWindow      time.Duration
	MaxEvictionAttempts int
}

type SweepReport struct {
	Due         int `json:"due"`
	Deactivated int `json:"deactivated"`
	Removed     int `json:"removed"`
	NotMember   int `json:"not_member"`
	Entitled    int `json:"still_entitled"`
	Failed      int `json:"failed"`
	GaveUp      int `json:"gave_up"`
	Deferred    int `json:"deferred"`
	Errors      int `json:"errors"`
}

type ReminderReport struct {
	Due    int `json:"due"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Reconciler brings channel membership in line with the store: members whose
// subscription lapsed are removed and members close to expiry are reminded.
type Reconciler struct {
	repo   *repository.Repository
	gw     gateway.Gateway
	events events.Publisher
	clock  Clock
	cfg    ReconcilerConfig

	running sync.Mutex

	// Coverage of the last reminder pass: rows ending up to remindedTo were
	// reminded by the pass run at remindedAt.
	reminderMu sync.Mutex
	remindedTo time.Time
	remindedAt time.Time
}

func NewReconciler(repo *repository.Repository, gw gateway.Gateway, pub events.Publisher, clock Clock, cfg ReconcilerConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.ReminderWindow <= 0 {
		cfg.ReminderWindow = 24 * time.Hour
	}
	if cfg.MaxEvictionAttempts <= 0 {
		cfg.MaxEvictionAttempts = 3
	}
	return &Reconciler{repo: repo, gw: gw, events: pub, clock: clock, cfg: cfg}
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	slog.Info("reconciler started", "interval", r.cfg.Interval.String())
	r.tick(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler stopped")
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	if _, _, err := r.RunOnce(ctx); err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			slog.Warn("previous sweep still running, tick skipped", "op", "reconciler.tick")
			return
		}
		slog.Error("sweep failed", "op", "reconciler.tick", "error", err)
	}
}

// RunOnce runs both sweeps. If another pass holds the lock it returns
// ErrSweepInProgress at once; ticks are never queued.
func (r *Reconciler) RunOnce(ctx context.Context) (*SweepReport, *ReminderReport, error) {
	if !r.running.TryLock() {
		metrics.SweepSkippedTotal.Inc()
		return nil, nil, ErrSweepInProgress
	}
	defer r.running.Unlock()

	expired, errExpired := r.SweepExpired(ctx)
	expiring, errExpiring := r.SweepExpiring(ctx)
	return expired, expiring, errors.Join(errExpired, errExpiring)
}

// SweepExpired deactivates lapsed subscriptions and removes their holders
// from the channel. Every row is handled on its own: a failure on one row is
// counted and the sweep moves on.
func (r *Reconciler) SweepExpired(ctx context.Context) (*SweepReport, error) {
	start := time.Now()
	report := &SweepReport{}
	now := r.clock.Now()

	canEvict := true
	if err := checkRemovePermission(ctx, r.gw, r.cfg.ChannelID); err != nil {
		canEvict = false
		if errors.Is(err, ErrConfiguration) {
			slog.Error("member removal disabled", "op", "reconciler.sweep_expired", "error", err)
			sentry.CaptureException(err)
		} else {
			slog.Warn("permission check failed, removals deferred", "op", "reconciler.sweep_expired", "error", err)
		}
	}

	due, err := r.repo.DueForEviction(ctx, now)
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues("expired", "error").Inc()
		return report, err
	}
	report.Due = len(due)

	for i := range due {
		if ctx.Err() != nil {
			break
		}
		outcome, err := r.reconcile(ctx, &due[i], now, canEvict, report)
		if err != nil {
			report.Errors++
			slog.Error("reconcile failed", "op", "reconciler.sweep_expired",
				"user_id", due[i].UserID, "platform_id", due[i].User.PlatformID, "error", err)
			continue
		}
		metrics.EvictionsTotal.WithLabelValues(outcome).Inc()
		switch outcome {
		case OutcomeRemoved:
			report.Removed++
		case OutcomeNotMember:
			report.NotMember++
		case OutcomeStillEntitled:
			report.Entitled++
		case OutcomeFailed:
			report.Failed++
		case OutcomeGaveUp:
			report.GaveUp++
		case OutcomeDeferred:
			report.Deferred++
		}
	}

	metrics.SweepDuration.WithLabelValues("expired").Observe(time.Since(start).Seconds())
	metrics.SweepRunsTotal.WithLabelValues("expired", "ok").Inc()
	slog.Info("expired sweep finished", "op", "reconciler.sweep_expired",
		"due", report.Due, "deactivated", report.Deactivated, "removed", report.Removed,
		"failed", report.Failed, "deferred", report.Deferred,
		"latency_ms", time.Since(start).Milliseconds())
	return report, ctx.Err()
}

// checkRemovePermission fails with a ConfigurationError when the bot has no
// channel or may not remove members from it.
func checkRemovePermission(ctx context.Context, gw gateway.Gateway, channelID int64) error {
	if channelID == 0 {
		return &ConfigurationError{Reason: "channel id is not set"}
	}
	perms, err := gw.GetBotPermissions(ctx, channelID)
	if err != nil {
		return &GatewayError{Op: "getBotPermissions", Err: err}
	}
	if !perms.CanRestrictMembers {
		return &ConfigurationError{Reason: "bot cannot remove members from the channel"}
	}
	return nil
}

func (r *Reconciler) reconcile(ctx context.Context, sub *models.Subscription, now time.Time, canEvict bool, report *SweepReport) (string, error) {
	platformID := sub.User.PlatformID

	if sub.IsActive {
		var won bool
		err := r.repo.Transaction(ctx, func(tx *repository.Repository) error {
			var err error
			won, err = tx.Deactivate(ctx, sub.ID, models.ReasonExpired, now)
			return err
		})
		if err != nil {
			return "", err
		}
		sub.IsActive = false
		if won {
			sub.DeactivationReason = models.ReasonExpired
			report.Deactivated++
			metrics.SubscriptionsTotal.WithLabelValues("expired").Inc()
			publish(ctx, r.events, events.SubjectSubscriptionExpired, subscriptionEvent(sub, platformID, now))
		} else {
			fresh, err := r.repo.GetSubscription(ctx, sub.ID)
			if err != nil {
				return "", err
			}
			sub.DeactivationReason = fresh.DeactivationReason
		}
	}

	if !canEvict {
		return OutcomeDeferred, nil
	}

	entitled, err := r.repo.HasActiveSubscription(ctx, sub.UserID, now, sub.ID)
	if err != nil {
		return "", err
	}
	if entitled {
		return OutcomeStillEntitled, r.repo.MarkEvicted(ctx, sub.ID, now)
	}

	_, err = r.gw.GetMember(ctx, r.cfg.ChannelID, platformID)
	switch {
	case errors.Is(err, gateway.ErrNotAMember):
		if err := r.repo.MarkEvicted(ctx, sub.ID, now); err != nil {
			return "", err
		}
		r.notifyEvicted(ctx, sub, platformID)
		return OutcomeNotMember, nil
	case err != nil:
		return r.evictionFailed(ctx, sub, now, &GatewayError{Op: "getMember", Err: err})
	}

	if err := r.gw.RemoveMember(ctx, r.cfg.ChannelID, platformID); err != nil {
		return r.evictionFailed(ctx, sub, now, &GatewayError{Op: "removeMember", Err: err})
	}
	if err := r.repo.MarkEvicted(ctx, sub.ID, now); err != nil {
		return "", err
	}
	slog.Info("member removed", "op", "reconciler.evict", "user_id", sub.UserID, "platform_id", platformID)
	publish(ctx, r.events, events.SubjectMemberEvicted, events.EvictionEvent{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		PlatformID:     platformID,
		Outcome:        OutcomeRemoved,
		OccurredAt:     now,
	})
	r.notifyEvicted(ctx, sub, platformID)
	return OutcomeRemoved, nil
}

// evictionFailed counts a failed attempt. After MaxEvictionAttempts the row is
// settled anyway so it stops coming back every sweep.
func (r *Reconciler) evictionFailed(ctx context.Context, sub *models.Subscription, now time.Time, cause error) (string, error) {
	attempts, err := r.repo.IncrementEvictionAttempts(ctx, sub.ID)
	if err != nil {
		return "", errors.Join(cause, err)
	}
	slog.Warn("member removal failed", "op", "reconciler.evict",
		"user_id", sub.UserID, "platform_id", sub.User.PlatformID, "attempt", attempts, "error", cause)
	if attempts < r.cfg.MaxEvictionAttempts {
		return OutcomeFailed, nil
	}

	if err := r.repo.MarkEvicted(ctx, sub.ID, now); err != nil {
		return "", err
	}
	slog.Error("giving up on member removal", "op", "reconciler.evict",
		"user_id", sub.UserID, "platform_id", sub.User.PlatformID, "attempts", attempts, "error", cause)
	r.notifyEvicted(ctx, sub, sub.User.PlatformID)
	return OutcomeGaveUp, nil
}

func (r *Reconciler) notifyEvicted(ctx context.Context, sub *models.Subscription, platformID int64) {
	text := msgExpired()
	if sub.DeactivationReason == models.ReasonRevoked {
		text = msgRevoked()
	}
	notify(ctx, r.gw, platformID, text, "reconciler.notify")
}

// SweepExpiring reminds holders whose subscription ends within the reminder
// window. Each pass picks up where the previous one stopped, plus rows created
// since then, so late or skipped ticks lose nothing and each row is reminded
// once per process. Nothing is written to the store.
func (r *Reconciler) SweepExpiring(ctx context.Context) (*ReminderReport, error) {
	r.reminderMu.Lock()
	defer r.reminderMu.Unlock()

	start := time.Now()
	report := &ReminderReport{}
	now := r.clock.Now()

	to := now.Add(r.cfg.ReminderWindow)
	subs, err := r.repo.DueForReminder(ctx, now, to, r.remindedTo, r.remindedAt)
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues("expiring", "error").Inc()
		return report, err
	}
	report.Due = len(subs)

	for i := range subs {
		if ctx.Err() != nil {
			break
		}
		sub := &subs[i]
		if notify(ctx, r.gw, sub.User.PlatformID, msgExpiring(sub, now), "reconciler.remind") {
			report.Sent++
			metrics.RemindersTotal.WithLabelValues("sent").Inc()
		} else {
			report.Failed++
			metrics.RemindersTotal.WithLabelValues("failed").Inc()
		}
	}

	if ctx.Err() == nil {
		if to.After(r.remindedTo) {
			r.remindedTo = to
		}
		r.remindedAt = now
	}

	metrics.SweepDuration.WithLabelValues("expiring").Observe(time.Since(start).Seconds())
	metrics.SweepRunsTotal.WithLabelValues("expiring", "ok").Inc()
	slog.Info("expiring sweep finished", "op", "reconciler.sweep_expiring",
		"due", report.Due, "sent", report.Sent, "failed", report.Failed,
		"latency_ms", time.Since(start).Milliseconds())
	return report, ctx.Err()
}
