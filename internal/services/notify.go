package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/events"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/gateway"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
)

const dateLayout = "02.01.2006 15:04 UTC"

func msgActivated(sub *models.Subscription) string {
	return fmt.Sprintf("✅ Your subscription is active until <b>%s</b>.\nUse /invite to get your link to the channel.",
		sub.EndDate.Format(dateLayout))
}

func msgExpired() string {
	return "⌛ Your subscription has ended and your access to the channel was removed.\nUse /buy to renew."
}

func msgRevoked() string {
	return "⛔ Your subscription was revoked by an administrator and your access to the channel was removed."
}

func msgExpiring(sub *models.Subscription, now time.Time) string {
	hours := int(sub.EndDate.Sub(now).Hours())
	return fmt.Sprintf("⏰ Your subscription ends on <b>%s</b> (in about %d h).\nUse /buy to extend it.",
		sub.EndDate.Format(dateLayout), hours)
}

func msgAdminPaymentRequest(user *models.User, planTitle string, platformID int64) string {
	return fmt.Sprintf("💳 Payment confirmation requested\nUser: %s (%s)\nPlatform id: <code>%d</code>\nPlan: %s\nActivate with /activate_sub %d &lt;months&gt;",
		html.EscapeString(user.FullName), html.EscapeString(user.Email), platformID, html.EscapeString(planTitle), platformID)
}

// notify sends a direct message. Failures are logged and otherwise ignored.
func notify(ctx context.Context, gw gateway.Gateway, platformID int64, text, op string) bool {
	if err := gw.SendDirectMessage(ctx, platformID, text); err != nil {
		slog.Warn("direct message failed", "op", op, "platform_id", platformID, "error", err)
		return false
	}
	return true
}

func publish(ctx context.Context, pub events.Publisher, subject string, v any) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, subject, v); err != nil {
		slog.Warn("event publish failed", "op", "publish", "subject", subject, "error", err)
	}
}

func subscriptionEvent(sub *models.Subscription, platformID int64, at time.Time) events.SubscriptionEvent {
	return events.SubscriptionEvent{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		PlatformID:     platformID,
		StartDate:      sub.StartDate,
		EndDate:        sub.EndDate,
		Reason:         sub.DeactivationReason,
		OccurredAt:     at,
	}
}
