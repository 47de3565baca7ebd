package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SweepRunsTotal counts reconciler passes by kind (expired, expiring) and result.
	SweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subgate",
		Subsystem: "reconciler",
		Name:      "runs_total",
		Help:      "Reconciler passes by kind and result.",
	}, []string{"kind", "result"})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "subgate",
		Subsystem: "reconciler",
		Name:      "duration_seconds",
		Help:      "Reconciler pass duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	SweepSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subgate",
		Subsystem: "reconciler",
		Name:      "skipped_total",
		Help:      "Ticks skipped because a pass was still running.",
	})

	// EvictionsTotal counts member removals by outcome
	// (removed, not_member, still_entitled, failed, gave_up, deferred).
	EvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subgate",
		Subsystem: "reconciler",
		Name:      "evictions_total",
		Help:      "Member evictions by outcome.",
	}, []string{"outcome"})

	RemindersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subgate",
		Subsystem: "reconciler",
		Name:      "reminders_total",
		Help:      "Expiry reminders by delivery result.",
	}, []string{"result"})

	InvitesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subgate",
		Subsystem: "invites",
		Name:      "total",
		Help:      "Invite operations by action (issued, reused, redeemed, revoked) and result.",
	}, []string{"action", "result"})

	SubscriptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subgate",
		Subsystem: "subscriptions",
		Name:      "transitions_total",
		Help:      "Subscription state transitions by event.",
	}, []string{"event"})

	PaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subgate",
		Subsystem: "payments",
		Name:      "events_total",
		Help:      "Payment notifications by source and result.",
	}, []string{"source", "result"})

	GatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subgate",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Messaging platform API calls by method and result.",
	}, []string{"method", "result"})

	GatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "subgate",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Messaging platform API latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method"})
)

// Result turns an error into a low-cardinality label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
