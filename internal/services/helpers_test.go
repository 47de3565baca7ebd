package services

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/config"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/database/databasetest"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/gateway/gatewaytest"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/plans"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/repository"
)

const testChannelID int64 = -1001000000001

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type published struct {
	Subject string
	Value   any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{Subject: subject, Value: v})
	return nil
}

func (p *recordingPublisher) Subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Subject)
	}
	return out
}

type harness struct {
	repo       *repository.Repository
	gw         *gatewaytest.Fake
	clock      *fakeClock
	pub        *recordingPublisher
	subs       *SubscriptionService
	invites    *InviteService
	reconciler *Reconciler
	users      *UserService
	admin      *AdminService
	payments   *PaymentService
}

type harnessOption func(*InviteConfig, *ReconcilerConfig)

func withRedeemPolicy(policy string) harnessOption {
	return func(ic *InviteConfig, _ *ReconcilerConfig) { ic.RedeemPolicy = policy }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	repo := repository.New(databasetest.Open(t))
	gw := gatewaytest.New()
	clock := &fakeClock{now: t0}
	pub := &recordingPublisher{}

	ic := InviteConfig{
		ChannelID:      testChannelID,
		TTL:            24 * time.Hour,
		GatewayTimeout: time.Second,
		RedeemPolicy:   config.RedeemPolicyGrandfather,
	}
	rc := ReconcilerConfig{
		ChannelID:           testChannelID,
		Interval:            time.Hour,
		ReminderWindow:      24 * time.Hour,
		MaxEvictionAttempts: 3,
	}
	for _, opt := range opts {
		opt(&ic, &rc)
	}

	subs := NewSubscriptionService(repo, gw, pub, clock, testChannelID)
	return &harness{
		repo:       repo,
		gw:         gw,
		clock:      clock,
		pub:        pub,
		subs:       subs,
		invites:    NewInviteService(repo, subs, gw, pub, clock, ic),
		reconciler: NewReconciler(repo, gw, pub, clock, rc),
		users:      NewUserService(repo),
		admin:      NewAdminService(repo, gw, clock, []int64{9001}),
		payments:   NewPaymentService(repo, subs, plans.NewRegistry(plans.Defaults()), gw),
	}
}

func (h *harness) register(t *testing.T, platformID int64) *models.User {
	t.Helper()
	user, err := h.users.Register(context.Background(), RegisterRequest{
		PlatformID: platformID,
		FullName:   "Test User " + strconv.FormatInt(platformID, 10),
		Phone:      "+79990000000",
		Email:      "user" + strconv.FormatInt(platformID, 10) + "@example.com",
	})
	require.NoError(t, err)
	return user
}

func (h *harness) subscribe(t *testing.T, userID uuid.UUID, days int) *models.Subscription {
	t.Helper()
	sub, err := h.subs.CreateOrReplace(context.Background(), userID, days, false)
	require.NoError(t, err)
	return sub
}

func (h *harness) reload(t *testing.T, id uuid.UUID) *models.Subscription {
	t.Helper()
	sub, err := h.repo.GetSubscription(context.Background(), id)
	require.NoError(t, err)
	return sub
}
