package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/events"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
)

func TestCreateOrReplace_KeepsSingleActiveRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, 1)

	first := h.subscribe(t, u.ID, 30)
	h.clock.Advance(time.Hour)
	second := h.subscribe(t, u.ID, 90)

	active, err := h.repo.ActiveSubscriptions(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	old := h.reload(t, first.ID)
	assert.False(t, old.IsActive)
	assert.Equal(t, models.ReasonSuperseded, old.DeactivationReason)
	require.NotNil(t, old.DeactivatedAt)
	assert.WithinDuration(t, t0.Add(time.Hour), *old.DeactivatedAt, time.Second)

	assert.WithinDuration(t, t0.Add(time.Hour), second.StartDate, time.Second)
	assert.WithinDuration(t, t0.Add(time.Hour+90*24*time.Hour), second.EndDate, time.Second)
	assert.Equal(t, []string{events.SubjectSubscriptionActivated, events.SubjectSubscriptionActivated}, h.pub.Subjects())
}

func TestCreateOrReplace_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, 1)

	_, err := h.subs.CreateOrReplace(ctx, uuid.New(), 30, false)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = h.subs.CreateOrReplace(ctx, u.ID, 0, false)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = h.subs.CreateOrReplace(ctx, u.ID, -5, false)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	history, err := h.subs.History(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestGetStatus_DaysRemainingFloors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, 1)
	h.subscribe(t, u.ID, 90)

	st, err := h.subs.GetStatus(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.Equal(t, 90, st.DaysRemaining)

	h.clock.Advance(12 * time.Hour)
	st, err = h.subs.GetStatus(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.Equal(t, 89, st.DaysRemaining)
}

func TestGetStatus_NoSubscription(t *testing.T) {
	h := newHarness(t)
	u := h.register(t, 1)

	st, err := h.subs.GetStatus(context.Background(), u.ID)
	require.NoError(t, err)
	assert.False(t, st.Active)
	assert.Zero(t, st.DaysRemaining)

	_, err = h.subs.GetStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGetStatus_LazyExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, 1)
	sub := h.subscribe(t, u.ID, 1)

	// The end instant itself is already expired.
	h.clock.Advance(24 * time.Hour)

	st, err := h.subs.GetStatus(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, st.Active)
	assert.Zero(t, st.DaysRemaining)

	row := h.reload(t, sub.ID)
	assert.False(t, row.IsActive)
	assert.Equal(t, models.ReasonExpired, row.DeactivationReason)
	assert.Contains(t, h.pub.Subjects(), events.SubjectSubscriptionExpired)

	subscribed, err := h.subs.IsSubscribed(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, subscribed)

	// A persisted inactive row never comes back.
	st, err = h.subs.GetStatus(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, st.Active)
}

func TestGetStatus_ExpiryLostToReplacement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, 1)
	old := h.subscribe(t, u.ID, 1)
	h.clock.Advance(48 * time.Hour)

	// The status read saw the expired row, then a payment replaced it
	// before the read could expire it.
	stale := h.reload(t, old.ID)
	fresh := h.subscribe(t, u.ID, 30)

	st, err := h.subs.statusOf(ctx, u, stale)
	require.NoError(t, err)
	assert.True(t, st.Active)
	require.NotNil(t, st.SubscriptionID)
	assert.Equal(t, fresh.ID, *st.SubscriptionID)
	assert.Equal(t, 30, st.DaysRemaining)
	assert.NotEqual(t, models.ReasonExpired, h.reload(t, old.ID).DeactivationReason)
}

func TestGrant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, 1)

	backdated := t0.Add(-10 * 24 * time.Hour)
	sub, err := h.subs.Grant(ctx, GrantRequest{UserID: u.ID, Days: 30, StartAt: &backdated, AutoRenewal: true})
	require.NoError(t, err)
	assert.True(t, sub.AutoRenewal)

	st, err := h.subs.GetStatus(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, st.DaysRemaining)

	future := t0.Add(time.Hour)
	_, err = h.subs.Grant(ctx, GrantRequest{UserID: u.ID, Days: 30, StartAt: &future})
	var ce *ConstraintError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "start_date", ce.Field)

	longAgo := t0.Add(-60 * 24 * time.Hour)
	_, err = h.subs.Grant(ctx, GrantRequest{UserID: u.ID, Days: 30, StartAt: &longAgo})
	assert.ErrorIs(t, err, ErrConstraintViolation)

	// Rejected grants leave the existing row alone.
	active, err := h.repo.ActiveSubscriptions(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, sub.ID, active[0].ID)
}

func TestExtend_RestartsFromNowAndKeepsAutoRenewal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, 1)
	_, err := h.subs.CreateOrReplace(ctx, u.ID, 30, true)
	require.NoError(t, err)

	h.clock.Advance(10 * 24 * time.Hour)
	sub, err := h.subs.Extend(ctx, u.ID, 30)
	require.NoError(t, err)
	assert.True(t, sub.AutoRenewal)
	assert.WithinDuration(t, t0.Add(40*24*time.Hour), sub.EndDate, time.Second)

	st, err := h.subs.GetStatus(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, st.DaysRemaining)
}

func TestRevoke_RemovesMember(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, 42)
	sub := h.subscribe(t, u.ID, 30)
	h.gw.Join(42)

	require.NoError(t, h.subs.Revoke(ctx, u.ID))

	row := h.reload(t, sub.ID)
	assert.False(t, row.IsActive)
	assert.Equal(t, models.ReasonRevoked, row.DeactivationReason)
	assert.NotNil(t, row.EvictedAt)
	assert.Equal(t, []int64{42}, h.gw.RemovedUsers())
	assert.False(t, h.gw.IsMember(42))
	require.Len(t, h.gw.SentMessages(), 1)
	assert.Contains(t, h.pub.Subjects(), events.SubjectSubscriptionRevoked)

	assert.ErrorIs(t, h.subs.Revoke(ctx, u.ID), ErrNotEntitled)
	assert.ErrorIs(t, h.subs.Revoke(ctx, uuid.New()), ErrUserNotFound)
}

func TestRevoke_WithoutRemovePermission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, 42)
	sub := h.subscribe(t, u.ID, 30)
	h.gw.Join(42)
	h.gw.Perms.CanRestrictMembers = false

	require.NoError(t, h.subs.Revoke(ctx, u.ID))

	row := h.reload(t, sub.ID)
	assert.False(t, row.IsActive)
	assert.Nil(t, row.EvictedAt)
	assert.Empty(t, h.gw.RemovedUsers())
	assert.True(t, h.gw.IsMember(42))
	assert.Empty(t, h.gw.SentMessages())

	var cfgErr *ConfigurationError
	require.ErrorAs(t, h.subs.removeFromChannel(ctx, 42), &cfgErr)
	assert.ErrorIs(t, cfgErr, ErrConfiguration)
}

func TestRevoke_FailedRemovalLeftForSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, 42)
	sub := h.subscribe(t, u.ID, 30)
	h.gw.Join(42)
	h.gw.RemoveErr = errors.New("flood wait")

	require.NoError(t, h.subs.Revoke(ctx, u.ID))

	row := h.reload(t, sub.ID)
	assert.False(t, row.IsActive)
	assert.Nil(t, row.EvictedAt)

	due, err := h.repo.DueForEviction(ctx, h.clock.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, sub.ID, due[0].ID)

	h.gw.RemoveErr = nil
	report, err := h.reconciler.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.False(t, h.gw.IsMember(42))
	assert.NotNil(t, h.reload(t, sub.ID).EvictedAt)
}
