package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/database/databasetest"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	return New(databasetest.Open(t))
}

func seedUser(t *testing.T, r *Repository, platformID int64) *models.User {
	t.Helper()
	u := &models.User{
		PlatformID: platformID,
		FullName:   "User",
		Email:      uuid.NewString() + "@example.com",
	}
	require.NoError(t, r.CreateUser(context.Background(), u))
	return u
}

func seedSubscription(t *testing.T, r *Repository, userID uuid.UUID, start, end time.Time, active bool) *models.Subscription {
	t.Helper()
	s := &models.Subscription{UserID: userID, StartDate: start, EndDate: end, IsActive: active, CreatedAt: start}
	require.NoError(t, r.CreateSubscription(context.Background(), s))
	if !active {
		// default:true on the column swallows a false zero value on insert
		_, err := r.Deactivate(context.Background(), s.ID, models.ReasonSuperseded, start)
		require.NoError(t, err)
	}
	return s
}

func TestUser_UniqueConstraints(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	u := seedUser(t, r, 100)

	err := r.CreateUser(ctx, &models.User{PlatformID: 100, FullName: "Dup", Email: "other@example.com"})
	require.Error(t, err)
	assert.True(t, IsDuplicateKey(err))

	err = r.CreateUser(ctx, &models.User{PlatformID: 101, FullName: "Dup", Email: u.Email})
	require.Error(t, err)
	assert.True(t, IsDuplicateKey(err))
}

func TestDeleteUser_Cascades(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	u := seedUser(t, r, 1)
	redeemer := seedUser(t, r, 2)
	seedSubscription(t, r, u.ID, t0, t0.Add(24*time.Hour), true)
	inv := &models.InviteLink{Code: "abcd1234", Link: "https://t.me/+x", IssuedToUserID: redeemer.ID, ExpiresAt: t0.Add(time.Hour)}
	require.NoError(t, r.CreateInvite(ctx, inv))
	ok, err := r.MarkInviteUsed(ctx, inv.ID, &u.ID, u.PlatformID, t0)
	require.NoError(t, err)
	require.True(t, ok)

	deleted, err := r.DeleteUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	history, err := r.SubscriptionHistory(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	// The redeemer reference is non-owning: the link survives.
	got, err := r.GetInviteByCode(ctx, "abcd1234")
	require.NoError(t, err)
	assert.Nil(t, got.RedeemedByUserID)
	assert.True(t, got.IsUsed)

	deleted, err = r.DeleteUser(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	u := seedUser(t, r, 1)
	boom := errors.New("boom")

	err := r.Transaction(ctx, func(tx *Repository) error {
		if _, err := tx.LockUser(ctx, u.ID); err != nil {
			return err
		}
		if _, err := tx.DeactivateActive(ctx, u.ID, models.ReasonSuperseded, t0); err != nil {
			return err
		}
		if err := tx.CreateSubscription(ctx, &models.Subscription{UserID: u.ID, StartDate: t0, EndDate: t0.Add(time.Hour), IsActive: true}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	subs, err := r.ActiveSubscriptions(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestLockUser_NotFound(t *testing.T) {
	r := newRepo(t)
	_, err := r.LockUser(context.Background(), uuid.New())
	assert.True(t, IsNotFound(err))
}

func TestDeactivate_IsConditional(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	u := seedUser(t, r, 1)
	s := seedSubscription(t, r, u.ID, t0, t0.Add(time.Hour), true)

	ok, err := r.Deactivate(ctx, s.ID, models.ReasonExpired, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Deactivate(ctx, s.ID, models.ReasonRevoked, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := r.GetSubscription(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, models.ReasonExpired, got.DeactivationReason)
}

func TestDueForEviction(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	now := t0.Add(48 * time.Hour)

	expiredActive := seedSubscription(t, r, seedUser(t, r, 1).ID, t0, t0.Add(time.Hour), true)
	seedSubscription(t, r, seedUser(t, r, 2).ID, t0, now.Add(time.Hour), true) // still running
	superseded := seedSubscription(t, r, seedUser(t, r, 3).ID, t0, t0.Add(time.Hour), false)

	lazyUser := seedUser(t, r, 4)
	lazy := seedSubscription(t, r, lazyUser.ID, t0, t0.Add(time.Hour), true)
	_, err := r.Deactivate(ctx, lazy.ID, models.ReasonExpired, now)
	require.NoError(t, err)

	settled := seedSubscription(t, r, seedUser(t, r, 5).ID, t0, t0.Add(time.Hour), true)
	require.NoError(t, r.MarkEvicted(ctx, settled.ID, now))

	due, err := r.DueForEviction(ctx, now)
	require.NoError(t, err)

	ids := make([]uuid.UUID, 0, len(due))
	for _, s := range due {
		ids = append(ids, s.ID)
		assert.NotZero(t, s.User.PlatformID)
	}
	assert.ElementsMatch(t, []uuid.UUID{expiredActive.ID, lazy.ID}, ids)
	assert.NotContains(t, ids, superseded.ID)
}

func TestIncrementEvictionAttempts(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	s := seedSubscription(t, r, seedUser(t, r, 1).ID, t0, t0.Add(time.Hour), true)

	n, err := r.IncrementEvictionAttempts(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = r.IncrementEvictionAttempts(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDueForReminder(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	in := seedSubscription(t, r, seedUser(t, r, 1).ID, t0, t0.Add(20*time.Hour), true)
	seedSubscription(t, r, seedUser(t, r, 2).ID, t0, t0.Add(30*time.Hour), true)
	seedSubscription(t, r, seedUser(t, r, 3).ID, t0, t0.Add(-time.Hour), true)
	seedSubscription(t, r, seedUser(t, r, 4).ID, t0, t0.Add(10*time.Hour), false)

	subs, err := r.DueForReminder(ctx, t0, t0.Add(24*time.Hour), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, in.ID, subs[0].ID)
	assert.Equal(t, int64(1), subs[0].User.PlatformID)

	// A pass that already covered up to t0+22h sees nothing new.
	subs, err = r.DueForReminder(ctx, t0, t0.Add(24*time.Hour), t0.Add(22*time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, subs)

	late := &models.Subscription{
		UserID: seedUser(t, r, 5).ID, StartDate: t0, EndDate: t0.Add(5 * time.Hour),
		IsActive: true, CreatedAt: t0.Add(2 * time.Hour),
	}
	require.NoError(t, r.CreateSubscription(ctx, late))

	subs, err = r.DueForReminder(ctx, t0, t0.Add(24*time.Hour), t0.Add(22*time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, late.ID, subs[0].ID)
}

func TestHasActiveSubscription_ExcludesRow(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	u := seedUser(t, r, 1)
	s := seedSubscription(t, r, u.ID, t0, t0.Add(time.Hour), true)

	has, err := r.HasActiveSubscription(ctx, u.ID, t0, s.ID)
	require.NoError(t, err)
	assert.False(t, has)

	has, err = r.HasActiveSubscription(ctx, u.ID, t0, uuid.Nil)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = r.HasActiveSubscription(ctx, u.ID, t0.Add(time.Hour), uuid.Nil)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMarkInviteUsed_FirstRedeemerWins(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	issuer := seedUser(t, r, 1)
	first := seedUser(t, r, 2)
	second := seedUser(t, r, 3)
	inv := &models.InviteLink{Code: "Zx9Kq2Lm", Link: "https://t.me/+abc", IssuedToUserID: issuer.ID, ExpiresAt: t0.Add(24 * time.Hour)}
	require.NoError(t, r.CreateInvite(ctx, inv))

	ok, err := r.MarkInviteUsed(ctx, inv.ID, &first.ID, first.PlatformID, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.MarkInviteUsed(ctx, inv.ID, &second.ID, second.PlatformID, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := r.GetInviteByLink(ctx, "https://t.me/+abc")
	require.NoError(t, err)
	require.NotNil(t, got.RedeemedByUserID)
	assert.Equal(t, first.ID, *got.RedeemedByUserID)
	require.NotNil(t, got.RedeemedByPlatformID)
	assert.Equal(t, int64(2), *got.RedeemedByPlatformID)
	require.NotNil(t, got.UsedAt)
	assert.WithinDuration(t, t0, *got.UsedAt, time.Second)
}

func TestOutstandingInvite(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	u := seedUser(t, r, 1)

	_, err := r.OutstandingInvite(ctx, u.ID, t0)
	assert.True(t, IsNotFound(err))

	expired := &models.InviteLink{Code: "old00001", Link: "https://t.me/+old", IssuedToUserID: u.ID, ExpiresAt: t0}
	require.NoError(t, r.CreateInvite(ctx, expired))
	live := &models.InviteLink{Code: "new00001", Link: "https://t.me/+new", IssuedToUserID: u.ID, ExpiresAt: t0.Add(time.Hour)}
	require.NoError(t, r.CreateInvite(ctx, live))

	got, err := r.OutstandingInvite(ctx, u.ID, t0)
	require.NoError(t, err)
	assert.Equal(t, live.ID, got.ID)

	err = r.CreateInvite(ctx, &models.InviteLink{Code: "new00001", Link: "https://t.me/+other", IssuedToUserID: u.ID, ExpiresAt: t0.Add(time.Hour)})
	assert.True(t, IsDuplicateKey(err))
}

func TestPaymentEvent_UniqueByProviderAndExternalID(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	u := seedUser(t, r, 1)

	ev := &models.PaymentEvent{Provider: "yookassa", ExternalID: "pay-1", UserID: u.ID, Days: 30}
	require.NoError(t, r.CreatePaymentEvent(ctx, ev))

	err := r.CreatePaymentEvent(ctx, &models.PaymentEvent{Provider: "yookassa", ExternalID: "pay-1", UserID: u.ID, Days: 30})
	assert.True(t, IsDuplicateKey(err))

	require.NoError(t, r.CreatePaymentEvent(ctx, &models.PaymentEvent{Provider: "manual", ExternalID: "pay-1", UserID: u.ID, Days: 30}))

	subID := uuid.New()
	require.NoError(t, r.AttachSubscription(ctx, ev.ID, subID))
	got, err := r.GetPaymentEvent(ctx, "yookassa", "pay-1")
	require.NoError(t, err)
	require.NotNil(t, got.SubscriptionID)
	assert.Equal(t, subID, *got.SubscriptionID)
}

func TestUserSummariesAndStats(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	now := t0.Add(time.Hour)

	subscribed := seedUser(t, r, 1)
	lapsed := seedUser(t, r, 2)
	seedUser(t, r, 3)
	current := seedSubscription(t, r, subscribed.ID, t0, t0.Add(72*time.Hour), true)
	seedSubscription(t, r, lapsed.ID, t0.Add(-48*time.Hour), t0, true)
	require.NoError(t, r.CreateInvite(ctx, &models.InviteLink{Code: "aaaa1111", Link: "https://t.me/+a", IssuedToUserID: subscribed.ID, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, r.CreateInvite(ctx, &models.InviteLink{Code: "bbbb2222", Link: "https://t.me/+b", IssuedToUserID: subscribed.ID, ExpiresAt: now.Add(time.Hour)}))

	rows, err := r.UserSummaries(ctx, now)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byPlatform := map[int64]UserSummaryRow{}
	for _, row := range rows {
		byPlatform[row.User.PlatformID] = row
	}
	require.NotNil(t, byPlatform[1].Current)
	assert.Equal(t, current.ID, byPlatform[1].Current.ID)
	assert.Equal(t, int64(2), byPlatform[1].InvitesIssued)
	assert.Nil(t, byPlatform[2].Current)
	assert.Nil(t, byPlatform[3].Current)

	st, err := r.Stats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Users)
	assert.Equal(t, int64(1), st.ActiveSubscriptions)
	assert.Equal(t, int64(2), st.InvitesIssued)
	assert.Equal(t, int64(0), st.InvitesUsed)
	assert.Equal(t, int64(1), st.PendingEvictions)
}
