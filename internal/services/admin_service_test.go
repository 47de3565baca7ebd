package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListUsersWithSubscriptionSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	active := h.register(t, 1)
	h.register(t, 2)
	h.subscribe(t, active.ID, 10)
	_, err := h.invites.Issue(ctx, active.ID)
	require.NoError(t, err)
	h.clock.Advance(36 * time.Hour)

	summaries, err := h.admin.ListUsersWithSubscriptionSummary(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byPlatform := map[int64]UserSummary{}
	for _, s := range summaries {
		byPlatform[s.User.PlatformID] = s
	}
	assert.True(t, byPlatform[1].IsSubscribed)
	assert.Equal(t, 8, byPlatform[1].DaysRemaining)
	assert.Equal(t, int64(1), byPlatform[1].InvitesIssued)
	assert.False(t, byPlatform[2].IsSubscribed)
	assert.Nil(t, byPlatform[2].EndDate)

	st, err := h.admin.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Users)
	assert.Equal(t, int64(1), st.ActiveSubscriptions)
}

func TestBroadcast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, 1)
	h.register(t, 2)

	res, err := h.admin.Broadcast(ctx, "  maintenance tonight ")
	require.NoError(t, err)
	assert.Equal(t, &BroadcastResult{Total: 2, Sent: 2}, res)
	msgs := h.gw.SentMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "maintenance tonight", msgs[0].Text)

	h.gw.SendErr = errors.New("bot was blocked by the user")
	res, err = h.admin.Broadcast(ctx, "again")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)

	_, err = h.admin.Broadcast(ctx, " ")
	assert.ErrorIs(t, err, ErrConstraintViolation)
}

func TestAdminIdentityAndPaymentReview(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.admin.IsAdmin(9001))
	assert.False(t, h.admin.IsAdmin(1))

	u := h.register(t, 1)
	sent := h.admin.RequestPaymentReview(context.Background(), u, "3 months")
	assert.Equal(t, 1, sent)
	msgs := h.gw.SentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(9001), msgs[0].UserID)
	assert.Contains(t, msgs[0].Text, "/activate_sub 1")
}
