package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions_ExpireAfterTTL(t *testing.T) {
	s := newSessions()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	s.put(1, StateAwaitingPhone, Draft{FullName: "Anna"}, start)
	sess, ok := s.get(1, start.Add(sessionTTL))
	require.True(t, ok)
	assert.Equal(t, "Anna", sess.draft.FullName)

	_, ok = s.get(1, start.Add(sessionTTL+time.Second))
	assert.False(t, ok)
}

func TestSessions_PutSweepsAbandonedDialogues(t *testing.T) {
	s := newSessions()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	s.put(1, StateAwaitingPhone, Draft{FullName: "Anna"}, start)
	s.put(2, StateAwaitingName, Draft{}, start.Add(time.Minute))
	assert.Equal(t, 2, s.len())

	// User 1 never comes back; a later dialogue clears them out.
	s.put(3, StateAwaitingName, Draft{}, start.Add(sessionTTL+time.Minute))
	assert.Equal(t, 2, s.len())
	_, ok := s.get(2, start.Add(sessionTTL+time.Minute))
	assert.True(t, ok)

	s.put(3, StateAwaitingPhone, Draft{}, start.Add(2*sessionTTL+2*time.Minute))
	assert.Equal(t, 1, s.len())
}
