package bot

import (
	"sync"
	"time"
)

const sessionTTL = 30 * time.Minute

type session struct {
	state   State
	draft   Draft
	touched time.Time
}

// sessions keeps in-progress registration dialogues in memory. A restart
// drops them and the user starts over with /start.
type sessions struct {
	mu        sync.Mutex
	byID      map[int64]*session
	lastSweep time.Time
}

func newSessions() *sessions {
	return &sessions{byID: make(map[int64]*session)}
}

func (s *sessions) get(platformID int64, now time.Time) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[platformID]
	if !ok {
		return nil, false
	}
	if sess.stale(now) {
		delete(s.byID, platformID)
		return nil, false
	}
	cp := *sess
	return &cp, true
}

func (s *sessions) put(platformID int64, state State, draft Draft, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[platformID] = &session{state: state, draft: draft, touched: now}
	if now.Sub(s.lastSweep) >= sessionTTL {
		s.sweepLocked(now)
	}
}

// sweepLocked drops abandoned dialogues. It runs at most once per TTL.
func (s *sessions) sweepLocked(now time.Time) {
	for id, sess := range s.byID {
		if sess.stale(now) {
			delete(s.byID, id)
		}
	}
	s.lastSweep = now
}

func (s *session) stale(now time.Time) bool {
	return now.Sub(s.touched) > sessionTTL
}

func (s *sessions) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *sessions) drop(platformID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, platformID)
}
