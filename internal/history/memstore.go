package history

import (
	"context"
	"sync"
	"time"
)

const (
	defaultMaxSessions     = 1024
	defaultMaxSessionAge   = time.Hour
	defaultMaxTurnsPerSess = 64
)

// Compile-time interface assertion.
var _ Store = (*MemStore)(nil)

// MemStoreOption configures a MemStore at construction time.
type MemStoreOption func(*MemStore)

// WithMaxSessions caps the number of concurrently retained sessions; the
// least recently touched session is evicted first. Defaults to 1024.
func WithMaxSessions(n int) MemStoreOption {
	return func(s *MemStore) { s.maxSessions = n }
}

// WithMaxSessionAge evicts sessions untouched for longer than d. Defaults to
// one hour.
func WithMaxSessionAge(d time.Duration) MemStoreOption {
	return func(s *MemStore) { s.maxAge = d }
}

// WithMaxTurns caps the per-session turn list; oldest turns are discarded
// first. Defaults to 64.
func WithMaxTurns(n int) MemStoreOption {
	return func(s *MemStore) { s.maxTurns = n }
}

// memSession is the stored state of one conversation.
type memSession struct {
	turns   []Turn
	touched time.Time
}

// MemStore is a bounded in-memory Store. Long-running processes stay at a
// fixed memory ceiling: sessions are evicted by count and by age, and each
// session's turn list is capped.
type MemStore struct {
	maxSessions int
	maxAge      time.Duration
	maxTurns    int
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*memSession
}

// NewMemStore creates an empty in-memory store.
func NewMemStore(opts ...MemStoreOption) *MemStore {
	s := &MemStore{
		maxSessions: defaultMaxSessions,
		maxAge:      defaultMaxSessionAge,
		maxTurns:    defaultMaxTurnsPerSess,
		now:         time.Now,
		sessions:    make(map[string]*memSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append implements Store.
func (s *MemStore) Append(_ context.Context, sessionID string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictExpiredLocked(now)

	sess, ok := s.sessions[sessionID]
	if !ok {
		s.evictOverflowLocked()
		sess = &memSession{}
		s.sessions[sessionID] = sess
	}
	sess.touched = now
	if turn.At.IsZero() {
		turn.At = now
	}
	sess.turns = append(sess.turns, turn)
	if len(sess.turns) > s.maxTurns {
		sess.turns = sess.turns[len(sess.turns)-s.maxTurns:]
	}
	return nil
}

// Recent implements Store.
func (s *MemStore) Recent(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	turns := sess.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Forget implements Store.
func (s *MemStore) Forget(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Len returns the number of retained sessions.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// evictExpiredLocked drops sessions whose last touch is older than maxAge.
// Caller holds s.mu.
func (s *MemStore) evictExpiredLocked(now time.Time) {
	if s.maxAge <= 0 {
		return
	}
	cutoff := now.Add(-s.maxAge)
	for id, sess := range s.sessions {
		if sess.touched.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}

// evictOverflowLocked makes room for one new session by evicting the least
// recently touched ones. Caller holds s.mu.
func (s *MemStore) evictOverflowLocked() {
	for len(s.sessions) >= s.maxSessions {
		var (
			oldestID string
			oldest   time.Time
		)
		for id, sess := range s.sessions {
			if oldestID == "" || sess.touched.Before(oldest) {
				oldestID = id
				oldest = sess.touched
			}
		}
		delete(s.sessions, oldestID)
	}
}
