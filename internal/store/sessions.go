package store

import (
	"sync"
	"time"

	"github.com/pitabwire/fieldadmin/model"
)

const (
	defaultSessionIdle = 30 * time.Minute
	defaultMaxSessions = 10000
)

// Sessions keeps one Store per operator so that one operator's navigation
// never replaces another's cached state. Stores idle for longer than the
// idle timeout are dropped, and at most max stores are kept; the least
// recently used one makes room for a new caller.
type Sessions struct {
	mu     sync.Mutex
	stores map[string]*session
	idle   time.Duration
	max    int
	now    func() time.Time
	opts   []Option
}

type session struct {
	store    *Store
	lastUsed time.Time
}

// NewSessions creates an empty session set. opts configure every Store it
// creates.
func NewSessions(idle time.Duration, opts ...Option) *Sessions {
	if idle <= 0 {
		idle = defaultSessionIdle
	}
	return &Sessions{
		stores: make(map[string]*session),
		idle:   idle,
		max:    defaultMaxSessions,
		now:    time.Now,
		opts:   opts,
	}
}

// SessionKey identifies the store of a caller: the caller's session id when
// set, tenant scope plus subject otherwise.
func SessionKey(rctx *model.RequestContext) string {
	if rctx != nil && rctx.SessionID != "" {
		return "session/" + rctx.SessionID
	}
	subject := "anonymous"
	if rctx != nil && rctx.SubjectID != "" {
		subject = rctx.SubjectID
	}
	return rctx.Scope() + "/" + subject
}

// For returns the caller's Store, creating it on first use.
func (s *Sessions) For(rctx *model.RequestContext) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictIdle(now)

	key := SessionKey(rctx)
	sess, ok := s.stores[key]
	if !ok {
		if len(s.stores) >= s.max {
			s.evictOldest()
		}
		sess = &session{store: New(s.opts...)}
		s.stores[key] = sess
	}
	sess.lastUsed = now
	return sess.store
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stores)
}

func (s *Sessions) evictIdle(now time.Time) {
	for key, sess := range s.stores {
		if now.Sub(sess.lastUsed) > s.idle {
			delete(s.stores, key)
		}
	}
}

func (s *Sessions) evictOldest() {
	var oldest string
	var at time.Time
	for key, sess := range s.stores {
		if oldest == "" || sess.lastUsed.Before(at) {
			oldest, at = key, sess.lastUsed
		}
	}
	delete(s.stores, oldest)
}
