package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/akarpov/parley/internal/core"
	"github.com/akarpov/parley/internal/domain"
)

// Session is one live connection bound to exactly one verified user.
// Owned by the SessionRegistry for its lifetime.
type Session struct {
	ID     core.SessionID
	UserID domain.UserID
	Conn   core.SignalConnection

	cancel context.CancelFunc
}

func NewSession(id core.SessionID, user domain.UserID, conn core.SignalConnection, cancel context.CancelFunc) *Session {
	return &Session{ID: id, UserID: user, Conn: conn, cancel: cancel}
}

// Evict cancels the session's pump context. The adapter owns the
// connection and closes it when the pumps unwind.
func (s *Session) Evict() {
	if s.cancel != nil {
		s.cancel()
	}
}

// SessionRegistry tracks live sessions per user. It derives the
// online/offline transition flags but never broadcasts itself; the
// PresenceBroadcaster consumes them.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*Session
	byUser   map[domain.UserID]map[core.SessionID]struct{}
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[core.SessionID]*Session),
		byUser:   make(map[domain.UserID]map[core.SessionID]struct{}),
	}
}

// Register binds the session and reports whether it is the user's first
// live session. Re-registering a live session id replaces the stale
// entry (the previous one is evicted) and returns ErrDuplicateSession so
// the caller can log it.
func (r *SessionRegistry) Register(sess *Session) (first bool, err error) {
	r.mu.Lock()
	// The transition flag is taken before any stale entry is dropped: a
	// replaced sole session must not read as a fresh online transition.
	first = len(r.byUser[sess.UserID]) == 0
	stale, dup := r.sessions[sess.ID]
	if dup {
		r.dropLocked(stale)
		err = core.ErrDuplicateSession
	}
	set, ok := r.byUser[sess.UserID]
	if !ok {
		set = make(map[core.SessionID]struct{})
		r.byUser[sess.UserID] = set
	}
	set[sess.ID] = struct{}{}
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	if dup {
		stale.Evict()
		log.Warn().Str("module", "app.registry").Str("sid", string(sess.ID)).Msg("duplicate session replaced")
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sess.ID)).Str("user", string(sess.UserID)).Bool("first", first).Msg("session registered")
	return first, err
}

// Deregister removes the session and reports whether it was the user's
// last one. Unknown session ids are a logged no-op.
func (r *SessionRegistry) Deregister(sid core.SessionID) (last bool, user domain.UserID, err error) {
	r.mu.Lock()
	sess, ok := r.sessions[sid]
	if !ok {
		r.mu.Unlock()
		log.Debug().Str("module", "app.registry").Str("sid", string(sid)).Msg("deregister: unknown session")
		return false, "", core.ErrNotFound
	}
	user = sess.UserID
	r.dropLocked(sess)
	last = len(r.byUser[user]) == 0
	if last {
		delete(r.byUser, user)
	}
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(user)).Bool("last", last).Msg("session deregistered")
	return last, user, nil
}

func (r *SessionRegistry) dropLocked(sess *Session) {
	delete(r.sessions, sess.ID)
	if set, ok := r.byUser[sess.UserID]; ok {
		delete(set, sess.ID)
	}
}

func (r *SessionRegistry) Session(sid core.SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sid]
	return sess, ok
}

func (r *SessionRegistry) SessionsOf(user domain.UserID) []core.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[user]
	if len(set) == 0 {
		return nil
	}
	out := make([]core.SessionID, 0, len(set))
	for sid := range set {
		out = append(out, sid)
	}
	return out
}

// IsOnline reports whether the user has at least one live session. O(1).
func (r *SessionRegistry) IsOnline(user domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[user]) > 0
}

// OnlineUsers returns every user with a live session.
func (r *SessionRegistry) OnlineUsers() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.byUser))
	for uid := range r.byUser {
		out = append(out, uid)
	}
	return out
}

// ForEach invokes fn for a snapshot of all live sessions. fn runs
// outside the registry lock so it may send.
func (r *SessionRegistry) ForEach(fn func(*Session)) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		snapshot = append(snapshot, sess)
	}
	r.mu.RUnlock()
	for _, sess := range snapshot {
		fn(sess)
	}
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
