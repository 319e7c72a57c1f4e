package app

import (
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/akarpov/parley/internal/core"
	"github.com/akarpov/parley/internal/domain"
)

// room is a threadsafe in-memory multicast group. Its mutex also
// serializes publishes, which is what preserves per-room event order:
// frames enter every subscriber's send buffer in publish order.
type room struct {
	id   domain.RoomID
	mu   sync.Mutex
	subs map[core.SessionID]*Session
}

// RoomRouter manages topic subscriptions and multicast delivery. Rooms
// are created lazily on first join and garbage-collected when empty.
type RoomRouter struct {
	mu        sync.RWMutex
	rooms     map[domain.RoomID]*room
	bySession map[core.SessionID]map[domain.RoomID]struct{}
}

func NewRoomRouter() *RoomRouter {
	return &RoomRouter{
		rooms:     make(map[domain.RoomID]*room),
		bySession: make(map[core.SessionID]map[domain.RoomID]struct{}),
	}
}

// Join subscribes the session to the room. Idempotent.
func (rt *RoomRouter) Join(sess *Session, id domain.RoomID) {
	rt.mu.Lock()
	r, ok := rt.rooms[id]
	if !ok {
		r = &room{id: id, subs: make(map[core.SessionID]*Session)}
		rt.rooms[id] = r
	}
	set, ok := rt.bySession[sess.ID]
	if !ok {
		set = make(map[domain.RoomID]struct{})
		rt.bySession[sess.ID] = set
	}
	set[id] = struct{}{}

	// The subs insert stays under rt.mu: released earlier, a concurrent
	// leave could empty the room and drop it from the map, stranding
	// this subscription in an orphaned room object.
	r.mu.Lock()
	r.subs[sess.ID] = sess
	r.mu.Unlock()
	rt.mu.Unlock()
	log.Debug().Str("module", "app.rooms").Str("sid", string(sess.ID)).Str("room", string(id)).Msg("joined room")
}

// Leave unsubscribes the session. Idempotent; deletes the room when the
// last subscriber leaves.
func (rt *RoomRouter) Leave(sid core.SessionID, id domain.RoomID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.leaveLocked(sid, id)
}

func (rt *RoomRouter) leaveLocked(sid core.SessionID, id domain.RoomID) {
	// The reverse index is cleaned unconditionally so a missing room can
	// never leave a phantom subscription behind.
	if set, ok := rt.bySession[sid]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(rt.bySession, sid)
		}
	}
	r, ok := rt.rooms[id]
	if !ok {
		return
	}
	r.mu.Lock()
	delete(r.subs, sid)
	empty := len(r.subs) == 0
	r.mu.Unlock()
	if empty {
		delete(rt.rooms, id)
	}
}

// DropSession removes the session from every room it had joined and
// returns the rooms it was in. Called from the disconnect teardown.
func (rt *RoomRouter) DropSession(sid core.SessionID) []domain.RoomID {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	set := rt.bySession[sid]
	if len(set) == 0 {
		delete(rt.bySession, sid)
		return nil
	}
	out := make([]domain.RoomID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	for _, id := range out {
		rt.leaveLocked(sid, id)
	}
	return out
}

// IsJoined reports whether the session is subscribed to the room.
func (rt *RoomRouter) IsJoined(sid core.SessionID, id domain.RoomID) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	set, ok := rt.bySession[sid]
	if !ok {
		return false
	}
	_, ok = set[id]
	return ok
}

// SubscriberUsers returns the set of users with at least one session
// subscribed to the room.
func (rt *RoomRouter) SubscriberUsers(id domain.RoomID) map[domain.UserID]struct{} {
	rt.mu.RLock()
	r, ok := rt.rooms[id]
	rt.mu.RUnlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make(map[domain.UserID]struct{}, len(r.subs))
	for _, sess := range r.subs {
		users[sess.UserID] = struct{}{}
	}
	return users
}

// Publish encodes the event once and enqueues it to every subscriber.
// A room with zero subscribers delivers to nobody; that is not an error.
// A disconnect racing a publish at worst hits the closed-connection
// guard in TrySend and lands in Dropped.
func (rt *RoomRouter) Publish(id domain.RoomID, event any) core.PublishResult {
	frame, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("module", "app.rooms").Str("room", string(id)).Msg("publish marshal")
		return core.PublishResult{}
	}
	return rt.PublishFrame(id, frame)
}

// PublishFrame multicasts an already-encoded frame.
func (rt *RoomRouter) PublishFrame(id domain.RoomID, frame core.Frame) core.PublishResult {
	rt.mu.RLock()
	r, ok := rt.rooms[id]
	rt.mu.RUnlock()
	if !ok {
		return core.PublishResult{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	res := core.PublishResult{}
	for sid, sess := range r.subs {
		if err := sess.Conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SentTo++
	}
	if len(res.Dropped) > 0 {
		log.Warn().Str("module", "app.rooms").Str("room", string(id)).Int("dropped", len(res.Dropped)).Msg("publish backpressure")
	}
	return res
}

// RoomCount is exposed for metrics.
func (rt *RoomRouter) RoomCount() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.rooms)
}
