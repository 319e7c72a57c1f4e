package app

import "github.com/akarpov/parley/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropEvent
	KickSession
)

// Policy decides what happens to a session whose send buffer was full
// during a room publish.
type Policy interface {
	OnBackpressure(room domain.RoomID, sess *Session) BackpressureAction
}

// KickPolicy evicts slow sessions. A kicked device reconnects and
// resynchronizes through the unacknowledged-message sweep, which is
// cheaper than letting one stalled reader hold buffered events.
type KickPolicy struct{}

func (KickPolicy) OnBackpressure(domain.RoomID, *Session) BackpressureAction {
	return KickSession
}

// DropPolicy tolerates slow sessions and just sheds the event.
type DropPolicy struct{}

func (DropPolicy) OnBackpressure(domain.RoomID, *Session) BackpressureAction {
	return DropEvent
}
