package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/akarpov/parley/internal/core"
	"github.com/akarpov/parley/internal/domain"
	"github.com/akarpov/parley/internal/metrics"
)

// Failure reasons carried in call:failed events.
const (
	FailReasonMissed    = "missed"
	FailReasonTransport = "transport"
)

// callEntry pairs a call's state with its own lock and ring timer.
// Transitions are serialized per call; the engine lock only guards the
// lookup maps.
type callEntry struct {
	mu    sync.Mutex
	sess  *domain.CallSession
	timer *time.Timer
}

// CallSignalingEngine relays offer/answer/ICE metadata between the two
// parties of a call and enforces the state transitions. SDP and
// candidates are relayed verbatim, never inspected.
//
// The byUser map is the busy/glare authority: a user is party to at
// most one non-terminal call, and an initiate racing into an occupied
// slot yields busy without creating a call.
type CallSignalingEngine struct {
	store       core.ConversationStore
	rooms       *RoomRouter
	ringTimeout time.Duration

	mu     sync.Mutex
	calls  map[domain.CallID]*callEntry
	byUser map[domain.UserID]domain.CallID
}

func NewCallSignalingEngine(store core.ConversationStore, rooms *RoomRouter, ringTimeout time.Duration) *CallSignalingEngine {
	if ringTimeout <= 0 {
		ringTimeout = 45 * time.Second
	}
	return &CallSignalingEngine{
		store:       store,
		rooms:       rooms,
		ringTimeout: ringTimeout,
		calls:       make(map[domain.CallID]*callEntry),
		byUser:      make(map[domain.UserID]domain.CallID),
	}
}

// Initiate starts a call and relays the offer to the receiver's
// personal room. Returns ErrReceiverBusy without creating anything if
// either party is already on a call.
func (e *CallSignalingEngine) Initiate(ctx context.Context, caller, receiver domain.UserID, typ domain.CallType, offer webrtc.SessionDescription) (*domain.CallSession, error) {
	if caller == receiver {
		return nil, core.ErrNotAuthorized
	}

	sess := &domain.CallSession{
		ID:         domain.CallID(uuid.NewString()),
		CallerID:   caller,
		ReceiverID: receiver,
		Type:       typ,
		State:      domain.CallRinging,
		StartedAt:  time.Now(),
	}
	entry := &callEntry{sess: sess}

	e.mu.Lock()
	if _, busy := e.byUser[caller]; busy {
		e.mu.Unlock()
		return nil, core.ErrReceiverBusy
	}
	if _, busy := e.byUser[receiver]; busy {
		e.mu.Unlock()
		return nil, core.ErrReceiverBusy
	}
	e.byUser[caller] = sess.ID
	e.byUser[receiver] = sess.ID
	e.calls[sess.ID] = entry
	e.mu.Unlock()

	entry.mu.Lock()
	entry.timer = time.AfterFunc(e.ringTimeout, func() { e.ringingTimeout(sess.ID) })
	e.rooms.Publish(domain.UserRoom(receiver), core.CallIncomingEvent{
		Type:     core.EvCallIncoming,
		CallID:   sess.ID,
		CallerID: caller,
		CallType: typ,
		Offer:    offer,
	})
	entry.mu.Unlock()

	metrics.CallsInitiated.Inc()
	log.Info().Str("module", "app.calls").Str("call", string(sess.ID)).Str("caller", string(caller)).Str("receiver", string(receiver)).Str("type", string(typ)).Msg("call initiated")

	// The relay must not depend on persistence; record failures are logged.
	if err := e.store.CreateCallRecord(ctx, sess); err != nil {
		log.Warn().Err(err).Str("module", "app.calls").Str("call", string(sess.ID)).Msg("create call record")
	}
	return sess, nil
}

// Answer moves a ringing call to active and relays the SDP answer to
// the caller. Only the call's designated receiver may answer.
func (e *CallSignalingEngine) Answer(ctx context.Context, id domain.CallID, user domain.UserID, answer webrtc.SessionDescription) error {
	entry, ok := e.lookup(id)
	if !ok {
		return core.ErrNotFound
	}

	entry.mu.Lock()
	if user != entry.sess.ReceiverID {
		entry.mu.Unlock()
		return core.ErrNotAuthorized
	}
	if entry.sess.State != domain.CallRinging {
		entry.mu.Unlock()
		return core.ErrNotFound
	}
	now := time.Now()
	entry.sess.State = domain.CallActive
	entry.sess.AnsweredAt = &now
	entry.stopTimerLocked()
	e.rooms.Publish(domain.UserRoom(entry.sess.CallerID), core.CallAnsweredEvent{
		Type:   core.EvCallAnswered,
		CallID: id,
		Answer: answer,
	})
	entry.mu.Unlock()

	metrics.CallsAnswered.Inc()
	log.Info().Str("module", "app.calls").Str("call", string(id)).Msg("call answered")
	e.persistUpdate(ctx, entry.sess)
	return nil
}

// Decline rejects a ringing call. Receiver only.
func (e *CallSignalingEngine) Decline(ctx context.Context, id domain.CallID, user domain.UserID) error {
	return e.reject(ctx, id, user, core.CallDeclinedEvent{Type: core.EvCallDeclined, CallID: id})
}

// RejectBusy answers an incoming call with busy; the client sends this
// when it decides it cannot take the call. Same transition as decline,
// different event to the caller.
func (e *CallSignalingEngine) RejectBusy(ctx context.Context, id domain.CallID, user domain.UserID) error {
	return e.reject(ctx, id, user, core.CallBusyEvent{Type: core.EvCallBusy, CallID: id, UserID: user})
}

func (e *CallSignalingEngine) reject(ctx context.Context, id domain.CallID, user domain.UserID, ev any) error {
	entry, ok := e.lookup(id)
	if !ok {
		return core.ErrNotFound
	}

	entry.mu.Lock()
	if user != entry.sess.ReceiverID {
		entry.mu.Unlock()
		return core.ErrNotAuthorized
	}
	if entry.sess.State != domain.CallRinging {
		entry.mu.Unlock()
		return core.ErrNotFound
	}
	now := time.Now()
	entry.sess.State = domain.CallDeclined
	entry.sess.EndedAt = &now
	entry.stopTimerLocked()
	e.rooms.Publish(domain.UserRoom(entry.sess.CallerID), ev)
	entry.mu.Unlock()

	e.release(entry)
	log.Info().Str("module", "app.calls").Str("call", string(id)).Msg("call declined")
	e.persistUpdate(ctx, entry.sess)
	return nil
}

// End terminates a call. Either party may end an active call; a caller
// ending a still-ringing call cancels it, which drops the receiver back
// to idle and notifies them.
func (e *CallSignalingEngine) End(ctx context.Context, id domain.CallID, user domain.UserID) error {
	entry, ok := e.lookup(id)
	if !ok {
		return core.ErrNotFound
	}

	entry.mu.Lock()
	if !entry.sess.Party(user) {
		entry.mu.Unlock()
		return core.ErrNotAuthorized
	}
	if entry.sess.State.Terminal() {
		entry.mu.Unlock()
		return core.ErrNotFound
	}
	now := time.Now()
	entry.sess.State = domain.CallEnded
	entry.sess.EndedAt = &now
	entry.stopTimerLocked()
	e.rooms.Publish(domain.UserRoom(entry.sess.Peer(user)), core.CallEndedEvent{
		Type:    core.EvCallEnded,
		CallID:  id,
		EndedBy: user,
	})
	entry.mu.Unlock()

	e.release(entry)
	log.Info().Str("module", "app.calls").Str("call", string(id)).Str("by", string(user)).Msg("call ended")
	e.persistUpdate(ctx, entry.sess)
	return nil
}

// RelayCandidate forwards an ICE candidate to the other party. Rejected
// with ErrNotAuthorized when the sender is neither caller nor receiver.
func (e *CallSignalingEngine) RelayCandidate(id domain.CallID, from domain.UserID, cand webrtc.ICECandidateInit) error {
	entry, ok := e.lookup(id)
	if !ok {
		return core.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.sess.Party(from) {
		return core.ErrNotAuthorized
	}
	if entry.sess.State.Terminal() {
		return core.ErrNotFound
	}
	e.rooms.Publish(domain.UserRoom(entry.sess.Peer(from)), core.CallCandidateEvent{
		Type:      core.EvCallCandidate,
		CallID:    id,
		Candidate: cand,
	})
	return nil
}

// DropUser fails any non-terminal call the user is party to. Invoked
// when a user's last session disconnects.
func (e *CallSignalingEngine) DropUser(user domain.UserID) {
	e.mu.Lock()
	id, ok := e.byUser[user]
	e.mu.Unlock()
	if !ok {
		return
	}
	e.fail(id, FailReasonTransport)
}

// CallOf reports which call the user is currently party to, if any.
func (e *CallSignalingEngine) CallOf(user domain.UserID) (domain.CallID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.byUser[user]
	return id, ok
}

func (e *CallSignalingEngine) ringingTimeout(id domain.CallID) {
	entry, ok := e.lookup(id)
	if !ok {
		return
	}
	entry.mu.Lock()
	ringing := entry.sess.State == domain.CallRinging
	entry.mu.Unlock()
	if !ringing {
		return
	}
	log.Info().Str("module", "app.calls").Str("call", string(id)).Msg("ringing timeout")
	e.fail(id, FailReasonMissed)
}

// fail moves a call to Failed and notifies both sides.
func (e *CallSignalingEngine) fail(id domain.CallID, reason string) {
	entry, ok := e.lookup(id)
	if !ok {
		return
	}

	entry.mu.Lock()
	if entry.sess.State.Terminal() {
		entry.mu.Unlock()
		return
	}
	now := time.Now()
	entry.sess.State = domain.CallFailed
	entry.sess.EndedAt = &now
	entry.stopTimerLocked()
	ev := core.CallFailedEvent{Type: core.EvCallFailed, CallID: id, Reason: reason}
	e.rooms.Publish(domain.UserRoom(entry.sess.CallerID), ev)
	e.rooms.Publish(domain.UserRoom(entry.sess.ReceiverID), ev)
	entry.mu.Unlock()

	e.release(entry)
	metrics.CallsFailed.WithLabelValues(reason).Inc()
	e.persistUpdate(context.Background(), entry.sess)
}

func (e *CallSignalingEngine) lookup(id domain.CallID) (*callEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.calls[id]
	return entry, ok
}

// release clears the lookup maps once a call went terminal. Entries are
// removed only if they still point at this call, so a user who already
// started a new call is untouched.
func (e *CallSignalingEngine) release(entry *callEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.calls, entry.sess.ID)
	if e.byUser[entry.sess.CallerID] == entry.sess.ID {
		delete(e.byUser, entry.sess.CallerID)
	}
	if e.byUser[entry.sess.ReceiverID] == entry.sess.ID {
		delete(e.byUser, entry.sess.ReceiverID)
	}
}

func (e *CallSignalingEngine) persistUpdate(ctx context.Context, sess *domain.CallSession) {
	if err := e.store.UpdateCallRecord(ctx, sess); err != nil {
		log.Warn().Err(err).Str("module", "app.calls").Str("call", string(sess.ID)).Msg("update call record")
	}
}

func (c *callEntry) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
