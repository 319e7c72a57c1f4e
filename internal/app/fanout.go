package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/akarpov/parley/internal/core"
	"github.com/akarpov/parley/internal/domain"
	"github.com/akarpov/parley/internal/metrics"
)

// FanoutResult reports what one message publish reached.
type FanoutResult struct {
	RoomDelivered int             // sessions that received the full broadcast
	Notified      int             // participants that received the lightweight notify
	DeliveredTo   []domain.UserID // participants newly recorded as delivered
}

// MessageFanout distributes an already-persisted message: full broadcast
// to the conversation room, lightweight notify to participants whose
// devices have not joined it, and eager delivery recording for every
// participant with a live session.
type MessageFanout struct {
	store    core.ConversationStore
	rooms    *RoomRouter
	registry *SessionRegistry
	tracker  *DeliveryTracker
	policy   Policy
}

func NewMessageFanout(store core.ConversationStore, rooms *RoomRouter, registry *SessionRegistry, tracker *DeliveryTracker, policy Policy) *MessageFanout {
	if policy == nil {
		policy = KickPolicy{}
	}
	return &MessageFanout{store: store, rooms: rooms, registry: registry, tracker: tracker, policy: policy}
}

// Publish fans the message out. The authoritative record is already
// durable before this call; the fanout never originates the write.
func (f *MessageFanout) Publish(ctx context.Context, env *domain.MessageEnvelope) (FanoutResult, error) {
	roomID := domain.ConversationRoom(env.ConversationID)

	res := f.rooms.Publish(roomID, core.MessageReceiveEvent{Type: core.EvMessageReceive, Message: env})
	f.applyPolicy(roomID, res)
	metrics.MessagesFannedOut.Inc()

	out := FanoutResult{RoomDelivered: res.SentTo}

	participants, err := f.store.ParticipantsOf(ctx, env.ConversationID)
	if err != nil {
		// The room broadcast already went out; notify/receipt bookkeeping
		// for this message is lost and the request reports the failure.
		return out, fmt.Errorf("participants of %s: %w", env.ConversationID, err)
	}

	joined := f.rooms.SubscriberUsers(roomID)
	ref := env.Ref()
	for _, uid := range participants {
		if uid == env.SenderID {
			continue
		}
		if !f.registry.IsOnline(uid) {
			continue
		}
		if _, inRoom := joined[uid]; !inRoom {
			f.rooms.Publish(domain.UserRoom(uid), core.MessageNotifyEvent{
				Type:           core.EvMessageNotify,
				MessageID:      env.ID,
				ConversationID: env.ConversationID,
				SenderID:       env.SenderID,
			})
			out.Notified++
			metrics.NotificationsSent.Inc()
		}
		newly, err := f.tracker.RecordDelivered(ctx, ref, uid)
		if err != nil {
			log.Warn().Err(err).Str("module", "app.fanout").Str("message", string(env.ID)).Str("user", string(uid)).Msg("eager delivery record")
			continue
		}
		if newly {
			out.DeliveredTo = append(out.DeliveredTo, uid)
		}
	}
	return out, nil
}

// EditNotify broadcasts an edit to the conversation room. No
// delivery-state side effects.
func (f *MessageFanout) EditNotify(id domain.MessageID, conv domain.ConversationID, content string) {
	roomID := domain.ConversationRoom(conv)
	res := f.rooms.Publish(roomID, core.MessageEditEvent{
		Type:           core.EvMessageEdit,
		MessageID:      id,
		ConversationID: conv,
		Content:        content,
	})
	f.applyPolicy(roomID, res)
}

// DeleteNotify handles both delete scopes. A for_everyone delete is the
// only variant broadcast; a for_me delete is recorded for the requester
// and never leaves the server, anything else would leak it to other
// participants.
func (f *MessageFanout) DeleteNotify(ctx context.Context, id domain.MessageID, conv domain.ConversationID, scope domain.DeleteScope, requester domain.UserID) error {
	if scope == domain.DeleteForMe {
		if err := f.store.MarkDeletedFor(ctx, id, requester); err != nil {
			return fmt.Errorf("mark deleted for %s: %w", requester, err)
		}
		return nil
	}
	roomID := domain.ConversationRoom(conv)
	res := f.rooms.Publish(roomID, core.MessageDeleteEvent{
		Type:           core.EvMessageDelete,
		MessageID:      id,
		ConversationID: conv,
		Scope:          domain.DeleteForEveryone,
	})
	f.applyPolicy(roomID, res)
	return nil
}

// ReactionNotify broadcasts the reaction state opaquely.
func (f *MessageFanout) ReactionNotify(id domain.MessageID, conv domain.ConversationID, state any) {
	roomID := domain.ConversationRoom(conv)
	res := f.rooms.Publish(roomID, core.MessageReactionEvent{
		Type:           core.EvMessageReaction,
		MessageID:      id,
		ConversationID: conv,
		State:          state,
	})
	f.applyPolicy(roomID, res)
}

// Typing broadcasts a typing indicator. Never persisted, never tracked.
func (f *MessageFanout) Typing(conv domain.ConversationID, user domain.UserID, start bool) {
	evType := core.EvTypingStop
	if start {
		evType = core.EvTypingStart
	}
	f.rooms.Publish(domain.ConversationRoom(conv), core.TypingEvent{
		Type:           evType,
		UserID:         user,
		ConversationID: conv,
	})
}

func (f *MessageFanout) applyPolicy(roomID domain.RoomID, res core.PublishResult) {
	for _, sid := range res.Dropped {
		metrics.EventsDropped.Inc()
		sess, ok := f.registry.Session(sid)
		if !ok {
			continue
		}
		if f.policy.OnBackpressure(roomID, sess) == KickSession {
			log.Warn().Str("module", "app.fanout").Str("sid", string(sid)).Str("room", string(roomID)).Msg("kicking slow session")
			sess.Evict()
		}
	}
}
