package app

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/akarpov/parley/internal/core"
	"github.com/akarpov/parley/internal/domain"
	"github.com/akarpov/parley/internal/metrics"
)

// PresenceBroadcaster turns registry transitions into online/offline
// events. Transitions fire only on the 0→1 and 1→0 session-count edges;
// intermediate device churn is silent. Status persistence is
// best-effort and never blocks or fails a broadcast.
type PresenceBroadcaster struct {
	store    core.ConversationStore
	registry *SessionRegistry
}

func NewPresenceBroadcaster(store core.ConversationStore, registry *SessionRegistry) *PresenceBroadcaster {
	return &PresenceBroadcaster{store: store, registry: registry}
}

// SessionUp is fed the transition flag from SessionRegistry.Register.
func (p *PresenceBroadcaster) SessionUp(ctx context.Context, user domain.UserID, first bool) {
	if !first {
		return
	}
	metrics.PresenceTransitions.WithLabelValues("online").Inc()
	p.broadcast(core.UserOnlineEvent{Type: core.EvUserOnline, UserID: user})
	if err := p.store.SetUserOnlineStatus(ctx, user, true, time.Now()); err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("user", string(user)).Msg("persist online status")
	}
}

// SessionDown is fed the transition flag from SessionRegistry.Deregister.
func (p *PresenceBroadcaster) SessionDown(ctx context.Context, user domain.UserID, last bool) {
	if !last {
		return
	}
	now := time.Now()
	metrics.PresenceTransitions.WithLabelValues("offline").Inc()
	p.broadcast(core.UserOfflineEvent{Type: core.EvUserOffline, UserID: user, LastSeen: now.UnixMilli()})
	if err := p.store.SetUserOnlineStatus(ctx, user, false, now); err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("user", string(user)).Msg("persist offline status")
	}
}

// Snapshot returns the full online user list.
func (p *PresenceBroadcaster) Snapshot() []domain.UserID {
	return p.registry.OnlineUsers()
}

// SendSnapshot delivers the online list to one session. Sent only at
// the session's own join time, which keeps snapshot traffic linear in
// connections instead of quadratic.
func (p *PresenceBroadcaster) SendSnapshot(sess *Session) {
	frame, err := json.Marshal(core.PresenceSnapshotEvent{
		Type:   core.EvPresenceSnapshot,
		Online: p.Snapshot(),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Msg("snapshot marshal")
		return
	}
	if err := sess.Conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("sid", string(sess.ID)).Msg("snapshot send")
	}
}

func (p *PresenceBroadcaster) broadcast(ev any) {
	frame, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Msg("broadcast marshal")
		return
	}
	p.registry.ForEach(func(sess *Session) {
		if err := sess.Conn.TrySend(core.Frame(frame)); err != nil {
			metrics.EventsDropped.Inc()
		}
	})
}
