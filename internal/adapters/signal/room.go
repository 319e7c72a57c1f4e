package signal

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/akarpov/parley/internal/app"
	"github.com/akarpov/parley/internal/domain"
)

type conversationPayload struct {
	Type           string                `json:"type"`
	ConversationID domain.ConversationID `json:"conversationId"`
}

// handleConversationJoin subscribes the session to the conversation's
// room after a membership check, then sweeps messages the user has not
// acknowledged yet so delivery receipts catch up with reality.
func (ctl *SignalWSController) handleConversationJoin(
	ctx context.Context,
	sess *app.Session,
	conn *WsSignalConn,
	data []byte,
) {
	var p conversationPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	ok, err := ctl.Store.IsParticipant(ctx, p.ConversationID, sess.UserID)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conversation", string(p.ConversationID)).Msg("membership lookup")
		ctl.sendError(conn, "store_unavailable")
		return
	}
	if !ok {
		log.Warn().Str("module", "signal").Str("user", string(sess.UserID)).Str("conversation", string(p.ConversationID)).Msg("join denied")
		ctl.sendError(conn, "not_authorized")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sess.ID)).Str("conversation", string(p.ConversationID)).Msg("join")
	ctl.Rooms.Join(sess, domain.ConversationRoom(p.ConversationID))

	ctl.sendJSON(conn, struct {
		Type           string                `json:"type"`
		ConversationID domain.ConversationID `json:"conversationId"`
	}{"conversation:joined", p.ConversationID})

	if err := ctl.Tracker.SweepUnacknowledged(ctx, p.ConversationID, sess.UserID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conversation", string(p.ConversationID)).Msg("sweep unacknowledged")
	}
}

// handleConversationLeave — the session stops receiving conversation
// events; the connection stays up.
func (ctl *SignalWSController) handleConversationLeave(
	sess *app.Session,
	conn *WsSignalConn,
	data []byte,
) {
	var p conversationPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sess.ID)).Str("conversation", string(p.ConversationID)).Msg("leave")
	ctl.Rooms.Leave(sess.ID, domain.ConversationRoom(p.ConversationID))

	ctl.sendJSON(conn, struct {
		Type           string                `json:"type"`
		ConversationID domain.ConversationID `json:"conversationId"`
	}{"conversation:left", p.ConversationID})
}
