package signal

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/akarpov/parley/internal/app"
	"github.com/akarpov/parley/internal/core"
	"github.com/akarpov/parley/internal/domain"
)

func (ctl *SignalWSController) handleMessageSend(
	ctx context.Context,
	sess *app.Session,
	conn *WsSignalConn,
	data []byte,
) {
	type sendPayload struct {
		Type           string                `json:"type"`
		ConversationID domain.ConversationID `json:"conversationId"`
		Content        string                `json:"content"`
	}
	var p sendPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad send payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	ok, err := ctl.Store.IsParticipant(ctx, p.ConversationID, sess.UserID)
	if err != nil {
		ctl.sendError(conn, "store_unavailable")
		return
	}
	if !ok {
		ctl.sendError(conn, "not_authorized")
		return
	}

	env := &domain.MessageEnvelope{
		ConversationID: p.ConversationID,
		SenderID:       sess.UserID,
		Content:        p.Content,
	}
	// Durable first; the fanout never sees a message the store could lose.
	if err := ctl.Store.PersistMessage(ctx, env); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conversation", string(p.ConversationID)).Msg("persist message")
		ctl.sendError(conn, "store_unavailable")
		return
	}

	res, err := ctl.Fanout.Publish(ctx, env)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("message", string(env.ID)).Msg("fanout incomplete")
	}

	ctl.sendJSON(conn, struct {
		Type           string                `json:"type"`
		MessageID      domain.MessageID      `json:"messageId"`
		ConversationID domain.ConversationID `json:"conversationId"`
		SentAt         int64                 `json:"sentAt"`
		Delivered      int                   `json:"delivered"`
	}{"message:sent", env.ID, env.ConversationID, env.SentAt.UnixMilli(), res.RoomDelivered})
}

type receiptPayload struct {
	Type      string           `json:"type"`
	MessageID domain.MessageID `json:"messageId"`
}

func (ctl *SignalWSController) handleMessageDelivered(
	ctx context.Context,
	sess *app.Session,
	conn *WsSignalConn,
	data []byte,
) {
	ctl.handleReceipt(ctx, sess, conn, data, ctl.Tracker.RecordDelivered)
}

func (ctl *SignalWSController) handleMessageRead(
	ctx context.Context,
	sess *app.Session,
	conn *WsSignalConn,
	data []byte,
) {
	ctl.handleReceipt(ctx, sess, conn, data, ctl.Tracker.RecordRead)
}

func (ctl *SignalWSController) handleReceipt(
	ctx context.Context,
	sess *app.Session,
	conn *WsSignalConn,
	data []byte,
	record func(context.Context, domain.MessageRef, domain.UserID) (bool, error),
) {
	var p receiptPayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ref, err := ctl.Store.MessageRef(ctx, p.MessageID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			ctl.sendError(conn, "unknown_message")
			return
		}
		ctl.sendError(conn, "store_unavailable")
		return
	}
	if _, err := record(ctx, ref, sess.UserID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("message", string(p.MessageID)).Msg("record receipt")
	}
}

func (ctl *SignalWSController) handleMessageEdit(
	ctx context.Context,
	sess *app.Session,
	conn *WsSignalConn,
	data []byte,
) {
	type editPayload struct {
		Type      string           `json:"type"`
		MessageID domain.MessageID `json:"messageId"`
		Content   string           `json:"content"`
	}
	var p editPayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ref, ok := ctl.ownedRef(ctx, conn, p.MessageID, sess.UserID)
	if !ok {
		return
	}
	ctl.Fanout.EditNotify(ref.ID, ref.ConversationID, p.Content)
}

func (ctl *SignalWSController) handleMessageDelete(
	ctx context.Context,
	sess *app.Session,
	conn *WsSignalConn,
	data []byte,
) {
	type deletePayload struct {
		Type      string             `json:"type"`
		MessageID domain.MessageID   `json:"messageId"`
		Scope     domain.DeleteScope `json:"scope"`
	}
	var p deletePayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if p.Scope == "" {
		p.Scope = domain.DeleteForMe
	}
	if p.Scope != domain.DeleteForMe && p.Scope != domain.DeleteForEveryone {
		ctl.sendError(conn, "bad_payload")
		return
	}

	ref, err := ctl.Store.MessageRef(ctx, p.MessageID)
	if err != nil {
		ctl.sendError(conn, "unknown_message")
		return
	}
	// Only the author retracts for everyone; anyone may hide for
	// themselves.
	if p.Scope == domain.DeleteForEveryone && ref.SenderID != sess.UserID {
		ctl.sendError(conn, "not_authorized")
		return
	}

	if err := ctl.Fanout.DeleteNotify(ctx, ref.ID, ref.ConversationID, p.Scope, sess.UserID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("message", string(p.MessageID)).Msg("delete notify")
		ctl.sendError(conn, "store_unavailable")
	}
}

func (ctl *SignalWSController) handleMessageReaction(
	ctx context.Context,
	sess *app.Session,
	conn *WsSignalConn,
	data []byte,
) {
	type reactionPayload struct {
		Type      string           `json:"type"`
		MessageID domain.MessageID `json:"messageId"`
		State     any              `json:"state"`
	}
	var p reactionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ref, err := ctl.Store.MessageRef(ctx, p.MessageID)
	if err != nil {
		ctl.sendError(conn, "unknown_message")
		return
	}
	ok, err := ctl.Store.IsParticipant(ctx, ref.ConversationID, sess.UserID)
	if err != nil || !ok {
		ctl.sendError(conn, "not_authorized")
		return
	}
	ctl.Fanout.ReactionNotify(ref.ID, ref.ConversationID, p.State)
}

// ownedRef resolves a message and requires the session's user to be its
// author.
func (ctl *SignalWSController) ownedRef(ctx context.Context, conn *WsSignalConn, id domain.MessageID, user domain.UserID) (domain.MessageRef, bool) {
	ref, err := ctl.Store.MessageRef(ctx, id)
	if err != nil {
		ctl.sendError(conn, "unknown_message")
		return domain.MessageRef{}, false
	}
	if ref.SenderID != user {
		ctl.sendError(conn, "not_authorized")
		return domain.MessageRef{}, false
	}
	return ref, true
}
