package signal

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/akarpov/parley/internal/app"
	"github.com/akarpov/parley/internal/domain"
)

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, struct {
		Type string `json:"type"`
	}{"pong"})
}

// Typing indicators only reach sessions already subscribed to the
// conversation room, and only come from them; no store round trip.
func (ctl *SignalWSController) handleTyping(
	_ context.Context,
	sess *app.Session,
	conn *WsSignalConn,
	data []byte,
	start bool,
) {
	var p conversationPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if !ctl.Rooms.IsJoined(sess.ID, domain.ConversationRoom(p.ConversationID)) {
		ctl.sendError(conn, "not_authorized")
		return
	}
	ctl.Fanout.Typing(p.ConversationID, sess.UserID, start)
}
