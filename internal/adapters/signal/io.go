package signal

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/akarpov/parley/internal/app"
	"github.com/akarpov/parley/internal/core"
)

const writeWait = 10 * time.Second

func (ctl *SignalWSController) pingPeriod() time.Duration {
	if ctl.PingPeriod > 0 {
		return ctl.PingPeriod
	}
	return 54 * time.Second
}

// pongWait must exceed pingPeriod or healthy connections get reaped.
func (ctl *SignalWSController) pongWait() time.Duration {
	return ctl.pingPeriod() * 10 / 9
}

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sess *app.Session, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sess.ID)).Msg("readPump closing")
		ctl.teardown(context.Background(), sess, c)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(sess.ID)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.ID)).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(ctx, sess, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sess *app.Session, c *WsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_payload")
		return
	}

	if ctl.Limiter != nil && !ctl.Limiter.Allow(sess.UserID) {
		log.Warn().Str("module", "signal").Str("user", string(sess.UserID)).Str("type", env.Type).Msg("rate limited")
		ctl.sendError(c, "rate_limited")
		return
	}

	switch env.Type {
	case "ping":
		ctl.handlePing(c)
	case "conversation:join":
		ctl.handleConversationJoin(ctx, sess, c, data)
	case "conversation:leave":
		ctl.handleConversationLeave(sess, c, data)
	case "message:send":
		ctl.handleMessageSend(ctx, sess, c, data)
	case "message:delivered":
		ctl.handleMessageDelivered(ctx, sess, c, data)
	case "message:read":
		ctl.handleMessageRead(ctx, sess, c, data)
	case "message:edit":
		ctl.handleMessageEdit(ctx, sess, c, data)
	case "message:delete":
		ctl.handleMessageDelete(ctx, sess, c, data)
	case "message:reaction":
		ctl.handleMessageReaction(ctx, sess, c, data)
	case "typing:start":
		ctl.handleTyping(ctx, sess, c, data, true)
	case "typing:stop":
		ctl.handleTyping(ctx, sess, c, data, false)
	case "call:initiate":
		ctl.handleCallInitiate(ctx, sess, c, data)
	case "call:answer":
		ctl.handleCallAnswer(ctx, sess, c, data)
	case "call:decline":
		ctl.handleCallDecline(ctx, sess, c, data)
	case "call:busy":
		ctl.handleCallBusy(ctx, sess, c, data)
	case "call:end":
		ctl.handleCallEnd(ctx, sess, c, data)
	case "call:ice-candidate":
		ctl.handleCallCandidate(sess, c, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, "unknown_type")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, msg string) {
	ctl.sendJSON(c, core.ErrorEvent{Type: core.EvError, Error: msg})
}
