package signal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/akarpov/parley/internal/app"
	"github.com/akarpov/parley/internal/core"
	"github.com/akarpov/parley/internal/domain"
	"github.com/akarpov/parley/internal/metrics"
)

// SignalWSController owns the WebSocket side of the engine: it
// authenticates connections, binds them to sessions and feeds decoded
// frames into the app components.
type SignalWSController struct {
	Registry *app.SessionRegistry
	Rooms    *app.RoomRouter
	Fanout   *app.MessageFanout
	Tracker  *app.DeliveryTracker
	Calls    *app.CallSignalingEngine
	Presence *app.PresenceBroadcaster
	Store    core.ConversationStore
	Verifier core.IdentityVerifier
	Limiter  *MapLimiter

	ReadLimit  int64
	PingPeriod time.Duration
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// bearerToken pulls the credential out of the Authorization header or,
// for browser WebSocket clients that cannot set headers, the token
// query parameter.
func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

// HandleSignal verifies identity, upgrades, registers the session and
// starts the pumps. Authentication failures are rejected before the
// upgrade so an unauthenticated client never holds a socket.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	device := c.GetString("client_token")

	user, err := ctl.Verifier.Verify(c.Request.Context(), bearerToken(c))
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("device", device).Msg("auth rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	// Fresh session id per connection; the device cookie only correlates
	// reconnects in the logs.
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("device", device).Str("user", string(user)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	sess := app.NewSession(sid, user, conn, cancel)

	first, err := ctl.Registry.Register(sess)
	if errors.Is(err, core.ErrDuplicateSession) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("reconnect replaced stale session")
	}
	metrics.SessionsActive.Inc()

	// Every session listens on its user's personal room for targeted
	// events (receipts, notifications, call signaling).
	ctl.Rooms.Join(sess, domain.UserRoom(user))

	ctl.Presence.SessionUp(ctx, user, first)
	ctl.Presence.SendSnapshot(sess)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sess, conn)

	// Eviction cancels the context, but a blocked ReadMessage only
	// notices once its deadline expires; closing the socket unblocks it
	// right away.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
}

// teardown unwinds one session in a fixed order: subscriptions first so
// no further events are routed here, then registration, then the
// presence transition, then any live call the user's last session left
// behind. Safe to reach from both the read pump and an eviction.
func (ctl *SignalWSController) teardown(ctx context.Context, sess *app.Session, conn *WsSignalConn) {
	sess.Evict()
	conn.Close()
	metrics.SessionsActive.Dec()

	// A reconnect may have replaced this session already; its rooms and
	// registration now belong to the new connection.
	if cur, ok := ctl.Registry.Session(sess.ID); !ok || cur != sess {
		log.Debug().Str("module", "signal").Str("sid", string(sess.ID)).Msg("teardown: session already replaced")
		return
	}

	ctl.Rooms.DropSession(sess.ID)
	last, user, err := ctl.Registry.Deregister(sess.ID)
	if err != nil {
		return
	}

	ctl.Presence.SessionDown(ctx, user, last)
	if last {
		ctl.Calls.DropUser(user)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(user)
		}
	}
}
