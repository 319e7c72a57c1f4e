package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/akarpov/parley/internal/core"
	"github.com/akarpov/parley/internal/domain"
)

// fakeConn records everything sent to it. Setting full simulates a
// saturated send buffer.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	if c.full {
		return core.ErrBackpressure
	}
	cp := make(core.Frame, len(f))
	copy(cp, f)
	c.frames = append(c.frames, cp)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// events decodes every recorded frame into a generic map.
func (c *fakeConn) events(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("decode frame %q: %v", f, err)
		}
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) types(t *testing.T) []string {
	t.Helper()
	evs := c.events(t)
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		typ, _ := ev["type"].(string)
		out = append(out, typ)
	}
	return out
}

func (c *fakeConn) lastEvent(t *testing.T) map[string]any {
	t.Helper()
	evs := c.events(t)
	if len(evs) == 0 {
		t.Fatal("no frames recorded")
	}
	return evs[len(evs)-1]
}

func hasType(t *testing.T, c *fakeConn, typ string) bool {
	t.Helper()
	for _, got := range c.types(t) {
		if got == typ {
			return true
		}
	}
	return false
}

// connect registers a session and subscribes it to the user's personal
// room, which is what the transport does on every new connection.
func connect(t *testing.T, reg *SessionRegistry, rooms *RoomRouter, sid core.SessionID, user domain.UserID) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	sess := NewSession(sid, user, conn, nil)
	if _, err := reg.Register(sess); err != nil && !errors.Is(err, core.ErrDuplicateSession) {
		t.Fatalf("register %s: %v", sid, err)
	}
	rooms.Join(sess, domain.UserRoom(user))
	return sess, conn
}
