package app

import (
	"context"
	"testing"

	"github.com/akarpov/parley/internal/adapters/store"
	"github.com/akarpov/parley/internal/core"
	"github.com/akarpov/parley/internal/domain"
)

func newFanoutFixture(t *testing.T) (*store.Memory, *SessionRegistry, *RoomRouter, *MessageFanout) {
	t.Helper()
	mem := store.NewMemory()
	reg := NewSessionRegistry()
	rooms := NewRoomRouter()
	tracker := NewDeliveryTracker(mem, rooms)
	fanout := NewMessageFanout(mem, rooms, reg, tracker, KickPolicy{})
	return mem, reg, rooms, fanout
}

func TestFanout_BroadcastToJoinedSessions(t *testing.T) {
	mem, reg, rooms, fanout := newFanoutFixture(t)
	mem.AddConversation("c1", "alice", "bob")

	aliceSess, aliceConn := connect(t, reg, rooms, "sa", "alice")
	bobSess, bobConn := connect(t, reg, rooms, "sb", "bob")
	rooms.Join(aliceSess, domain.ConversationRoom("c1"))
	rooms.Join(bobSess, domain.ConversationRoom("c1"))

	env := &domain.MessageEnvelope{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "hi"}
	if err := mem.PersistMessage(context.Background(), env); err != nil {
		t.Fatalf("persist: %v", err)
	}

	res, err := fanout.Publish(context.Background(), env)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.RoomDelivered != 2 {
		t.Errorf("expected RoomDelivered=2, got %d", res.RoomDelivered)
	}
	if !hasType(t, aliceConn, core.EvMessageReceive) || !hasType(t, bobConn, core.EvMessageReceive) {
		t.Error("both joined sessions should receive the full message")
	}
	if hasType(t, bobConn, core.EvMessageNotify) {
		t.Error("a session in the room must not also get a notify")
	}
	// Bob was joined, so the engine records delivery eagerly.
	if got := mem.DeliveredTo("m1"); len(got) != 1 || got[0] != "bob" {
		t.Errorf("expected eager delivery to bob, got %v", got)
	}
}

func TestFanout_NotifyReachesIdleDevices(t *testing.T) {
	mem, reg, rooms, fanout := newFanoutFixture(t)
	mem.AddConversation("c1", "alice", "bob")

	aliceSess, _ := connect(t, reg, rooms, "sa", "alice")
	rooms.Join(aliceSess, domain.ConversationRoom("c1"))
	// Bob is online but has not opened the conversation.
	_, bobConn := connect(t, reg, rooms, "sb", "bob")

	env := &domain.MessageEnvelope{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "hi"}
	if err := mem.PersistMessage(context.Background(), env); err != nil {
		t.Fatalf("persist: %v", err)
	}

	res, err := fanout.Publish(context.Background(), env)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Notified != 1 {
		t.Errorf("expected 1 notify, got %d", res.Notified)
	}
	ev := bobConn.lastEvent(t)
	if ev["type"] != core.EvMessageNotify {
		t.Fatalf("expected %s, got %v", core.EvMessageNotify, ev["type"])
	}
	if _, hasContent := ev["content"]; hasContent {
		t.Error("notify must not carry message content")
	}
	if len(res.DeliveredTo) != 1 || res.DeliveredTo[0] != "bob" {
		t.Errorf("expected eager delivery to bob, got %v", res.DeliveredTo)
	}
}

func TestFanout_OfflineParticipantUntouched(t *testing.T) {
	mem, reg, rooms, fanout := newFanoutFixture(t)
	mem.AddConversation("c1", "alice", "bob")

	aliceSess, _ := connect(t, reg, rooms, "sa", "alice")
	rooms.Join(aliceSess, domain.ConversationRoom("c1"))

	env := &domain.MessageEnvelope{ID: "m1", ConversationID: "c1", SenderID: "alice"}
	if err := mem.PersistMessage(context.Background(), env); err != nil {
		t.Fatalf("persist: %v", err)
	}

	res, err := fanout.Publish(context.Background(), env)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Notified != 0 || len(res.DeliveredTo) != 0 {
		t.Errorf("offline participant must get nothing, got %+v", res)
	}
	if got := mem.DeliveredTo("m1"); len(got) != 0 {
		t.Errorf("no delivery expected for offline bob, got %v", got)
	}
}

func TestFanout_DeleteForMeStaysLocal(t *testing.T) {
	mem, reg, rooms, fanout := newFanoutFixture(t)
	mem.AddConversation("c1", "alice", "bob")

	bobSess, bobConn := connect(t, reg, rooms, "sb", "bob")
	rooms.Join(bobSess, domain.ConversationRoom("c1"))

	env := &domain.MessageEnvelope{ID: "m1", ConversationID: "c1", SenderID: "alice"}
	if err := mem.PersistMessage(context.Background(), env); err != nil {
		t.Fatalf("persist: %v", err)
	}

	if err := fanout.DeleteNotify(context.Background(), "m1", "c1", domain.DeleteForMe, "alice"); err != nil {
		t.Fatalf("delete for_me: %v", err)
	}
	if hasType(t, bobConn, core.EvMessageDelete) {
		t.Error("for_me delete must never be broadcast")
	}

	if err := fanout.DeleteNotify(context.Background(), "m1", "c1", domain.DeleteForEveryone, "alice"); err != nil {
		t.Fatalf("delete for_everyone: %v", err)
	}
	ev := bobConn.lastEvent(t)
	if ev["type"] != core.EvMessageDelete {
		t.Fatalf("expected %s broadcast, got %v", core.EvMessageDelete, ev["type"])
	}
	if ev["scope"] != string(domain.DeleteForEveryone) {
		t.Errorf("expected for_everyone scope, got %v", ev["scope"])
	}
}

func TestFanout_EditAndReactionBroadcast(t *testing.T) {
	_, reg, rooms, fanout := newFanoutFixture(t)

	bobSess, bobConn := connect(t, reg, rooms, "sb", "bob")
	rooms.Join(bobSess, domain.ConversationRoom("c1"))

	fanout.EditNotify("m1", "c1", "edited")
	fanout.ReactionNotify("m1", "c1", map[string]int{"👍": 2})

	types := bobConn.types(t)
	if len(types) != 2 || types[0] != core.EvMessageEdit || types[1] != core.EvMessageReaction {
		t.Errorf("expected edit then reaction, got %v", types)
	}
}

func TestFanout_SlowSessionKicked(t *testing.T) {
	mem, reg, rooms, fanout := newFanoutFixture(t)
	mem.AddConversation("c1", "alice", "bob")

	evicted := false
	slow := NewSession("sb", "bob", &fakeConn{full: true}, func() { evicted = true })
	if _, err := reg.Register(slow); err != nil {
		t.Fatalf("register slow: %v", err)
	}
	rooms.Join(slow, domain.ConversationRoom("c1"))

	env := &domain.MessageEnvelope{ID: "m1", ConversationID: "c1", SenderID: "alice"}
	if err := mem.PersistMessage(context.Background(), env); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if _, err := fanout.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !evicted {
		t.Error("kick policy should evict a backpressured session")
	}
}

func TestFanout_TypingIndicator(t *testing.T) {
	_, reg, rooms, fanout := newFanoutFixture(t)

	bobSess, bobConn := connect(t, reg, rooms, "sb", "bob")
	rooms.Join(bobSess, domain.ConversationRoom("c1"))

	fanout.Typing("c1", "alice", true)
	fanout.Typing("c1", "alice", false)

	types := bobConn.types(t)
	if len(types) != 2 || types[0] != core.EvTypingStart || types[1] != core.EvTypingStop {
		t.Errorf("expected typing start then stop, got %v", types)
	}
}
