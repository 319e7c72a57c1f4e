package app

import (
	"context"
	"testing"
	"time"

	"github.com/akarpov/parley/internal/adapters/store"
	"github.com/akarpov/parley/internal/core"
	"github.com/akarpov/parley/internal/domain"
)

// The scenarios below run the engine end to end against the in-memory
// store, the way the transport drives it.

func TestScenario_MessageLifecycle(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.AddConversation("c1", "alice", "bob")

	reg := NewSessionRegistry()
	rooms := NewRoomRouter()
	tracker := NewDeliveryTracker(mem, rooms)
	fanout := NewMessageFanout(mem, rooms, reg, tracker, KickPolicy{})

	aliceSess, aliceConn := connect(t, reg, rooms, "sa", "alice")
	bobSess, bobConn := connect(t, reg, rooms, "sb", "bob")
	rooms.Join(aliceSess, domain.ConversationRoom("c1"))
	rooms.Join(bobSess, domain.ConversationRoom("c1"))

	env := &domain.MessageEnvelope{ConversationID: "c1", SenderID: "alice", Content: "lunch?"}
	if err := mem.PersistMessage(ctx, env); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if env.ID == "" {
		t.Fatal("store must assign a message id")
	}
	if _, err := fanout.Publish(ctx, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if !hasType(t, bobConn, core.EvMessageReceive) {
		t.Fatal("bob should receive the message")
	}
	// Eager delivery already fired a receipt to alice.
	if !hasType(t, aliceConn, core.EvMessageDelivered) {
		t.Fatal("alice should see the delivery receipt")
	}

	// Bob reads it.
	if _, err := tracker.RecordRead(ctx, env.Ref(), "bob"); err != nil {
		t.Fatalf("record read: %v", err)
	}
	if !hasType(t, aliceConn, core.EvMessageRead) {
		t.Fatal("alice should see the read receipt")
	}
	if got := mem.ReadBy(env.ID); len(got) != 1 || got[0] != "bob" {
		t.Errorf("expected read by bob, got %v", got)
	}
}

func TestScenario_OfflineCatchUp(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.AddConversation("c1", "alice", "bob")

	reg := NewSessionRegistry()
	rooms := NewRoomRouter()
	tracker := NewDeliveryTracker(mem, rooms)
	fanout := NewMessageFanout(mem, rooms, reg, tracker, KickPolicy{})

	_, aliceConn := connect(t, reg, rooms, "sa", "alice")

	// Bob is offline; two messages pile up.
	for _, content := range []string{"one", "two"} {
		env := &domain.MessageEnvelope{ConversationID: "c1", SenderID: "alice", Content: content}
		if err := mem.PersistMessage(ctx, env); err != nil {
			t.Fatalf("persist: %v", err)
		}
		if _, err := fanout.Publish(ctx, env); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if hasType(t, aliceConn, core.EvMessageDelivered) {
		t.Fatal("nothing should be delivered while bob is offline")
	}

	// Bob connects and opens the conversation; the sweep catches up.
	bobSess, _ := connect(t, reg, rooms, "sb", "bob")
	rooms.Join(bobSess, domain.ConversationRoom("c1"))
	if err := tracker.SweepUnacknowledged(ctx, "c1", "bob"); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	delivered := 0
	for _, typ := range aliceConn.types(t) {
		if typ == core.EvMessageDelivered {
			delivered++
		}
	}
	if delivered != 2 {
		t.Errorf("expected 2 delivery receipts after catch-up, got %d", delivered)
	}
}

func TestScenario_VideoCallFlow(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	reg := NewSessionRegistry()
	rooms := NewRoomRouter()
	engine := NewCallSignalingEngine(mem, rooms, time.Minute)

	_, aliceConn := connect(t, reg, rooms, "sa", "alice")
	_, bobConn := connect(t, reg, rooms, "sb", "bob")

	call, err := engine.Initiate(ctx, "alice", "bob", domain.CallVideo, testOffer)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if !hasType(t, bobConn, core.EvCallIncoming) {
		t.Fatal("bob should ring")
	}

	if err := engine.Answer(ctx, call.ID, "bob", testAnswer); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !hasType(t, aliceConn, core.EvCallAnswered) {
		t.Fatal("alice should get the answer")
	}

	// Trickle ICE both ways.
	if err := engine.RelayCandidate(call.ID, "alice", testCandidate("a")); err != nil {
		t.Fatalf("alice candidate: %v", err)
	}
	if err := engine.RelayCandidate(call.ID, "bob", testCandidate("b")); err != nil {
		t.Fatalf("bob candidate: %v", err)
	}
	if !hasType(t, bobConn, core.EvCallCandidate) || !hasType(t, aliceConn, core.EvCallCandidate) {
		t.Fatal("candidates should reach both peers")
	}

	if err := engine.End(ctx, call.ID, "bob"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if !hasType(t, aliceConn, core.EvCallEnded) {
		t.Fatal("alice should see the call end")
	}

	rec, ok := mem.CallRecord(call.ID)
	if !ok {
		t.Fatal("call record missing")
	}
	if rec.State != domain.CallEnded || rec.AnsweredAt == nil || rec.EndedAt == nil {
		t.Errorf("unexpected final record: %+v", rec)
	}
}
