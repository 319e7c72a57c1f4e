package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/akarpov/parley/internal/core"
	"github.com/akarpov/parley/internal/domain"
)

func TestMemory_PersistAssignsIdentity(t *testing.T) {
	m := NewMemory()
	env := &domain.MessageEnvelope{ConversationID: "c1", SenderID: "alice", Content: "hi"}

	if err := m.PersistMessage(context.Background(), env); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if env.ID == "" {
		t.Error("expected an assigned message id")
	}
	if env.SentAt.IsZero() {
		t.Error("expected an assigned timestamp")
	}

	ref, err := m.MessageRef(context.Background(), env.ID)
	if err != nil {
		t.Fatalf("message ref: %v", err)
	}
	if ref.SenderID != "alice" || ref.ConversationID != "c1" {
		t.Errorf("unexpected ref %+v", ref)
	}
}

func TestMemory_MessageRefUnknown(t *testing.T) {
	m := NewMemory()
	_, err := m.MessageRef(context.Background(), "nope")
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_PersistCreatesConversation(t *testing.T) {
	m := NewMemory()
	env := &domain.MessageEnvelope{ConversationID: "c1", SenderID: "alice"}
	if err := m.PersistMessage(context.Background(), env); err != nil {
		t.Fatalf("persist: %v", err)
	}

	ok, err := m.IsParticipant(context.Background(), "c1", "alice")
	if err != nil || !ok {
		t.Errorf("sender should be a participant of an implicit conversation, ok=%v err=%v", ok, err)
	}
	ok, _ = m.IsParticipant(context.Background(), "c1", "bob")
	if ok {
		t.Error("bob should not be a participant")
	}
}

func TestMemory_UnacknowledgedFiltering(t *testing.T) {
	m := NewMemory()
	m.AddConversation("c1", "alice", "bob")
	ctx := context.Background()

	persist := func(id domain.MessageID, sender domain.UserID) {
		t.Helper()
		if err := m.PersistMessage(ctx, &domain.MessageEnvelope{ID: id, ConversationID: "c1", SenderID: sender}); err != nil {
			t.Fatalf("persist %s: %v", id, err)
		}
	}
	persist("m1", "alice")
	persist("m2", "bob") // bob's own, never pending for bob
	persist("m3", "alice")
	persist("m4", "alice")

	if _, err := m.MarkDelivered(ctx, "m3", "bob"); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if err := m.MarkDeletedFor(ctx, "m4", "bob"); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}

	refs, err := m.UnacknowledgedMessages(ctx, "c1", "bob")
	if err != nil {
		t.Fatalf("unacknowledged: %v", err)
	}
	if len(refs) != 1 || refs[0].ID != "m1" {
		t.Errorf("expected only m1 pending, got %+v", refs)
	}
}

func TestMemory_UnacknowledgedOldestFirst(t *testing.T) {
	m := NewMemory()
	m.AddConversation("c1", "alice", "bob")
	ctx := context.Background()
	for _, id := range []domain.MessageID{"m1", "m2", "m3"} {
		if err := m.PersistMessage(ctx, &domain.MessageEnvelope{ID: id, ConversationID: "c1", SenderID: "alice"}); err != nil {
			t.Fatalf("persist %s: %v", id, err)
		}
	}

	refs, err := m.UnacknowledgedMessages(ctx, "c1", "bob")
	if err != nil {
		t.Fatalf("unacknowledged: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(refs))
	}
	for i, want := range []domain.MessageID{"m1", "m2", "m3"} {
		if refs[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, refs[i].ID)
		}
	}
}

func TestMemory_MarkDeliveredNewlyOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.PersistMessage(ctx, &domain.MessageEnvelope{ID: "m1", ConversationID: "c1", SenderID: "alice"}); err != nil {
		t.Fatalf("persist: %v", err)
	}

	newly, err := m.MarkDelivered(ctx, "m1", "bob")
	if err != nil || !newly {
		t.Fatalf("first mark: newly=%v err=%v", newly, err)
	}
	newly, err = m.MarkDelivered(ctx, "m1", "bob")
	if err != nil || newly {
		t.Fatalf("second mark: newly=%v err=%v", newly, err)
	}

	if _, err := m.MarkDelivered(ctx, "ghost", "bob"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("unknown message: expected ErrNotFound, got %v", err)
	}
}

func TestMemory_ReadForcesDelivered(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.PersistMessage(ctx, &domain.MessageEnvelope{ID: "m1", ConversationID: "c1", SenderID: "alice"}); err != nil {
		t.Fatalf("persist: %v", err)
	}

	newly, err := m.MarkRead(ctx, "m1", "bob")
	if err != nil || !newly {
		t.Fatalf("mark read: newly=%v err=%v", newly, err)
	}
	if got := m.DeliveredTo("m1"); len(got) != 1 || got[0] != "bob" {
		t.Errorf("read must imply delivered, got %v", got)
	}
	if got := m.ReadBy("m1"); len(got) != 1 || got[0] != "bob" {
		t.Errorf("expected read by bob, got %v", got)
	}
}

func TestMemory_CallRecordLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	call := &domain.CallSession{ID: "k1", CallerID: "alice", ReceiverID: "bob", Type: domain.CallVoice, State: domain.CallRinging, StartedAt: time.Now()}
	if err := m.CreateCallRecord(ctx, call); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now()
	call.State = domain.CallEnded
	call.EndedAt = &now
	if err := m.UpdateCallRecord(ctx, call); err != nil {
		t.Fatalf("update: %v", err)
	}

	rec, ok := m.CallRecord("k1")
	if !ok {
		t.Fatal("call record missing")
	}
	if rec.State != domain.CallEnded || rec.EndedAt == nil {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestMemory_PresenceStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	at := time.Now()
	if err := m.SetUserOnlineStatus(ctx, "alice", true, at); err != nil {
		t.Fatalf("set online: %v", err)
	}
	if err := m.SetUserOnlineStatus(ctx, "alice", false, at.Add(time.Minute)); err != nil {
		t.Fatalf("set offline: %v", err)
	}
}
