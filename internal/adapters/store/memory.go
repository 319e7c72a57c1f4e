// Package store provides ConversationStore implementations: an
// in-memory store for tests and single-binary development, and a
// Redis-backed store for real deployments.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akarpov/parley/internal/core"
	"github.com/akarpov/parley/internal/domain"
)

type messageRecord struct {
	env        domain.MessageEnvelope
	delivered  map[domain.UserID]struct{}
	readBy     map[domain.UserID]struct{}
	deletedFor map[domain.UserID]struct{}
}

type presenceRecord struct {
	online   bool
	lastSeen time.Time
}

// Memory is a mutex-guarded in-process ConversationStore.
type Memory struct {
	mu           sync.RWMutex
	messages     map[domain.MessageID]*messageRecord
	order        map[domain.ConversationID][]domain.MessageID
	participants map[domain.ConversationID]map[domain.UserID]struct{}
	presence     map[domain.UserID]presenceRecord
	calls        map[domain.CallID]domain.CallSession
}

func NewMemory() *Memory {
	return &Memory{
		messages:     make(map[domain.MessageID]*messageRecord),
		order:        make(map[domain.ConversationID][]domain.MessageID),
		participants: make(map[domain.ConversationID]map[domain.UserID]struct{}),
		presence:     make(map[domain.UserID]presenceRecord),
		calls:        make(map[domain.CallID]domain.CallSession),
	}
}

var _ core.ConversationStore = (*Memory)(nil)

// AddConversation seeds a conversation's participant set.
func (m *Memory) AddConversation(conv domain.ConversationID, users ...domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.participants[conv]
	if !ok {
		set = make(map[domain.UserID]struct{})
		m.participants[conv] = set
	}
	for _, u := range users {
		set[u] = struct{}{}
	}
}

func (m *Memory) PersistMessage(_ context.Context, msg *domain.MessageEnvelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = domain.MessageID(uuid.NewString())
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	if _, ok := m.participants[msg.ConversationID]; !ok {
		m.participants[msg.ConversationID] = map[domain.UserID]struct{}{msg.SenderID: {}}
	}
	m.messages[msg.ID] = &messageRecord{
		env:        *msg,
		delivered:  make(map[domain.UserID]struct{}),
		readBy:     make(map[domain.UserID]struct{}),
		deletedFor: make(map[domain.UserID]struct{}),
	}
	m.order[msg.ConversationID] = append(m.order[msg.ConversationID], msg.ID)
	return nil
}

func (m *Memory) MessageRef(_ context.Context, id domain.MessageID) (domain.MessageRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.messages[id]
	if !ok {
		return domain.MessageRef{}, core.ErrNotFound
	}
	return rec.env.Ref(), nil
}

func (m *Memory) ParticipantsOf(_ context.Context, conv domain.ConversationID) ([]domain.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.participants[conv]
	out := make([]domain.UserID, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	return out, nil
}

func (m *Memory) IsParticipant(_ context.Context, conv domain.ConversationID, user domain.UserID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.participants[conv]
	if !ok {
		return false, nil
	}
	_, ok = set[user]
	return ok, nil
}

func (m *Memory) UnacknowledgedMessages(_ context.Context, conv domain.ConversationID, user domain.UserID) ([]domain.MessageRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.MessageRef
	for _, id := range m.order[conv] {
		rec, ok := m.messages[id]
		if !ok {
			continue
		}
		if rec.env.SenderID == user {
			continue
		}
		if _, done := rec.delivered[user]; done {
			continue
		}
		if _, gone := rec.deletedFor[user]; gone {
			continue
		}
		out = append(out, rec.env.Ref())
	}
	return out, nil
}

func (m *Memory) MarkDelivered(_ context.Context, id domain.MessageID, user domain.UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.messages[id]
	if !ok {
		return false, core.ErrNotFound
	}
	if _, done := rec.delivered[user]; done {
		return false, nil
	}
	rec.delivered[user] = struct{}{}
	return true, nil
}

func (m *Memory) MarkRead(_ context.Context, id domain.MessageID, user domain.UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.messages[id]
	if !ok {
		return false, core.ErrNotFound
	}
	// Read implies delivered even when callers race the two marks.
	rec.delivered[user] = struct{}{}
	if _, done := rec.readBy[user]; done {
		return false, nil
	}
	rec.readBy[user] = struct{}{}
	return true, nil
}

func (m *Memory) MarkDeletedFor(_ context.Context, id domain.MessageID, user domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.messages[id]
	if !ok {
		return core.ErrNotFound
	}
	rec.deletedFor[user] = struct{}{}
	return nil
}

func (m *Memory) SetUserOnlineStatus(_ context.Context, user domain.UserID, online bool, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence[user] = presenceRecord{online: online, lastSeen: lastSeen}
	return nil
}

func (m *Memory) CreateCallRecord(_ context.Context, call *domain.CallSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[call.ID] = *call
	return nil
}

func (m *Memory) UpdateCallRecord(_ context.Context, call *domain.CallSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[call.ID]; !ok {
		return core.ErrNotFound
	}
	m.calls[call.ID] = *call
	return nil
}

// DeliveredTo reports the delivered set of a message; test helper.
func (m *Memory) DeliveredTo(id domain.MessageID) []domain.UserID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.messages[id]
	if !ok {
		return nil
	}
	out := make([]domain.UserID, 0, len(rec.delivered))
	for u := range rec.delivered {
		out = append(out, u)
	}
	return out
}

// ReadBy reports the read set of a message; test helper.
func (m *Memory) ReadBy(id domain.MessageID) []domain.UserID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.messages[id]
	if !ok {
		return nil
	}
	out := make([]domain.UserID, 0, len(rec.readBy))
	for u := range rec.readBy {
		out = append(out, u)
	}
	return out
}

// CallRecord returns the stored snapshot of a call; test helper.
func (m *Memory) CallRecord(id domain.CallID) (domain.CallSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	call, ok := m.calls[id]
	return call, ok
}
