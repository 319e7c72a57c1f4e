package core

import (
	"context"
	"time"

	"github.com/akarpov/parley/internal/domain"
)

// IdentityVerifier turns connection credentials into a verified user
// identity, or fails with ErrUnauthenticated.
type IdentityVerifier interface {
	Verify(ctx context.Context, credentials string) (domain.UserID, error)
}

// ConversationStore is the durable message/conversation/call store the
// engine delegates all authoritative writes and reads to. Every call may
// block; implementations wrap transport failures in ErrStoreUnavailable.
//
// MarkDelivered and MarkRead report whether the recipient was newly
// recorded, which is what makes redundant concurrent calls harmless.
type ConversationStore interface {
	PersistMessage(ctx context.Context, msg *domain.MessageEnvelope) error
	MessageRef(ctx context.Context, id domain.MessageID) (domain.MessageRef, error)

	ParticipantsOf(ctx context.Context, conv domain.ConversationID) ([]domain.UserID, error)
	IsParticipant(ctx context.Context, conv domain.ConversationID, user domain.UserID) (bool, error)

	// UnacknowledgedMessages returns messages in conv not sent by user and
	// not yet delivered to user, oldest first.
	UnacknowledgedMessages(ctx context.Context, conv domain.ConversationID, user domain.UserID) ([]domain.MessageRef, error)

	MarkDelivered(ctx context.Context, id domain.MessageID, user domain.UserID) (bool, error)
	MarkRead(ctx context.Context, id domain.MessageID, user domain.UserID) (bool, error)
	MarkDeletedFor(ctx context.Context, id domain.MessageID, user domain.UserID) error

	SetUserOnlineStatus(ctx context.Context, user domain.UserID, online bool, lastSeen time.Time) error

	CreateCallRecord(ctx context.Context, call *domain.CallSession) error
	UpdateCallRecord(ctx context.Context, call *domain.CallSession) error
}
