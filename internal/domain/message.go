package domain

import "time"

type (
	MessageID      string
	ConversationID string
)

// DeleteScope mirrors the two delete variants clients may request.
// Only ForEveryone is ever broadcast; ForMe stays local to the requester.
type DeleteScope string

const (
	DeleteForMe       DeleteScope = "for_me"
	DeleteForEveryone DeleteScope = "for_everyone"
)

// MessageEnvelope is the core's working view of a persisted message.
// Content and media are owned by the store and passed through opaquely.
type MessageEnvelope struct {
	ID             MessageID      `json:"id"`
	ConversationID ConversationID `json:"conversationId"`
	SenderID       UserID         `json:"senderId"`
	Content        string         `json:"content,omitempty"`
	SentAt         time.Time      `json:"sentAt"`

	DeliveredTo []UserID `json:"deliveredTo,omitempty"`
	ReadBy      []UserID `json:"readBy,omitempty"`
	DeletedFor  []UserID `json:"-"`
}

// MessageRef is the minimal handle delivery tracking needs: enough to
// address the message and to route receipts back to its sender.
type MessageRef struct {
	ID             MessageID
	ConversationID ConversationID
	SenderID       UserID
}

func (m *MessageEnvelope) Ref() MessageRef {
	return MessageRef{ID: m.ID, ConversationID: m.ConversationID, SenderID: m.SenderID}
}
