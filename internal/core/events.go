package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/akarpov/parley/internal/domain"
)

// Event type names as they appear on the wire.
const (
	EvUserOnline       = "user:online"
	EvUserOffline      = "user:offline"
	EvPresenceSnapshot = "presence:snapshot"

	EvMessageReceive   = "message:receive"
	EvMessageNotify    = "message:notify"
	EvMessageDelivered = "message:delivered"
	EvMessageRead      = "message:read"
	EvMessageEdit      = "message:edit"
	EvMessageDelete    = "message:delete"
	EvMessageReaction  = "message:reaction"

	EvTypingStart = "typing:start"
	EvTypingStop  = "typing:stop"

	EvCallIncoming  = "call:incoming"
	EvCallAnswered  = "call:answered"
	EvCallDeclined  = "call:declined"
	EvCallBusy      = "call:busy"
	EvCallEnded     = "call:ended"
	EvCallFailed    = "call:failed"
	EvCallCandidate = "call:ice-candidate"

	EvError = "error"
)

type UserOnlineEvent struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userId"`
}

type UserOfflineEvent struct {
	Type     string        `json:"type"`
	UserID   domain.UserID `json:"userId"`
	LastSeen int64         `json:"lastSeen"`
}

type PresenceSnapshotEvent struct {
	Type   string          `json:"type"`
	Online []domain.UserID `json:"online"`
}

type MessageReceiveEvent struct {
	Type    string                  `json:"type"`
	Message *domain.MessageEnvelope `json:"message"`
}

// MessageNotifyEvent is the lightweight variant sent to a participant's
// personal room when none of their devices has joined the conversation
// room. It carries no content; idle devices only learn a message arrived.
type MessageNotifyEvent struct {
	Type           string                `json:"type"`
	MessageID      domain.MessageID      `json:"messageId"`
	ConversationID domain.ConversationID `json:"conversationId"`
	SenderID       domain.UserID         `json:"senderId"`
}

type MessageDeliveredEvent struct {
	Type      string           `json:"type"`
	MessageID domain.MessageID `json:"messageId"`
	UserID    domain.UserID    `json:"userId"`
}

type MessageReadEvent struct {
	Type      string           `json:"type"`
	MessageID domain.MessageID `json:"messageId"`
	UserID    domain.UserID    `json:"userId"`
}

type MessageEditEvent struct {
	Type           string                `json:"type"`
	MessageID      domain.MessageID      `json:"messageId"`
	ConversationID domain.ConversationID `json:"conversationId"`
	Content        string                `json:"content"`
}

type MessageDeleteEvent struct {
	Type           string                `json:"type"`
	MessageID      domain.MessageID      `json:"messageId"`
	ConversationID domain.ConversationID `json:"conversationId"`
	Scope          domain.DeleteScope    `json:"scope"`
}

// ReactionState is passed through opaquely; the store owns its shape.
type MessageReactionEvent struct {
	Type           string                `json:"type"`
	MessageID      domain.MessageID      `json:"messageId"`
	ConversationID domain.ConversationID `json:"conversationId"`
	State          any                   `json:"state"`
}

type TypingEvent struct {
	Type           string                `json:"type"`
	UserID         domain.UserID         `json:"userId"`
	ConversationID domain.ConversationID `json:"conversationId"`
}

type CallIncomingEvent struct {
	Type     string                    `json:"type"`
	CallID   domain.CallID             `json:"callId"`
	CallerID domain.UserID             `json:"callerId"`
	CallType domain.CallType           `json:"callType"`
	Offer    webrtc.SessionDescription `json:"offer"`
}

type CallAnsweredEvent struct {
	Type   string                    `json:"type"`
	CallID domain.CallID             `json:"callId"`
	Answer webrtc.SessionDescription `json:"answer"`
}

type CallDeclinedEvent struct {
	Type   string        `json:"type"`
	CallID domain.CallID `json:"callId"`
}

type CallBusyEvent struct {
	Type     string        `json:"type"`
	CallID   domain.CallID `json:"callId,omitempty"`
	UserID   domain.UserID `json:"userId"`
	CallType domain.CallType `json:"callType,omitempty"`
}

type CallEndedEvent struct {
	Type   string        `json:"type"`
	CallID domain.CallID `json:"callId"`
	EndedBy domain.UserID `json:"endedBy,omitempty"`
}

type CallFailedEvent struct {
	Type   string        `json:"type"`
	CallID domain.CallID `json:"callId"`
	Reason string        `json:"reason"`
}

type CallCandidateEvent struct {
	Type      string                  `json:"type"`
	CallID    domain.CallID           `json:"callId"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
