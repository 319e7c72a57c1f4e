package domain

import "time"

type CallID string

type CallType string

const (
	CallVoice CallType = "voice"
	CallVideo CallType = "video"
)

// CallState is the single authoritative state of a call. A call is in
// exactly one state at any time; Ringing covers the pre-answer phase on
// both sides (the caller sees it as outgoing, the receiver as incoming).
type CallState string

const (
	CallRinging  CallState = "ringing"
	CallActive   CallState = "active"
	CallEnded    CallState = "ended"
	CallDeclined CallState = "declined"
	CallFailed   CallState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s CallState) Terminal() bool {
	switch s {
	case CallEnded, CallDeclined, CallFailed:
		return true
	}
	return false
}

// CallSession has exactly one caller and one receiver for its lifetime.
type CallSession struct {
	ID         CallID     `json:"id"`
	CallerID   UserID     `json:"callerId"`
	ReceiverID UserID     `json:"receiverId"`
	Type       CallType   `json:"type"`
	State      CallState  `json:"state"`
	StartedAt  time.Time  `json:"startedAt"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
}

// Party reports whether uid is the caller or the receiver of this call.
func (c *CallSession) Party(uid UserID) bool {
	return uid == c.CallerID || uid == c.ReceiverID
}

// Peer returns the other participant. Callers must check Party first.
func (c *CallSession) Peer(uid UserID) UserID {
	if uid == c.CallerID {
		return c.ReceiverID
	}
	return c.CallerID
}
