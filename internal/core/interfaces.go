// Package core defines the ports between the engine and its adapters.
package core

// Frame is one encoded event as it goes over the wire.
type Frame []byte

type SessionID string

// SignalConnection abstracts a session's messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SentTo  int
	Dropped []SessionID
}
