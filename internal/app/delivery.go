package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/akarpov/parley/internal/core"
	"github.com/akarpov/parley/internal/domain"
	"github.com/akarpov/parley/internal/metrics"
)

// DeliveryTracker records per-recipient delivered/read state through the
// external store and routes receipt events to the message sender's
// personal room. Receipt traffic is proportional to senders, not to
// conversation size.
//
// Both record operations are idempotent: the store's newly-recorded flag
// makes redundant concurrent calls harmless, and the receipt event fires
// only on the first recording.
type DeliveryTracker struct {
	store core.ConversationStore
	rooms *RoomRouter
}

func NewDeliveryTracker(store core.ConversationStore, rooms *RoomRouter) *DeliveryTracker {
	return &DeliveryTracker{store: store, rooms: rooms}
}

// RecordDelivered marks the message delivered to the recipient. The
// sender is never a recipient of their own message.
func (t *DeliveryTracker) RecordDelivered(ctx context.Context, ref domain.MessageRef, recipient domain.UserID) (bool, error) {
	if recipient == ref.SenderID {
		return false, nil
	}
	newly, err := t.store.MarkDelivered(ctx, ref.ID, recipient)
	if err != nil {
		return false, fmt.Errorf("mark delivered %s: %w", ref.ID, err)
	}
	if !newly {
		return false, nil
	}
	metrics.DeliveryReceipts.Inc()
	t.rooms.Publish(domain.UserRoom(ref.SenderID), core.MessageDeliveredEvent{
		Type:      core.EvMessageDelivered,
		MessageID: ref.ID,
		UserID:    recipient,
	})
	return true, nil
}

// RecordRead marks the message read, recording delivery first so a
// recipient is never read without being delivered.
func (t *DeliveryTracker) RecordRead(ctx context.Context, ref domain.MessageRef, recipient domain.UserID) (bool, error) {
	if recipient == ref.SenderID {
		return false, nil
	}
	if _, err := t.RecordDelivered(ctx, ref, recipient); err != nil {
		return false, err
	}
	newly, err := t.store.MarkRead(ctx, ref.ID, recipient)
	if err != nil {
		return false, fmt.Errorf("mark read %s: %w", ref.ID, err)
	}
	if !newly {
		return false, nil
	}
	metrics.ReadReceipts.Inc()
	t.rooms.Publish(domain.UserRoom(ref.SenderID), core.MessageReadEvent{
		Type:      core.EvMessageRead,
		MessageID: ref.ID,
		UserID:    recipient,
	})
	return true, nil
}

// SweepUnacknowledged records delivery for every message in the
// conversation the user has not acknowledged yet. Invoked when a device
// joins a conversation room; duplicate sweeps from racing devices are
// absorbed by RecordDelivered's idempotence.
func (t *DeliveryTracker) SweepUnacknowledged(ctx context.Context, conv domain.ConversationID, user domain.UserID) error {
	refs, err := t.store.UnacknowledgedMessages(ctx, conv, user)
	if err != nil {
		return fmt.Errorf("unacknowledged for %s: %w", conv, err)
	}
	for _, ref := range refs {
		if _, err := t.RecordDelivered(ctx, ref, user); err != nil {
			// One bad message must not abort the rest of the sweep.
			log.Warn().Err(err).Str("module", "app.delivery").Str("message", string(ref.ID)).Msg("sweep: record delivered")
		}
	}
	return nil
}
