package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/akarpov/parley/internal/core"
	"github.com/akarpov/parley/internal/domain"
)

// Key layout:
//
//	msg:{id}            hash  conversationId, senderId, content, sentAt
//	msg:{id}:delivered  set   userIds
//	msg:{id}:read       set   userIds
//	msg:{id}:deleted    set   userIds
//	conv:{id}:messages  list  messageIds, append order
//	conv:{id}:members   set   userIds
//	presence:{userId}   hash  online, lastSeen
//	call:{id}           hash  call record fields
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects and pings; startup fails fast on a bad URL.
func NewRedis(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info().Str("module", "store.redis").Msg("connected to redis")
	return &Redis{rdb: rdb}, nil
}

var _ core.ConversationStore = (*Redis)(nil)

func (r *Redis) Close() error { return r.rdb.Close() }

func wrapErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, core.ErrStoreUnavailable, err)
}

func msgKey(id domain.MessageID) string          { return "msg:" + string(id) }
func deliveredKey(id domain.MessageID) string    { return "msg:" + string(id) + ":delivered" }
func readKey(id domain.MessageID) string         { return "msg:" + string(id) + ":read" }
func deletedKey(id domain.MessageID) string      { return "msg:" + string(id) + ":deleted" }
func convMsgsKey(c domain.ConversationID) string { return "conv:" + string(c) + ":messages" }
func membersKey(c domain.ConversationID) string  { return "conv:" + string(c) + ":members" }
func presenceKey(u domain.UserID) string         { return "presence:" + string(u) }
func callKey(id domain.CallID) string            { return "call:" + string(id) }

func (r *Redis) PersistMessage(ctx context.Context, msg *domain.MessageEnvelope) error {
	if msg.ID == "" {
		return fmt.Errorf("persist message: missing id")
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, msgKey(msg.ID), map[string]interface{}{
		"conversationId": string(msg.ConversationID),
		"senderId":       string(msg.SenderID),
		"content":        msg.Content,
		"sentAt":         msg.SentAt.UnixMilli(),
	})
	pipe.RPush(ctx, convMsgsKey(msg.ConversationID), string(msg.ID))
	pipe.SAdd(ctx, membersKey(msg.ConversationID), string(msg.SenderID))
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("persist message", err)
	}
	return nil
}

func (r *Redis) MessageRef(ctx context.Context, id domain.MessageID) (domain.MessageRef, error) {
	vals, err := r.rdb.HMGet(ctx, msgKey(id), "conversationId", "senderId").Result()
	if err != nil {
		return domain.MessageRef{}, wrapErr("message ref", err)
	}
	conv, _ := vals[0].(string)
	sender, _ := vals[1].(string)
	if conv == "" || sender == "" {
		return domain.MessageRef{}, core.ErrNotFound
	}
	return domain.MessageRef{
		ID:             id,
		ConversationID: domain.ConversationID(conv),
		SenderID:       domain.UserID(sender),
	}, nil
}

func (r *Redis) ParticipantsOf(ctx context.Context, conv domain.ConversationID) ([]domain.UserID, error) {
	members, err := r.rdb.SMembers(ctx, membersKey(conv)).Result()
	if err != nil {
		return nil, wrapErr("participants", err)
	}
	out := make([]domain.UserID, len(members))
	for i, m := range members {
		out[i] = domain.UserID(m)
	}
	return out, nil
}

func (r *Redis) IsParticipant(ctx context.Context, conv domain.ConversationID, user domain.UserID) (bool, error) {
	ok, err := r.rdb.SIsMember(ctx, membersKey(conv), string(user)).Result()
	if err != nil {
		return false, wrapErr("is participant", err)
	}
	return ok, nil
}

func (r *Redis) UnacknowledgedMessages(ctx context.Context, conv domain.ConversationID, user domain.UserID) ([]domain.MessageRef, error) {
	ids, err := r.rdb.LRange(ctx, convMsgsKey(conv), 0, -1).Result()
	if err != nil {
		return nil, wrapErr("unacknowledged list", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.rdb.Pipeline()
	senders := make([]*redis.StringCmd, len(ids))
	delivered := make([]*redis.BoolCmd, len(ids))
	deleted := make([]*redis.BoolCmd, len(ids))
	for i, id := range ids {
		senders[i] = pipe.HGet(ctx, msgKey(domain.MessageID(id)), "senderId")
		delivered[i] = pipe.SIsMember(ctx, deliveredKey(domain.MessageID(id)), string(user))
		deleted[i] = pipe.SIsMember(ctx, deletedKey(domain.MessageID(id)), string(user))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, wrapErr("unacknowledged scan", err)
	}

	var out []domain.MessageRef
	for i, id := range ids {
		sender, err := senders[i].Result()
		if err != nil {
			continue
		}
		if domain.UserID(sender) == user || delivered[i].Val() || deleted[i].Val() {
			continue
		}
		out = append(out, domain.MessageRef{
			ID:             domain.MessageID(id),
			ConversationID: conv,
			SenderID:       domain.UserID(sender),
		})
	}
	return out, nil
}

func (r *Redis) MarkDelivered(ctx context.Context, id domain.MessageID, user domain.UserID) (bool, error) {
	added, err := r.rdb.SAdd(ctx, deliveredKey(id), string(user)).Result()
	if err != nil {
		return false, wrapErr("mark delivered", err)
	}
	return added == 1, nil
}

func (r *Redis) MarkRead(ctx context.Context, id domain.MessageID, user domain.UserID) (bool, error) {
	// SADD carries the idempotence: the newly-added count is the flag.
	if _, err := r.rdb.SAdd(ctx, deliveredKey(id), string(user)).Result(); err != nil {
		return false, wrapErr("mark read (delivered)", err)
	}
	added, err := r.rdb.SAdd(ctx, readKey(id), string(user)).Result()
	if err != nil {
		return false, wrapErr("mark read", err)
	}
	return added == 1, nil
}

func (r *Redis) MarkDeletedFor(ctx context.Context, id domain.MessageID, user domain.UserID) error {
	if err := r.rdb.SAdd(ctx, deletedKey(id), string(user)).Err(); err != nil {
		return wrapErr("mark deleted for", err)
	}
	return nil
}

func (r *Redis) SetUserOnlineStatus(ctx context.Context, user domain.UserID, online bool, lastSeen time.Time) error {
	err := r.rdb.HSet(ctx, presenceKey(user), map[string]interface{}{
		"online":   strconv.FormatBool(online),
		"lastSeen": lastSeen.UnixMilli(),
	}).Err()
	if err != nil {
		return wrapErr("set online status", err)
	}
	return nil
}

func (r *Redis) CreateCallRecord(ctx context.Context, call *domain.CallSession) error {
	return r.writeCall(ctx, "create call record", call)
}

func (r *Redis) UpdateCallRecord(ctx context.Context, call *domain.CallSession) error {
	return r.writeCall(ctx, "update call record", call)
}

func (r *Redis) writeCall(ctx context.Context, op string, call *domain.CallSession) error {
	fields := map[string]interface{}{
		"callerId":   string(call.CallerID),
		"receiverId": string(call.ReceiverID),
		"type":       string(call.Type),
		"state":      string(call.State),
		"startedAt":  call.StartedAt.UnixMilli(),
	}
	if call.AnsweredAt != nil {
		fields["answeredAt"] = call.AnsweredAt.UnixMilli()
	}
	if call.EndedAt != nil {
		fields["endedAt"] = call.EndedAt.UnixMilli()
	}
	if err := r.rdb.HSet(ctx, callKey(call.ID), fields).Err(); err != nil {
		return wrapErr(op, err)
	}
	return nil
}
