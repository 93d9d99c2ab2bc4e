package server

import (
	"context"
	"fmt"

	"github.com/npezzotti/eventchat/internal/protocol"
	"github.com/redis/go-redis/v9"
)

// MemberCounter tracks room membership across every server instance that
// shares a broadcaster, so that active_users_count has a single source.
type MemberCounter interface {
	Add(ctx context.Context, eventId int, sessionId string) (int, error)
	Remove(ctx context.Context, eventId int, sessionId string) (int, error)
	Count(ctx context.Context, eventId int) (int, error)
}

// RedisMembers keeps each room's sessions in the set event-{id}:members.
// Members are prefixed with the instance id because session ids are only
// unique per process.
type RedisMembers struct {
	rdb      *redis.Client
	instance string
}

func NewRedisMembers(rdb *redis.Client, instanceId string) *RedisMembers {
	return &RedisMembers{rdb: rdb, instance: instanceId}
}

func membersKey(eventId int) string {
	return protocol.ChannelName(eventId) + ":members"
}

func (m *RedisMembers) member(sessionId string) string {
	return m.instance + ":" + sessionId
}

func (m *RedisMembers) Add(ctx context.Context, eventId int, sessionId string) (int, error) {
	key := membersKey(eventId)

	var card *redis.IntCmd
	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, m.member(sessionId))
		card = pipe.SCard(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("add member to %s: %w", key, err)
	}

	return int(card.Val()), nil
}

func (m *RedisMembers) Remove(ctx context.Context, eventId int, sessionId string) (int, error) {
	key := membersKey(eventId)

	var card *redis.IntCmd
	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, key, m.member(sessionId))
		card = pipe.SCard(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("remove member from %s: %w", key, err)
	}

	return int(card.Val()), nil
}

func (m *RedisMembers) Count(ctx context.Context, eventId int) (int, error) {
	n, err := m.rdb.SCard(ctx, membersKey(eventId)).Result()
	if err != nil {
		return 0, fmt.Errorf("count members of %s: %w", membersKey(eventId), err)
	}
	return int(n), nil
}
