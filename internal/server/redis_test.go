package server

import (
	"context"
	"testing"
	"time"

	"github.com/npezzotti/eventchat/internal/protocol"
	"github.com/npezzotti/eventchat/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

const testRedisAddr = "localhost:6379"

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}
	t.Cleanup(func() { client.Close() })

	return client
}

func TestRedisBroadcasterRelay(t *testing.T) {
	rdb := newTestRedis(t)
	logger := testutil.TestLogger(t)

	r := NewRegistry()
	member := newFakeSession("s1", "u1", "Ada")
	r.Join(77, member)
	local := NewLocalBroadcaster(r, logger, permissiveStats())

	rb := NewRedisBroadcaster(rdb, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relayDone := make(chan error, 1)
	go func() { relayDone <- rb.Relay(ctx, local) }()

	// publish until the relay's subscription is live
	assert.Eventually(t, func() bool {
		if err := rb.Broadcast(ctx, 77, protocol.UserTypingStart("u2", "bob")); err != nil {
			return false
		}
		return len(member.received(t)) > 0
	}, 3*time.Second, 50*time.Millisecond, "expected frame to be relayed to the local member")

	f := member.received(t)[0]
	assert.Equal(t, protocol.TypeUserTypingStart, f.Type)
	assert.Equal(t, "bob", f.Username)

	cancel()
	select {
	case err := <-relayDone:
		assert.NoError(t, err, "expected relay to stop cleanly")
	case <-time.After(2 * time.Second):
		t.Error("expected relay to stop after cancel")
	}
}

func TestRedisRelayIgnoresForeignChannels(t *testing.T) {
	rb := NewRedisBroadcaster(nil, testutil.TestLogger(t))
	r := NewRegistry()
	member := newFakeSession("s1", "u1", "Ada")
	r.Join(5, member)
	local := NewLocalBroadcaster(r, testutil.TestLogger(t), permissiveStats())

	rb.relay(&redis.Message{Channel: "event-abc", Payload: `{"event":"user_joined","data":{"type":"user_joined"}}`}, local)
	rb.relay(&redis.Message{Channel: "event-5", Payload: `not json`}, local)
	assert.Empty(t, member.received(t), "expected invalid channel and payload to be dropped")

	rb.relay(&redis.Message{Channel: "event-5", Payload: `{"event":"user_joined","data":{"type":"user_joined","userId":"u2"}}`}, local)
	assert.Len(t, member.received(t), 1, "expected a valid envelope to be delivered")
}
