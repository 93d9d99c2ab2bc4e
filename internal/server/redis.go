package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/npezzotti/eventchat/internal/protocol"
	"github.com/redis/go-redis/v9"
)

const channelPattern = "event-*"

// envelope is the payload published on an event channel: the event name is
// the frame type and data is the encoded frame.
type envelope struct {
	Event protocol.Type   `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RedisBroadcaster publishes frames to the event-{id} channel so that every
// server instance can fan them out to its own sessions through Relay.
type RedisBroadcaster struct {
	rdb *redis.Client
	log *log.Logger
}

func NewRedisBroadcaster(rdb *redis.Client, logger *log.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{rdb: rdb, log: logger}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, eventId int, f *protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.Type, err)
	}

	payload, err := json.Marshal(envelope{Event: f.Type, Data: data})
	if err != nil {
		return err
	}

	if err := b.rdb.Publish(ctx, protocol.ChannelName(eventId), payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", protocol.ChannelName(eventId), err)
	}

	return nil
}

// Relay subscribes to every event channel and hands received frames to local
// until ctx is cancelled.
func (b *RedisBroadcaster) Relay(ctx context.Context, local *LocalBroadcaster) error {
	ps := b.rdb.PSubscribe(ctx, channelPattern)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channelPattern, err)
	}

	b.log.Printf("relaying %s from redis", channelPattern)
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay(msg, local)
		}
	}
}

func (b *RedisBroadcaster) relay(msg *redis.Message, local *LocalBroadcaster) {
	eventId, err := protocol.ParseChannelName(msg.Channel)
	if err != nil {
		b.log.Println("relay:", err)
		return
	}

	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.log.Printf("relay: decode envelope on %s: %v", msg.Channel, err)
		return
	}

	local.Deliver(eventId, env.Data)
}
