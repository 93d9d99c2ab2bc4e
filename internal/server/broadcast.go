package server

import (
	"context"
	"fmt"
	"log"

	"github.com/npezzotti/eventchat/internal/protocol"
	"github.com/npezzotti/eventchat/internal/stats"
)

// Broadcaster fans a frame out to every session joined to an event.
type Broadcaster interface {
	Broadcast(ctx context.Context, eventId int, f *protocol.Frame) error
}

// LocalBroadcaster delivers frames to the sessions held by this process.
type LocalBroadcaster struct {
	registry *Registry
	log      *log.Logger
	stats    stats.StatsProvider
}

func NewLocalBroadcaster(registry *Registry, logger *log.Logger, su stats.StatsProvider) *LocalBroadcaster {
	return &LocalBroadcaster{
		registry: registry,
		log:      logger,
		stats:    su,
	}
}

func (b *LocalBroadcaster) Broadcast(ctx context.Context, eventId int, f *protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.Type, err)
	}

	b.Deliver(eventId, data)
	return nil
}

// Deliver writes an encoded frame to a snapshot of the room's members and
// returns how many sessions accepted it. A failing session does not stop
// delivery to the rest.
func (b *LocalBroadcaster) Deliver(eventId int, data []byte) int {
	delivered := 0
	for _, s := range b.registry.Members(eventId) {
		if !s.IsOpen() {
			continue
		}

		if err := b.deliverOne(s, data); err != nil {
			b.log.Println(&DispatchError{SessionId: s.Id(), EventId: eventId, Err: err})
			b.stats.Incr(metricDispatchErrors)
			continue
		}
		delivered++
	}

	return delivered
}

func (b *LocalBroadcaster) deliverOne(s Session, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return s.Deliver(data)
}
