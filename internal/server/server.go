package server

import (
	"context"
	"log"
	"sync"

	"github.com/npezzotti/eventchat/internal/database"
	"github.com/npezzotti/eventchat/internal/protocol"
	"github.com/npezzotti/eventchat/internal/stats"
	"github.com/npezzotti/eventchat/internal/types"
)

const (
	metricActiveClients  = "NumActiveClients"
	metricActiveRooms    = "NumActiveRooms"
	metricMessagesSent   = "NumMessagesSent"
	metricDispatchErrors = "NumDispatchErrors"
)

type stopReq struct {
	done chan struct{}
}

type ChatServer struct {
	log            *log.Logger
	db             database.EventChatRepository
	stats          stats.StatsProvider
	registry       *Registry
	local          *LocalBroadcaster
	broadcaster    Broadcaster
	presence       *PresenceTracker
	members        MemberCounter
	notifier       Notifier
	senders        *keyedMutex
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	registerChan   chan *Client
	deRegisterChan chan *Client
	stop           chan stopReq
	done           chan struct{}
}

type Option func(*ChatServer)

// WithBroadcaster replaces in-process fan-out, e.g. with a RedisBroadcaster
// whose Relay feeds LocalBroadcaster().
func WithBroadcaster(b Broadcaster) Option {
	return func(cs *ChatServer) {
		cs.broadcaster = b
	}
}

// WithMemberCounter makes member counts come from a store shared by every
// instance behind the same broadcaster.
func WithMemberCounter(m MemberCounter) Option {
	return func(cs *ChatServer) {
		cs.members = m
	}
}

func WithNotifier(n Notifier) Option {
	return func(cs *ChatServer) {
		cs.notifier = n
	}
}

func NewChatServer(logger *log.Logger, db database.EventChatRepository, su stats.StatsProvider, opts ...Option) (*ChatServer, error) {
	registry := NewRegistry()
	cs := &ChatServer{
		log:            logger,
		db:             db,
		stats:          su,
		registry:       registry,
		local:          NewLocalBroadcaster(registry, logger, su),
		senders:        newKeyedMutex(),
		clients:        make(map[*Client]struct{}),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}
	cs.broadcaster = cs.local

	for _, opt := range opts {
		opt(cs)
	}
	cs.presence = NewPresenceTracker(cs.broadcaster, logger)

	su.RegisterMetric(metricActiveClients)
	su.RegisterMetric(metricActiveRooms)
	su.RegisterMetric(metricMessagesSent)
	su.RegisterMetric(metricDispatchErrors)

	return cs, nil
}

// LocalBroadcaster returns the in-process fan-out used to reach this
// server's own sessions.
func (cs *ChatServer) LocalBroadcaster() *LocalBroadcaster {
	return cs.local
}

func (cs *ChatServer) Run() {
	for {
		select {
		case client := <-cs.registerChan:
			cs.log.Printf("adding connection %s for user %q", client.id, client.user.Id)
			cs.addClient(client)
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing connection %s for user %q", client.id, client.user.Id)
			cs.removeClient(client)
		case req := <-cs.stop:
			cs.log.Println("closing client connections")
			cs.clientsLock.Lock()
			for c := range cs.clients {
				c.stopClient()
			}
			cs.clientsLock.Unlock()

			close(cs.done)
			close(req.done)
			return
		}
	}
}

// Register hands a connected client to the server.
func (cs *ChatServer) Register(c *Client) {
	select {
	case cs.registerChan <- c:
	case <-cs.done:
		c.stopClient()
	}
}

func (cs *ChatServer) deregister(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		cs.clients[c] = struct{}{}
		cs.stats.Incr(metricActiveClients)
	}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; ok {
		delete(cs.clients, c)
		cs.stats.Decr(metricActiveClients)
	}
}

// Join places the session in the event room, moving it out of any other room,
// and announces the new member count.
func (cs *ChatServer) Join(ctx context.Context, eventId int, s Session) {
	if prev, ok := cs.registry.RoomOf(s.Id()); ok && prev != eventId {
		cs.Leave(ctx, s)
	}

	count, added := cs.registry.Join(eventId, s)
	if added {
		if count == 1 {
			cs.stats.Incr(metricActiveRooms)
		}
		count = cs.sharedCount(ctx, eventId, count, func() (int, error) {
			return cs.members.Add(ctx, eventId, s.Id())
		})

		u := s.User()
		cs.log.Printf("session %s (user %q) joined event %d", s.Id(), u.Id, eventId)
		cs.announce(ctx, eventId, protocol.UserJoined(u.Id, u.DisplayName()))
	} else {
		count = cs.sharedCount(ctx, eventId, count, func() (int, error) {
			return cs.members.Count(ctx, eventId)
		})
	}

	cs.announce(ctx, eventId, protocol.ActiveUsers(count))
}

// Leave removes the session from its room, clears the user's typing state
// there and announces the new member count.
func (cs *ChatServer) Leave(ctx context.Context, s Session) {
	eventId, count, ok := cs.registry.Leave(s.Id())
	if !ok {
		return
	}

	u := s.User()
	cs.log.Printf("session %s (user %q) left event %d", s.Id(), u.Id, eventId)
	cs.presence.ClearUser(ctx, eventId, u.Id)

	if count == 0 {
		cs.stats.Decr(metricActiveRooms)
		cs.presence.Forget(eventId)
	}
	count = cs.sharedCount(ctx, eventId, count, func() (int, error) {
		return cs.members.Remove(ctx, eventId, s.Id())
	})

	cs.announce(ctx, eventId, protocol.UserLeft(u.Id, u.DisplayName()))
	cs.announce(ctx, eventId, protocol.ActiveUsers(count))
}

// sharedCount returns the instance-wide member count from the MemberCounter,
// falling back to the local count when there is none or it fails.
func (cs *ChatServer) sharedCount(ctx context.Context, eventId, local int, fn func() (int, error)) int {
	if cs.members == nil {
		return local
	}

	n, err := fn()
	if err != nil {
		cs.log.Printf("member count for event %d: %v", eventId, err)
		return local
	}
	return n
}

// Presence reports the member count and typing users of an event room.
func (cs *ChatServer) Presence(ctx context.Context, eventId int) types.Presence {
	count := cs.registry.Count(eventId)
	count = cs.sharedCount(ctx, eventId, count, func() (int, error) {
		return cs.members.Count(ctx, eventId)
	})

	return types.Presence{
		EventId: eventId,
		Count:   count,
		Typing:  cs.presence.Typing(eventId),
	}
}

func (cs *ChatServer) announce(ctx context.Context, eventId int, f *protocol.Frame) {
	if err := cs.broadcaster.Broadcast(ctx, eventId, f); err != nil {
		cs.log.Printf("broadcast %s to event %d: %v", f.Type, eventId, err)
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
