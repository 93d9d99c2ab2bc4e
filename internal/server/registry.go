package server

import (
	"sync"

	"github.com/npezzotti/eventchat/internal/types"
)

// Session is a server-side handle on one live connection.
type Session interface {
	Id() string
	User() types.User
	IsOpen() bool
	Deliver(data []byte) error
}

type room struct {
	id      int
	mu      sync.RWMutex
	members map[string]Session
}

// Registry maps event ids to the sessions currently joined to them. A session
// belongs to at most one room. Rooms exist only while they have members.
type Registry struct {
	mu       sync.Mutex
	rooms    map[int]*room
	sessions map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[int]*room),
		sessions: make(map[string]int),
	}
}

// Join adds s to the room for eventId and returns the resulting member count.
// added is false when s was already a member. A session joined elsewhere is
// moved; callers that announce departures should call Leave first.
func (r *Registry) Join(eventId int, s Session) (count int, added bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[s.Id()]; ok && prev != eventId {
		r.removeLocked(s.Id(), prev)
	}

	rm, ok := r.rooms[eventId]
	if !ok {
		rm = &room{id: eventId, members: make(map[string]Session)}
		r.rooms[eventId] = rm
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.members[s.Id()]; !ok {
		rm.members[s.Id()] = s
		added = true
	}
	r.sessions[s.Id()] = eventId

	return len(rm.members), added
}

// Leave removes the session from whatever room it belongs to. ok is false
// when the session was not joined.
func (r *Registry) Leave(sessionId string) (eventId, count int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	eventId, ok = r.sessions[sessionId]
	if !ok {
		return 0, 0, false
	}

	return eventId, r.removeLocked(sessionId, eventId), true
}

func (r *Registry) removeLocked(sessionId string, eventId int) int {
	delete(r.sessions, sessionId)

	rm, ok := r.rooms[eventId]
	if !ok {
		return 0
	}

	rm.mu.Lock()
	delete(rm.members, sessionId)
	count := len(rm.members)
	rm.mu.Unlock()

	if count == 0 {
		delete(r.rooms, eventId)
	}

	return count
}

// RoomOf returns the event the session is joined to.
func (r *Registry) RoomOf(sessionId string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	eventId, ok := r.sessions[sessionId]
	return eventId, ok
}

// Members returns a snapshot of the sessions joined to eventId.
func (r *Registry) Members(eventId int) []Session {
	r.mu.Lock()
	rm, ok := r.rooms[eventId]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()

	members := make([]Session, 0, len(rm.members))
	for _, s := range rm.members {
		members = append(members, s)
	}

	return members
}

func (r *Registry) Count(eventId int) int {
	r.mu.Lock()
	rm, ok := r.rooms[eventId]
	r.mu.Unlock()
	if !ok {
		return 0
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

// NumRooms returns the number of rooms with at least one member.
func (r *Registry) NumRooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
