package server

import (
	"context"
	"log"
	"slices"
	"sync"

	"github.com/npezzotti/eventchat/internal/protocol"
)

type typingEntry struct {
	username string
	userId   string
}

type typingSet struct {
	mu      sync.Mutex
	entries []typingEntry
	dropped bool
}

// index finds the entry by user id; display names are not unique.
func (ts *typingSet) index(userId string) int {
	return slices.IndexFunc(ts.entries, func(e typingEntry) bool { return e.userId == userId })
}

// PresenceTracker holds who is typing in each room. It has no timers: clients
// debounce and send typing_stop themselves, and ClearUser compensates for
// clients that go away without doing so.
type PresenceTracker struct {
	mu    sync.Mutex
	rooms map[int]*typingSet
	bc    Broadcaster
	log   *log.Logger
}

func NewPresenceTracker(bc Broadcaster, logger *log.Logger) *PresenceTracker {
	return &PresenceTracker{
		rooms: make(map[int]*typingSet),
		bc:    bc,
		log:   logger,
	}
}

func (pt *PresenceTracker) room(eventId int, create bool) *typingSet {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	ts, ok := pt.rooms[eventId]
	if !ok && create {
		ts = &typingSet{}
		pt.rooms[eventId] = ts
	}
	return ts
}

// lockRoom returns the room's typing set locked, or nil when it does not
// exist and create is false. A set dropped by Forget is never returned.
func (pt *PresenceTracker) lockRoom(eventId int, create bool) *typingSet {
	for {
		ts := pt.room(eventId, create)
		if ts == nil {
			return nil
		}
		ts.mu.Lock()
		if !ts.dropped {
			return ts
		}
		ts.mu.Unlock()
	}
}

// StartTyping adds the user to the room's typing set and announces it. It
// reports false, without announcing, when the user was already typing.
func (pt *PresenceTracker) StartTyping(ctx context.Context, eventId int, userId, username string) bool {
	ts := pt.lockRoom(eventId, true)
	defer ts.mu.Unlock()

	if ts.index(userId) >= 0 {
		return false
	}
	ts.entries = append(ts.entries, typingEntry{username: username, userId: userId})

	pt.emit(ctx, eventId, protocol.UserTypingStart(userId, username))
	return true
}

// StopTyping removes the user if present and always announces the stop.
func (pt *PresenceTracker) StopTyping(ctx context.Context, eventId int, userId, username string) {
	ts := pt.lockRoom(eventId, true)
	defer ts.mu.Unlock()

	if i := ts.index(userId); i >= 0 {
		ts.entries = slices.Delete(ts.entries, i, i+1)
	}

	pt.emit(ctx, eventId, protocol.UserTypingStop(userId, username))
}

// ClearUser drops every typing entry owned by userId in the room and
// announces a stop for each.
func (pt *PresenceTracker) ClearUser(ctx context.Context, eventId int, userId string) {
	ts := pt.lockRoom(eventId, false)
	if ts == nil {
		return
	}
	defer ts.mu.Unlock()

	kept := ts.entries[:0]
	for _, e := range ts.entries {
		if e.userId != userId {
			kept = append(kept, e)
			continue
		}
		pt.emit(ctx, eventId, protocol.UserTypingStop(e.userId, e.username))
	}
	ts.entries = kept
}

// Typing returns the usernames currently typing in the room, in the order
// they started.
func (pt *PresenceTracker) Typing(eventId int) []string {
	ts := pt.lockRoom(eventId, false)
	if ts == nil {
		return []string{}
	}
	defer ts.mu.Unlock()

	names := make([]string, len(ts.entries))
	for i, e := range ts.entries {
		names[i] = e.username
	}
	return names
}

// Forget discards the typing state of a room that no longer has members.
// A set that gained an entry since the room emptied is kept.
func (pt *PresenceTracker) Forget(eventId int) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	ts, ok := pt.rooms[eventId]
	if !ok {
		return true
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if len(ts.entries) > 0 {
		return false
	}
	ts.dropped = true
	delete(pt.rooms, eventId)
	return true
}

func (pt *PresenceTracker) emit(ctx context.Context, eventId int, f *protocol.Frame) {
	if err := pt.bc.Broadcast(ctx, eventId, f); err != nil {
		pt.log.Printf("broadcast %s to event %d: %v", f.Type, eventId, err)
	}
}
