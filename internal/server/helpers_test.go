package server

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/npezzotti/eventchat/internal/database"
	"github.com/npezzotti/eventchat/internal/protocol"
	"github.com/npezzotti/eventchat/internal/stats"
	"github.com/npezzotti/eventchat/internal/testutil"
	"github.com/npezzotti/eventchat/internal/types"
	"github.com/stretchr/testify/mock"
)

// newTestChatServer creates a new ChatServer instance for testing purposes
func newTestChatServer(t *testing.T, db database.EventChatRepository, su *stats.MockStatsUpdater, opts ...Option) *ChatServer {
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)

	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, db, su, opts...)
	if err != nil {
		t.Fatalf("failed to create test ChatServer: %v", err)
	}
	return cs
}

// permissiveStats accepts any counter update.
func permissiveStats() *stats.MockStatsUpdater {
	return (&stats.MockStatsUpdater{}).AllowUpdates()
}

var errWriteFailed = errors.New("write failed")

type fakeSession struct {
	id     string
	user   types.User
	closed bool
	fail   bool
	panics bool

	mu     sync.Mutex
	frames [][]byte
}

func newFakeSession(id, userId, name string) *fakeSession {
	return &fakeSession{id: id, user: types.User{Id: userId, FirstName: name}}
}

func (s *fakeSession) Id() string       { return s.id }
func (s *fakeSession) User() types.User { return s.user }
func (s *fakeSession) IsOpen() bool     { return !s.closed }

func (s *fakeSession) Deliver(data []byte) error {
	if s.panics {
		panic("connection torn down")
	}
	if s.fail {
		return errWriteFailed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, data)
	return nil
}

// received decodes everything delivered to the session so far.
func (s *fakeSession) received(t *testing.T) []*protocol.Frame {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()

	frames := make([]*protocol.Frame, 0, len(s.frames))
	for _, raw := range s.frames {
		f, err := protocol.Decode(raw)
		if err != nil {
			t.Fatalf("session %s received an invalid frame %s: %v", s.id, raw, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func (s *fakeSession) receivedOfType(t *testing.T, typ protocol.Type) []*protocol.Frame {
	t.Helper()

	var out []*protocol.Frame
	for _, f := range s.received(t) {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (s *fakeSession) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}

// recordingBroadcaster captures frames instead of delivering them.
type recordingBroadcaster struct {
	mu     sync.Mutex
	frames map[int][]*protocol.Frame
	err    error
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, eventId int, f *protocol.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frames == nil {
		b.frames = make(map[int][]*protocol.Frame)
	}
	b.frames[eventId] = append(b.frames[eventId], f)
	return b.err
}

func (b *recordingBroadcaster) sent(eventId int) []*protocol.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*protocol.Frame(nil), b.frames[eventId]...)
}
