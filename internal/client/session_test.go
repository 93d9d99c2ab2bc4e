package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/eventchat/internal/protocol"
	"github.com/npezzotti/eventchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	tcases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{40, 30 * time.Second},
		{-1, time.Second},
	}

	for _, tc := range tcases {
		assert.Equal(t, tc.want, Backoff(tc.attempt, time.Second, 30*time.Second), "expected delay for attempt %d", tc.attempt)
	}
}

func TestBackoffMonotoneAndCapped(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 0; attempt < 100; attempt++ {
		d := Backoff(attempt, 500*time.Millisecond, 10*time.Second)
		assert.GreaterOrEqual(t, d, prev, "expected delay for attempt %d to be non-decreasing", attempt)
		assert.LessOrEqual(t, d, 10*time.Second, "expected delay for attempt %d to be capped", attempt)
		prev = d
	}
}

func TestSessionConnectJoinsEvent(t *testing.T) {
	s, d, _ := newTestSession(t, testConfig())

	var states []State
	var mu sync.Mutex
	s.OnStateChange(func(st State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st)
	})

	require.NoError(t, s.JoinEvent(42), "expected join before connect to be deferred")
	s.Connect()

	assert.True(t, s.IsConnected(), "expected session to be open")
	assert.NotEmpty(t, s.SocketId(), "expected socket id to be assigned")
	assert.Equal(t, "Bearer tok", d.header.Get("Authorization"), "expected the token on the upgrade request")

	frames := d.conn(0).frames(t)
	if assert.Len(t, frames, 1, "expected join_event on open") {
		assert.Equal(t, protocol.TypeJoinEvent, frames[0].Type)
		assert.Equal(t, "u1", frames[0].UserId)
		assert.Equal(t, 42, frames[0].EventId)
	}

	mu.Lock()
	assert.Equal(t, []State{StateConnecting, StateOpen}, states)
	mu.Unlock()
}

func TestSessionConnectIsNoopWhenOpen(t *testing.T) {
	s, d, _ := newTestSession(t, testConfig())

	s.Connect()
	s.Connect()

	assert.Equal(t, 1, d.numCalls(), "expected a single socket")
}

func TestSessionJoinEventWhileOpen(t *testing.T) {
	s, d, _ := newTestSession(t, testConfig())
	s.Connect()

	require.NoError(t, s.JoinEvent(7))

	frames := d.conn(0).frames(t)
	if assert.Len(t, frames, 1) {
		assert.Equal(t, 7, frames[0].EventId, "expected join to be sent immediately")
	}
}

func TestSessionSendRequiresOpen(t *testing.T) {
	s, d, _ := newTestSession(t, testConfig())

	err := s.Send(protocol.TypingStart())
	assert.ErrorIs(t, err, ErrNotConnected, "expected send before connect to fail")
	assert.Equal(t, 0, d.numCalls(), "expected send not to open a socket")

	s.Connect()
	assert.NoError(t, s.Send(protocol.ChatMessage("hi", "", nil)))

	s.Disconnect()
	assert.ErrorIs(t, s.Send(protocol.TypingStart()), ErrNotConnected, "expected send after disconnect to fail")
	assert.Len(t, d.conn(0).frames(t), 1, "expected nothing queued while disconnected")
}

func TestSessionInboundFrames(t *testing.T) {
	s, d, _ := newTestSession(t, testConfig())

	received := make(chan *protocol.Frame, 16)
	s.OnMessage(func(f *protocol.Frame) { received <- f })
	s.Connect()

	conn := d.conn(0)
	conn.in <- []byte(`{"type":"user_typing_start","userId":"u2","username":"alice"}`)
	conn.in <- []byte(`{"type":"user_typing_start","userId":"u2","username":"alice"}`)
	conn.in <- []byte(`{"type":"user_typing_start","userId":"u3","username":"bob"}`)
	conn.in <- []byte(`this is not json`)
	conn.in <- []byte(`{"type":"mystery"}`)
	conn.in <- []byte(`{"type":"user_typing_stop","userId":"u2","username":"alice"}`)

	var got []*protocol.Frame
	for len(got) < 4 {
		select {
		case f := <-received:
			got = append(got, f)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected 4 frames, got %d", len(got))
		}
	}

	assert.Equal(t, protocol.TypeUserTypingStop, got[3].Type, "expected every valid frame forwarded once, in order")
	assert.Equal(t, []string{"bob"}, s.TypingUsers(), "expected typing set without duplicates")
	assert.True(t, s.IsConnected(), "expected malformed frames not to close the session")

	select {
	case f := <-received:
		t.Errorf("unexpected extra frame %s", f.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionReconnectsAndRejoins(t *testing.T) {
	s, d, clk := newTestSession(t, testConfig())
	require.NoError(t, s.JoinEvent(42))
	s.Connect()
	first := s.SocketId()

	d.conn(0).in <- []byte(`{"type":"user_typing_start","userId":"u2","username":"alice"}`)
	assert.Eventually(t, func() bool { return len(s.TypingUsers()) == 1 }, time.Second, 5*time.Millisecond)

	d.conn(0).drop(websocket.CloseAbnormalClosure)

	require.Eventually(t, func() bool { return clk.count() == 1 }, time.Second, 5*time.Millisecond,
		"expected a reconnect to be scheduled")
	assert.Equal(t, time.Second, clk.last().d, "expected the first retry after the base delay")
	assert.Equal(t, StateClosed, s.State())
	assert.Empty(t, s.TypingUsers(), "expected typing state to be cleared on close")

	clk.last().fire()

	assert.True(t, s.IsConnected(), "expected the replacement socket to be open")
	assert.NotEqual(t, first, s.SocketId(), "expected a new socket, not a reused one")
	assert.Equal(t, 2, d.numCalls())

	frames := d.conn(1).frames(t)
	if assert.Len(t, frames, 1, "expected join_event to be re-sent on the new socket") {
		assert.Equal(t, protocol.TypeJoinEvent, frames[0].Type)
		assert.Equal(t, 42, frames[0].EventId)
	}
}

func TestSessionReconnectBound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 5
	s, d, clk := newTestSession(t, cfg)
	d.fail = true

	s.Connect()
	for i := 0; i < 20; i++ {
		tm := clk.last()
		if tm == nil || !tm.pending() {
			break
		}
		tm.fire()
	}

	assert.Equal(t, 1+cfg.MaxReconnectAttempts, d.numCalls(), "expected the initial attempt plus at most %d retries", cfg.MaxReconnectAttempts)
	assert.Equal(t, cfg.MaxReconnectAttempts, clk.count(), "expected one scheduled retry per allowed attempt")

	prev := time.Duration(0)
	for _, tm := range clk.timers {
		assert.GreaterOrEqual(t, tm.d, prev, "expected non-decreasing delays")
		assert.LessOrEqual(t, tm.d, cfg.MaxDelay, "expected delays to be capped")
		prev = tm.d
	}
	assert.Equal(t, StateClosed, s.State(), "expected the session to stay closed after giving up")

	// an explicit connect restores the budget
	d.mu.Lock()
	d.fail = false
	d.mu.Unlock()
	s.Connect()
	assert.True(t, s.IsConnected(), "expected a manual connect to revive the session")
}

func TestSessionNormalCloseDoesNotReconnect(t *testing.T) {
	s, d, clk := newTestSession(t, testConfig())
	s.Connect()

	d.conn(0).drop(websocket.CloseNormalClosure)

	require.Eventually(t, func() bool { return s.State() == StateClosed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, clk.count(), "expected no reconnect after a normal close")
}

func TestSessionDisconnectCancelsReconnect(t *testing.T) {
	s, d, clk := newTestSession(t, testConfig())
	s.Connect()

	d.conn(0).drop(websocket.CloseGoingAway)
	require.Eventually(t, func() bool { return clk.count() == 1 }, time.Second, 5*time.Millisecond)
	pending := clk.last()

	s.Disconnect()
	s.Disconnect()

	assert.False(t, pending.pending(), "expected the pending reconnect to be cancelled")
	assert.Equal(t, StateIdle, s.State(), "expected a manual disconnect to end idle")

	// a timer that already fired before being stopped must not reconnect either
	pending.f()
	assert.Equal(t, 1, d.numCalls(), "expected no new socket after disconnect")
}

func TestSessionDisconnectSendsNormalClose(t *testing.T) {
	s, d, clk := newTestSession(t, testConfig())
	s.Connect()
	conn := d.conn(0)

	var states []State
	var mu sync.Mutex
	s.OnStateChange(func(st State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st)
	})

	s.Disconnect()

	assert.Equal(t, 1, conn.closeFrames(), "expected a close frame to be written")
	assert.Equal(t, 0, clk.count(), "expected no reconnect after manual disconnect")

	mu.Lock()
	assert.Equal(t, []State{StateClosing, StateClosed, StateIdle}, states)
	mu.Unlock()

	assert.NotPanics(t, s.Disconnect, "expected repeated disconnect to be safe")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestSessionReconnectRecoversMissedMessages(t *testing.T) {
	s, d, clk := newTestSession(t, testConfig())
	h := NewHistory()
	fetcher := &stubFetcher{msgs: []types.Message{{Id: 1, Content: "before"}}}
	h.Seed(fetcher.msgs)

	var mu sync.Mutex
	reopens := 0
	s.OnMessage(func(f *protocol.Frame) { h.Apply(f) })
	s.OnReconnect(func() {
		mu.Lock()
		reopens++
		mu.Unlock()
		_, err := h.Refresh(context.Background(), fetcher, 42, 50)
		assert.NoError(t, err)
	})

	require.NoError(t, s.JoinEvent(42))
	s.Connect()

	d.conn(0).in <- []byte(`{"type":"new_message","message":{"id":2,"eventId":42,"userId":"u2","content":"live"}}`)
	require.Eventually(t, func() bool { return h.Len() == 2 }, time.Second, 5*time.Millisecond)

	d.conn(0).drop(websocket.CloseAbnormalClosure)
	require.Eventually(t, func() bool { return clk.count() == 1 }, time.Second, 5*time.Millisecond)

	// posted while the socket was down
	fetcher.msgs = []types.Message{{Id: 1}, {Id: 2}, {Id: 3, Content: "missed"}}
	clk.last().fire()

	require.True(t, s.IsConnected())
	mu.Lock()
	assert.Equal(t, 1, reopens, "expected the hook to run for the replacement socket only")
	mu.Unlock()

	var ids []int
	for _, m := range h.Messages() {
		ids = append(ids, m.Id)
	}
	assert.Equal(t, []int{1, 2, 3}, ids, "expected the missed message to be recovered")
}

func TestSessionTypingKeyedByUserId(t *testing.T) {
	s, d, _ := newTestSession(t, testConfig())
	s.Connect()
	conn := d.conn(0)

	conn.in <- []byte(`{"type":"user_typing_start","userId":"ua","username":"Anonymous"}`)
	conn.in <- []byte(`{"type":"user_typing_start","userId":"ub","username":"Anonymous"}`)
	require.Eventually(t, func() bool { return len(s.TypingUsers()) == 2 }, time.Second, 5*time.Millisecond,
		"expected same-named users to be tracked separately")

	conn.in <- []byte(`{"type":"user_typing_stop","userId":"ua","username":"Anonymous"}`)
	require.Eventually(t, func() bool { return len(s.TypingUsers()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Anonymous"}, s.TypingUsers())
}
