package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/eventchat/internal/protocol"
	"github.com/npezzotti/eventchat/internal/testutil"
)

var errClosed = errors.New("use of closed network connection")

type written struct {
	messageType int
	data        []byte
}

type fakeConn struct {
	in   chan []byte
	errs chan error
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	writes []written
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:   make(chan []byte, 16),
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return websocket.TextMessage, b, nil
	case err := <-c.errs:
		return 0, nil, err
	case <-c.done:
		return 0, nil, errClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.done:
		return errClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, written{messageType: messageType, data: data})
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// drop simulates the peer closing the socket with code.
func (c *fakeConn) drop(code int) {
	c.errs <- &websocket.CloseError{Code: code}
}

// frames decodes the text frames written to the socket.
func (c *fakeConn) frames(t *testing.T) []*protocol.Frame {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*protocol.Frame
	for _, w := range c.writes {
		if w.messageType != websocket.TextMessage {
			continue
		}
		f, err := protocol.Decode(w.data)
		if err != nil {
			t.Fatalf("session wrote an invalid frame %s: %v", w.data, err)
		}
		out = append(out, f)
	}
	return out
}

func (c *fakeConn) closeFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, w := range c.writes {
		if w.messageType == websocket.CloseMessage {
			n++
		}
	}
	return n
}

type fakeDialer struct {
	mu     sync.Mutex
	fail   bool
	calls  int
	conns  []*fakeConn
	header http.Header
}

func (d *fakeDialer) Dial(_ context.Context, _ string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	d.header = header
	if d.fail {
		return nil, errors.New("connection refused")
	}

	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) numCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

func (t *fakeTimer) fire() {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()

	t.f()
}

func (t *fakeTimer) pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && !t.fired
}

// fakeClock hands out timers that only fire when a test says so.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

func newTestSession(t *testing.T, cfg Config) (*Session, *fakeDialer, *fakeClock) {
	t.Helper()

	d := &fakeDialer{}
	clk := &fakeClock{}
	s := NewSession(cfg, testutil.TestLogger(t))
	s.dialer = d
	s.after = clk.AfterFunc

	t.Cleanup(s.Disconnect)
	return s, d, clk
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.URL = "ws://chat.test/ws"
	cfg.UserId = "u1"
	cfg.Token = "tok"
	return cfg
}
