package client

import (
	"context"
	"errors"
	"log"
	"net/http"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/eventchat/internal/protocol"
)

var ErrNotConnected = errors.New("not connected")

// Session keeps one logical connection to the event socket alive. Every
// transport attempt uses a fresh socket; a socket that closes unexpectedly is
// replaced after an exponential backoff delay, up to MaxReconnectAttempts
// times in a row. Transport failures never surface as errors; callers watch
// IsConnected or OnStateChange instead.
type Session struct {
	cfg    Config
	log    *log.Logger
	dialer Dialer
	after  afterFunc

	mu        sync.Mutex
	state     State
	conn      Conn
	socketId  string
	gen       int
	attempts  int
	manual    bool
	retry     timer
	eventId   int
	opened    int
	typing    []typingUser
	onMessage func(*protocol.Frame)
	onState   func(State)
	onReopen  func()

	writeMu sync.Mutex
}

var _ Transport = (*Session)(nil)

type typingUser struct {
	userId   string
	username string
}

func NewSession(cfg Config, logger *log.Logger) *Session {
	return &Session{
		cfg: cfg,
		log: logger,
		dialer: wsDialer{d: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}},
		after: realAfterFunc,
	}
}

// OnMessage registers the handler that receives every decoded frame once.
func (s *Session) OnMessage(fn func(*protocol.Frame)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// OnReconnect registers fn to run each time a replacement socket opens and
// has rejoined its event. It is not called for the first socket.
func (s *Session) OnReconnect(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReopen = fn
}

func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsConnected() bool {
	return s.State() == StateOpen
}

// SocketId identifies the current socket; it changes on every reconnect.
func (s *Session) SocketId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socketId
}

// TypingUsers returns the names of the users typing in the room.
func (s *Session) TypingUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, len(s.typing))
	for i, u := range s.typing {
		names[i] = u.username
	}
	return names
}

// Connect opens the socket unless one is already connecting or open. It also
// resets the reconnect budget, reviving a session that gave up.
func (s *Session) Connect() {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateOpen {
		s.mu.Unlock()
		return
	}
	s.manual = false
	s.attempts = 0
	s.stopRetryLocked()
	s.mu.Unlock()

	s.open()
}

// JoinEvent makes eventId the session's room. The join_event frame is sent
// now if the socket is open and again every time a new socket opens.
func (s *Session) JoinEvent(eventId int) error {
	s.mu.Lock()
	s.eventId = eventId
	open := s.state == StateOpen
	s.mu.Unlock()

	if !open {
		return nil
	}
	return s.Send(protocol.JoinEvent(s.cfg.UserId, eventId))
}

// Send writes f if the socket is open. It never queues.
func (s *Session) Send(f *protocol.Frame) error {
	s.mu.Lock()
	conn := s.conn
	open := s.state == StateOpen
	s.mu.Unlock()

	if !open || conn == nil {
		s.log.Printf("dropping %s frame: %v", f.Type, ErrNotConnected)
		return ErrNotConnected
	}

	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Printf("write %s frame: %v", f.Type, err)
		return err
	}
	return nil
}

// Disconnect closes the socket with a normal close and cancels any pending
// reconnect. It is safe to call repeatedly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.manual = true
	s.stopRetryLocked()

	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}

	// invalidate the current socket so its close is not handled as a drop
	s.gen++
	conn := s.conn
	s.conn = nil
	s.typing = nil
	notify := s.setStateLocked(StateClosing)
	s.mu.Unlock()
	notify()

	if conn != nil {
		s.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"))
		s.writeMu.Unlock()
		conn.Close()
	}

	s.mu.Lock()
	closed := s.setStateLocked(StateClosed)
	s.mu.Unlock()
	closed()

	s.mu.Lock()
	idle := s.setStateLocked(StateIdle)
	s.mu.Unlock()
	idle()
}

func (s *Session) open() {
	s.mu.Lock()
	if s.manual || s.state == StateConnecting || s.state == StateOpen {
		s.mu.Unlock()
		return
	}
	s.retry = nil
	s.gen++
	gen := s.gen
	notify := s.setStateLocked(StateConnecting)
	s.mu.Unlock()
	notify()

	ctx := context.Background()
	if s.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, err := s.dialer.Dial(ctx, s.cfg.URL, s.cfg.header())
	if err != nil {
		s.log.Printf("connect %s: %v", s.cfg.URL, err)
		s.handleClose(gen, websocket.CloseAbnormalClosure)
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		// disconnected while dialing
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.socketId = uuid.NewString()
	s.attempts = 0
	s.opened++
	eventId := s.eventId
	var reopen func()
	if s.opened > 1 {
		reopen = s.onReopen
	}
	notify = s.setStateLocked(StateOpen)
	s.mu.Unlock()
	notify()

	if eventId > 0 {
		s.Send(protocol.JoinEvent(s.cfg.UserId, eventId))
	}

	go s.readLoop(gen, conn)

	if reopen != nil {
		reopen()
	}
}

func (s *Session) readLoop(gen int, conn Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			s.handleClose(gen, code)
			return
		}

		s.handleFrame(raw)
	}
}

func (s *Session) handleFrame(raw []byte) {
	f, err := protocol.Decode(raw)
	if err != nil {
		s.log.Printf("discarding frame: %v", err)
		return
	}

	s.mu.Lock()
	switch f.Type {
	case protocol.TypeUserTypingStart:
		if s.typingIndexLocked(f.UserId) < 0 {
			s.typing = append(s.typing, typingUser{userId: f.UserId, username: f.Username})
		}
	case protocol.TypeUserTypingStop:
		if i := s.typingIndexLocked(f.UserId); i >= 0 {
			s.typing = slices.Delete(s.typing, i, i+1)
		}
	}
	handler := s.onMessage
	s.mu.Unlock()

	if handler != nil {
		handler(f)
	}
}

func (s *Session) typingIndexLocked(userId string) int {
	return slices.IndexFunc(s.typing, func(u typingUser) bool { return u.userId == userId })
}

// handleClose moves the socket generation gen to closed and schedules a
// replacement socket when the close was unexpected and budget remains.
func (s *Session) handleClose(gen int, code int) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.typing = nil
	notify := s.setStateLocked(StateClosed)

	if !s.manual && code != websocket.CloseNormalClosure && s.attempts < s.cfg.MaxReconnectAttempts {
		delay := Backoff(s.attempts, s.cfg.BaseDelay, s.cfg.MaxDelay)
		s.attempts++
		s.log.Printf("connection closed (code %d), reconnecting in %s (attempt %d/%d)",
			code, delay, s.attempts, s.cfg.MaxReconnectAttempts)
		s.retry = s.after(delay, s.open)
	} else if !s.manual {
		s.log.Printf("connection closed (code %d), not reconnecting", code)
	}
	s.mu.Unlock()

	notify()
}

func (s *Session) stopRetryLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

// setStateLocked updates the state and returns a func that reports the change
// to the state handler; call it after releasing s.mu.
func (s *Session) setStateLocked(st State) func() {
	if s.state == st {
		return func() {}
	}
	s.state = st

	fn := s.onState
	if fn == nil {
		return func() {}
	}
	return func() { fn(st) }
}
