package server

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/eventchat/internal/protocol"
	"github.com/npezzotti/eventchat/internal/types"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is the server side of one websocket connection.
type Client struct {
	id           string
	conn         *websocket.Conn
	chatServer   *ChatServer
	log          *log.Logger
	user         types.User
	send         chan []byte
	state        atomic.Int32
	lastActivity atomic.Int64
	stop         chan struct{}
	stopOnce     sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	id, err := shortid.Generate()
	if err != nil {
		id = time.Now().Format("150405.000000000")
	}

	c := &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan []byte, sendBufferSize),
		stop:       make(chan struct{}),
	}
	c.setState(StateOpen)
	c.touch()

	return c
}

func (c *Client) Id() string { return c.id }

func (c *Client) User() types.User { return c.user }

func (c *Client) IsOpen() bool { return c.State() == StateOpen }

func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

func (c *Client) setState(s ConnState) { c.state.Store(int32(s)) }

// LastActivity is the time the last frame was read from the peer.
func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Client) touch() { c.lastActivity.Store(time.Now().UnixNano()) }

// Deliver queues an encoded frame without blocking.
func (c *Client) Deliver(data []byte) error {
	if !c.IsOpen() {
		return ErrSessionClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.sendMessage(websocket.TextMessage, msg) {
				return
			}
		case <-c.stop:
			c.setState(StateClosing)
			c.sendMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		c.touch()
		f, err := protocol.Decode(raw)
		if err != nil {
			c.log.Printf("dropping frame from %s: %v", c.id, err)
			continue
		}
		if !f.Type.Inbound() {
			c.log.Printf("dropping %s frame from %s: not accepted from clients", f.Type, c.id)
			continue
		}

		c.handleFrame(ctx, f)
	}
}

func (c *Client) handleFrame(ctx context.Context, f *protocol.Frame) {
	cs := c.chatServer

	if f.Type == protocol.TypeJoinEvent {
		if f.UserId != c.user.Id {
			c.log.Printf("dropping join_event from %s: user %q does not match session user %q", c.id, f.UserId, c.user.Id)
			return
		}
		cs.Join(ctx, f.EventId, c)
		return
	}

	eventId, ok := cs.registry.RoomOf(c.id)
	if !ok {
		c.log.Printf("dropping %s frame from %s: %v", f.Type, c.id, ErrNotJoined)
		return
	}

	switch f.Type {
	case protocol.TypeTypingStart:
		cs.presence.StartTyping(ctx, eventId, c.user.Id, c.user.DisplayName())
	case protocol.TypeTypingStop:
		cs.presence.StopTyping(ctx, eventId, c.user.Id, c.user.DisplayName())
	case protocol.TypeChatMessage:
		if _, err := cs.PostMessage(ctx, eventId, c.user, f.Content, f.MessageType, f.Metadata); err != nil {
			c.log.Printf("chat_message from %s: %v", c.id, err)
		}
	}
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.setState(StateClosed)
	c.chatServer.Leave(context.Background(), c)
	c.chatServer.deregister(c)
	c.stopClient()
}
