package client

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/eventchat/internal/protocol"
)

// Transport is the connection surface used by chat frontends.
type Transport interface {
	Connect()
	Disconnect()
	Send(f *protocol.Frame) error
	OnMessage(fn func(*protocol.Frame))
	IsConnected() bool
	TypingUsers() []string
}

// Conn is one socket. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

type wsDialer struct {
	d *websocket.Dialer
}

func (w wsDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := w.d.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}
