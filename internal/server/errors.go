package server

import (
	"errors"
	"fmt"
)

var (
	ErrSessionClosed  = errors.New("session is not open")
	ErrSendBufferFull = errors.New("send buffer full")
	ErrNotJoined      = errors.New("session has not joined an event")
)

// DispatchError records a failed write to one session during fan-out.
type DispatchError struct {
	SessionId string
	EventId   int
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to session %s in event %d: %v", e.SessionId, e.EventId, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
