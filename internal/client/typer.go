package client

import (
	"sync"
	"time"

	"github.com/npezzotti/eventchat/internal/protocol"
)

// TypingIdle is how long after the last keystroke a typing_stop is sent.
const TypingIdle = 3 * time.Second

// Typer turns keystrokes into typing_start/typing_stop frames: the first
// keystroke starts typing and the indicator stops after idle without input.
type Typer struct {
	send  func(*protocol.Frame) error
	idle  time.Duration
	after afterFunc

	mu     sync.Mutex
	typing bool
	timer  timer
	gen    int
}

func NewTyper(t Transport, idle time.Duration) *Typer {
	if idle <= 0 {
		idle = TypingIdle
	}
	return &Typer{send: t.Send, idle: idle, after: realAfterFunc}
}

// Keystroke records input activity.
func (ty *Typer) Keystroke() {
	ty.mu.Lock()
	defer ty.mu.Unlock()

	if !ty.typing {
		if err := ty.send(protocol.TypingStart()); err != nil {
			return
		}
		ty.typing = true
	}

	if ty.timer != nil {
		ty.timer.Stop()
	}
	ty.gen++
	gen := ty.gen
	ty.timer = ty.after(ty.idle, func() { ty.expire(gen) })
}

// Stop ends the typing indicator immediately, e.g. when the message is sent.
func (ty *Typer) Stop() {
	ty.mu.Lock()
	defer ty.mu.Unlock()
	ty.stopLocked()
}

func (ty *Typer) Typing() bool {
	ty.mu.Lock()
	defer ty.mu.Unlock()
	return ty.typing
}

func (ty *Typer) expire(gen int) {
	ty.mu.Lock()
	defer ty.mu.Unlock()

	if gen != ty.gen {
		return
	}
	ty.stopLocked()
}

func (ty *Typer) stopLocked() {
	if ty.timer != nil {
		ty.timer.Stop()
		ty.timer = nil
	}
	ty.gen++

	if !ty.typing {
		return
	}
	ty.typing = false
	ty.send(protocol.TypingStop())
}
