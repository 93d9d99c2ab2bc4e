// Package notify records notifications for event participants when a chat
// message is posted. Delivery is best effort and never blocks the sender.
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/npezzotti/eventchat/internal/database"
	"github.com/npezzotti/eventchat/internal/types"
)

const (
	TypeNewMessage = "message"

	defaultQueueSize = 256
	recordTimeout    = 5 * time.Second
	previewLength    = 80
)

type Dispatcher struct {
	log    *log.Logger
	db     database.EventChatRepository
	sink   Sink
	queue  chan types.Message
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(logger *log.Logger, db database.EventChatRepository, sink Sink, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	return &Dispatcher{
		log:   logger,
		db:    db,
		sink:  sink,
		queue: make(chan types.Message, queueSize),
	}
}

// MessagePosted queues msg for notification fan-out. It drops the message
// when the queue is full or the dispatcher is stopped.
func (d *Dispatcher) MessagePosted(msg types.Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}

	select {
	case d.queue <- msg:
	default:
		d.log.Printf("notification queue full, dropping message %d", msg.Id)
	}
}

func (d *Dispatcher) Run() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for msg := range d.queue {
			d.notifyParticipants(msg)
		}
	}()
}

// Stop drains queued messages and waits for the worker to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) notifyParticipants(msg types.Message) {
	participants, err := d.db.GetEventParticipants(msg.EventId)
	if err != nil {
		d.log.Printf("notify: load participants of event %d: %v", msg.EventId, err)
		return
	}

	for _, p := range participants {
		if p.Id == msg.UserId {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		err := d.sink.Record(ctx, newMessageNotification(p.Id, msg))
		cancel()
		if err != nil {
			d.log.Printf("notify: record for user %q: %v", p.Id, err)
		}
	}
}

func newMessageNotification(userId string, msg types.Message) database.CreateNotificationParams {
	sender := "Someone"
	if msg.User != nil {
		sender = msg.User.DisplayName()
	}

	return database.CreateNotificationParams{
		UserId:    userId,
		Type:      TypeNewMessage,
		Title:     "New message",
		Content:   fmt.Sprintf("%s: %s", sender, preview(msg.Content)),
		RelatedId: msg.EventId,
	}
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	return string([]rune(content)[:previewLength]) + "…"
}
